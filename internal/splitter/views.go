package splitter

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Public read operations for callers/UI to pre-check before submitting a
// settlement. These mirror the engine's own preconditions but are never a
// substitute for them.

// HasSufficientBalance reports whether account's token balance covers total.
func (e *Engine) HasSufficientBalance(account common.Address, total *uint256.Int) bool {
	return e.token.BalanceOf(account).Cmp(total) >= 0
}

// HasApproved reports whether account's allowance for the engine covers total.
func (e *Engine) HasApproved(account common.Address, total *uint256.Int) bool {
	return e.token.Allowance(account, e.addr).Cmp(total) >= 0
}

// IsVerified reports whether account currently passes the access gate.
// Always true in the ungated variant.
func (e *Engine) IsVerified(account common.Address) bool {
	if e.gate == nil {
		return true
	}
	return e.gate.IsAuthorized(account, e.now())
}

// VerificationExpiry returns account's stored verification expiry
// (zero when ungated or never verified).
func (e *Engine) VerificationExpiry(account common.Address) uint64 {
	if e.gate == nil {
		return 0
	}
	return e.gate.Expiry(account)
}

// CanSplitPayment is the logical AND of authorization, balance, and
// allowance checks for a prospective total.
func (e *Engine) CanSplitPayment(account common.Address, total *uint256.Int) bool {
	return e.IsVerified(account) &&
		e.HasSufficientBalance(account, total) &&
		e.HasApproved(account, total)
}

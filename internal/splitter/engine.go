package splitter

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/paysplit-experiment/paysplit/internal/events"
	"github.com/paysplit-experiment/paysplit/internal/gate"
	"github.com/paysplit-experiment/paysplit/internal/ledger"
	"github.com/paysplit-experiment/paysplit/internal/metrics"
)

// Token is the capability the engine consumes from the token contract.
// The engine assumes nothing about the callee beyond these operations
// succeeding or failing; any reentry attempt during TransferFrom is
// rejected by the engine's guard.
type Token interface {
	Address() common.Address
	BalanceOf(account common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	TransferFrom(spender, owner, to common.Address, amount *uint256.Int) error
}

// Settlement is the result of a successful split: the executed lists in
// original order plus the total moved.
type Settlement struct {
	Sender     common.Address   `json:"sender"`
	Recipients []common.Address `json:"recipients"`
	Amounts    []*uint256.Int   `json:"amounts"`
	Total      *uint256.Int     `json:"totalAmount"`
	Verified   bool             `json:"verified,omitempty"`
}

// Engine performs atomic multi-recipient token settlements. The ledger's
// snapshot/revert boundary provides all-or-nothing semantics across the
// transfer loop; the engine never compensates individual transfers.
type Engine struct {
	addr  common.Address
	token Token
	state *ledger.State
	gate  *gate.Gate // nil in the ungated variant
	log   *events.Store
	now   func() uint64

	mu      sync.Mutex
	entered bool
}

// Options configures an Engine.
type Options struct {
	// Address is the engine's own identity: the spender accounts approve.
	Address common.Address
	// Gate, when set, is consulted before any validation.
	Gate *gate.Gate
	// Now overrides the clock (tests). Defaults to wall time in unix seconds.
	Now func() uint64
}

// New creates a settlement engine over the given token and ledger state.
func New(token Token, state *ledger.State, eventLog *events.Store, opts Options) *Engine {
	e := &Engine{
		addr:  opts.Address,
		token: token,
		state: state,
		gate:  opts.Gate,
		log:   eventLog,
		now:   opts.Now,
	}
	if e.now == nil {
		e.now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	return e
}

// Address returns the engine's spender identity.
func (e *Engine) Address() common.Address {
	return e.addr
}

// TokenAddress returns the address of the token being settled.
func (e *Engine) TokenAddress() common.Address {
	return e.token.Address()
}

// Settle validates the request, checks the caller's balance and allowance
// against the total, and moves amounts[i] from caller to recipients[i] in
// order. Any failure aborts the whole call with no partial effect. On
// success a single PaymentSplit event is emitted, bit-exact with what was
// executed.
func (e *Engine) Settle(caller common.Address, recipients []common.Address, amounts []*uint256.Int) (*Settlement, error) {
	if err := e.enter(); err != nil {
		metrics.SettlementsTotal.WithLabelValues("reentrant").Inc()
		return nil, err
	}
	defer e.exit()

	if e.gate != nil && !e.gate.IsAuthorized(caller, e.now()) {
		metrics.SettlementsTotal.WithLabelValues("unauthorized").Inc()
		return nil, ErrNotAuthorized
	}

	total, err := validateRequest(recipients, amounts)
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if e.token.BalanceOf(caller).Cmp(total) < 0 {
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInsufficientBalance
	}
	if e.token.Allowance(caller, e.addr).Cmp(total) < 0 {
		metrics.SettlementsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInsufficientAllowance
	}

	snap := e.state.Snapshot()
	for i := range recipients {
		if err := e.token.TransferFrom(e.addr, caller, recipients[i], amounts[i]); err != nil {
			e.state.RevertToSnapshot(snap)
			metrics.SettlementsTotal.WithLabelValues("refused").Inc()
			return nil, fmt.Errorf("splitter: transfer to recipient %d refused: %w", i, err)
		}
	}

	result := &Settlement{
		Sender:     caller,
		Recipients: append([]common.Address(nil), recipients...),
		Amounts:    cloneAmounts(amounts),
		Total:      total,
		Verified:   e.gate != nil && e.gate.Expiry(caller) > e.now(),
	}

	if _, err := e.log.Append(&events.Event{
		Kind: events.KindPaymentSplit,
		PaymentSplit: &events.PaymentSplit{
			Sender:     result.Sender,
			Recipients: result.Recipients,
			Amounts:    result.Amounts,
			Total:      result.Total,
			Verified:   result.Verified,
		},
	}); err != nil {
		e.state.RevertToSnapshot(snap)
		metrics.SettlementsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("splitter: failed to record settlement: %w", err)
	}

	metrics.SettlementsTotal.WithLabelValues("success").Inc()
	metrics.SettlementRecipients.Observe(float64(len(recipients)))
	log.Info().
		Str("sender", caller.Hex()).
		Int("recipients", len(recipients)).
		Str("total", total.Dec()).
		Msg("payment split settled")

	return result, nil
}

// validateRequest checks the parallel lists in ascending index order and
// accumulates the total in the same pass. The first offending index
// determines the reported failure.
func validateRequest(recipients []common.Address, amounts []*uint256.Int) (*uint256.Int, error) {
	if len(recipients) == 0 {
		return nil, ErrEmptyRecipients
	}
	if len(recipients) != len(amounts) {
		return nil, ErrLengthMismatch
	}

	total := new(uint256.Int)
	for i := range recipients {
		if recipients[i] == (common.Address{}) {
			return nil, indexed(ErrZeroRecipient, i)
		}
		if amounts[i] == nil || amounts[i].IsZero() {
			return nil, indexed(ErrZeroAmount, i)
		}
		var overflow bool
		total, overflow = total.AddOverflow(total, amounts[i])
		if overflow {
			return nil, ErrTotalOverflow
		}
	}
	return total, nil
}

func cloneAmounts(amounts []*uint256.Int) []*uint256.Int {
	out := make([]*uint256.Int, len(amounts))
	for i, a := range amounts {
		out[i] = a.Clone()
	}
	return out
}

// enter atomically checks-and-sets the reentrancy flag. A callback into
// Settle during the transfer loop fails here before doing any other work.
// Independent callers are serialized upstream by the ledger's state mutex,
// so the flag only trips on genuine reentry.
func (e *Engine) enter() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.entered {
		return ErrReentrant
	}
	e.entered = true
	return nil
}

func (e *Engine) exit() {
	e.mu.Lock()
	e.entered = false
	e.mu.Unlock()
}

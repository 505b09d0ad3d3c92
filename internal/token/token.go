package token

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/paysplit-experiment/paysplit/internal/ledger"
)

// Storage slot indexes, laid out the way a Solidity ERC20 would place them.
const (
	balancesSlot    = 0
	allowancesSlot  = 1
	totalSupplySlot = 2
)

var (
	// ErrInsufficientBalance indicates the owner's balance doesn't cover a transfer.
	ErrInsufficientBalance = errors.New("token: insufficient balance")

	// ErrInsufficientAllowance indicates the spender's allowance doesn't cover a transfer.
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")

	// ErrZeroAddress indicates a transfer or approval involving the zero address.
	ErrZeroAddress = errors.New("token: zero address")

	// ErrSupplyOverflow indicates a mint would overflow the total supply.
	ErrSupplyOverflow = errors.New("token: total supply overflow")
)

// Token is an ERC20-semantics fungible token whose balances and allowances
// live in ledger storage slots under the token's own address. It exposes the
// three operations the settlement engine consumes (BalanceOf, Allowance,
// TransferFrom) plus the management operations a complete deployment needs.
type Token struct {
	addr  common.Address
	state *ledger.State

	Name     string
	Symbol   string
	Decimals uint8
}

// New binds a token instance to its storage address in the given ledger state.
func New(addr common.Address, state *ledger.State) *Token {
	return &Token{
		addr:  addr,
		state: state,
	}
}

// Address returns the token's storage address.
func (t *Token) Address() common.Address {
	return t.addr
}

// BalanceOf returns the token balance of an account.
func (t *Token) BalanceOf(account common.Address) *uint256.Int {
	return t.load(balanceSlot(account))
}

// Allowance returns the remaining amount spender may move on owner's behalf.
func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	return t.load(allowanceSlot(owner, spender))
}

// TotalSupply returns the total minted supply.
func (t *Token) TotalSupply() *uint256.Int {
	return t.load(slotHash(totalSupplySlot))
}

// Approve sets spender's allowance over owner's balance to amount.
func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	t.store(allowanceSlot(owner, spender), amount)
	return nil
}

// TransferFrom moves amount from owner to recipient on behalf of spender.
// When spender differs from owner the allowance is checked and reduced.
func (t *Token) TransferFrom(spender, owner, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	// Every check precedes the first write so a failure leaves no
	// partial state behind.
	var allowed *uint256.Int
	if spender != owner {
		allowed = t.Allowance(owner, spender)
		if allowed.Cmp(amount) < 0 {
			return ErrInsufficientAllowance
		}
	}
	balance := t.BalanceOf(owner)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	if allowed != nil {
		t.store(allowanceSlot(owner, spender), new(uint256.Int).Sub(allowed, amount))
	}
	t.store(balanceSlot(owner), new(uint256.Int).Sub(balance, amount))
	t.store(balanceSlot(to), new(uint256.Int).Add(t.BalanceOf(to), amount))
	return nil
}

// Mint creates amount new units on account (genesis and faucet only).
func (t *Token) Mint(account common.Address, amount *uint256.Int) error {
	if account == (common.Address{}) {
		return ErrZeroAddress
	}

	supplySlot := slotHash(totalSupplySlot)
	supply, overflow := new(uint256.Int).AddOverflow(t.load(supplySlot), amount)
	if overflow {
		return ErrSupplyOverflow
	}
	t.store(supplySlot, supply)
	t.store(balanceSlot(account), new(uint256.Int).Add(t.BalanceOf(account), amount))
	return nil
}

func (t *Token) load(slot common.Hash) *uint256.Int {
	raw := t.state.GetStorageAt(t.addr, slot)
	return new(uint256.Int).SetBytes(raw[:])
}

func (t *Token) store(slot common.Hash, value *uint256.Int) {
	t.state.SetStorageAt(t.addr, slot, value.Bytes32())
}

// slotHash returns the storage slot for a top-level scalar.
func slotHash(index uint64) common.Hash {
	return common.Hash(uint256.NewInt(index).Bytes32())
}

// balanceSlot follows the Solidity mapping layout: keccak(pad(key) ++ pad(slot)).
func balanceSlot(account common.Address) common.Hash {
	return mappingSlot(paddedAddress(account), slotHash(balancesSlot))
}

// allowanceSlot is the nested mapping layout: keccak(pad(spender) ++ keccak(pad(owner) ++ pad(slot))).
func allowanceSlot(owner, spender common.Address) common.Hash {
	inner := mappingSlot(paddedAddress(owner), slotHash(allowancesSlot))
	return mappingSlot(paddedAddress(spender), inner)
}

func mappingSlot(key, slot common.Hash) common.Hash {
	var buf [64]byte
	copy(buf[:32], key[:])
	copy(buf[32:], slot[:])
	return crypto.Keccak256Hash(buf[:])
}

func paddedAddress(addr common.Address) common.Hash {
	var h common.Hash
	copy(h[12:], addr[:])
	return h
}

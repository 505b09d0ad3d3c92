package protocol

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Well-known contract addresses, derived from stable labels so every
// component (daemon, genesis tool, tests) agrees on them without
// coordination.
var (
	TokenAddress    = deriveAddress("paysplit/token")
	EngineAddress   = deriveAddress("paysplit/engine")
	RegistryAddress = deriveAddress("paysplit/registry")
)

func deriveAddress(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}

// ParseAddress parses a hex account identifier, rejecting malformed input
// (common.HexToAddress alone silently truncates).
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseAmount parses a decimal token/coin amount in base units.
func ParseAmount(s string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return amount, nil
}

// ParseAmounts parses a parallel amount list, preserving order.
func ParseAmounts(in []string) ([]*uint256.Int, error) {
	out := make([]*uint256.Int, len(in))
	for i, s := range in {
		amount, err := ParseAmount(s)
		if err != nil {
			return nil, fmt.Errorf("amount %d: %w", i, err)
		}
		out[i] = amount
	}
	return out, nil
}

// ParseAddresses parses an account list, preserving order. Zero addresses
// are passed through: rejecting them (and reporting the offending index)
// is the settlement engine's job.
func ParseAddresses(in []string) ([]common.Address, error) {
	out := make([]common.Address, len(in))
	for i, s := range in {
		addr, err := ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		out[i] = addr
	}
	return out, nil
}

package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestState_CreditDebit(t *testing.T) {
	s, err := NewMemoryState()
	if err != nil {
		t.Fatalf("NewMemoryState: %v", err)
	}
	addr := common.HexToAddress("0x1234")

	s.Credit(addr, uint256.NewInt(100))
	if got := s.GetBalance(addr); got.Uint64() != 100 {
		t.Errorf("Expected balance 100, got %s", got.Dec())
	}

	if err := s.Debit(addr, uint256.NewInt(40)); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if got := s.GetBalance(addr); got.Uint64() != 60 {
		t.Errorf("Expected balance 60, got %s", got.Dec())
	}

	if err := s.Debit(addr, uint256.NewInt(100)); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("Expected ErrInsufficientFunds, got %v", err)
	}
	if got := s.GetBalance(addr); got.Uint64() != 60 {
		t.Errorf("Failed debit must not change balance, got %s", got.Dec())
	}
}

func TestState_BalanceCopyIsIndependent(t *testing.T) {
	s, _ := NewMemoryState()
	addr := common.HexToAddress("0x1234")
	s.Credit(addr, uint256.NewInt(100))

	got := s.GetBalance(addr)
	got.SetUint64(999)

	if s.GetBalance(addr).Uint64() != 100 {
		t.Error("Returned balance should be an independent copy")
	}
}

func TestState_SnapshotRevert(t *testing.T) {
	s, _ := NewMemoryState()
	addr := common.HexToAddress("0xabcd")
	slot := common.HexToHash("0x01")

	s.Credit(addr, uint256.NewInt(500))
	s.SetStorageAt(addr, slot, common.HexToHash("0xaa"))

	snap := s.Snapshot()
	s.Credit(addr, uint256.NewInt(500))
	s.SetStorageAt(addr, slot, common.HexToHash("0xbb"))
	s.RevertToSnapshot(snap)

	if got := s.GetBalance(addr); got.Uint64() != 500 {
		t.Errorf("Expected reverted balance 500, got %s", got.Dec())
	}
	if got := s.GetStorageAt(addr, slot); got != common.HexToHash("0xaa") {
		t.Errorf("Expected reverted storage 0xaa, got %s", got.Hex())
	}
}

func TestState_CommitPreservesState(t *testing.T) {
	s, _ := NewMemoryState()
	addr := common.HexToAddress("0xabcd")
	slot := common.HexToHash("0x02")

	s.Credit(addr, uint256.NewInt(777))
	s.SetStorageAt(addr, slot, common.HexToHash("0xcc"))

	root, err := s.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if root == (common.Hash{}) {
		t.Error("Expected non-zero root")
	}

	if got := s.GetBalance(addr); got.Uint64() != 777 {
		t.Errorf("Expected balance 777 after commit, got %s", got.Dec())
	}
	if got := s.GetStorageAt(addr, slot); got != common.HexToHash("0xcc") {
		t.Errorf("Expected storage 0xcc after commit, got %s", got.Hex())
	}
}

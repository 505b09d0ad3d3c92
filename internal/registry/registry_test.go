package registry

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/paysplit-experiment/paysplit/internal/events"
	"github.com/paysplit-experiment/paysplit/internal/ledger"
	"github.com/paysplit-experiment/paysplit/internal/store"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	intruder = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	regAddr  = common.HexToAddress("0x0000000000000000000000000000000000000300")
	payer    = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	recip1   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	recip2   = common.HexToAddress("0x0000000000000000000000000000000000000002")
	recip3   = common.HexToAddress("0x0000000000000000000000000000000000000003")

	splitID = common.HexToHash("0x01")
)

func newRegistry(t *testing.T) (*Registry, *ledger.State, *events.Store) {
	t.Helper()
	state, err := ledger.NewMemoryState()
	if err != nil {
		t.Fatalf("NewMemoryState: %v", err)
	}
	log, err := events.NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	r, err := New(admin, regAddr, state, log, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, state, log
}

func TestRegistry_CreateValidation(t *testing.T) {
	r, _, _ := newRegistry(t)
	recips := []common.Address{recip1, recip2}

	if err := r.Create(intruder, splitID, recips, []uint64{5000, 5000}); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("Expected ErrNotAdmin, got %v", err)
	}
	if err := r.Create(admin, splitID, nil, nil); !errors.Is(err, ErrEmptyRecipients) {
		t.Errorf("Expected ErrEmptyRecipients, got %v", err)
	}
	if err := r.Create(admin, splitID, recips, []uint64{10000}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("Expected ErrLengthMismatch, got %v", err)
	}
	if err := r.Create(admin, splitID, []common.Address{recip1, {}}, []uint64{5000, 5000}); !errors.Is(err, ErrZeroRecipient) {
		t.Errorf("Expected ErrZeroRecipient, got %v", err)
	}
	if err := r.Create(admin, splitID, recips, []uint64{10000, 0}); !errors.Is(err, ErrZeroShare) {
		t.Errorf("Expected ErrZeroShare, got %v", err)
	}
	if err := r.Create(admin, splitID, recips, []uint64{5000, 4999}); !errors.Is(err, ErrShareSum) {
		t.Errorf("Expected ErrShareSum for sum 9999, got %v", err)
	}
	if err := r.Create(admin, splitID, recips, []uint64{5000, 5001}); !errors.Is(err, ErrShareSum) {
		t.Errorf("Expected ErrShareSum for sum 10001, got %v", err)
	}

	if _, ok := r.Get(splitID); ok {
		t.Error("Failed creates must not store a config")
	}
}

func TestRegistry_CreateDuplicateActive(t *testing.T) {
	r, _, log := newRegistry(t)
	recips := []common.Address{recip1, recip2}

	if err := r.Create(admin, splitID, recips, []uint64{6000, 4000}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Create(admin, splitID, recips, []uint64{5000, 5000}); !errors.Is(err, ErrSplitActive) {
		t.Errorf("Expected ErrSplitActive, got %v", err)
	}

	evs := log.ByKind(events.KindSplitCreated)
	if len(evs) != 1 {
		t.Fatalf("Expected 1 SplitCreated event, got %d", len(evs))
	}
	if evs[0].SplitCreated.ID != splitID || evs[0].SplitCreated.Shares[0] != 6000 {
		t.Error("SplitCreated payload mismatch")
	}
}

func TestRegistry_ExecuteProportions(t *testing.T) {
	r, state, log := newRegistry(t)
	state.Credit(payer, uint256.NewInt(10_000))

	if err := r.Create(admin, splitID, []common.Address{recip1, recip2, recip3}, []uint64{5000, 3000, 2000}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Execute(payer, splitID, uint256.NewInt(10_000)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := state.GetBalance(payer); !got.IsZero() {
		t.Errorf("Expected payer debited in full, got %s", got.Dec())
	}
	for i, want := range []uint64{5000, 3000, 2000} {
		got := state.GetBalance([]common.Address{recip1, recip2, recip3}[i])
		if got.Uint64() != want {
			t.Errorf("Recipient %d: expected %d, got %s", i, want, got.Dec())
		}
	}
	if got := state.GetBalance(regAddr); !got.IsZero() {
		t.Errorf("Expected no residue on an even split, got %s", got.Dec())
	}

	evs := log.ByKind(events.KindSplitExecuted)
	if len(evs) != 1 || evs[0].SplitExecuted.Total.Uint64() != 10_000 {
		t.Error("Expected a matching SplitExecuted event")
	}
}

func TestRegistry_ExecuteRoundingResidue(t *testing.T) {
	r, state, _ := newRegistry(t)
	state.Credit(payer, uint256.NewInt(100))

	if err := r.Create(admin, splitID, []common.Address{recip1, recip2, recip3}, []uint64{3333, 3333, 3334}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Execute(payer, splitID, uint256.NewInt(100)); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// floor(100*3333/10000) = 33 each, floor(100*3334/10000) = 33.
	for i, recip := range []common.Address{recip1, recip2, recip3} {
		if got := state.GetBalance(recip); got.Uint64() != 33 {
			t.Errorf("Recipient %d: expected 33, got %s", i, got.Dec())
		}
	}
	// Payer pays the full amount; the 1-unit residue sits on the registry account.
	if got := state.GetBalance(payer); !got.IsZero() {
		t.Errorf("Expected payer debited the full 100, got %s", got.Dec())
	}
	if got := state.GetBalance(regAddr); got.Uint64() != 1 {
		t.Errorf("Expected residue 1 on registry account, got %s", got.Dec())
	}
}

func TestRegistry_ExecuteRejections(t *testing.T) {
	r, state, _ := newRegistry(t)
	state.Credit(payer, uint256.NewInt(50))

	if err := r.Execute(payer, splitID, uint256.NewInt(10)); !errors.Is(err, ErrSplitNotActive) {
		t.Errorf("Expected ErrSplitNotActive for unknown id, got %v", err)
	}

	if err := r.Create(admin, splitID, []common.Address{recip1}, []uint64{10000}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.Execute(payer, splitID, uint256.NewInt(0)); !errors.Is(err, ErrZeroPayment) {
		t.Errorf("Expected ErrZeroPayment, got %v", err)
	}
	if err := r.Execute(payer, splitID, nil); !errors.Is(err, ErrZeroPayment) {
		t.Errorf("Expected ErrZeroPayment for nil amount, got %v", err)
	}

	// Payment beyond the payer's balance fails with nothing moved.
	if err := r.Execute(payer, splitID, uint256.NewInt(100)); err == nil {
		t.Fatal("Expected failure on uncovered payment")
	}
	if got := state.GetBalance(payer); got.Uint64() != 50 {
		t.Errorf("Expected payer balance untouched, got %s", got.Dec())
	}
	if got := state.GetBalance(recip1); !got.IsZero() {
		t.Errorf("Expected recipient untouched, got %s", got.Dec())
	}
}

func TestRegistry_DeactivateAndRecreate(t *testing.T) {
	r, state, log := newRegistry(t)
	state.Credit(payer, uint256.NewInt(1000))

	if err := r.Create(admin, splitID, []common.Address{recip1}, []uint64{10000}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.Deactivate(intruder, splitID); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("Expected ErrNotAdmin, got %v", err)
	}
	if err := r.Deactivate(admin, splitID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := r.Deactivate(admin, splitID); !errors.Is(err, ErrSplitNotActive) {
		t.Errorf("Expected ErrSplitNotActive on double deactivate, got %v", err)
	}
	if err := r.Execute(payer, splitID, uint256.NewInt(10)); !errors.Is(err, ErrSplitNotActive) {
		t.Errorf("Expected ErrSplitNotActive after deactivation, got %v", err)
	}

	if len(log.ByKind(events.KindSplitDeactivated)) != 1 {
		t.Error("Expected a SplitDeactivated event")
	}

	// A deactivated id may be recreated with a fresh config.
	if err := r.Create(admin, splitID, []common.Address{recip2}, []uint64{10000}); err != nil {
		t.Fatalf("Recreate: %v", err)
	}
	if err := r.Execute(payer, splitID, uint256.NewInt(100)); err != nil {
		t.Fatalf("Execute after recreate: %v", err)
	}
	if got := state.GetBalance(recip2); got.Uint64() != 100 {
		t.Errorf("Expected recreated split to pay recip2, got %s", got.Dec())
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r, _, _ := newRegistry(t)
	r.Create(admin, splitID, []common.Address{recip1, recip2}, []uint64{7000, 3000})

	cfg, ok := r.Get(splitID)
	if !ok {
		t.Fatal("Expected config")
	}
	cfg.Shares[0] = 1
	cfg.Recipients[0] = intruder

	fresh, _ := r.Get(splitID)
	if fresh.Shares[0] != 7000 || fresh.Recipients[0] != recip1 {
		t.Error("Stored config should be independent of returned copy")
	}
}

func TestRegistry_PersistReload(t *testing.T) {
	dir := t.TempDir()
	persist, err := store.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	state, _ := ledger.NewMemoryState()
	log, _ := events.NewStore(nil)

	r, err := New(admin, regAddr, state, log, persist)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Create(admin, splitID, []common.Address{recip1, recip2}, []uint64{8000, 2000}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	persist.Close()

	persist, err = store.Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer persist.Close()

	reloaded, err := New(admin, regAddr, state, log, persist)
	if err != nil {
		t.Fatalf("New reload: %v", err)
	}
	cfg, ok := reloaded.Get(splitID)
	if !ok || !cfg.Active || cfg.Shares[0] != 8000 {
		t.Error("Expected reloaded active config with original shares")
	}
}

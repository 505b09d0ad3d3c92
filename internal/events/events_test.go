package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/paysplit-experiment/paysplit/internal/store"
)

func TestStore_AppendAssignsSeq(t *testing.T) {
	s, err := NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ev1, _ := s.Append(&Event{Kind: KindUserVerified, UserVerified: &UserVerified{}})
	ev2, _ := s.Append(&Event{Kind: KindUserVerified, UserVerified: &UserVerified{}})

	if ev1.Seq != 1 || ev2.Seq != 2 {
		t.Errorf("Expected seq 1,2 got %d,%d", ev1.Seq, ev2.Seq)
	}
	if ev1.Time == 0 {
		t.Error("Expected Time to be set")
	}
	if s.Len() != 2 {
		t.Errorf("Expected 2 events, got %d", s.Len())
	}
}

func TestStore_ListReturnsCopies(t *testing.T) {
	s, _ := NewStore(nil)
	s.Append(&Event{
		Kind: KindPaymentSplit,
		PaymentSplit: &PaymentSplit{
			Sender:     common.HexToAddress("0x01"),
			Recipients: []common.Address{common.HexToAddress("0x02")},
			Amounts:    []*uint256.Int{uint256.NewInt(10)},
			Total:      uint256.NewInt(10),
		},
	})

	got := s.List()[0]
	got.PaymentSplit.Amounts[0].SetUint64(999)
	got.PaymentSplit.Recipients[0] = common.HexToAddress("0xff")

	fresh := s.List()[0]
	if fresh.PaymentSplit.Amounts[0].Uint64() != 10 {
		t.Error("Stored amount should be independent of returned copy")
	}
	if fresh.PaymentSplit.Recipients[0] != common.HexToAddress("0x02") {
		t.Error("Stored recipient should be independent of returned copy")
	}
}

func TestStore_ByKind(t *testing.T) {
	s, _ := NewStore(nil)
	s.Append(&Event{Kind: KindUserVerified, UserVerified: &UserVerified{}})
	s.Append(&Event{Kind: KindSplitCreated, SplitCreated: &SplitCreated{}})
	s.Append(&Event{Kind: KindUserVerified, UserVerified: &UserVerified{}})

	if got := s.ByKind(KindUserVerified); len(got) != 2 {
		t.Errorf("Expected 2 UserVerified events, got %d", len(got))
	}
	if got := s.ByKind(KindPaymentSplit); len(got) != 0 {
		t.Errorf("Expected 0 PaymentSplit events, got %d", len(got))
	}
}

func TestStore_PersistReload(t *testing.T) {
	dir := t.TempDir()

	persist, err := store.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	s, err := NewStore(persist)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Append(&Event{Kind: KindUserVerified, UserVerified: &UserVerified{
		Account: common.HexToAddress("0xaa"),
		Expiry:  12345,
	}})
	s.Append(&Event{Kind: KindSplitDeactivated, SplitDeactivated: &SplitDeactivated{
		ID: common.HexToHash("0x01"),
	}})
	persist.Close()

	persist, err = store.Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer persist.Close()

	reloaded, err := NewStore(persist)
	if err != nil {
		t.Fatalf("NewStore reload: %v", err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("Expected 2 reloaded events, got %d", reloaded.Len())
	}

	list := reloaded.List()
	if list[0].Kind != KindUserVerified || list[0].UserVerified.Expiry != 12345 {
		t.Error("First reloaded event mismatch")
	}

	// Seq keeps increasing across restarts
	ev, _ := reloaded.Append(&Event{Kind: KindUserVerified, UserVerified: &UserVerified{}})
	if ev.Seq != 3 {
		t.Errorf("Expected seq 3 after reload, got %d", ev.Seq)
	}
}

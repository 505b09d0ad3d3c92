package events

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/paysplit-experiment/paysplit/internal/store"
)

// Kind identifies an audit event type.
type Kind string

const (
	KindPaymentSplit                   Kind = "PaymentSplit"
	KindUserVerified                   Kind = "UserVerified"
	KindVerificationRequirementChanged Kind = "VerificationRequirementChanged"
	KindSplitCreated                   Kind = "SplitCreated"
	KindSplitExecuted                  Kind = "SplitExecuted"
	KindSplitDeactivated               Kind = "SplitDeactivated"
)

// PaymentSplit records a completed settlement. Lists are bit-exact copies of
// what was executed, order preserved.
type PaymentSplit struct {
	Sender     common.Address   `json:"sender"`
	Recipients []common.Address `json:"recipients"`
	Amounts    []*uint256.Int   `json:"amounts"`
	Total      *uint256.Int     `json:"totalAmount"`
	Verified   bool             `json:"verified,omitempty"`
}

// UserVerified records an authorization grant and its expiry.
type UserVerified struct {
	Account common.Address `json:"account"`
	Expiry  uint64         `json:"expiryTimestamp"`
}

// VerificationRequirementChanged records toggling of gate enforcement.
type VerificationRequirementChanged struct {
	Enabled bool `json:"enabled"`
}

// SplitCreated records a new registry split config.
type SplitCreated struct {
	ID         common.Hash      `json:"id"`
	Recipients []common.Address `json:"recipients"`
	Shares     []uint64         `json:"shares"`
}

// SplitExecuted records one registry fan-out.
type SplitExecuted struct {
	ID    common.Hash  `json:"id"`
	Total *uint256.Int `json:"totalAmount"`
}

// SplitDeactivated records a split config going inactive.
type SplitDeactivated struct {
	ID common.Hash `json:"id"`
}

// Event is the audit log envelope. Exactly one payload field is set,
// matching Kind.
type Event struct {
	Seq  uint64 `json:"seq"`
	Time uint64 `json:"time"`
	Kind Kind   `json:"kind"`

	PaymentSplit                   *PaymentSplit                   `json:"paymentSplit,omitempty"`
	UserVerified                   *UserVerified                   `json:"userVerified,omitempty"`
	VerificationRequirementChanged *VerificationRequirementChanged `json:"verificationRequirementChanged,omitempty"`
	SplitCreated                   *SplitCreated                   `json:"splitCreated,omitempty"`
	SplitExecuted                  *SplitExecuted                  `json:"splitExecuted,omitempty"`
	SplitDeactivated               *SplitDeactivated               `json:"splitDeactivated,omitempty"`
}

// Store is the append-only audit log. Appended events are immutable; reads
// return copies to avoid aliasing internal data. When a persistent store is
// attached every event is also written through to the events bucket.
type Store struct {
	mu      sync.RWMutex
	events  []*Event
	seq     uint64
	persist *store.Store
}

// NewStore creates an in-memory event store. persist may be nil.
func NewStore(persist *store.Store) (*Store, error) {
	s := &Store{persist: persist}
	if persist == nil {
		return s, nil
	}

	// Reload the journal so Seq keeps increasing across restarts.
	err := persist.ForEach(store.EventsBucket, func(key, value []byte) error {
		var ev Event
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("corrupt event %x: %w", key, err)
		}
		s.events = append(s.events, &ev)
		if ev.Seq > s.seq {
			s.seq = ev.Seq
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Append assigns the next sequence number and records the event.
func (s *Store) Append(ev *Event) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	ev.Seq = s.seq
	if ev.Time == 0 {
		ev.Time = uint64(time.Now().Unix())
	}

	if s.persist != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], ev.Seq)
		if err := s.persist.Put(store.EventsBucket, key[:], data); err != nil {
			return nil, err
		}
	}

	s.events = append(s.events, ev.DeepCopy())
	return ev, nil
}

// List returns all events in append order.
func (s *Store) List() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.DeepCopy()
	}
	return out
}

// ByKind returns all events of the given kind in append order.
func (s *Store) ByKind(kind Kind) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev.DeepCopy())
		}
	}
	return out
}

// Len returns the number of recorded events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// DeepCopy creates a deep copy of the Event
func (ev *Event) DeepCopy() *Event {
	if ev == nil {
		return nil
	}

	result := &Event{
		Seq:  ev.Seq,
		Time: ev.Time,
		Kind: ev.Kind,
	}

	if ev.PaymentSplit != nil {
		ps := &PaymentSplit{
			Sender:   ev.PaymentSplit.Sender,
			Verified: ev.PaymentSplit.Verified,
		}
		ps.Recipients = make([]common.Address, len(ev.PaymentSplit.Recipients))
		copy(ps.Recipients, ev.PaymentSplit.Recipients)
		ps.Amounts = make([]*uint256.Int, len(ev.PaymentSplit.Amounts))
		for i, a := range ev.PaymentSplit.Amounts {
			ps.Amounts[i] = a.Clone()
		}
		if ev.PaymentSplit.Total != nil {
			ps.Total = ev.PaymentSplit.Total.Clone()
		}
		result.PaymentSplit = ps
	}

	if ev.UserVerified != nil {
		uv := *ev.UserVerified
		result.UserVerified = &uv
	}

	if ev.VerificationRequirementChanged != nil {
		vr := *ev.VerificationRequirementChanged
		result.VerificationRequirementChanged = &vr
	}

	if ev.SplitCreated != nil {
		sc := &SplitCreated{ID: ev.SplitCreated.ID}
		sc.Recipients = make([]common.Address, len(ev.SplitCreated.Recipients))
		copy(sc.Recipients, ev.SplitCreated.Recipients)
		sc.Shares = make([]uint64, len(ev.SplitCreated.Shares))
		copy(sc.Shares, ev.SplitCreated.Shares)
		result.SplitCreated = sc
	}

	if ev.SplitExecuted != nil {
		se := &SplitExecuted{ID: ev.SplitExecuted.ID}
		if ev.SplitExecuted.Total != nil {
			se.Total = ev.SplitExecuted.Total.Clone()
		}
		result.SplitExecuted = se
	}

	if ev.SplitDeactivated != nil {
		sd := *ev.SplitDeactivated
		result.SplitDeactivated = &sd
	}

	return result
}

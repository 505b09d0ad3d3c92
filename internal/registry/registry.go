package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"github.com/paysplit-experiment/paysplit/internal/events"
	"github.com/paysplit-experiment/paysplit/internal/ledger"
	"github.com/paysplit-experiment/paysplit/internal/metrics"
	"github.com/paysplit-experiment/paysplit/internal/store"
)

// TotalBasisPoints is the share denominator: 10000 basis points = 100%.
const TotalBasisPoints = 10000

var (
	// ErrNotAdmin indicates the caller is not the designated administrator.
	ErrNotAdmin = errors.New("registry: caller is not the administrator")

	// ErrSplitActive indicates creation under an already-active identifier.
	ErrSplitActive = errors.New("registry: split id already active")

	// ErrSplitNotActive indicates execution or deactivation of a non-active split.
	ErrSplitNotActive = errors.New("registry: split not active")

	// ErrEmptyRecipients indicates an empty recipient list.
	ErrEmptyRecipients = errors.New("registry: empty recipients")

	// ErrLengthMismatch indicates recipients and shares differ in length.
	ErrLengthMismatch = errors.New("registry: recipients and shares length mismatch")

	// ErrZeroRecipient indicates a zero-address recipient.
	ErrZeroRecipient = errors.New("registry: zero address recipient")

	// ErrZeroShare indicates a zero share.
	ErrZeroShare = errors.New("registry: zero share")

	// ErrShareSum indicates shares don't sum to exactly 10000 basis points.
	ErrShareSum = errors.New("registry: shares must sum to 10000 basis points")

	// ErrZeroPayment indicates a zero execution amount.
	ErrZeroPayment = errors.New("registry: zero payment amount")

	// ErrPaymentOverflow indicates a share computation overflowed 256 bits.
	ErrPaymentOverflow = errors.New("registry: payment amount overflow")
)

// SplitConfig is an immutable proportional distribution. Shares are basis
// points summing to exactly 10000. Active flips to false once, terminally.
type SplitConfig struct {
	ID         common.Hash      `json:"id"`
	Recipients []common.Address `json:"recipients"`
	Shares     []uint64         `json:"shares"`
	Active     bool             `json:"active"`
}

// Registry stores percentage splits and fans native-coin payments out over
// them. Execution uses floor division per recipient; the rounding residue
// (at most len(recipients)-1 units) accrues to the registry's own account.
type Registry struct {
	mu      sync.Mutex
	admin   common.Address
	addr    common.Address // the registry's native-coin account, holds rounding dust
	state   *ledger.State
	splits  map[common.Hash]*SplitConfig
	log     *events.Store
	persist *store.Store
}

// New creates a Registry, reloading persisted split configs when a
// persistent store is attached.
func New(admin, addr common.Address, state *ledger.State, eventLog *events.Store, persist *store.Store) (*Registry, error) {
	r := &Registry{
		admin:   admin,
		addr:    addr,
		state:   state,
		splits:  make(map[common.Hash]*SplitConfig),
		log:     eventLog,
		persist: persist,
	}

	if persist != nil {
		active := 0
		err := persist.ForEach(store.SplitsBucket, func(key, value []byte) error {
			var cfg SplitConfig
			if err := json.Unmarshal(value, &cfg); err != nil {
				return fmt.Errorf("corrupt split config %x: %w", key, err)
			}
			r.splits[cfg.ID] = &cfg
			if cfg.Active {
				active++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		metrics.RegistrySplitsActive.Set(float64(active))
	}
	return r, nil
}

// Admin returns the administrator identity.
func (r *Registry) Admin() common.Address {
	return r.admin
}

// Address returns the registry's native-coin account.
func (r *Registry) Address() common.Address {
	return r.addr
}

// Get returns a copy of the stored config for id.
func (r *Registry) Get(id common.Hash) (*SplitConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.splits[id]
	if !ok {
		return nil, false
	}
	return cfg.clone(), true
}

// Create stores a new split config and emits SplitCreated. The guard only
// rejects identifiers that are currently active: a formerly deactivated id
// may be recreated with a fresh config.
func (r *Registry) Create(caller common.Address, id common.Hash, recipients []common.Address, shares []uint64) error {
	if caller != r.admin {
		return ErrNotAdmin
	}
	if len(recipients) == 0 {
		return ErrEmptyRecipients
	}
	if len(recipients) != len(shares) {
		return ErrLengthMismatch
	}

	var sum uint64
	for i := range recipients {
		if recipients[i] == (common.Address{}) {
			return fmt.Errorf("%w at index %d", ErrZeroRecipient, i)
		}
		if shares[i] == 0 {
			return fmt.Errorf("%w at index %d", ErrZeroShare, i)
		}
		sum += shares[i]
	}
	if sum != TotalBasisPoints {
		return fmt.Errorf("%w: got %d", ErrShareSum, sum)
	}

	cfg := &SplitConfig{
		ID:         id,
		Recipients: append([]common.Address(nil), recipients...),
		Shares:     append([]uint64(nil), shares...),
		Active:     true,
	}

	r.mu.Lock()
	if existing, ok := r.splits[id]; ok && existing.Active {
		r.mu.Unlock()
		return ErrSplitActive
	}
	r.splits[id] = cfg
	r.mu.Unlock()

	if err := r.persistConfig(cfg); err != nil {
		return err
	}

	if _, err := r.log.Append(&events.Event{
		Kind: events.KindSplitCreated,
		SplitCreated: &events.SplitCreated{
			ID:         cfg.ID,
			Recipients: cfg.Recipients,
			Shares:     cfg.Shares,
		},
	}); err != nil {
		return err
	}

	metrics.RegistrySplitsActive.Inc()
	log.Info().Str("id", id.Hex()).Int("recipients", len(recipients)).Msg("split created")
	return nil
}

// Execute distributes amount of native coin over the stored split. Each
// recipient receives floor(amount * share / 10000); the caller is debited
// the full amount and the floor-division residue stays with the registry
// account rather than being returned.
func (r *Registry) Execute(caller common.Address, id common.Hash, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		metrics.RegistryExecutionsTotal.WithLabelValues("rejected").Inc()
		return ErrZeroPayment
	}

	r.mu.Lock()
	cfg, ok := r.splits[id]
	if !ok || !cfg.Active {
		r.mu.Unlock()
		metrics.RegistryExecutionsTotal.WithLabelValues("rejected").Inc()
		return ErrSplitNotActive
	}
	cfg = cfg.clone()
	r.mu.Unlock()

	snap := r.state.Snapshot()
	if err := r.state.Debit(caller, amount); err != nil {
		r.state.RevertToSnapshot(snap)
		metrics.RegistryExecutionsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("registry: payment not covered: %w", err)
	}

	denominator := uint256.NewInt(TotalBasisPoints)
	distributed := new(uint256.Int)
	for i, recipient := range cfg.Recipients {
		payout, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(cfg.Shares[i]))
		if overflow {
			r.state.RevertToSnapshot(snap)
			metrics.RegistryExecutionsTotal.WithLabelValues("rejected").Inc()
			return ErrPaymentOverflow
		}
		payout.Div(payout, denominator)
		r.state.Credit(recipient, payout)
		distributed.Add(distributed, payout)
	}

	// Rounding residue accrues to the registry account.
	residue := new(uint256.Int).Sub(amount, distributed)
	if !residue.IsZero() {
		r.state.Credit(r.addr, residue)
	}

	if _, err := r.log.Append(&events.Event{
		Kind:          events.KindSplitExecuted,
		SplitExecuted: &events.SplitExecuted{ID: id, Total: amount.Clone()},
	}); err != nil {
		r.state.RevertToSnapshot(snap)
		metrics.RegistryExecutionsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("registry: failed to record execution: %w", err)
	}

	metrics.RegistryExecutionsTotal.WithLabelValues("success").Inc()
	log.Info().
		Str("id", id.Hex()).
		Str("payer", caller.Hex()).
		Str("amount", amount.Dec()).
		Str("residue", residue.Dec()).
		Msg("split executed")
	return nil
}

// Deactivate flips an active split to inactive, terminally, and emits
// SplitDeactivated. Restricted to the administrator.
func (r *Registry) Deactivate(caller common.Address, id common.Hash) error {
	if caller != r.admin {
		return ErrNotAdmin
	}

	r.mu.Lock()
	cfg, ok := r.splits[id]
	if !ok || !cfg.Active {
		r.mu.Unlock()
		return ErrSplitNotActive
	}
	cfg.Active = false
	cfg = cfg.clone()
	r.mu.Unlock()

	if err := r.persistConfig(cfg); err != nil {
		return err
	}

	if _, err := r.log.Append(&events.Event{
		Kind:             events.KindSplitDeactivated,
		SplitDeactivated: &events.SplitDeactivated{ID: id},
	}); err != nil {
		return err
	}

	metrics.RegistrySplitsActive.Dec()
	log.Info().Str("id", id.Hex()).Msg("split deactivated")
	return nil
}

func (r *Registry) persistConfig(cfg *SplitConfig) error {
	if r.persist == nil {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return r.persist.Put(store.SplitsBucket, cfg.ID.Bytes(), data)
}

func (c *SplitConfig) clone() *SplitConfig {
	out := &SplitConfig{
		ID:     c.ID,
		Active: c.Active,
	}
	out.Recipients = append([]common.Address(nil), c.Recipients...)
	out.Shares = append([]uint64(nil), c.Shares...)
	return out
}

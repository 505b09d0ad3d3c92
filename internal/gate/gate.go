package gate

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/paysplit-experiment/paysplit/internal/events"
	"github.com/paysplit-experiment/paysplit/internal/store"
)

// DefaultWindow is the validity window granted per verification, in seconds.
const DefaultWindow = 24 * 60 * 60

var (
	// ErrNotAdmin indicates the caller is not the designated administrator.
	ErrNotAdmin = errors.New("gate: caller is not the administrator")

	// ErrZeroAddress indicates a zero account in a verification request.
	ErrZeroAddress = errors.New("gate: zero address account")
)

// Gate is the access predicate evaluated before settlement. A stored expiry
// timestamp per account decides authorization; expired entries are simply
// treated as absent, no deletion needed. Records are written only by the
// administrator and read by everyone.
type Gate struct {
	mu       sync.RWMutex
	admin    common.Address
	required bool
	window   uint64
	expiry   map[common.Address]uint64

	log     *events.Store
	persist *store.Store
}

// Options configures a Gate.
type Options struct {
	Admin    common.Address
	Required bool
	Window   uint64 // seconds; zero means DefaultWindow
}

// New creates a Gate, reloading persisted verification records when a
// persistent store is attached.
func New(opts Options, eventLog *events.Store, persist *store.Store) (*Gate, error) {
	g := &Gate{
		admin:    opts.Admin,
		required: opts.Required,
		window:   opts.Window,
		expiry:   make(map[common.Address]uint64),
		log:      eventLog,
		persist:  persist,
	}
	if g.window == 0 {
		g.window = DefaultWindow
	}

	if persist != nil {
		err := persist.ForEach(store.VerificationsBucket, func(key, value []byte) error {
			if len(key) != common.AddressLength || len(value) != 8 {
				return nil // skip foreign entries
			}
			g.expiry[common.BytesToAddress(key)] = binary.BigEndian.Uint64(value)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Admin returns the administrator identity.
func (g *Gate) Admin() common.Address {
	return g.admin
}

// Required reports whether the gate predicate is enforced.
func (g *Gate) Required() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.required
}

// IsAuthorized reports whether account may invoke settlement at time now.
// Always true while enforcement is off.
func (g *Gate) IsAuthorized(account common.Address, now uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.required {
		return true
	}
	return g.expiry[account] > now
}

// Expiry returns the stored verification expiry for account (zero if none).
func (g *Gate) Expiry(account common.Address) uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.expiry[account]
}

// Authorize sets account's expiry to now + window and emits UserVerified.
// Restricted to the administrator.
func (g *Gate) Authorize(caller, account common.Address, now uint64) (uint64, error) {
	if caller != g.admin {
		return 0, ErrNotAdmin
	}
	if account == (common.Address{}) {
		return 0, ErrZeroAddress
	}

	expiry := now + g.window
	g.mu.Lock()
	g.expiry[account] = expiry
	g.mu.Unlock()

	if err := g.persistRecord(account, expiry); err != nil {
		return 0, err
	}

	if _, err := g.log.Append(&events.Event{
		Kind:         events.KindUserVerified,
		UserVerified: &events.UserVerified{Account: account, Expiry: expiry},
	}); err != nil {
		return 0, err
	}

	log.Info().Str("account", account.Hex()).Uint64("expiry", expiry).Msg("user verified")
	return expiry, nil
}

// AuthorizeMany applies Authorize to each account in order. The whole batch
// is validated up front: a zero address anywhere fails the batch before any
// state is written.
func (g *Gate) AuthorizeMany(caller common.Address, accounts []common.Address, now uint64) error {
	if caller != g.admin {
		return ErrNotAdmin
	}
	for _, account := range accounts {
		if account == (common.Address{}) {
			return ErrZeroAddress
		}
	}
	for _, account := range accounts {
		if _, err := g.Authorize(caller, account, now); err != nil {
			return err
		}
	}
	return nil
}

// SetRequired toggles gate enforcement and emits a configuration-change event.
// Restricted to the administrator.
func (g *Gate) SetRequired(caller common.Address, required bool) error {
	if caller != g.admin {
		return ErrNotAdmin
	}

	g.mu.Lock()
	g.required = required
	g.mu.Unlock()

	if _, err := g.log.Append(&events.Event{
		Kind:                           events.KindVerificationRequirementChanged,
		VerificationRequirementChanged: &events.VerificationRequirementChanged{Enabled: required},
	}); err != nil {
		return err
	}

	log.Info().Bool("required", required).Msg("verification requirement changed")
	return nil
}

func (g *Gate) persistRecord(account common.Address, expiry uint64) error {
	if g.persist == nil {
		return nil
	}
	var value [8]byte
	binary.BigEndian.PutUint64(value[:], expiry)
	return g.persist.Put(store.VerificationsBucket, account.Bytes(), value[:])
}

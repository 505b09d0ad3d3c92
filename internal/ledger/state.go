package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
)

// RootFileName is where the committed state root is persisted between runs.
const RootFileName = "state_root.txt"

// State wraps geth's StateDB. It holds every account's native-coin balance
// and the storage slots backing the token, and provides the snapshot/revert
// boundary that makes a settlement all-or-nothing.
//
// StateDB is not safe for concurrent use, and snapshot/revert spans multiple
// calls. Concurrent callers must hold the state mutex (Lock/Unlock) for the
// whole of each compound operation, commit included.
type State struct {
	mu      sync.Mutex // serializes compound operations on the shared StateDB
	db      state.Database
	stateDB *state.StateDB
	dataDir string // empty for in-memory state
	height  uint64
}

// Lock serializes a compound state operation (check + mutate + commit).
func (s *State) Lock() {
	s.mu.Lock()
}

// Unlock releases the state mutex.
func (s *State) Unlock() {
	s.mu.Unlock()
}

// NewMemoryState creates a fresh in-memory state (tests and default runs).
func NewMemoryState() (*State, error) {
	memDB := rawdb.NewMemoryDatabase()
	trieDB := triedb.NewDatabase(memDB, nil)
	db := state.NewDatabase(trieDB, nil)

	stateDB, err := state.New(types.EmptyRootHash, db)
	if err != nil {
		return nil, err
	}

	return &State{
		db:      db,
		stateDB: stateDB,
		height:  1,
	}, nil
}

// NewState opens a leveldb-backed state rooted at the committed root stored
// in dataDir. The genesis tool writes the initial root file.
func NewState(dataDir string) (*State, error) {
	rootPath := filepath.Join(dataDir, RootFileName)
	rootBytes, err := os.ReadFile(rootPath)
	if err != nil {
		return nil, err
	}

	rootStr := strings.TrimSpace(string(rootBytes))
	if !(len(rootStr) == 66 && (rootStr[:2] == "0x" || rootStr[:2] == "0X")) {
		return nil, fmt.Errorf("invalid state root format: %q", rootStr)
	}

	ldb, err := leveldb.New(filepath.Join(dataDir, "statedb"), 128, 1024, "", false)
	if err != nil {
		return nil, err
	}

	rdb := rawdb.NewDatabase(ldb)
	tdb := triedb.NewDatabase(rdb, nil)
	sdb := state.NewDatabase(tdb, nil)

	stateDB, err := state.New(common.HexToHash(rootStr), sdb)
	if err != nil {
		return nil, err
	}

	return &State{
		db:      sdb,
		stateDB: stateDB,
		dataDir: dataDir,
		height:  1,
	}, nil
}

// CreateState initializes a fresh leveldb-backed state at dataDir, starting
// from the empty root. Used by the genesis tool; an existing root file means
// the directory was already initialized.
func CreateState(dataDir string) (*State, error) {
	rootPath := filepath.Join(dataDir, RootFileName)
	if _, err := os.Stat(rootPath); err == nil {
		return nil, fmt.Errorf("state already initialized at %s", dataDir)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	ldb, err := leveldb.New(filepath.Join(dataDir, "statedb"), 128, 1024, "", false)
	if err != nil {
		return nil, err
	}

	rdb := rawdb.NewDatabase(ldb)
	tdb := triedb.NewDatabase(rdb, nil)
	sdb := state.NewDatabase(tdb, nil)

	stateDB, err := state.New(types.EmptyRootHash, sdb)
	if err != nil {
		return nil, err
	}

	return &State{
		db:      sdb,
		stateDB: stateDB,
		dataDir: dataDir,
		height:  1,
	}, nil
}

// Commit commits the current state and returns the new root.
func (s *State) Commit() (common.Hash, error) {
	newRoot, err := s.stateDB.Commit(s.height, false, false)
	if err != nil {
		return common.Hash{}, err
	}
	s.height++

	// Recreate StateDB at the new root so cached tries aren't reused after commit
	newStateDB, err := state.New(newRoot, s.stateDB.Database())
	if err != nil {
		return common.Hash{}, err
	}
	s.stateDB = newStateDB

	if s.dataDir != "" {
		// Flush trie nodes to disk so the root resolves after restart.
		if err := s.db.TrieDB().Commit(newRoot, false); err != nil {
			return common.Hash{}, fmt.Errorf("failed to flush trie database: %w", err)
		}
		rootPath := filepath.Join(s.dataDir, RootFileName)
		if err := os.WriteFile(rootPath, []byte(newRoot.Hex()), 0644); err != nil {
			return common.Hash{}, fmt.Errorf("failed to persist state root: %w", err)
		}
	}
	return newRoot, nil
}

// GetBalance returns an account's native-coin balance.
func (s *State) GetBalance(addr common.Address) *uint256.Int {
	return s.stateDB.GetBalance(addr).Clone()
}

// Credit adds native-coin balance.
func (s *State) Credit(addr common.Address, amount *uint256.Int) {
	s.stateDB.AddBalance(addr, amount, tracing.BalanceChangeTransfer)
}

// Debit subtracts native-coin balance, failing if the balance doesn't cover it.
func (s *State) Debit(addr common.Address, amount *uint256.Int) error {
	if s.stateDB.GetBalance(addr).Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	s.stateDB.SubBalance(addr, amount, tracing.BalanceChangeTransfer)
	return nil
}

// SetBalance overwrites an account's native-coin balance (genesis only).
func (s *State) SetBalance(addr common.Address, amount *uint256.Int) {
	s.stateDB.SetBalance(addr, amount, tracing.BalanceChangeUnspecified)
}

// GetStorageAt returns the storage value at a given slot.
func (s *State) GetStorageAt(addr common.Address, slot common.Hash) common.Hash {
	return s.stateDB.GetState(addr, slot)
}

// SetStorageAt sets the storage value at a given slot.
func (s *State) SetStorageAt(addr common.Address, slot common.Hash, value common.Hash) {
	s.stateDB.SetState(addr, slot, value)
}

// StateRoot returns the current state root (without committing).
func (s *State) StateRoot() common.Hash {
	return s.stateDB.IntermediateRoot(false)
}

// Snapshot creates a state snapshot for potential rollback.
func (s *State) Snapshot() int {
	return s.stateDB.Snapshot()
}

// RevertToSnapshot rolls back state to a previous snapshot.
func (s *State) RevertToSnapshot(snapshot int) {
	s.stateDB.RevertToSnapshot(snapshot)
}

// Errors
var ErrInsufficientFunds = &LedgerError{"insufficient funds"}

type LedgerError struct {
	msg string
}

func (e *LedgerError) Error() string {
	return e.msg
}

package main

import (
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/paysplit-experiment/paysplit/config"
	"github.com/paysplit-experiment/paysplit/internal/ledger"
	"github.com/paysplit-experiment/paysplit/internal/protocol"
	"github.com/paysplit-experiment/paysplit/internal/token"
)

// Initializes a data directory: deterministic test accounts funded with
// native coin and freshly minted tokens, committed to a leveldb-backed
// state. The daemon refuses to start persistently until this has run.

const accountNum = 10

func main() {
	configPath := flag.String("config", "config/config.json", "Config file path")
	accounts := flag.Int("accounts", accountNum, "Number of test accounts to fund")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.DataDir == "" {
		fatal(fmt.Errorf("config has no data_dir"))
	}

	state, err := ledger.CreateState(cfg.DataDir)
	if err != nil {
		fatal(err)
	}

	tok := token.New(protocol.TokenAddress, state)

	coins := uint256.NewInt(1e18)
	tokens := new(uint256.Int).Mul(uint256.NewInt(1_000_000), uint256.NewInt(1e18))

	addrs := GenerateAddresses(*accounts)
	for _, addr := range addrs {
		state.SetBalance(addr, coins)
		if err := tok.Mint(addr, tokens); err != nil {
			fatal(err)
		}
		fmt.Printf("Funded %s\n", addr.Hex())
	}

	// The admin gets the same stake so privileged flows are testable out of
	// the box.
	if admin, err := protocol.ParseAddress(cfg.AdminAddress); err == nil {
		state.SetBalance(admin, coins)
		if err := tok.Mint(admin, tokens); err != nil {
			fatal(err)
		}
		fmt.Printf("Funded admin %s\n", admin.Hex())
	}

	root, err := state.Commit()
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Commit Root: %v\n", root)

	if err := WriteAddressFile(cfg.DataDir, addrs); err != nil {
		fatal(err)
	}
}

// GenerateAddresses derives accountNum addresses from stable seeds so every
// run of the tool (and every test) agrees on them.
func GenerateAddresses(n int) []common.Address {
	addrs := make([]common.Address, n)
	for i := range addrs {
		seed := fmt.Sprintf("paysplit-test-account-%d", i)
		hash := sha256.Sum256([]byte(seed))
		addrs[i] = common.BytesToAddress(hash[:])
	}
	return addrs
}

// WriteAddressFile records the funded addresses for scripts to pick up.
func WriteAddressFile(dataDir string, addrs []common.Address) error {
	file, err := os.Create(filepath.Join(dataDir, "address.txt"))
	if err != nil {
		return err
	}
	defer file.Close()

	for _, addr := range addrs {
		if _, err := fmt.Fprintln(file, addr.Hex()); err != nil {
			return err
		}
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds all configurable parameters for the application
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DataDir    string `json:"data_dir"`

	// AdminAddress is the designated administrator identity. Privileged
	// operations (verification, registry management) check the caller
	// against this address.
	AdminAddress string `json:"admin_address"`

	// VerificationRequired enables the access gate on settlement calls.
	VerificationRequired bool `json:"verification_required"`

	// VerificationWindowHours is the validity window granted per
	// verification. Zero means the 24h default.
	VerificationWindowHours int `json:"verification_window_hours"`

	TokenName     string `json:"token_name"`
	TokenSymbol   string `json:"token_symbol"`
	TokenDecimals uint8  `json:"token_decimals"`
}

// Load reads and parses the config.json file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads the default config from config.json in the current directory
func LoadDefault() (*Config, error) {
	return Load("config/config.json")
}

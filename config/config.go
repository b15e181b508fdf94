package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"disputepay/crypto"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Owner         string `toml:"Owner"`
	NetworkName   string `toml:"NetworkName"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`
}

// Load loads the configuration from the given path, creating a commented
// default file when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./disputepay-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "disputepay-local"
	}
	if cfg.LogMaxSizeMB <= 0 {
		cfg.LogMaxSizeMB = 100
	}
}

// Validate checks the loaded configuration for operator mistakes before the
// daemon starts accepting traffic.
func (c *Config) Validate() error {
	owner := strings.TrimSpace(c.Owner)
	if owner == "" {
		return fmt.Errorf("config: Owner must be set to the owner principal address")
	}
	addr, err := crypto.DecodeAddress(owner)
	if err != nil {
		return fmt.Errorf("config: invalid Owner address: %w", err)
	}
	if addr.IsZero() {
		return fmt.Errorf("config: Owner must not be the empty principal")
	}
	return nil
}

// OwnerAddress returns the decoded owner principal. Call after Validate.
func (c *Config) OwnerAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(strings.TrimSpace(c.Owner))
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.WriteString(defaultFileHeader); err != nil {
		return nil, err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("config: wrote default config to %s; set Owner before starting", path)
}

const defaultFileHeader = `# disputepay daemon configuration.
# Owner must be set to the bech32 principal that owns the engine.
`

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// TokenConfig declares one supported payment token.
type TokenConfig struct {
	AssetID  string `toml:"AssetID"`
	Ticker   string `toml:"Ticker"`
	Decimals uint8  `toml:"Decimals"`
	Fee      string `toml:"Fee"`
}

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	Environment    string `toml:"Environment"`

	ServiceAccount string `toml:"ServiceAccount"`
	FeeCollector   string `toml:"FeeCollector"`

	LedgerGatewayURL string `toml:"LedgerGatewayURL"`
	RateFeedURL      string `toml:"RateFeedURL"`
	RateFeedAPIKey   string `toml:"RateFeedAPIKey"`

	RateRefreshInterval string `toml:"RateRefreshInterval"`
	ExpirySweepInterval string `toml:"ExpirySweepInterval"`
	ArchiveInterval     string `toml:"ArchiveInterval"`
	ArchiveBatchSize    int    `toml:"ArchiveBatchSize"`

	Tokens []TokenConfig `toml:"Tokens"`
}

// Load reads the configuration at path, writing and returning a default one
// when the file does not exist yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9090"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./payhub-data"
	}
	if strings.TrimSpace(c.RateRefreshInterval) == "" {
		c.RateRefreshInterval = "24h"
	}
	if strings.TrimSpace(c.ExpirySweepInterval) == "" {
		c.ExpirySweepInterval = "10m"
	}
	if strings.TrimSpace(c.ArchiveInterval) == "" {
		c.ArchiveInterval = "24h"
	}
	if c.ArchiveBatchSize <= 0 {
		c.ArchiveBatchSize = 100
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServiceAccount) == "" {
		return fmt.Errorf("config: ServiceAccount required")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"RateRefreshInterval", c.RateRefreshInterval},
		{"ExpirySweepInterval", c.ExpirySweepInterval},
		{"ArchiveInterval", c.ArchiveInterval},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	seen := make(map[string]struct{}, len(c.Tokens))
	for i, tok := range c.Tokens {
		if strings.TrimSpace(tok.AssetID) == "" {
			return fmt.Errorf("config: token %d missing AssetID", i)
		}
		ticker := strings.ToUpper(strings.TrimSpace(tok.Ticker))
		if ticker == "" {
			return fmt.Errorf("config: token %d missing Ticker", i)
		}
		if _, dup := seen[ticker]; dup {
			return fmt.Errorf("config: duplicate token ticker %s", ticker)
		}
		seen[ticker] = struct{}{}
	}
	return nil
}

// Duration getters; Validate has already established the strings parse.

func (c *Config) RateRefreshDuration() time.Duration {
	d, _ := time.ParseDuration(c.RateRefreshInterval)
	return d
}

func (c *Config) ExpirySweepDuration() time.Duration {
	d, _ := time.ParseDuration(c.ExpirySweepInterval)
	return d
}

func (c *Config) ArchiveDuration() time.Duration {
	d, _ := time.ParseDuration(c.ArchiveInterval)
	return d
}

// createDefault writes a starter configuration to path and returns it. The
// ServiceAccount is intentionally left blank so the daemon refuses to start
// until the operator fills it in.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:          ":8080",
		MetricsAddress:      ":9090",
		DataDir:             "./payhub-data",
		Environment:         "dev",
		RateRefreshInterval: "24h",
		ExpirySweepInterval: "10m",
		ArchiveInterval:     "24h",
		ArchiveBatchSize:    100,
		Tokens:              []TokenConfig{},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration, persisted as TOML next to the data
// directory. Missing files are created with local-net defaults.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`
	LogEnvironment string `toml:"LogEnvironment"`
	// LogFile enables rotating file output in addition to stdout when set.
	LogFile string `toml:"LogFile,omitempty"`

	Interest InterestConfig `toml:"Interest"`
	Assets   []AssetConfig  `toml:"Assets"`
	Shield   ShieldConfig   `toml:"Shield"`
}

// InterestConfig parameterizes the kinked rate model shared by all reserves.
type InterestConfig struct {
	BaseRate float64 `toml:"BaseRate"`
	Slope1   float64 `toml:"Slope1"`
	Slope2   float64 `toml:"Slope2"`
	Kink     float64 `toml:"Kink"`
}

// AssetConfig declares one listed asset with its risk parameters and boot
// price. Basis-point fields follow the lending module conventions; PriceUSD
// is a decimal string in whole dollars.
type AssetConfig struct {
	Symbol                  string `toml:"Symbol"`
	Decimals                uint8  `toml:"Decimals"`
	ReceiptToken            string `toml:"ReceiptToken"`
	LTVBps                  uint64 `toml:"LTVBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
	PriceUSD                string `toml:"PriceUSD"`
}

// ShieldConfig declares the shielded pools and the Groth16 key locations.
// Keys missing on disk trigger a fresh setup at startup.
type ShieldConfig struct {
	ProvingKeyPath   string             `toml:"ProvingKeyPath"`
	VerifyingKeyPath string             `toml:"VerifyingKeyPath"`
	Pools            []ShieldPoolConfig `toml:"Pools"`
}

// ShieldPoolConfig is one fixed-denomination pool. Denomination is a decimal
// string in the asset's smallest unit.
type ShieldPoolConfig struct {
	Asset        string `toml:"Asset"`
	Denomination string `toml:"Denomination"`
}

// Load reads the configuration from path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(cfg, path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot boot from.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if c.Interest.Kink <= 0 || c.Interest.Kink > 1 {
		return fmt.Errorf("config: Interest.Kink must be in (0, 1]")
	}
	if c.Interest.BaseRate < 0 || c.Interest.Slope1 < 0 || c.Interest.Slope2 < 0 {
		return fmt.Errorf("config: interest rates must be non-negative")
	}
	seen := make(map[string]bool, len(c.Assets))
	for _, asset := range c.Assets {
		symbol := strings.TrimSpace(asset.Symbol)
		if symbol == "" {
			return fmt.Errorf("config: asset with empty symbol")
		}
		if seen[symbol] {
			return fmt.Errorf("config: duplicate asset %s", symbol)
		}
		seen[symbol] = true
		if _, err := asset.Price(); err != nil {
			return err
		}
	}
	for _, pool := range c.Shield.Pools {
		if !seen[pool.Asset] {
			return fmt.Errorf("config: shield pool references unlisted asset %s", pool.Asset)
		}
		if _, err := pool.DenominationAmount(); err != nil {
			return err
		}
	}
	return nil
}

// Price converts PriceUSD into the oracle's 8 decimal fixed-point form.
func (a AssetConfig) Price() (*big.Int, error) {
	dollars, ok := new(big.Int).SetString(strings.TrimSpace(a.PriceUSD), 10)
	if !ok || dollars.Sign() <= 0 {
		return nil, fmt.Errorf("config: asset %s has invalid PriceUSD %q", a.Symbol, a.PriceUSD)
	}
	return new(big.Int).Mul(dollars, big.NewInt(100_000_000)), nil
}

// DenominationAmount parses the pool denomination.
func (p ShieldPoolConfig) DenominationAmount() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(p.Denomination), 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("config: shield pool %s has invalid denomination %q", p.Asset, p.Denomination)
	}
	return amount, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "mav-local"
	}
	if strings.TrimSpace(cfg.LogEnvironment) == "" {
		cfg.LogEnvironment = "local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if cfg.Shield.ProvingKeyPath == "" {
		cfg.Shield.ProvingKeyPath = filepath.Join(cfg.DataDir, "shield.pk")
	}
	if cfg.Shield.VerifyingKeyPath == "" {
		cfg.Shield.VerifyingKeyPath = filepath.Join(cfg.DataDir, "shield.vk")
	}
}

func createDefault(path string) (*Config, error) {
	cfg := DefaultConfig(filepath.Join(filepath.Dir(path), "data"))
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig is the local-net genesis wiring: WETH and DAI markets with a
// DAI shielded pool of 1,000 units.
func DefaultConfig(dataDir string) *Config {
	cfg := &Config{
		RPCAddress:     "127.0.0.1:8545",
		DataDir:        dataDir,
		NetworkName:    "mav-local",
		LogEnvironment: "local",
		Interest: InterestConfig{
			BaseRate: 0.02,
			Slope1:   0.15,
			Slope2:   0.6,
			Kink:     0.8,
		},
		Assets: []AssetConfig{
			{
				Symbol:                  "WETH",
				Decimals:                18,
				ReceiptToken:            "aWETH",
				LTVBps:                  8_000,
				LiquidationThresholdBps: 8_500,
				LiquidationBonusBps:     10_500,
				PriceUSD:                "2000",
			},
			{
				Symbol:                  "DAI",
				Decimals:                18,
				ReceiptToken:            "aDAI",
				LTVBps:                  7_500,
				LiquidationThresholdBps: 8_000,
				LiquidationBonusBps:     10_500,
				PriceUSD:                "1",
			},
		},
		Shield: ShieldConfig{
			Pools: []ShieldPoolConfig{
				{Asset: "DAI", Denomination: "1000000000000000000000"},
			},
		},
	}
	applyDefaults(cfg, filepath.Join(dataDir, ".."))
	return cfg
}

func persist(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

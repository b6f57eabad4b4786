package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"vestvault/crypto"
	"vestvault/native/sale"
)

// Config is the on-disk deployment definition: the fixed parameters a sale
// engine is initialised with, plus the storage backend holding its state.
type Config struct {
	Administrator string `toml:"Administrator"`
	Governance    string `toml:"Governance"`
	ModuleAddress string `toml:"ModuleAddress"`
	Funding       string `toml:"Funding"`
	Borrower      string `toml:"Borrower"`

	PaymentSymbol string `toml:"PaymentSymbol"`
	RewardSymbol  string `toml:"RewardSymbol"`
	ReceiptSymbol string `toml:"ReceiptSymbol"`
	ShareSymbol   string `toml:"ShareSymbol"`
	VaultAddress  string `toml:"VaultAddress"`
	FacilityAddr  string `toml:"FacilityAddress"`

	Price     string `toml:"Price"`
	RateScale string `toml:"RateScale"`

	Policy                string `toml:"Policy"`
	RedeemMode            string `toml:"RedeemMode"`
	PermissionlessForward bool   `toml:"PermissionlessForward"`
	SweepOffsetSeconds    int64  `toml:"SweepOffsetSeconds"`

	Storage StorageConfig `toml:"storage"`
}

// StorageConfig selects the key-value backend engine state lives in.
type StorageConfig struct {
	Backend string `toml:"Backend"`
	Path    string `toml:"Path"`
}

// Load reads and validates a deployment definition.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %s not found", path)
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
	if strings.TrimSpace(cfg.RateScale) == "" {
		cfg.RateScale = "1"
	}
	if strings.TrimSpace(cfg.Policy) == "" {
		cfg.Policy = "exact"
	}
	if strings.TrimSpace(cfg.RedeemMode) == "" {
		cfg.RedeemMode = "vault"
	}
	if cfg.SweepOffsetSeconds == 0 {
		// One year: the sweep is a last-resort path, not an operational one.
		cfg.SweepOffsetSeconds = 365 * 24 * 3600
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = "./vestvault-data"
	}
	if strings.TrimSpace(cfg.ShareSymbol) == "" && strings.TrimSpace(cfg.RewardSymbol) != "" {
		cfg.ShareSymbol = "S" + strings.ToUpper(strings.TrimSpace(cfg.RewardSymbol))
	}
}

// Validate rejects definitions the engine would refuse or that reference an
// unknown backend.
func (c *Config) Validate() error {
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if _, err := crypto.DecodeAddress(strings.TrimSpace(c.VaultAddress)); err != nil {
		return fmt.Errorf("config: vault address: %w", err)
	}
	if _, err := crypto.DecodeAddress(strings.TrimSpace(c.FacilityAddr)); err != nil {
		return fmt.Errorf("config: facility address: %w", err)
	}
	return nil
}

// EngineConfig converts the on-disk definition into the engine's fixed
// configuration.
func (c *Config) EngineConfig() (sale.Config, error) {
	out := sale.Config{
		PaymentSymbol:         strings.TrimSpace(c.PaymentSymbol),
		RewardSymbol:          strings.TrimSpace(c.RewardSymbol),
		ReceiptSymbol:         strings.TrimSpace(c.ReceiptSymbol),
		PermissionlessForward: c.PermissionlessForward,
		SweepOffset:           c.SweepOffsetSeconds,
	}
	for name, pair := range map[string]struct {
		raw  string
		dest *[20]byte
	}{
		"administrator": {c.Administrator, &out.Administrator},
		"governance":    {c.Governance, &out.Governance},
		"module":        {c.ModuleAddress, &out.ModuleAddress},
		"funding":       {c.Funding, &out.Funding},
	} {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(pair.raw))
		if err != nil {
			return sale.Config{}, fmt.Errorf("config: %s address: %w", name, err)
		}
		*pair.dest = addr.Array()
	}
	if trimmed := strings.TrimSpace(c.Borrower); trimmed != "" {
		addr, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			return sale.Config{}, fmt.Errorf("config: borrower address: %w", err)
		}
		out.Borrower = addr.Array()
	}
	price, err := parseAmount("Price", c.Price)
	if err != nil {
		return sale.Config{}, err
	}
	out.Price = price
	scale, err := parseAmount("RateScale", c.RateScale)
	if err != nil {
		return sale.Config{}, err
	}
	out.RateScale = scale
	policy, err := sale.ParsePolicy(c.Policy)
	if err != nil {
		return sale.Config{}, err
	}
	out.Policy = policy
	mode, err := sale.ParseRedeemMode(c.RedeemMode)
	if err != nil {
		return sale.Config{}, err
	}
	out.RedeemMode = mode
	if err := out.Validate(); err != nil {
		return sale.Config{}, err
	}
	return out, nil
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("config: %s required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("config: %s is not a decimal integer: %q", field, raw)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("config: %s must be positive", field)
	}
	return value, nil
}

// Package config loads and validates the TOML runtime configuration: risk
// settings, swap limits and the asset registry.
package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"levcore/risk"
)

// Load reads and decodes the configuration at path, fills defaults and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDefaults fills unset fields with the modelled protocol's defaults.
func (c *Config) EnsureDefaults() {
	if c.Service == "" {
		c.Service = "levcore"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Risk.FullCloseHealthFactor == 0 {
		c.Risk.FullCloseHealthFactor = 95_000_000
	}
	if c.Risk.PartialCloseBps == 0 {
		c.Risk.PartialCloseBps = 5_000
	}
	if c.Position.MinHealthFactor == 0 {
		c.Position.MinHealthFactor = 100_000_000
	}
}

// CloseFactorPolicy converts the configured tiering into runtime form.
func (c *Config) CloseFactorPolicy() risk.CloseFactorPolicy {
	return risk.CloseFactorPolicy{
		FullCloseHealthFactor: new(big.Int).SetUint64(c.Risk.FullCloseHealthFactor),
		PartialCloseBps:       c.Risk.PartialCloseBps,
	}
}

// AssetBySymbol returns the registry entry for symbol.
func (c *Config) AssetBySymbol(symbol string) (Asset, bool) {
	for _, asset := range c.Assets {
		if asset.Symbol == symbol {
			return asset, true
		}
	}
	return Asset{}, false
}

// TokenAddress parses the asset's configured hex address.
func (a Asset) TokenAddress() common.Address {
	return common.HexToAddress(a.Address)
}

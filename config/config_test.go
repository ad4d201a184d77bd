package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
Service = "levcore"
LogLevel = "debug"

[risk]
LiquidationBonusBps = 1000
ProtocolFeeBps = 1000
FullCloseHealthFactor = 95000000
PartialCloseBps = 5000

[swap]
MaxSlippageBps = 50

[position]
MinHealthFactor = 110000000

[[assets]]
Symbol = "WETH"
Address = "0x0000000000000000000000000000000000000001"
Decimals = 18
LTVBps = 8000
LiquidationThresholdBps = 8250

[[assets]]
Symbol = "USDC"
Address = "0x0000000000000000000000000000000000000002"
Decimals = 6
LTVBps = 7500
LiquidationThresholdBps = 8000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "levcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Equal(t, "levcore", cfg.Service)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, uint64(1000), cfg.Risk.LiquidationBonusBps)
	require.Len(t, cfg.Assets, 2)

	weth, ok := cfg.AssetBySymbol("WETH")
	require.True(t, ok)
	require.Equal(t, uint8(18), weth.Decimals)
	require.Equal(t, "0x0000000000000000000000000000000000000001", weth.TokenAddress().Hex())

	policy := cfg.CloseFactorPolicy()
	require.Equal(t, uint64(95_000_000), policy.FullCloseHealthFactor.Uint64())
	require.Equal(t, uint64(5_000), policy.PartialCloseBps)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestEnsureDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.EnsureDefaults()
	require.Equal(t, "levcore", cfg.Service)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, uint64(95_000_000), cfg.Risk.FullCloseHealthFactor)
	require.Equal(t, uint64(5_000), cfg.Risk.PartialCloseBps)
	require.Equal(t, uint64(100_000_000), cfg.Position.MinHealthFactor)
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg := &Config{
			Risk: Risk{LiquidationBonusBps: 500, ProtocolFeeBps: 1000},
			Assets: []Asset{{
				Symbol:                  "WETH",
				Address:                 "0x0000000000000000000000000000000000000001",
				Decimals:                18,
				LTVBps:                  8000,
				LiquidationThresholdBps: 8250,
			}},
		}
		cfg.EnsureDefaults()
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bonus above scale", func(c *Config) { c.Risk.LiquidationBonusBps = 10_001 }},
		{"full close at unity", func(c *Config) { c.Risk.FullCloseHealthFactor = 100_000_000 }},
		{"partial close zero", func(c *Config) { c.Risk.PartialCloseBps = 0 }},
		{"min health below unity", func(c *Config) { c.Position.MinHealthFactor = 99_999_999 }},
		{"no assets", func(c *Config) { c.Assets = nil }},
		{"bad address", func(c *Config) { c.Assets[0].Address = "not-an-address" }},
		{"ltv above threshold", func(c *Config) { c.Assets[0].LTVBps = 9_000 }},
		{"duplicate symbol", func(c *Config) { c.Assets = append(c.Assets, c.Assets[0]) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

package config

// Config is the root runtime configuration: service identity, risk settings
// and the asset registry the workflows operate over.
type Config struct {
	Service  string        `toml:"Service"`
	LogLevel string        `toml:"LogLevel"`
	Risk     Risk          `toml:"risk"`
	Swap     Swap          `toml:"swap"`
	Assets   []Asset       `toml:"assets"`
	Position PositionRules `toml:"position"`
}

// Risk carries the liquidation settings, in basis points the way the
// modelled protocol publishes them.
type Risk struct {
	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps"`
	ProtocolFeeBps      uint64 `toml:"ProtocolFeeBps"`
	// FullCloseHealthFactor is the scale-8 boundary below which the whole
	// debt is liquidatable in one call.
	FullCloseHealthFactor uint64 `toml:"FullCloseHealthFactor"`
	PartialCloseBps       uint64 `toml:"PartialCloseBps"`
}

// Swap configures the venue leg of the workflows.
type Swap struct {
	MaxSlippageBps uint64 `toml:"MaxSlippageBps"`
}

// PositionRules constrains what the open workflow will accept.
type PositionRules struct {
	// MinHealthFactor is the scale-8 floor applied when the caller does not
	// supply one.
	MinHealthFactor uint64 `toml:"MinHealthFactor"`
}

// Asset describes one token the workflows may touch.
type Asset struct {
	Symbol                  string `toml:"Symbol"`
	Address                 string `toml:"Address"`
	Decimals                uint8  `toml:"Decimals"`
	LTVBps                  uint64 `toml:"LTVBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
}

package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const maxBps = 10_000

// Validate rejects configurations the workflows cannot run safely on.
func (c *Config) Validate() error {
	if c.Risk.LiquidationBonusBps > maxBps {
		return fmt.Errorf("risk: LiquidationBonusBps %d exceeds %d", c.Risk.LiquidationBonusBps, maxBps)
	}
	if c.Risk.ProtocolFeeBps > maxBps {
		return fmt.Errorf("risk: ProtocolFeeBps %d exceeds %d", c.Risk.ProtocolFeeBps, maxBps)
	}
	if c.Risk.PartialCloseBps == 0 || c.Risk.PartialCloseBps > maxBps {
		return fmt.Errorf("risk: PartialCloseBps %d outside (0, %d]", c.Risk.PartialCloseBps, maxBps)
	}
	if c.Risk.FullCloseHealthFactor >= 100_000_000 {
		return fmt.Errorf("risk: FullCloseHealthFactor %d must sit below unity", c.Risk.FullCloseHealthFactor)
	}
	if c.Swap.MaxSlippageBps >= maxBps {
		return fmt.Errorf("swap: MaxSlippageBps %d must be below %d", c.Swap.MaxSlippageBps, maxBps)
	}
	if c.Position.MinHealthFactor < 100_000_000 {
		return fmt.Errorf("position: MinHealthFactor %d below unity", c.Position.MinHealthFactor)
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("assets: at least one asset must be listed")
	}
	seenSymbols := make(map[string]struct{}, len(c.Assets))
	seenAddresses := make(map[common.Address]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		if asset.Symbol == "" {
			return fmt.Errorf("assets: symbol must not be empty")
		}
		if _, ok := seenSymbols[asset.Symbol]; ok {
			return fmt.Errorf("assets: duplicate symbol %s", asset.Symbol)
		}
		seenSymbols[asset.Symbol] = struct{}{}
		if !common.IsHexAddress(asset.Address) {
			return fmt.Errorf("assets: %s has invalid address %q", asset.Symbol, asset.Address)
		}
		addr := common.HexToAddress(asset.Address)
		if _, ok := seenAddresses[addr]; ok {
			return fmt.Errorf("assets: duplicate address %s", asset.Address)
		}
		seenAddresses[addr] = struct{}{}
		if asset.LTVBps > maxBps || asset.LiquidationThresholdBps > maxBps {
			return fmt.Errorf("assets: %s risk weights exceed %d bps", asset.Symbol, maxBps)
		}
		if asset.LTVBps > asset.LiquidationThresholdBps {
			return fmt.Errorf("assets: %s LTVBps %d exceeds LiquidationThresholdBps %d", asset.Symbol, asset.LTVBps, asset.LiquidationThresholdBps)
		}
	}
	return nil
}

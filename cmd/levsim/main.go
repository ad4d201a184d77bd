// Command levsim walks a leveraged position through its full lifecycle
// against the in-memory protocol: open at $2,000, watch the collateral sink
// to $1,180, take a partial liquidation and close out the rest.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"levcore/config"
	"levcore/fixedpoint"
	"levcore/leverage"
	"levcore/observability"
	"levcore/observability/logging"
	"levcore/protocol"
	"levcore/protocol/inmem"
)

var (
	ownerAddr      = common.HexToAddress("0x1000000000000000000000000000000000000001")
	executorAddr   = common.HexToAddress("0x1000000000000000000000000000000000000002")
	liquidatorAddr = common.HexToAddress("0x1000000000000000000000000000000000000003")
)

func main() {
	configFile := flag.String("config", "", "Path to a TOML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "levsim: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Service, parseLevel(cfg.LogLevel))

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("simulation failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	collateral, ok := cfg.AssetBySymbol("WETH")
	if !ok {
		return fmt.Errorf("config lists no WETH asset")
	}
	debt, ok := cfg.AssetBySymbol("USDC")
	if !ok {
		return fmt.Errorf("config lists no USDC asset")
	}

	pool := inmem.NewPool(cfg.Risk.LiquidationBonusBps, cfg.Risk.ProtocolFeeBps, cfg.CloseFactorPolicy())
	pool.ListAsset(collateral.TokenAddress(), inmem.AssetConfig{
		Decimals:                collateral.Decimals,
		LTVBps:                  collateral.LTVBps,
		LiquidationThresholdBps: collateral.LiquidationThresholdBps,
	})
	pool.ListAsset(debt.TokenAddress(), inmem.AssetConfig{
		Decimals:                debt.Decimals,
		LTVBps:                  debt.LTVBps,
		LiquidationThresholdBps: debt.LiquidationThresholdBps,
	})
	pool.SetPrice(collateral.TokenAddress(), big.NewInt(200_000_000_000))
	pool.SetPrice(debt.TokenAddress(), big.NewInt(100_000_000))
	pool.SetSwapSlippage(cfg.Swap.MaxSlippageBps)

	ctrl, err := leverage.New(
		executorAddr,
		pool.Session(executorAddr), pool.Session(executorAddr), pool.Session(executorAddr), pool.Session(executorAddr),
		leverage.WithLogger(logger),
		leverage.WithMetrics(observability.Workflows()),
		leverage.WithCloseFactorPolicy(cfg.CloseFactorPolicy()),
	)
	if err != nil {
		return err
	}

	oneCollateral := fixedpoint.Pow10(collateral.Decimals)

	// The owner arrives with one collateral token and lets the executor
	// pull it.
	pool.Mint(collateral.TokenAddress(), ownerAddr, oneCollateral)
	owner := pool.Session(ownerAddr)
	if err := owner.Approve(ctx, collateral.TokenAddress(), ownerAddr, executorAddr, oneCollateral); err != nil {
		return err
	}

	openResult, err := ctrl.OpenPosition(ctx, leverage.OpenParams{
		Owner:                             ownerAddr,
		CollateralAsset:                   collateral.TokenAddress(),
		CollateralDecimals:                collateral.Decimals,
		CollateralAmount:                  oneCollateral,
		CollateralLiquidationThresholdBps: collateral.LiquidationThresholdBps,
		DebtAsset:                         debt.TokenAddress(),
		DebtDecimals:                      debt.Decimals,
		BorrowBudgetBase:                  big.NewInt(100_000_000_000), // $1,000
		RateMode:                          protocol.RateModeVariable,
		MinHealthFactor:                   new(big.Int).SetUint64(cfg.Position.MinHealthFactor),
	})
	if err != nil {
		return err
	}
	logger.Info("position opened",
		slog.String("run_id", openResult.RunID),
		slog.String("borrowed", fixedpoint.FormatUnits(openResult.Borrowed, debt.Decimals)),
		slog.String("health", fixedpoint.FormatUnits(openResult.HealthFactor, fixedpoint.BaseCurrencyDecimals)))

	// The market turns: $2,000 collateral marks down to $1,180 and health
	// slips below unity.
	pool.SetPrice(collateral.TokenAddress(), big.NewInt(118_000_000_000))
	logger.Info("collateral repriced", slog.String("price", "1180.00000000"))

	liquidator := pool.Session(liquidatorAddr)
	liquidatorFunds := new(big.Int).Set(openResult.Borrowed)
	pool.Mint(debt.TokenAddress(), liquidatorAddr, liquidatorFunds)
	if err := liquidator.Approve(ctx, debt.TokenAddress(), liquidatorAddr, executorAddr, liquidatorFunds); err != nil {
		return err
	}

	outcome, err := ctrl.Liquidate(ctx, leverage.LiquidateParams{
		Liquidator:         liquidatorAddr,
		CollateralAsset:    collateral.TokenAddress(),
		CollateralDecimals: collateral.Decimals,
		DebtAsset:          debt.TokenAddress(),
		DebtDecimals:       debt.Decimals,
		Target:             executorAddr,
	})
	if err != nil {
		return err
	}
	logger.Info("position liquidated",
		slog.String("run_id", outcome.RunID),
		slog.String("debt_repaid", fixedpoint.FormatUnits(outcome.DebtRepaid, debt.Decimals)),
		slog.String("collateral_seized", fixedpoint.FormatUnits(outcome.CollateralSeized, collateral.Decimals)),
		slog.String("remaining_health", fixedpoint.FormatUnits(outcome.RemainingHealthFactor, fixedpoint.BaseCurrencyDecimals)))

	// The owner unwinds what is left, funding the swap leg with half a
	// collateral token from their own pocket.
	closeLeg := new(big.Int).Quo(oneCollateral, big.NewInt(2))
	pool.Mint(collateral.TokenAddress(), ownerAddr, closeLeg)
	if err := owner.Approve(ctx, collateral.TokenAddress(), ownerAddr, executorAddr, closeLeg); err != nil {
		return err
	}
	// Cover a possible shortfall from the owner's own debt-token funds.
	shortfallReserve := new(big.Int).Set(outcome.DebtRepaid)
	pool.Mint(debt.TokenAddress(), ownerAddr, shortfallReserve)
	if err := owner.Approve(ctx, debt.TokenAddress(), ownerAddr, executorAddr, shortfallReserve); err != nil {
		return err
	}

	closeResult, err := ctrl.ClosePosition(ctx, leverage.CloseParams{
		Owner:              ownerAddr,
		CollateralAsset:    collateral.TokenAddress(),
		CollateralDecimals: collateral.Decimals,
		DebtAsset:          debt.TokenAddress(),
		DebtDecimals:       debt.Decimals,
		CollateralAmountIn: closeLeg,
	})
	if err != nil {
		return err
	}
	logger.Info("position closed",
		slog.String("run_id", closeResult.RunID),
		slog.String("debt_repaid", fixedpoint.FormatUnits(closeResult.DebtRepaid, debt.Decimals)),
		slog.String("caller_top_up", fixedpoint.FormatUnits(closeResult.DebtRepaidByCaller, debt.Decimals)),
		slog.String("collateral_withdrawn", fixedpoint.FormatUnits(closeResult.CollateralWithdrawn, collateral.Decimals)),
		slog.String("leftover_profit", fixedpoint.FormatUnits(closeResult.LeftoverProfit, debt.Decimals)))

	logger.Info("final balances",
		slog.String("owner_collateral", fixedpoint.FormatUnits(pool.Balance(collateral.TokenAddress(), ownerAddr), collateral.Decimals)),
		slog.String("owner_debt_asset", fixedpoint.FormatUnits(pool.Balance(debt.TokenAddress(), ownerAddr), debt.Decimals)),
		slog.String("treasury_fees", fixedpoint.FormatUnits(pool.ProtocolFeesOf(collateral.TokenAddress()), collateral.Decimals)))
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := &config.Config{
		Risk: config.Risk{LiquidationBonusBps: 1_000, ProtocolFeeBps: 1_000},
		Swap: config.Swap{MaxSlippageBps: 0},
		Assets: []config.Asset{
			{Symbol: "WETH", Address: "0x2000000000000000000000000000000000000001", Decimals: 18, LTVBps: 8_000, LiquidationThresholdBps: 8_250},
			{Symbol: "USDC", Address: "0x2000000000000000000000000000000000000002", Decimals: 6, LTVBps: 7_500, LiquidationThresholdBps: 8_000},
		},
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

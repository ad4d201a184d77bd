package leverage

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func TestClosePositionAtProfit(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()
	ctrl := newTestController(t, pool)

	// Position: 2 collateral tokens ($4,000) against 1,000 debt tokens
	// ($1,000). The owner swaps one collateral token for $2,000 of debt
	// asset, which covers the full repayment with $1,000 left over.
	seedPosition(t, pool, executorAddr, big.NewInt(2_000_000), big.NewInt(1_000_000_000))
	pool.Mint(collateralToken, ownerAddr, big.NewInt(1_000_000))
	approveExecutor(t, pool, collateralToken, ownerAddr, big.NewInt(1_000_000))

	result, err := ctrl.ClosePosition(ctx, CloseParams{
		Owner:              ownerAddr,
		CollateralAsset:    collateralToken,
		CollateralDecimals: 6,
		DebtAsset:          debtToken,
		DebtDecimals:       6,
		CollateralAmountIn: big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	checkAmount(t, "swap proceeds", result.SwapProceeds, big.NewInt(2_000_000_000))
	checkAmount(t, "debt repaid", result.DebtRepaid, big.NewInt(1_000_000_000))
	checkAmount(t, "caller top-up", result.DebtRepaidByCaller, big.NewInt(0))
	checkAmount(t, "collateral withdrawn", result.CollateralWithdrawn, big.NewInt(2_000_000))
	checkAmount(t, "leftover profit", result.LeftoverProfit, big.NewInt(1_000_000_000))

	checkAmount(t, "owner collateral balance", pool.Balance(collateralToken, ownerAddr), big.NewInt(2_000_000))
	checkAmount(t, "owner debt balance", pool.Balance(debtToken, ownerAddr), big.NewInt(1_000_000_000))
	checkAmount(t, "remaining ledger debt", pool.DebtOf(executorAddr, debtToken), big.NewInt(0))
	checkAmount(t, "remaining ledger collateral", pool.CollateralOf(executorAddr, collateralToken), big.NewInt(0))
}

func TestClosePositionPullsShortfall(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()
	ctrl := newTestController(t, pool)

	// The swapped leg ($800) does not cover the $1,000 debt; the exact
	// $200 shortfall must come out of the owner's own funds before the
	// repay, and nothing is left over.
	seedPosition(t, pool, executorAddr, big.NewInt(2_000_000), big.NewInt(1_000_000_000))
	pool.Mint(collateralToken, ownerAddr, big.NewInt(400_000))
	pool.Mint(debtToken, ownerAddr, big.NewInt(200_000_000))
	approveExecutor(t, pool, collateralToken, ownerAddr, big.NewInt(400_000))
	approveExecutor(t, pool, debtToken, ownerAddr, big.NewInt(200_000_000))

	result, err := ctrl.ClosePosition(ctx, CloseParams{
		Owner:              ownerAddr,
		CollateralAsset:    collateralToken,
		CollateralDecimals: 6,
		DebtAsset:          debtToken,
		DebtDecimals:       6,
		CollateralAmountIn: big.NewInt(400_000),
	})
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	checkAmount(t, "swap proceeds", result.SwapProceeds, big.NewInt(800_000_000))
	checkAmount(t, "debt repaid", result.DebtRepaid, big.NewInt(1_000_000_000))
	checkAmount(t, "caller top-up", result.DebtRepaidByCaller, big.NewInt(200_000_000))
	checkAmount(t, "leftover profit", result.LeftoverProfit, big.NewInt(0))
	checkAmount(t, "collateral withdrawn", result.CollateralWithdrawn, big.NewInt(2_000_000))

	checkAmount(t, "owner debt balance", pool.Balance(debtToken, ownerAddr), big.NewInt(0))
	checkAmount(t, "owner collateral balance", pool.Balance(collateralToken, ownerAddr), big.NewInt(2_000_000))
	checkAmount(t, "remaining ledger debt", pool.DebtOf(executorAddr, debtToken), big.NewInt(0))
}

func TestClosePositionHonoursCaps(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()
	ctrl := newTestController(t, pool)

	// Partial unwind: repay only $400 of the $1,000 debt and withdraw only
	// half a collateral token, leaving a healthy position behind.
	seedPosition(t, pool, executorAddr, big.NewInt(2_000_000), big.NewInt(1_000_000_000))
	pool.Mint(collateralToken, ownerAddr, big.NewInt(200_000))
	approveExecutor(t, pool, collateralToken, ownerAddr, big.NewInt(200_000))

	result, err := ctrl.ClosePosition(ctx, CloseParams{
		Owner:                 ownerAddr,
		CollateralAsset:       collateralToken,
		CollateralDecimals:    6,
		DebtAsset:             debtToken,
		DebtDecimals:          6,
		CollateralAmountIn:    big.NewInt(200_000),
		MaxDebtToRepay:        big.NewInt(400_000_000),
		MaxCollateralWithdraw: big.NewInt(500_000),
	})
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	checkAmount(t, "debt repaid", result.DebtRepaid, big.NewInt(400_000_000))
	checkAmount(t, "caller top-up", result.DebtRepaidByCaller, big.NewInt(0))
	checkAmount(t, "collateral withdrawn", result.CollateralWithdrawn, big.NewInt(500_000))
	checkAmount(t, "leftover profit", result.LeftoverProfit, big.NewInt(0))

	checkAmount(t, "remaining ledger debt", pool.DebtOf(executorAddr, debtToken), big.NewInt(600_000_000))
	checkAmount(t, "remaining ledger collateral", pool.CollateralOf(executorAddr, collateralToken), big.NewInt(1_500_000))
	checkAmount(t, "owner collateral balance", pool.Balance(collateralToken, ownerAddr), big.NewInt(500_000))
}

func TestClosePositionSettlesFromAppliedRepay(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()

	// A rival pays $100 of the executor's debt down between the debt read
	// and the repay call. The ledger then applies only $900 of the $1,000
	// target; the settlement must report the applied amount and hand the
	// extra $100 back to the owner instead of stranding it.
	seedPosition(t, pool, executorAddr, big.NewInt(2_000_000), big.NewInt(1_000_000_000))
	pool.Mint(debtToken, liquidatorAddr, big.NewInt(100_000_000))

	hook := &ledgerHook{
		Ledger: pool.Session(executorAddr),
		beforeRepay: func(ctx context.Context) {
			if _, err := pool.Session(liquidatorAddr).Repay(ctx, debtToken, big.NewInt(100_000_000), executorAddr); err != nil {
				t.Fatalf("rival repay: %v", err)
			}
		},
	}
	ctrl := newControllerWithLedger(t, pool, hook)

	pool.Mint(collateralToken, ownerAddr, big.NewInt(1_000_000))
	approveExecutor(t, pool, collateralToken, ownerAddr, big.NewInt(1_000_000))

	result, err := ctrl.ClosePosition(ctx, CloseParams{
		Owner:              ownerAddr,
		CollateralAsset:    collateralToken,
		CollateralDecimals: 6,
		DebtAsset:          debtToken,
		DebtDecimals:       6,
		CollateralAmountIn: big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	checkAmount(t, "debt repaid", result.DebtRepaid, big.NewInt(900_000_000))
	checkAmount(t, "leftover profit", result.LeftoverProfit, big.NewInt(1_100_000_000))
	checkAmount(t, "caller top-up", result.DebtRepaidByCaller, big.NewInt(0))

	checkAmount(t, "owner debt balance", pool.Balance(debtToken, ownerAddr), big.NewInt(1_100_000_000))
	// Nothing beyond the seeded borrow stays with the executor.
	checkAmount(t, "executor debt balance", pool.Balance(debtToken, executorAddr), big.NewInt(1_000_000_000))
	checkAmount(t, "remaining ledger debt", pool.DebtOf(executorAddr, debtToken), big.NewInt(0))
}

func TestClosePositionRejectsNegativeCaps(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()
	ctrl := newTestController(t, pool)

	seedPosition(t, pool, executorAddr, big.NewInt(2_000_000), big.NewInt(1_000_000_000))
	pool.Mint(collateralToken, ownerAddr, big.NewInt(1_000_000))
	approveExecutor(t, pool, collateralToken, ownerAddr, big.NewInt(1_000_000))

	base := CloseParams{
		Owner:              ownerAddr,
		CollateralAsset:    collateralToken,
		CollateralDecimals: 6,
		DebtAsset:          debtToken,
		DebtDecimals:       6,
		CollateralAmountIn: big.NewInt(1_000_000),
	}

	params := base
	params.MaxDebtToRepay = big.NewInt(-1)
	_, err := ctrl.ClosePosition(ctx, params)
	if !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected amount error for negative repay cap, got %v", err)
	}
	if step := failedStep(t, err); step != StepPreflight {
		t.Fatalf("expected preflight step, got %s", step)
	}

	params = base
	params.MaxCollateralWithdraw = big.NewInt(-1)
	_, err = ctrl.ClosePosition(ctx, params)
	if !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected amount error for negative withdraw cap, got %v", err)
	}

	// Nothing moved: both rejections happened before the collateral pull.
	checkAmount(t, "owner collateral balance", pool.Balance(collateralToken, ownerAddr), big.NewInt(1_000_000))
	checkAmount(t, "ledger debt", pool.DebtOf(executorAddr, debtToken), big.NewInt(1_000_000_000))
}

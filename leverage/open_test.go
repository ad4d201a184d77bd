package leverage

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"levcore/protocol"
)

func baseOpenParams() OpenParams {
	return OpenParams{
		Owner:                             ownerAddr,
		CollateralAsset:                   collateralToken,
		CollateralDecimals:                6,
		CollateralAmount:                  big.NewInt(1_000_000),
		CollateralLiquidationThresholdBps: 8_250,
		DebtAsset:                         debtToken,
		DebtDecimals:                      6,
		BorrowBudgetBase:                  big.NewInt(100_000_000_000),
		RateMode:                          protocol.RateModeVariable,
		MinHealthFactor:                   big.NewInt(150_000_000),
		MinSwapOut:                        big.NewInt(500_000),
	}
}

func TestOpenPosition(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()
	ctrl := newTestController(t, pool)

	// One collateral token ($2,000) pulled from the owner, a $1,000 borrow
	// budget swapped back into half a collateral token.
	pool.Mint(collateralToken, ownerAddr, big.NewInt(1_000_000))
	approveExecutor(t, pool, collateralToken, ownerAddr, big.NewInt(1_000_000))

	result, err := ctrl.OpenPosition(ctx, baseOpenParams())
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	checkAmount(t, "borrowed", result.Borrowed, big.NewInt(1_000_000_000))
	checkAmount(t, "collateral out", result.CollateralAmountOut, big.NewInt(500_000))
	checkAmount(t, "health factor", result.HealthFactor, big.NewInt(165_000_000))
	if result.RunID == "" {
		t.Fatal("expected a run id")
	}

	checkAmount(t, "owner collateral balance", pool.Balance(collateralToken, ownerAddr), big.NewInt(0))
	checkAmount(t, "ledger collateral", pool.CollateralOf(executorAddr, collateralToken), big.NewInt(1_000_000))
	checkAmount(t, "ledger debt", pool.DebtOf(executorAddr, debtToken), big.NewInt(1_000_000_000))
	checkAmount(t, "executor swap output", pool.Balance(collateralToken, executorAddr), big.NewInt(500_000))
}

func TestOpenPositionPreflightRejects(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()
	ctrl := newTestController(t, pool)

	pool.Mint(collateralToken, ownerAddr, big.NewInt(1_000_000))
	approveExecutor(t, pool, collateralToken, ownerAddr, big.NewInt(1_000_000))

	// The projected health factor is 1.65; a 2.0 minimum cannot clear it,
	// so the workflow must stop before touching the owner's funds.
	params := baseOpenParams()
	params.MinHealthFactor = big.NewInt(200_000_000)

	_, err := ctrl.OpenPosition(ctx, params)
	if !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected health factor error, got %v", err)
	}
	if step := failedStep(t, err); step != StepPreflight {
		t.Fatalf("expected preflight step, got %s", step)
	}
	checkAmount(t, "owner collateral balance", pool.Balance(collateralToken, ownerAddr), big.NewInt(1_000_000))
	checkAmount(t, "ledger collateral", pool.CollateralOf(executorAddr, collateralToken), big.NewInt(0))
}

func TestOpenPositionHealthGateStopsBeforeSwap(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()
	ctrl := newTestController(t, pool)

	pool.Mint(collateralToken, ownerAddr, big.NewInt(1_000_000))
	approveExecutor(t, pool, collateralToken, ownerAddr, big.NewInt(1_000_000))

	// An optimistic caller-supplied threshold lets the projection pass, but
	// the ledger's real 82.5% threshold leaves the position at 1.65, below
	// the 1.7 minimum. The gate must fire after borrowing and the swap must
	// never be issued; deposit and borrow stay in place.
	params := baseOpenParams()
	params.CollateralLiquidationThresholdBps = 9_000
	params.MinHealthFactor = big.NewInt(170_000_000)

	_, err := ctrl.OpenPosition(ctx, params)
	if !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected health factor error, got %v", err)
	}
	if step := failedStep(t, err); step != StepHealthCheck {
		t.Fatalf("expected health check step, got %s", step)
	}
	checkAmount(t, "unswapped borrow", pool.Balance(debtToken, executorAddr), big.NewInt(1_000_000_000))
	checkAmount(t, "swap output", pool.Balance(collateralToken, executorAddr), big.NewInt(0))
	checkAmount(t, "ledger collateral", pool.CollateralOf(executorAddr, collateralToken), big.NewInt(1_000_000))
	checkAmount(t, "ledger debt", pool.DebtOf(executorAddr, debtToken), big.NewInt(1_000_000_000))
}

func TestOpenPositionSlippageFloor(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()
	ctrl := newTestController(t, pool)

	pool.Mint(collateralToken, ownerAddr, big.NewInt(1_000_000))
	approveExecutor(t, pool, collateralToken, ownerAddr, big.NewInt(1_000_000))

	params := baseOpenParams()
	params.MinSwapOut = big.NewInt(600_000)

	_, err := ctrl.OpenPosition(ctx, params)
	if !errors.Is(err, protocol.ErrSlippageExceeded) {
		t.Fatalf("expected slippage error, got %v", err)
	}
	if step := failedStep(t, err); step != StepSwap {
		t.Fatalf("expected swap step, got %s", step)
	}
}

func TestOpenPositionValidation(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()
	ctrl := newTestController(t, pool)

	params := baseOpenParams()
	params.MinHealthFactor = big.NewInt(99_999_999)
	if _, err := ctrl.OpenPosition(ctx, params); !errors.Is(err, ErrMinHealthFactorInvalid) {
		t.Fatalf("expected minimum health factor error, got %v", err)
	}

	params = baseOpenParams()
	params.CollateralAmount = nil
	if _, err := ctrl.OpenPosition(ctx, params); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected amount error, got %v", err)
	}
}

func TestOpenPositionRefusesMissingHealthReport(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool()

	// A ledger adapter that omits the health factor from its account report
	// must be treated as failing the gate, not as healthy.
	hook := &ledgerHook{
		Ledger: pool.Session(executorAddr),
		accountData: func(data protocol.AccountData) protocol.AccountData {
			data.HealthFactor = nil
			return data
		},
	}
	ctrl := newControllerWithLedger(t, pool, hook)

	pool.Mint(collateralToken, ownerAddr, big.NewInt(1_000_000))
	approveExecutor(t, pool, collateralToken, ownerAddr, big.NewInt(1_000_000))

	_, err := ctrl.OpenPosition(ctx, baseOpenParams())
	if !errors.Is(err, ErrHealthFactorTooLow) {
		t.Fatalf("expected health factor error, got %v", err)
	}
	if step := failedStep(t, err); step != StepHealthCheck {
		t.Fatalf("expected health check step, got %s", step)
	}
	checkAmount(t, "swap output", pool.Balance(collateralToken, executorAddr), big.NewInt(0))
	checkAmount(t, "ledger debt", pool.DebtOf(executorAddr, debtToken), big.NewInt(1_000_000_000))
}

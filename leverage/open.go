package leverage

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"levcore/fixedpoint"
	"levcore/protocol"
	"levcore/risk"
)

// OpenParams configures one open workflow: pull collateral from the owner,
// deposit it, borrow against it and swap the borrowed debt asset into more
// collateral. Every field is explicit; nothing is read from ambient state.
type OpenParams struct {
	// Owner funds the collateral leg and must have approved the executor.
	Owner common.Address

	CollateralAsset    common.Address
	CollateralDecimals uint8
	// CollateralAmount is the collateral leg in token units.
	CollateralAmount *big.Int
	// CollateralLiquidationThresholdBps is the ledger's published threshold
	// for the collateral asset, used only for the pre-flight projection.
	CollateralLiquidationThresholdBps uint64

	DebtAsset    common.Address
	DebtDecimals uint8
	// BorrowBudgetBase caps the borrow leg in base currency; the workflow
	// borrows min(budget, the ledger's fresh available borrows).
	BorrowBudgetBase *big.Int
	RateMode         protocol.BorrowRateMode

	// MinHealthFactor is the scale-8 floor the position must clear after
	// borrowing. Must be at least unity.
	MinHealthFactor *big.Int
	// MinSwapOut is the slippage floor for the debt-to-collateral swap.
	MinSwapOut *big.Int
}

func (p OpenParams) validate() error {
	if !positive(p.CollateralAmount) || !positive(p.BorrowBudgetBase) {
		return errInvalidAmount
	}
	if p.MinHealthFactor == nil || p.MinHealthFactor.Cmp(risk.UnityHealthFactor) < 0 {
		return ErrMinHealthFactorInvalid
	}
	return nil
}

// OpenResult reports the outcome of an open workflow.
type OpenResult struct {
	RunID string
	// Borrowed is the debt leg in debt-token units.
	Borrowed *big.Int
	// CollateralAmountOut is the swap output in collateral-token units.
	CollateralAmountOut *big.Int
	// HealthFactor is the position's scale-8 health after borrowing.
	HealthFactor *big.Int
}

// OpenPosition runs the open workflow:
//
//	Created -> CollateralDeposited -> Borrowed -> HealthChecked -> Leveraged
//
// The health check is a hard gate: when the post-borrow health factor is
// below the caller's minimum the workflow stops before the swap step. The
// deposit and borrow that already executed are left in place for the caller
// to unwind; this layer never rolls back external state.
func (c *Controller) OpenPosition(ctx context.Context, params OpenParams) (*OpenResult, error) {
	r := c.newRun(WorkflowOpen)
	c.metrics.Started(r.workflow)

	if err := params.validate(); err != nil {
		return nil, c.fail(r, StepPreflight, err)
	}

	// Pre-flight projection: reject before any mutating call when the
	// worst case cannot clear the caller's minimum. Projecting with the
	// full budget is deliberately conservative; it may reject an open the
	// ledger would have capped to a passing size. The hard gate after
	// borrowing remains authoritative.
	projected, err := c.projectOpenHealth(ctx, params)
	if err != nil {
		return nil, c.fail(r, StepPreflight, err)
	}
	if projected.Cmp(params.MinHealthFactor) < 0 {
		return nil, c.fail(r, StepPreflight, ErrHealthFactorTooLow)
	}

	if err := c.tokens.TransferFrom(ctx, params.CollateralAsset, params.Owner, c.executor, params.CollateralAmount); err != nil {
		return nil, c.fail(r, StepPullCollateral, err)
	}
	if err := c.ledger.Deposit(ctx, params.CollateralAsset, params.CollateralAmount, c.executor); err != nil {
		return nil, c.fail(r, StepDepositCollateral, err)
	}
	r.log.Info("collateral deposited",
		slog.String("asset", params.CollateralAsset.Hex()),
		slog.String("amount", fixedpoint.FormatUnits(params.CollateralAmount, params.CollateralDecimals)))

	// Size the borrow from a fresh ledger read; the budget is only a cap.
	data, err := c.ledger.AccountData(ctx, c.executor)
	if err != nil {
		return nil, c.fail(r, StepBorrow, err)
	}
	borrowBase := minBig(params.BorrowBudgetBase, data.AvailableBorrowsBase)
	if borrowBase.Sign() == 0 {
		return nil, c.fail(r, StepBorrow, errNoBorrowBudget)
	}
	debtPrice, err := c.oracle.AssetPrice(ctx, params.DebtAsset)
	if err != nil {
		return nil, c.fail(r, StepBorrow, err)
	}
	borrowTokens, err := risk.MaxBorrowable(borrowBase, debtPrice, params.DebtDecimals)
	if err != nil {
		return nil, c.fail(r, StepBorrow, err)
	}
	if borrowTokens.Sign() == 0 {
		return nil, c.fail(r, StepBorrow, errNoBorrowBudget)
	}
	received, err := c.ledger.Borrow(ctx, params.DebtAsset, borrowTokens, params.RateMode, c.executor)
	if err != nil {
		return nil, c.fail(r, StepBorrow, err)
	}
	r.log.Info("debt drawn",
		slog.String("asset", params.DebtAsset.Hex()),
		slog.String("amount", fixedpoint.FormatUnits(received, params.DebtDecimals)))

	// Hard gate: a position below the caller's minimum must not reach the
	// swap step.
	data, err = c.ledger.AccountData(ctx, c.executor)
	if err != nil {
		return nil, c.fail(r, StepHealthCheck, err)
	}
	if data.HealthFactor == nil || data.HealthFactor.Cmp(params.MinHealthFactor) < 0 {
		return nil, c.fail(r, StepHealthCheck, ErrHealthFactorTooLow)
	}

	amountOut, err := c.venue.Swap(ctx, protocol.SwapRequest{
		TokenIn:      params.DebtAsset,
		TokenOut:     params.CollateralAsset,
		AmountIn:     received,
		MinAmountOut: params.MinSwapOut,
		Recipient:    c.executor,
	})
	if err != nil {
		return nil, c.fail(r, StepSwap, err)
	}
	r.log.Info("position leveraged",
		slog.String("collateral_out", fixedpoint.FormatUnits(amountOut, params.CollateralDecimals)),
		slog.String("health_factor", fixedpoint.FormatUnits(data.HealthFactor, fixedpoint.BaseCurrencyDecimals)))

	c.finish(r)
	return &OpenResult{
		RunID:               r.id,
		Borrowed:            received,
		CollateralAmountOut: amountOut,
		HealthFactor:        data.HealthFactor,
	}, nil
}

// projectOpenHealth computes the worst-case health factor for the open: the
// full collateral leg deposited and the full borrow budget drawn, whether or
// not the ledger would cap the draw lower. Reads only; issues no mutating
// call.
func (c *Controller) projectOpenHealth(ctx context.Context, params OpenParams) (*big.Int, error) {
	collateralPrice, err := c.oracle.AssetPrice(ctx, params.CollateralAsset)
	if err != nil {
		return nil, err
	}
	legValue, err := fixedpoint.MulDiv(params.CollateralAmount, collateralPrice, fixedpoint.Pow10(params.CollateralDecimals))
	if err != nil {
		return nil, err
	}
	data, err := c.ledger.AccountData(ctx, c.executor)
	if err != nil {
		return nil, err
	}

	projectedCollateral := new(big.Int).Add(data.TotalCollateralBase, legValue)
	projectedDebt := new(big.Int).Add(data.TotalDebtBase, params.BorrowBudgetBase)

	// Blend the existing weighted threshold with the new leg's threshold.
	weighted := new(big.Int).Mul(data.TotalCollateralBase, new(big.Int).SetUint64(data.LiquidationThresholdBps))
	weighted.Add(weighted, new(big.Int).Mul(legValue, new(big.Int).SetUint64(params.CollateralLiquidationThresholdBps)))
	var thresholdBps uint64
	if projectedCollateral.Sign() > 0 {
		thresholdBps = new(big.Int).Quo(weighted, projectedCollateral).Uint64()
	}
	return risk.HealthFactor(projectedCollateral, thresholdBps, projectedDebt), nil
}

package leverage

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"levcore/fixedpoint"
	"levcore/protocol"
)

// maxWithdraw requests the ledger release everything it holds; the ledger
// reports the amount actually withdrawn.
var maxWithdraw = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// CloseParams configures one close workflow.
type CloseParams struct {
	// Owner funds the collateral leg and any repay shortfall, and receives
	// the withdrawn collateral and leftover proceeds.
	Owner common.Address

	CollateralAsset    common.Address
	CollateralDecimals uint8
	DebtAsset          common.Address
	DebtDecimals       uint8

	// CollateralAmountIn is the collateral leg swapped into the debt asset
	// to fund the repayment.
	CollateralAmountIn *big.Int
	// MinSwapOut is the slippage floor for the collateral-to-debt swap.
	MinSwapOut *big.Int
	// MaxDebtToRepay caps the repayment; nil repays the full current debt.
	MaxDebtToRepay *big.Int
	// MaxCollateralWithdraw caps the final withdrawal; nil withdraws the
	// entire position collateral.
	MaxCollateralWithdraw *big.Int
}

func (p CloseParams) validate() error {
	if !positive(p.CollateralAmountIn) {
		return errInvalidAmount
	}
	if p.MaxDebtToRepay != nil && p.MaxDebtToRepay.Sign() < 0 {
		return errInvalidAmount
	}
	if p.MaxCollateralWithdraw != nil && p.MaxCollateralWithdraw.Sign() < 0 {
		return errInvalidAmount
	}
	return nil
}

// CloseResult reports the settlement of a close workflow.
type CloseResult struct {
	RunID string
	// SwapProceeds is the debt-token output of the collateral swap.
	SwapProceeds *big.Int
	// DebtRepaid is the total debt actually repaid.
	DebtRepaid *big.Int
	// DebtRepaidByCaller is the shortfall pulled from the owner's own funds
	// when the swap proceeds did not cover the repay target. Zero on a
	// profitable close.
	DebtRepaidByCaller *big.Int
	// CollateralWithdrawn is the collateral released to the owner.
	CollateralWithdrawn *big.Int
	// LeftoverProfit is the debt-token surplus returned to the owner:
	// proceeds + shortfall top-up - debt repaid. Never negative, because
	// the shortfall is always pulled before repaying.
	LeftoverProfit *big.Int
}

// ClosePosition runs the close workflow:
//
//	Created -> CollateralReceived -> Swapped -> DebtComputed -> Repaid ->
//	Withdrawn -> Settled
//
// The repay target is min(current debt, caller cap), read fresh after the
// swap. When the swap proceeds fall short of the target, the exact shortfall
// is pulled from the owner before the repay is attempted; a partial repay is
// never issued. The final withdrawal releases the entire position collateral
// up to the caller's cap, independent of the swapped leg.
func (c *Controller) ClosePosition(ctx context.Context, params CloseParams) (*CloseResult, error) {
	r := c.newRun(WorkflowClose)
	c.metrics.Started(r.workflow)

	if err := params.validate(); err != nil {
		return nil, c.fail(r, StepPreflight, err)
	}

	if err := c.tokens.TransferFrom(ctx, params.CollateralAsset, params.Owner, c.executor, params.CollateralAmountIn); err != nil {
		return nil, c.fail(r, StepPullCollateral, err)
	}

	proceeds, err := c.venue.Swap(ctx, protocol.SwapRequest{
		TokenIn:      params.CollateralAsset,
		TokenOut:     params.DebtAsset,
		AmountIn:     params.CollateralAmountIn,
		MinAmountOut: params.MinSwapOut,
		Recipient:    c.executor,
	})
	if err != nil {
		return nil, c.fail(r, StepSwap, err)
	}
	r.log.Info("collateral swapped",
		slog.String("proceeds", fixedpoint.FormatUnits(proceeds, params.DebtDecimals)))

	// The repay target comes from a fresh debt read: interest keeps
	// accruing and other actors may have touched the position.
	currentDebt, err := c.ledger.DebtBalance(ctx, params.DebtAsset, c.executor)
	if err != nil {
		return nil, c.fail(r, StepComputeDebt, err)
	}
	repayTarget := new(big.Int).Set(currentDebt)
	if params.MaxDebtToRepay != nil {
		repayTarget = minBig(currentDebt, params.MaxDebtToRepay)
	}

	topUp := big.NewInt(0)
	repaid := big.NewInt(0)
	if repayTarget.Sign() > 0 {
		if proceeds.Cmp(repayTarget) < 0 {
			topUp = new(big.Int).Sub(repayTarget, proceeds)
			if err := c.tokens.TransferFrom(ctx, params.DebtAsset, params.Owner, c.executor, topUp); err != nil {
				return nil, c.fail(r, StepPullShortfall, err)
			}
			r.log.Info("shortfall pulled from caller",
				slog.String("amount", fixedpoint.FormatUnits(topUp, params.DebtDecimals)))
		}
		applied, err := c.ledger.Repay(ctx, params.DebtAsset, repayTarget, c.executor)
		if err != nil {
			return nil, c.fail(r, StepRepay, err)
		}
		if applied != nil {
			repaid = new(big.Int).Set(applied)
		}
	}

	withdrawCap := maxWithdraw
	if params.MaxCollateralWithdraw != nil {
		withdrawCap = params.MaxCollateralWithdraw
	}
	withdrawn, err := c.ledger.Withdraw(ctx, params.CollateralAsset, withdrawCap, params.Owner)
	if err != nil {
		return nil, c.fail(r, StepWithdraw, err)
	}

	// Settlement: whatever debt tokens remain with the executor after the
	// repay belong to the owner. The ledger may apply less than the target
	// when another actor has already paid part of the debt down, so the
	// leftover comes from the applied amount, not the pre-repay read: with
	// the shortfall pulled up front it is exactly proceeds + topUp - repaid,
	// and never negative.
	leftover := new(big.Int).Add(proceeds, topUp)
	leftover.Sub(leftover, repaid)
	if leftover.Sign() > 0 {
		if err := c.tokens.TransferFrom(ctx, params.DebtAsset, c.executor, params.Owner, leftover); err != nil {
			return nil, c.fail(r, StepSettle, err)
		}
	}
	r.log.Info("position settled",
		slog.String("withdrawn", fixedpoint.FormatUnits(withdrawn, params.CollateralDecimals)),
		slog.String("debt_repaid", fixedpoint.FormatUnits(repaid, params.DebtDecimals)),
		slog.String("leftover", fixedpoint.FormatUnits(leftover, params.DebtDecimals)))

	c.finish(r)
	return &CloseResult{
		RunID:               r.id,
		SwapProceeds:        proceeds,
		DebtRepaid:          repaid,
		DebtRepaidByCaller:  topUp,
		CollateralWithdrawn: withdrawn,
		LeftoverProfit:      leftover,
	}, nil
}

package leverage

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"levcore/fixedpoint"
	"levcore/risk"
)

// LiquidateParams configures one liquidation attempt against a third-party
// account.
type LiquidateParams struct {
	// Liquidator funds the debt repayment and receives the seized
	// collateral.
	Liquidator common.Address

	CollateralAsset    common.Address
	CollateralDecimals uint8
	DebtAsset          common.Address
	DebtDecimals       uint8

	// Target is the account whose position is being liquidated.
	Target common.Address
	// MaxDebtToCover optionally caps the repayment below the close-factor
	// limit.
	MaxDebtToCover *big.Int
	// ReceiveShareToken asks the ledger to deliver seized collateral as the
	// position-receipt token instead of the underlying.
	ReceiveShareToken bool
}

// LiquidationOutcome reports a completed liquidation. Ephemeral: computed
// and returned, never persisted.
type LiquidationOutcome struct {
	RunID string
	// DebtRepaid is the debt actually burned, in debt-token units.
	DebtRepaid *big.Int
	// CollateralSeized is the total collateral taken from the target,
	// bonus included.
	CollateralSeized *big.Int
	// ProtocolFeePortion is the share of the bonus withheld by the
	// protocol; the liquidator received CollateralSeized minus this.
	ProtocolFeePortion *big.Int
	// RemainingHealthFactor is the target's scale-8 health after the call.
	RemainingHealthFactor *big.Int
}

// Liquidate runs the liquidation workflow:
//
//	Created -> DebtQueried -> FundsPulled -> Repaid -> Settled
//
// A healthy target is rejected before any funds move. The debt to cover is
// derived from fresh reads and the close-factor tiering; the external
// liquidation call burns debt and transfers seized collateral atomically.
// That atomicity is the ledger's guarantee, not this controller's.
func (c *Controller) Liquidate(ctx context.Context, params LiquidateParams) (*LiquidationOutcome, error) {
	r := c.newRun(WorkflowLiquidate)
	c.metrics.Started(r.workflow)

	if params.MaxDebtToCover != nil && params.MaxDebtToCover.Sign() < 0 {
		return nil, c.fail(r, StepPreflight, errInvalidAmount)
	}
	data, err := c.ledger.AccountData(ctx, params.Target)
	if err != nil {
		return nil, c.fail(r, StepPreflight, err)
	}
	if !risk.IsLiquidatable(data.HealthFactor) {
		return nil, c.fail(r, StepPreflight, ErrTargetHealthy)
	}

	outstanding, err := c.ledger.DebtBalance(ctx, params.DebtAsset, params.Target)
	if err != nil {
		return nil, c.fail(r, StepQueryDebt, err)
	}
	if outstanding.Sign() == 0 {
		return nil, c.fail(r, StepQueryDebt, ErrNoOutstandingDebt)
	}
	debtToCover := risk.MaxLiquidatableDebt(outstanding, data.HealthFactor, c.closeFactor)
	if params.MaxDebtToCover != nil {
		debtToCover = minBig(debtToCover, params.MaxDebtToCover)
	}
	if debtToCover.Sign() == 0 {
		return nil, c.fail(r, StepQueryDebt, ErrNoOutstandingDebt)
	}
	r.log.Info("liquidation sized",
		slog.String("target", params.Target.Hex()),
		slog.String("health_factor", fixedpoint.FormatUnits(data.HealthFactor, fixedpoint.BaseCurrencyDecimals)),
		slog.String("debt_to_cover", fixedpoint.FormatUnits(debtToCover, params.DebtDecimals)))

	if err := c.tokens.TransferFrom(ctx, params.DebtAsset, params.Liquidator, c.executor, debtToCover); err != nil {
		return nil, c.fail(r, StepPullFunds, err)
	}

	// Snapshot the executor's collateral balance so the fee portion can be
	// derived from what the ledger actually delivered.
	balanceBefore, err := c.tokens.BalanceOf(ctx, params.CollateralAsset, c.executor)
	if err != nil {
		return nil, c.fail(r, StepLiquidateCall, err)
	}
	seized, repaid, err := c.ledger.Liquidate(ctx, params.CollateralAsset, params.DebtAsset, params.Target, debtToCover, params.ReceiveShareToken)
	if err != nil {
		return nil, c.fail(r, StepLiquidateCall, err)
	}

	// The ledger may clamp the repayment; refund anything it did not use.
	if refund := new(big.Int).Sub(debtToCover, repaid); refund.Sign() > 0 {
		if err := c.tokens.TransferFrom(ctx, params.DebtAsset, c.executor, params.Liquidator, refund); err != nil {
			return nil, c.fail(r, StepSettle, err)
		}
	}

	// Forward the delivered collateral to the liquidator. The difference
	// between the seized total and what arrived is the protocol's fee cut.
	// When the caller asked for the share token instead, the seizure stays
	// on the executor's ledger account and no fee is observable here.
	feePortion := big.NewInt(0)
	if !params.ReceiveShareToken {
		balanceAfter, err := c.tokens.BalanceOf(ctx, params.CollateralAsset, c.executor)
		if err != nil {
			return nil, c.fail(r, StepSettle, err)
		}
		received := new(big.Int).Sub(balanceAfter, balanceBefore)
		if received.Sign() > 0 {
			if err := c.tokens.TransferFrom(ctx, params.CollateralAsset, c.executor, params.Liquidator, received); err != nil {
				return nil, c.fail(r, StepSettle, err)
			}
		}
		feePortion = new(big.Int).Sub(seized, received)
		if feePortion.Sign() < 0 {
			feePortion = big.NewInt(0)
		}
	}

	// Fresh read: the call above mutated the target's position.
	data, err = c.ledger.AccountData(ctx, params.Target)
	if err != nil {
		return nil, c.fail(r, StepSettle, err)
	}
	r.log.Info("liquidation settled",
		slog.String("debt_repaid", fixedpoint.FormatUnits(repaid, params.DebtDecimals)),
		slog.String("collateral_seized", fixedpoint.FormatUnits(seized, params.CollateralDecimals)),
		slog.String("remaining_health", fixedpoint.FormatUnits(data.HealthFactor, fixedpoint.BaseCurrencyDecimals)))

	c.finish(r)
	return &LiquidationOutcome{
		RunID:                 r.id,
		DebtRepaid:            repaid,
		CollateralSeized:      seized,
		ProtocolFeePortion:    feePortion,
		RemainingHealthFactor: data.HealthFactor,
	}, nil
}

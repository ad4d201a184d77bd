// Package risk provides the pure accounting computations for a leveraged
// position: health factors, borrow limits, close-factor tiering and
// liquidation seizure math. Nothing in this package performs an external
// call; every function computes over the snapshot it is handed.
package risk

import (
	"math/big"

	"levcore/fixedpoint"
)

// Health factors are dimensionless ratios carried at the base-currency scale.
// A position whose health factor drops below UnityHealthFactor is eligible
// for liquidation by any third party.
var (
	// UnityHealthFactor is 1.0 at scale 8.
	UnityHealthFactor = big.NewInt(100_000_000)
	// MaxHealthFactor is the sentinel health factor reported for positions
	// with zero debt, matching the modelled protocol's uint256.max
	// convention.
	MaxHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

var basisPoints = big.NewInt(10_000)

// Params groups the protocol risk settings applied to liquidation math,
// expressed in basis points the way the modelled protocol configures them.
type Params struct {
	// LiquidationThresholdBps weights collateral value when computing the
	// health factor.
	LiquidationThresholdBps uint64
	// LiquidationBonusBps is the extra collateral awarded to a liquidator on
	// top of the repaid debt value.
	LiquidationBonusBps uint64
	// ProtocolFeeBps is the share of the liquidation bonus routed to the
	// protocol treasury.
	ProtocolFeeBps uint64
}

// CloseFactorPolicy describes how much of a position's debt a single
// liquidation call may cover, tiered by how unhealthy the position is.
type CloseFactorPolicy struct {
	// FullCloseHealthFactor is the scale-8 boundary below which the entire
	// debt becomes liquidatable in one call.
	FullCloseHealthFactor *big.Int
	// PartialCloseBps is the debt fraction liquidatable above that boundary.
	PartialCloseBps uint64
}

// DefaultCloseFactorPolicy mirrors the modelled protocol: full closes below a
// 0.95 health factor, half the debt otherwise.
func DefaultCloseFactorPolicy() CloseFactorPolicy {
	return CloseFactorPolicy{
		FullCloseHealthFactor: big.NewInt(95_000_000),
		PartialCloseBps:       5_000,
	}
}

// HealthFactor returns (collateral * threshold) / debt as a scale-8 ratio.
// Zero debt yields MaxHealthFactor. Both value inputs are base-currency
// magnitudes at scale 8.
func HealthFactor(collateralBase *big.Int, thresholdBps uint64, debtBase *big.Int) *big.Int {
	if debtBase == nil || debtBase.Sign() == 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	if collateralBase == nil || collateralBase.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(collateralBase, new(big.Int).SetUint64(thresholdBps))
	num.Mul(num, UnityHealthFactor)
	den := new(big.Int).Mul(debtBase, basisPoints)
	return num.Quo(num, den)
}

// IsLiquidatable reports whether the given health factor is strictly below
// unity.
func IsLiquidatable(healthFactor *big.Int) bool {
	if healthFactor == nil {
		return false
	}
	return healthFactor.Cmp(UnityHealthFactor) < 0
}

// MaxBorrowable converts a base-currency borrow budget into token units at
// the asset's native scale using its current price. The result truncates
// toward zero and must be treated as a lower bound.
func MaxBorrowable(budgetBase, priceBase *big.Int, tokenDecimals uint8) (*big.Int, error) {
	return fixedpoint.Convert(budgetBase, priceBase, tokenDecimals)
}

// MaxLiquidatableDebt returns how much of the outstanding debt one
// liquidation call may repay: the full debt when the health factor has fallen
// below the policy's full-close boundary, otherwise the partial fraction.
func MaxLiquidatableDebt(debtTokens, healthFactor *big.Int, policy CloseFactorPolicy) *big.Int {
	if debtTokens == nil || debtTokens.Sign() <= 0 {
		return big.NewInt(0)
	}
	boundary := policy.FullCloseHealthFactor
	if boundary == nil {
		boundary = DefaultCloseFactorPolicy().FullCloseHealthFactor
	}
	if healthFactor != nil && healthFactor.Cmp(boundary) < 0 {
		return new(big.Int).Set(debtTokens)
	}
	partial := new(big.Int).Mul(debtTokens, new(big.Int).SetUint64(policy.PartialCloseBps))
	return partial.Quo(partial, basisPoints)
}

// LiquidationSeizure converts repaid debt into collateral units, applies the
// liquidation bonus multiplicatively and carves the protocol fee out of the
// bonus portion. The seized amount includes the bonus; the fee portion is
// reported separately so the caller can route it.
func LiquidationSeizure(debtRepaid, debtPriceBase, collateralPriceBase *big.Int, debtDecimals, collateralDecimals uint8, params Params) (seized, protocolFee *big.Int, err error) {
	// Value of the repaid debt in base currency.
	debtValueBase, err := fixedpoint.MulDiv(debtRepaid, debtPriceBase, fixedpoint.Pow10(debtDecimals))
	if err != nil {
		return nil, nil, err
	}
	// Equivalent collateral tokens before any bonus.
	baseSeize, err := fixedpoint.Convert(debtValueBase, collateralPriceBase, collateralDecimals)
	if err != nil {
		return nil, nil, err
	}
	seized, err = fixedpoint.MulDiv(baseSeize, new(big.Int).SetUint64(10_000+params.LiquidationBonusBps), basisPoints)
	if err != nil {
		return nil, nil, err
	}
	bonusPortion := new(big.Int).Sub(seized, baseSeize)
	protocolFee, err = fixedpoint.MulDiv(bonusPortion, new(big.Int).SetUint64(params.ProtocolFeeBps), basisPoints)
	if err != nil {
		return nil, nil, err
	}
	return seized, protocolFee, nil
}

// Package protocol declares the capability contracts this module consumes
// from its environment: the lending ledger, the price oracle, the swap venue
// and the token transfer capability. Production adapters and the in-memory
// test implementation satisfy the same contracts, so the accounting and
// workflow layers can be exercised deterministically without any network.
//
// All durable state lives behind these interfaces; this module persists
// nothing of its own.
package protocol

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BorrowRateMode selects the interest mode requested from the ledger.
type BorrowRateMode uint64

const (
	// RateModeStable requests a stable borrow rate.
	RateModeStable BorrowRateMode = 1
	// RateModeVariable requests a variable borrow rate.
	RateModeVariable BorrowRateMode = 2
)

// Errors propagated verbatim from external collaborators. They are never
// swallowed by the workflow layer; callers receive them wrapped with the
// identity of the step that failed.
var (
	ErrInsufficientBalance   = errors.New("protocol: insufficient balance")
	ErrInsufficientAllowance = errors.New("protocol: insufficient allowance")
	ErrSlippageExceeded      = errors.New("protocol: swap output below minimum")
	ErrExternalRejection     = errors.New("protocol: external call rejected")
)

// AccountData is the ledger's aggregate view of one account. Value fields are
// base-currency magnitudes at scale 8; the health factor is a scale-8 ratio.
type AccountData struct {
	TotalCollateralBase     *big.Int
	TotalDebtBase           *big.Int
	AvailableBorrowsBase    *big.Int
	LiquidationThresholdBps uint64
	LTVBps                  uint64
	HealthFactor            *big.Int
}

// SwapRequest describes one swap execution against the venue.
type SwapRequest struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Recipient    common.Address
	// RoutingData is venue-specific path or calldata, opaque to this module.
	RoutingData []byte
}

// Ledger is the external lending protocol: supply, borrow, repay, withdraw
// and liquidation bookkeeping, interest accrual and health accounting all
// happen on the other side of this contract.
type Ledger interface {
	// Deposit supplies amount of asset as collateral for beneficiary.
	Deposit(ctx context.Context, asset common.Address, amount *big.Int, beneficiary common.Address) error
	// Borrow draws amount of asset against beneficiary's collateral and
	// returns the tokens credited to the caller.
	Borrow(ctx context.Context, asset common.Address, amount *big.Int, rateMode BorrowRateMode, beneficiary common.Address) (*big.Int, error)
	// Repay pays down beneficiary's debt and returns the amount actually
	// applied, which may be less than requested when the debt is smaller.
	Repay(ctx context.Context, asset common.Address, amount *big.Int, beneficiary common.Address) (*big.Int, error)
	// Withdraw releases supplied collateral to recipient and returns the
	// amount actually withdrawn.
	Withdraw(ctx context.Context, asset common.Address, amount *big.Int, recipient common.Address) (*big.Int, error)
	// Liquidate atomically burns up to debtToCover of target's debt and
	// transfers the seized collateral to the caller. Atomicity is the
	// ledger's guarantee, not this module's.
	Liquidate(ctx context.Context, collateralAsset, debtAsset, target common.Address, debtToCover *big.Int, receiveShareToken bool) (collateralSeized, debtRepaid *big.Int, err error)
	// AccountData reports the aggregate position of account.
	AccountData(ctx context.Context, account common.Address) (AccountData, error)
	// DebtBalance reports account's outstanding debt in asset token units.
	DebtBalance(ctx context.Context, asset common.Address, account common.Address) (*big.Int, error)
}

// Oracle quotes asset prices in base currency at scale 8.
type Oracle interface {
	AssetPrice(ctx context.Context, asset common.Address) (*big.Int, error)
}

// SwapVenue executes token swaps. Implementations fail with
// ErrSlippageExceeded when the output would fall below MinAmountOut.
type SwapVenue interface {
	Swap(ctx context.Context, req SwapRequest) (amountOut *big.Int, err error)
}

// TokenBank is the token transfer capability, keyed by asset.
type TokenBank interface {
	TransferFrom(ctx context.Context, asset common.Address, owner, recipient common.Address, amount *big.Int) error
	Approve(ctx context.Context, asset common.Address, owner, spender common.Address, amount *big.Int) error
	BalanceOf(ctx context.Context, asset common.Address, account common.Address) (*big.Int, error)
}

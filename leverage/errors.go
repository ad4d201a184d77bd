package leverage

import (
	"errors"
	"fmt"
)

// Step identifies one external-call boundary inside a workflow. Every
// workflow failure names the step that aborted it so the caller can
// reconstruct exactly how much external state mutation already occurred.
type Step string

const (
	StepPreflight         Step = "preflight"
	StepPullCollateral    Step = "pull_collateral"
	StepDepositCollateral Step = "deposit_collateral"
	StepBorrow            Step = "borrow"
	StepHealthCheck       Step = "health_check"
	StepSwap              Step = "swap"
	StepComputeDebt       Step = "compute_debt"
	StepPullShortfall     Step = "pull_shortfall"
	StepRepay             Step = "repay"
	StepWithdraw          Step = "withdraw"
	StepSettle            Step = "settle"
	StepQueryDebt         Step = "query_debt"
	StepPullFunds         Step = "pull_funds"
	StepLiquidateCall     Step = "liquidate_call"
)

// Workflow kinds as reported in errors, logs and metrics.
const (
	WorkflowOpen      = "open"
	WorkflowClose     = "close"
	WorkflowLiquidate = "liquidate"
)

var (
	// ErrMinHealthFactorInvalid rejects a caller minimum below unity: such a
	// position would be born liquidatable.
	ErrMinHealthFactorInvalid = errors.New("leverage: minimum health factor below unity")
	// ErrHealthFactorTooLow aborts a workflow whose position would end up
	// below the caller's minimum.
	ErrHealthFactorTooLow = errors.New("leverage: health factor below caller minimum")
	// ErrTargetHealthy rejects a liquidation attempt against a healthy
	// position before any funds move.
	ErrTargetHealthy = errors.New("leverage: target position is not liquidatable")
	// ErrNoOutstandingDebt rejects a liquidation when the target owes
	// nothing in the named debt asset.
	ErrNoOutstandingDebt = errors.New("leverage: target has no outstanding debt")

	errInvalidAmount  = errors.New("leverage: amount must be positive")
	errNilCapability  = errors.New("leverage: capability not configured")
	errNoBorrowBudget = errors.New("leverage: no borrow capacity available")
)

// StepError reports which named step of which workflow run failed, wrapping
// the underlying cause. External-collaborator errors pass through verbatim.
type StepError struct {
	Workflow string
	Step     Step
	RunID    string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s workflow %s: step %s: %v", e.Workflow, e.RunID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

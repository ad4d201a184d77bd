// Package leverage sequences the open, close and liquidate workflows of a
// leveraged position as ordered calls into the external lending ledger, price
// oracle, swap venue and token bank. The accounting decisions (borrow limits,
// health gates, seizure math) come from the risk package; this package only
// orders the calls, refreshes reads across mutation boundaries and reports
// which step failed.
//
// The controller performs no retries and no compensating transactions: once
// a mutating external call has executed it is an irreversible fact, and
// unwinding partial state is explicitly the caller's responsibility.
package leverage

import (
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"levcore/observability"
	"levcore/protocol"
	"levcore/risk"
)

// Controller holds the capability set and risk policy for one position
// account. The executor address is the ledger identity that owns the
// position; user funds flow in and out of it through the token bank.
type Controller struct {
	executor common.Address

	ledger protocol.Ledger
	oracle protocol.Oracle
	venue  protocol.SwapVenue
	tokens protocol.TokenBank

	closeFactor risk.CloseFactorPolicy

	log     *slog.Logger
	metrics *observability.WorkflowMetrics
}

// Option adjusts controller construction.
type Option func(*Controller)

// WithLogger attaches a structured logger; nil falls back to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithMetrics attaches workflow metrics recording.
func WithMetrics(m *observability.WorkflowMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithCloseFactorPolicy overrides the default liquidation close-factor
// tiering.
func WithCloseFactorPolicy(policy risk.CloseFactorPolicy) Option {
	return func(c *Controller) { c.closeFactor = policy }
}

// New wires a controller to its external collaborators. All four
// capabilities are required.
func New(executor common.Address, ledger protocol.Ledger, oracle protocol.Oracle, venue protocol.SwapVenue, tokens protocol.TokenBank, opts ...Option) (*Controller, error) {
	if ledger == nil || oracle == nil || venue == nil || tokens == nil {
		return nil, errNilCapability
	}
	c := &Controller{
		executor:    executor,
		ledger:      ledger,
		oracle:      oracle,
		venue:       venue,
		tokens:      tokens,
		closeFactor: risk.DefaultCloseFactorPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

// Executor returns the ledger identity the controller operates as.
func (c *Controller) Executor() common.Address { return c.executor }

// run carries per-invocation context: the correlation ID, the workflow kind
// and the start time for metrics.
type run struct {
	workflow string
	id       string
	started  time.Time
	log      *slog.Logger
}

func (c *Controller) newRun(workflow string) *run {
	id := uuid.NewString()
	return &run{
		workflow: workflow,
		id:       id,
		started:  time.Now(),
		log:      c.log.With(slog.String("workflow", workflow), slog.String("run_id", id)),
	}
}

// fail wraps err with the workflow and step identity and records the abort.
func (c *Controller) fail(r *run, step Step, err error) error {
	r.log.Error("workflow aborted", slog.String("step", string(step)), slog.Any("error", err))
	c.metrics.Failed(r.workflow, string(step), time.Since(r.started))
	return &StepError{Workflow: r.workflow, Step: step, RunID: r.id, Err: err}
}

func (c *Controller) finish(r *run) {
	c.metrics.Completed(r.workflow, time.Since(r.started))
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

package tokens

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase is the position of a Coordinator in the spend protocol.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseEstimating  Phase = "estimating"
	PhaseGateCheck   Phase = "gate_check"
	PhaseBlocked     Phase = "blocked"
	PhaseStreaming   Phase = "streaming"
	PhaseReconciling Phase = "reconciling"
)

// BalanceService is the authoritative balance of one authenticated user.
type BalanceService interface {
	Balance(ctx context.Context) (int, error)
	// Deduct debits amount and returns the refreshed balance.
	Deduct(ctx context.Context, amount int) (int, error)
}

// Answerer opens an answer stream for a question.
type Answerer interface {
	Ask(ctx context.Context, q *Question) (*AnswerStream, error)
}

// Outcome is the result of a question that streamed to completion.
type Outcome struct {
	Question Question
	Answer   string
	Spend    SpendRecord
	// Balance is the cached balance after reconciliation.
	Balance int
	// LowBalance is set when the answer cost more than the available balance.
	LowBalance bool
	// DeductErr is set when the charge in Spend could not be applied.
	DeductErr error
}

// Coordinator runs estimate, gate, stream and reconcile for one user session.
// It allows a single question in flight at a time.
type Coordinator struct {
	balances         BalanceService
	answerer         Answerer
	estimator        *Estimator
	logger           Logger
	metrics          Metrics
	reconcileTimeout time.Duration

	mu           sync.Mutex
	phase        Phase
	draft        string
	estimate     int
	balance      int
	balanceKnown bool
	balanceErr   error
	blockedBy    error
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithEstimator replaces the default GPT-3 estimator.
func WithEstimator(e *Estimator) CoordinatorOption {
	return func(c *Coordinator) { c.estimator = e }
}

// WithLogger sets the coordinator logger.
func WithLogger(l Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics sets the coordinator metrics sink.
func WithMetrics(m Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithReconcileTimeout bounds the deduct and refresh calls after an answer completes.
func WithReconcileTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.reconcileTimeout = d }
}

// NewCoordinator creates an idle Coordinator with an unknown balance.
func NewCoordinator(balances BalanceService, answerer Answerer, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		balances:         balances,
		answerer:         answerer,
		estimator:        defaultEstimator,
		logger:           &NoopLogger{},
		metrics:          &NoopMetrics{},
		reconcileTimeout: 10 * time.Second,
		phase:            PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetDraft records the question being composed and returns its estimated cost.
// Editing the draft dismisses a blocked gate.
func (c *Coordinator) SetDraft(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	busy := c.busy()
	if !busy {
		c.phase = PhaseEstimating
	}
	c.draft = text
	c.estimate = c.estimator.Estimate(text)
	if !busy {
		c.phase = PhaseIdle
		c.blockedBy = nil
	}
	return c.estimate
}

// RefreshBalance loads the authoritative balance into the cache. On failure the
// gate stays closed until a later refresh succeeds.
func (c *Coordinator) RefreshBalance(ctx context.Context) (int, error) {
	tokens, err := c.balances.Balance(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.balanceErr = err
		c.balanceKnown = false
		c.logger.Warn("token balance refresh failed", Field{"error", err.Error()})
		return 0, err
	}
	c.setBalance(tokens)
	return tokens, nil
}

// Submit sends the current draft to edge and writes the answer to w as it arrives.
//
// The gate uses only the cached balance. A blocked submission returns
// ErrBalanceLoading, ErrBalanceUnavailable or ErrInsufficientTokens without any
// network call. A stream that fails or is cancelled through ctx charges nothing.
func (c *Coordinator) Submit(ctx context.Context, edge EdgeTarget, w io.Writer) (*Outcome, error) {
	c.mu.Lock()
	if c.busy() {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if strings.TrimSpace(c.draft) == "" {
		c.mu.Unlock()
		return nil, ErrEmptyQuestion
	}

	c.phase = PhaseGateCheck
	if err := c.gate(); err != nil {
		c.phase = PhaseBlocked
		c.blockedBy = err
		c.mu.Unlock()
		return nil, err
	}
	q := &Question{
		ID:              uuid.NewString(),
		Content:         c.draft,
		Edge:            edge,
		EstimatedTokens: c.estimate,
	}
	if q.Edge == "" {
		q.Edge = DefaultEdge
	}
	available := c.balance
	c.phase = PhaseStreaming
	c.mu.Unlock()

	answer, err := c.stream(ctx, q, w)
	if err != nil {
		c.setPhase(PhaseIdle)
		return nil, err
	}

	return c.reconcile(ctx, q, answer, available), nil
}

// gate checks the cached balance against the estimate. Callers hold mu.
func (c *Coordinator) gate() error {
	var outcome string
	var err error
	switch {
	case c.balanceErr != nil:
		outcome, err = GateBalanceUnavailable, ErrBalanceUnavailable
	case !c.balanceKnown:
		outcome, err = GateBalanceLoading, ErrBalanceLoading
	case c.estimate > c.balance:
		outcome = GateInsufficient
		err = fmt.Errorf("%w: estimated %d, available %d", ErrInsufficientTokens, c.estimate, c.balance)
	default:
		outcome = GateAllowed
	}
	c.metrics.RecordGateDecision(outcome)
	return err
}

func (c *Coordinator) stream(ctx context.Context, q *Question, w io.Writer) (string, error) {
	stream, err := c.answerer.Ask(ctx, q)
	if err != nil {
		return "", c.streamError(ctx, err)
	}
	defer stream.Close() //nolint:errcheck

	var answer strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", c.streamError(ctx, err)
		}
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", c.streamError(ctx, err)
		}
		answer.WriteString(chunk)
		if w != nil {
			if _, err := io.WriteString(w, chunk); err != nil {
				return "", c.streamError(ctx, fmt.Errorf("write answer: %w", err))
			}
		}
	}

	q.ActualTokens, _ = stream.ActualTokens()
	c.metrics.RecordStreamResult(StreamCompleted)
	return answer.String(), nil
}

func (c *Coordinator) streamError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.metrics.RecordStreamResult(StreamCanceled)
		c.logger.Info("question cancelled, nothing charged")
		return ctxErr
	}
	c.metrics.RecordStreamResult(StreamFailed)
	c.logger.Error("answer stream failed, nothing charged", Field{"error", err.Error()})
	if errors.Is(err, ErrStreamFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStreamFailed, err)
}

// reconcile charges the completed question and refreshes the cached balance. It runs
// to completion even if ctx was cancelled after the stream ended.
func (c *Coordinator) reconcile(ctx context.Context, q *Question, answer string, available int) *Outcome {
	c.setPhase(PhaseReconciling)
	defer c.setPhase(PhaseIdle)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.reconcileTimeout)
	defer cancel()

	rec := NewSpendRecord(q.EstimatedTokens, q.ActualTokens, available)
	out := &Outcome{
		Question:   *q,
		Answer:     answer,
		Spend:      rec,
		LowBalance: rec.Capped,
	}
	if rec.Capped {
		c.logger.Warn("low balance, top up",
			Field{"question_id", q.ID}, Field{"actual", rec.Actual}, Field{"available", rec.Available})
	}

	refreshed := false
	if rec.Deducted > 0 {
		tokens, err := c.balances.Deduct(ctx, rec.Deducted)
		if err != nil {
			if !errors.Is(err, ErrOperationFailed) {
				err = fmt.Errorf("%w: %v", ErrOperationFailed, err)
			}
			out.DeductErr = err
			c.logger.Error("failed to deduct tokens",
				Field{"question_id", q.ID}, Field{"amount", rec.Deducted}, Field{"error", err.Error()})
		} else {
			c.withLock(func() { c.setBalance(tokens) })
			refreshed = true
		}
	}
	if !refreshed {
		if tokens, err := c.balances.Balance(ctx); err == nil {
			c.withLock(func() { c.setBalance(tokens) })
		} else {
			c.logger.Warn("token balance refresh failed", Field{"error", err.Error()})
		}
	}

	c.metrics.RecordSpend(rec.Estimated, rec.Actual, rec.Deducted, rec.Capped)
	c.logger.Info("question answered",
		Field{"question_id", q.ID}, Field{"edge", string(q.Edge)},
		Field{"estimated", rec.Estimated}, Field{"actual", rec.Actual}, Field{"deducted", rec.Deducted})

	c.withLock(func() { out.Balance = c.balance })
	return out
}

// Dismiss clears a blocked gate.
func (c *Coordinator) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseBlocked {
		c.phase = PhaseIdle
		c.blockedBy = nil
	}
}

// Phase returns the current protocol phase.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// BlockedBy returns the reason the gate is closed, or nil.
func (c *Coordinator) BlockedBy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockedBy
}

// Balance returns the cached balance and whether it has been loaded.
func (c *Coordinator) Balance() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance, c.balanceKnown
}

// Estimate returns the estimated cost of the current draft.
func (c *Coordinator) Estimate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimate
}

func (c *Coordinator) busy() bool {
	return c.phase == PhaseStreaming || c.phase == PhaseReconciling
}

func (c *Coordinator) setBalance(tokens int) {
	c.balance = tokens
	c.balanceKnown = true
	c.balanceErr = nil
}

func (c *Coordinator) setPhase(p Phase) {
	c.withLock(func() { c.phase = p })
}

func (c *Coordinator) withLock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

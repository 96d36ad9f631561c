package tokens

import (
	"fmt"
	"time"
)

// HeaderQuestionTokens carries the actual token cost of an answered question.
const HeaderQuestionTokens = "X-Question-Tokens"

// Action is a balance mutation kind accepted by the tokens endpoint.
type Action string

const (
	// ActionAdd credits tokens to a balance
	ActionAdd Action = "add"
	// ActionDeduct debits tokens from a balance
	ActionDeduct Action = "deduct"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionAdd || a == ActionDeduct
}

// EdgeTarget selects the answer backend for a question. It has no effect on metering.
type EdgeTarget string

const (
	// EdgeKnowledge answers from the model's general knowledge
	EdgeKnowledge EdgeTarget = "edge1"
	// EdgeFundDocs answers from the fund database
	EdgeFundDocs EdgeTarget = "edge2"

	// DefaultEdge is used when a question names no backend
	DefaultEdge = EdgeFundDocs
)

// ParseEdgeTarget maps a selector to an EdgeTarget. An empty selector yields DefaultEdge.
func ParseEdgeTarget(s string) (EdgeTarget, error) {
	switch EdgeTarget(s) {
	case "":
		return DefaultEdge, nil
	case EdgeKnowledge, EdgeFundDocs:
		return EdgeTarget(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEdge, s)
	}
}

// Balance is the authoritative token count for one user.
type Balance struct {
	UserID    string
	Tokens    int
	UpdatedAt time.Time
}

// Question is a single prompt submitted for an answer.
type Question struct {
	ID              string
	Content         string
	Edge            EdgeTarget
	EstimatedTokens int
	// ActualTokens is only meaningful once the answer stream has completed.
	ActualTokens int
}

// SpendRecord describes how a completed question was charged.
type SpendRecord struct {
	Estimated int
	Actual    int
	// Available is the cached balance at the time the question was submitted.
	Available int
	Deducted  int
	// Capped is set when Actual exceeded Available and the charge was truncated.
	Capped bool
}

// NewSpendRecord charges min(actual, available). Negative inputs are treated as zero.
func NewSpendRecord(estimated, actual, available int) SpendRecord {
	if actual < 0 {
		actual = 0
	}
	if available < 0 {
		available = 0
	}
	rec := SpendRecord{
		Estimated: estimated,
		Actual:    actual,
		Available: available,
		Deducted:  actual,
	}
	if actual > available {
		rec.Deducted = available
		rec.Capped = true
	}
	return rec
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	// Enabled determines if the circuit breaker is active
	Enabled bool

	// FailureThreshold is the number of consecutive failures before opening the circuit (default: 5)
	FailureThreshold int

	// ResetTimeout is the duration to wait before transitioning from Open to Half-Open (default: 30 seconds)
	ResetTimeout time.Duration
}

// Config configures a Store.
type Config struct {
	// Logger receives store diagnostics (default: NoopLogger)
	Logger Logger

	// Metrics receives operation metrics (default: NoopMetrics)
	Metrics Metrics

	// CircuitBreakerConfig wraps the backend with a circuit breaker when enabled
	CircuitBreakerConfig *CircuitBreakerConfig

	// OperationTimeout bounds each backend call (default: 5 seconds)
	OperationTimeout time.Duration
}

// DefaultConfig returns a Config with no-op observability and a 5 second operation timeout.
func DefaultConfig() Config {
	return Config{
		Logger:           &NoopLogger{},
		Metrics:          &NoopMetrics{},
		OperationTimeout: 5 * time.Second,
	}
}

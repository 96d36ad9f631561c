package tokens

import "time"

// Gate outcomes reported through Metrics.RecordGateDecision.
const (
	GateAllowed            = "allowed"
	GateInsufficient       = "insufficient"
	GateBalanceLoading     = "balance_loading"
	GateBalanceUnavailable = "balance_unavailable"
)

// Stream results reported through Metrics.RecordStreamResult.
const (
	StreamCompleted = "completed"
	StreamFailed    = "failed"
	StreamCanceled  = "canceled"
)

// Metrics defines the interface for tracking balance operations and spends.
type Metrics interface {
	// RecordMutation records an add or deduct attempt against the balance store.
	RecordMutation(action Action, amount int, success bool)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)

	// RecordGateDecision records the outcome of a pre-submit balance check.
	RecordGateDecision(outcome string)

	// RecordStreamResult records how an answer stream ended.
	RecordStreamResult(result string)

	// RecordSpend records a reconciled question.
	RecordSpend(estimated, actual, deducted int, capped bool)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordMutation(action Action, amount int, success bool)                     {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                               {}
func (n *NoopMetrics) RecordGateDecision(outcome string)                                          {}
func (n *NoopMetrics) RecordStreamResult(result string)                                           {}
func (n *NoopMetrics) RecordSpend(estimated, actual, deducted int, capped bool)                   {}

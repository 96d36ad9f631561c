package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

// Metrics implements tokens.Metrics using Prometheus.
type Metrics struct {
	mutationsTotal             *prometheus.CounterVec
	mutationAmount             *prometheus.HistogramVec
	storageOpsDuration         *prometheus.HistogramVec
	storageOpsErrors           *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
	gateDecisionsTotal         *prometheus.CounterVec
	streamResultsTotal         *prometheus.CounterVec
	spentTokensTotal           prometheus.Counter
	spendDelta                 prometheus.Histogram
	cappedSpendsTotal          prometheus.Counter
}

var tokenBuckets = []float64{10, 50, 100, 250, 500, 1000, 2000, 4000}

// NewMetrics creates a new Prometheus metrics implementation registered on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		mutationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_mutations_total",
			Help:      "Total number of token balance mutations by action and result.",
		}, []string{"action", "success"}),

		mutationAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "balance_mutation_amount",
			Help:      "Distribution of applied token mutation amounts.",
			Buckets:   tokenBuckets,
		}, []string{"action"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of balance storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of balance storage operation errors.",
		}, []string{"operation"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),

		gateDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Total number of pre-submit balance checks by outcome.",
		}, []string{"outcome"}),

		streamResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_streams_total",
			Help:      "Total number of answer streams by result.",
		}, []string{"result"}),

		spentTokensTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spent_tokens_total",
			Help:      "Total number of tokens charged for answered questions.",
		}),

		spendDelta: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "spend_estimate_error_tokens",
			Help:      "Actual minus estimated tokens per answered question.",
			Buckets:   []float64{-500, -100, -10, 0, 10, 100, 500, 1000, 2000},
		}),

		cappedSpendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capped_spends_total",
			Help:      "Total number of answers that cost more than the available balance.",
		}),
	}
}

// DefaultMetrics registers metrics on the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

func (m *Metrics) RecordMutation(action tokens.Action, amount int, success bool) {
	m.mutationsTotal.WithLabelValues(string(action), strconv.FormatBool(success)).Inc()
	if success {
		m.mutationAmount.WithLabelValues(string(action)).Observe(float64(amount))
	}
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

func (m *Metrics) RecordGateDecision(outcome string) {
	m.gateDecisionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordStreamResult(result string) {
	m.streamResultsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSpend(estimated, actual, deducted int, capped bool) {
	m.spentTokensTotal.Add(float64(deducted))
	m.spendDelta.Observe(float64(actual - estimated))
	if capped {
		m.cappedSpendsTotal.Inc()
	}
}

package prommetrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

var _ tokens.Metrics = (*Metrics)(nil)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func counterWithLabel(f *dto.MetricFamily, name, value string) float64 {
	if f == nil {
		return 0
	}
	for _, m := range f.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == name && l.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMetrics_RecordMutation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordMutation(tokens.ActionDeduct, 100, true)
	metrics.RecordMutation(tokens.ActionDeduct, 200, false)
	metrics.RecordMutation(tokens.ActionAdd, 500, true)

	families := gather(t, reg)
	f := families["test_balance_mutations_total"]
	if f == nil {
		t.Fatal("balance_mutations_total not registered")
	}
	if got := len(f.GetMetric()); got != 3 {
		t.Errorf("series: got %d, want 3", got)
	}

	h := families["test_balance_mutation_amount"]
	if h == nil {
		t.Fatal("balance_mutation_amount not registered")
	}
	var samples uint64
	for _, m := range h.GetMetric() {
		samples += m.GetHistogram().GetSampleCount()
	}
	if samples != 2 {
		t.Errorf("only successful mutations are observed: got %d samples, want 2", samples)
	}
}

func TestMetrics_RecordStorageOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordStorageOperation("get_balance", 5*time.Millisecond, nil)
	metrics.RecordStorageOperation("get_balance", 5*time.Millisecond, errors.New("down"))

	families := gather(t, reg)
	if got := counterWithLabel(families["test_storage_operation_errors_total"], "operation", "get_balance"); got != 1 {
		t.Errorf("errors: got %v, want 1", got)
	}
}

func TestMetrics_GateAndStream(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordGateDecision(tokens.GateAllowed)
	metrics.RecordGateDecision(tokens.GateInsufficient)
	metrics.RecordGateDecision(tokens.GateInsufficient)
	metrics.RecordStreamResult(tokens.StreamCanceled)

	families := gather(t, reg)
	if got := counterWithLabel(families["test_gate_decisions_total"], "outcome", tokens.GateInsufficient); got != 2 {
		t.Errorf("insufficient: got %v, want 2", got)
	}
	if got := counterWithLabel(families["test_answer_streams_total"], "result", tokens.StreamCanceled); got != 1 {
		t.Errorf("canceled: got %v, want 1", got)
	}
}

func TestMetrics_RecordSpend(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "test")

	metrics.RecordSpend(50, 60, 60, false)
	metrics.RecordSpend(50, 80, 70, true)

	families := gather(t, reg)
	spent := families["test_spent_tokens_total"]
	if spent == nil {
		t.Fatal("spent_tokens_total not registered")
	}
	if got := spent.GetMetric()[0].GetCounter().GetValue(); got != 130 {
		t.Errorf("spent: got %v, want 130", got)
	}
	capped := families["test_capped_spends_total"]
	if capped == nil || capped.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Errorf("capped spends: got %v, want 1", capped)
	}
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg, "test")

	defer func() {
		if recover() == nil {
			t.Error("expected registering twice on one registry to panic")
		}
	}()
	NewMetrics(reg, "test")
}

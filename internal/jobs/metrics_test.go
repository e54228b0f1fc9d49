package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestTrackerRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	for i := 0; i < 9; i++ {
		if err := metrics.Track("billing:warm-totals").End(nil); err != nil {
			t.Fatalf("unexpected error ending tracker: %v", err)
		}
	}
	boom := errors.New("timeout")
	if err := metrics.Track("billing:warm-totals").End(boom); !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
	metrics.AddBatchFailures("billing:confirm-month", 2)
	metrics.AddBatchFailures("billing:confirm-month", 0)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "milkround_jobs_total", map[string]string{"job": "billing:warm-totals", "status": "success"})
	failure := metricValue(t, families, "milkround_jobs_total", map[string]string{"job": "billing:warm-totals", "status": "failure"})
	if success != 9 || failure != 1 {
		t.Fatalf("unexpected run counts success=%v failure=%v", success, failure)
	}
	if got := metricValue(t, families, "milkround_batch_customer_failures_total", map[string]string{"job": "billing:confirm-month"}); got != 2 {
		t.Fatalf("expected 2 batch failures, got %v", got)
	}
	if samples := histogramCount(t, families, "milkround_job_duration_seconds", map[string]string{"job": "billing:warm-totals"}); samples != 10 {
		t.Fatalf("expected 10 duration samples, got %d", samples)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var metrics *Metrics
	boom := errors.New("boom")
	if err := metrics.Track("job").End(boom); !errors.Is(err, boom) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
	metrics.AddBatchFailures("job", 3)
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramCount(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) uint64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetHistogram().GetSampleCount()
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		val, ok := labels[lp.GetName()]
		if !ok {
			continue
		}
		if lp.GetValue() != val {
			return false
		}
		matched++
	}
	return matched == len(labels)
}

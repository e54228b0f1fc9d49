package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BillingMetrics mencatat sinyal kesehatan mesin penagihan.
type BillingMetrics struct {
	ambiguous   prometheus.Counter
	alarms      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	cache       *prometheus.CounterVec
}

// NewBillingMetrics mendaftarkan kolektor penagihan ke registerer.
func NewBillingMetrics(registerer prometheus.Registerer) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	ambiguous := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "milkround_billing_ambiguous_resolutions_total",
		Help: "Dates where more than one active pattern version covered the same product.",
	})
	alarms := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "milkround_billing_integrity_alarms_total",
		Help: "Paired writes whose compensation also failed.",
	}, []string{"operation"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "milkround_billing_invoice_transitions_total",
		Help: "Invoice lifecycle events by outcome.",
	}, []string{"event", "result"})
	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "milkround_billing_totals_cache_total",
		Help: "Monthly total cache lookups by result.",
	}, []string{"result"})
	registerer.MustRegister(ambiguous, alarms, transitions, cache)
	return &BillingMetrics{ambiguous: ambiguous, alarms: alarms, transitions: transitions, cache: cache}
}

// AddAmbiguous menambah jumlah resolusi ambigu.
func (m *BillingMetrics) AddAmbiguous(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.ambiguous.Add(float64(count))
}

// IntegrityAlarm mencatat kompensasi yang gagal.
func (m *BillingMetrics) IntegrityAlarm(operation string) {
	if m == nil {
		return
	}
	m.alarms.WithLabelValues(operation).Inc()
}

// Transition mencatat hasil event siklus invoice ("applied", "noop", "error").
func (m *BillingMetrics) Transition(event, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, result).Inc()
}

// CacheLookup mencatat hit/miss cache total bulanan.
func (m *BillingMetrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(result).Inc()
}

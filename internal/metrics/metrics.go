package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	TaxRecords       *prometheus.CounterVec
	TaxRecordErrors  *prometheus.CounterVec
	VatCollected     *prometheus.CounterVec
	RecomputeOrders  *prometheus.CounterVec
	TaxReturns       *prometheus.CounterVec
	JobRuns          *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	RateRegistryEdit *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "vat_engine"
	}
	f := promauto.With(reg)

	return &Metrics{
		TaxRecords: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tax_records_total",
				Help:      "Tax record computations by customer type and outcome",
			},
			[]string{"customer_type", "outcome"}, // outcome: created, existing, replaced
		),
		TaxRecordErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tax_record_errors_total",
				Help:      "Failed tax record computations by error code",
			},
			[]string{"code"},
		),
		VatCollected: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vat_collected_cents_total",
				Help:      "VAT booked on newly created tax records, in cents",
			},
			[]string{"customer_type"},
		),
		RecomputeOrders: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recompute_orders_total",
				Help:      "Orders processed by bulk recomputes and sweeps",
			},
			[]string{"mode", "result"}, // mode: recompute, sweep
		),
		TaxReturns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tax_returns_total",
				Help:      "Tax return lifecycle events",
			},
			[]string{"period_type", "event"}, // event: generated, filed
		),
		JobRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "job_runs_total",
				Help:      "Scheduled job runs by job and status",
			},
			[]string{"job", "status"},
		),
		JobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "job_duration_seconds",
				Help:      "Scheduled job duration",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"job"},
		),
		RateRegistryEdit: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_registry_changes_total",
				Help:      "VAT rate registry writes",
			},
			[]string{"country", "action"},
		),
	}
}

func (m *Metrics) TaxRecord(customerType, outcome string) {
	if m == nil {
		return
	}
	m.TaxRecords.WithLabelValues(customerType, outcome).Inc()
}

func (m *Metrics) TaxRecordError(code string) {
	if m == nil {
		return
	}
	m.TaxRecordErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) Vat(customerType string, cents int64) {
	if m == nil || cents <= 0 {
		return
	}
	m.VatCollected.WithLabelValues(customerType).Add(float64(cents))
}

func (m *Metrics) Recompute(mode string, succeeded, failed int) {
	if m == nil {
		return
	}
	m.RecomputeOrders.WithLabelValues(mode, "succeeded").Add(float64(succeeded))
	m.RecomputeOrders.WithLabelValues(mode, "failed").Add(float64(failed))
}

func (m *Metrics) TaxReturn(periodType, event string) {
	if m == nil {
		return
	}
	m.TaxReturns.WithLabelValues(periodType, event).Inc()
}

func (m *Metrics) Job(name string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.JobRuns.WithLabelValues(name, status).Inc()
	m.JobDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
}

func (m *Metrics) RateChange(country, action string) {
	if m == nil {
		return
	}
	m.RateRegistryEdit.WithLabelValues(country, action).Inc()
}

// Package metrics holds the Prometheus collectors for the attendance
// pipeline.  A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/BrandonDHaskell/Rollcall/internal/rollcall/types"
)

const (
	MetricScans             = "rollcall_scans_total"
	MetricInvalidScans      = "rollcall_invalid_scans_total"
	MetricDebouncedScans    = "rollcall_debounced_scans_total"
	MetricLedgerFailures    = "rollcall_ledger_append_failures_total"
	MetricUserUpserts       = "rollcall_user_upserts_total"
	MetricDirectorySize     = "rollcall_directory_users"
	MetricSessions          = "rollcall_dashboard_sessions"
	MetricBroadcastDropped  = "rollcall_broadcast_dropped_total"
	MetricReconcileDuration = "rollcall_reconcile_duration_seconds"
)

// Metrics contains Prometheus collectors for scans, storage and sessions.
// All operations are thread-safe.
type Metrics struct {
	scans             *prometheus.CounterVec
	invalidScans      prometheus.Counter
	debouncedScans    prometheus.Counter
	ledgerFailures    prometheus.Counter
	userUpserts       *prometheus.CounterVec
	directorySize     prometheus.Gauge
	sessions          prometheus.Gauge
	broadcastDropped  prometheus.Counter
	reconcileDuration prometheus.Histogram
}

// NewMetrics builds the collectors without registering them; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricScans,
			Help: "Reconciled scans by outcome and method",
		}, []string{"outcome", "method"}),
		invalidScans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricInvalidScans,
			Help: "Scans ignored because the identifier was empty",
		}),
		debouncedScans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDebouncedScans,
			Help: "Scans discarded inside the debounce window",
		}),
		ledgerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricLedgerFailures,
			Help: "Attendance events that could not be appended to the ledger",
		}),
		userUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricUserUpserts,
			Help: "Management upserts by result",
		}, []string{"result"}),
		directorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricDirectorySize,
			Help: "Users currently held in the directory cache",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSessions,
			Help: "Connected dashboard sessions",
		}),
		broadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricBroadcastDropped,
			Help: "Live event messages dropped for a slow session",
		}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricReconcileDuration,
			Help:    "Time spent reconciling one scan, feedback included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns every collector, for registration and tests.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.scans,
		m.invalidScans,
		m.debouncedScans,
		m.ledgerFailures,
		m.userUpserts,
		m.directorySize,
		m.sessions,
		m.broadcastDropped,
		m.reconcileDuration,
	}
}

func (m *Metrics) ObserveScan(outcome types.Outcome, method types.Method, seconds float64) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(string(outcome), string(method)).Inc()
	m.reconcileDuration.Observe(seconds)
}

func (m *Metrics) IncInvalidScans() {
	if m == nil {
		return
	}
	m.invalidScans.Inc()
}

func (m *Metrics) IncDebouncedScans() {
	if m == nil {
		return
	}
	m.debouncedScans.Inc()
}

func (m *Metrics) IncLedgerFailures() {
	if m == nil {
		return
	}
	m.ledgerFailures.Inc()
}

// ObserveUpsert counts a management upsert; result is "ok", "invalid" or "error".
func (m *Metrics) ObserveUpsert(result string) {
	if m == nil {
		return
	}
	m.userUpserts.WithLabelValues(result).Inc()
}

func (m *Metrics) SetDirectorySize(n int) {
	if m == nil {
		return
	}
	m.directorySize.Set(float64(n))
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) IncBroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDropped.Inc()
}

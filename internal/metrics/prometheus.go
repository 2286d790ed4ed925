package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gateway-fm/tvt/pkg/types"
)

// PrometheusMetrics holds all Prometheus metrics for the fee load tester.
type PrometheusMetrics struct {
	// Counters
	ActionsTotal *prometheus.CounterVec
	RecordsTotal *prometheus.CounterVec
	RetryRounds  prometheus.Counter
	Resyncs      *prometheus.CounterVec
	RunsTotal    *prometheus.CounterVec

	// Gauges
	Unrecovered prometheus.Gauge
	RunStatus   *prometheus.GaugeVec
	HbarPrice   prometheus.Gauge

	// Histograms
	FeeHbar        *prometheus.HistogramVec
	ActionDuration *prometheus.HistogramVec
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tvt_actions_total",
				Help: "Action invocations by outcome and action",
			},
			[]string{"status", "action"},
		),

		RecordsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tvt_fee_records_total",
				Help: "Fee records collected by result type",
			},
			[]string{"type"},
		),

		RetryRounds: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tvt_retry_rounds_total",
				Help: "Serial retry rounds executed",
			},
		),

		Resyncs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tvt_resyncs_total",
				Help: "Nonce resyncs by outcome",
			},
			[]string{"status"},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tvt_runs_total",
				Help: "Runs by final status",
			},
			[]string{"status"},
		),

		Unrecovered: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tvt_unrecovered_items",
				Help: "Items still failing after the last retry round of the latest run",
			},
		),

		RunStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tvt_run_status",
				Help: "Current run status (1 if active, 0 otherwise)",
			},
			[]string{"status"},
		),

		HbarPrice: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tvt_hbar_price_usd",
				Help: "HBAR price used by the latest report",
			},
		),

		FeeHbar: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tvt_fee_hbar",
				Help:    "Observed transaction fee in HBAR",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"type"},
		),

		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tvt_action_duration_seconds",
				Help:    "Action execution time in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"action"},
		),
	}
}

// RecordAction records the outcome of one action invocation.
func (m *PrometheusMetrics) RecordAction(kind types.ActionKind, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "failed"
	}
	m.ActionsTotal.WithLabelValues(status, string(kind)).Inc()
	m.ActionDuration.WithLabelValues(string(kind)).Observe(seconds)
}

// RecordFee records a collected fee.
func (m *PrometheusMetrics) RecordFee(r types.FeeRecord) {
	m.RecordsTotal.WithLabelValues(string(r.Type)).Inc()
	m.FeeHbar.WithLabelValues(string(r.Type)).Observe(r.FeeHbar())
}

// RecordRetryRound records one serial retry round.
func (m *PrometheusMetrics) RecordRetryRound() {
	m.RetryRounds.Inc()
}

// RecordResync records a nonce resync.
func (m *PrometheusMetrics) RecordResync(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.Resyncs.WithLabelValues(status).Inc()
}

// RecordRunFinished records the final state of a run.
func (m *PrometheusMetrics) RecordRunFinished(status types.RunStatus, unrecovered int) {
	m.RunsTotal.WithLabelValues(string(status)).Inc()
	m.Unrecovered.Set(float64(unrecovered))
}

// SetHbarPrice updates the price gauge.
func (m *PrometheusMetrics) SetHbarPrice(usd float64) {
	m.HbarPrice.Set(usd)
}

// SetRunStatus updates the run status gauges.
func (m *PrometheusMetrics) SetRunStatus(status types.RunStatus) {
	for _, s := range []types.RunStatus{
		types.StatusIdle, types.StatusPreparing, types.StatusRunning, types.StatusRetrying,
		types.StatusReporting, types.StatusCompleted, types.StatusError,
	} {
		if s == status {
			m.RunStatus.WithLabelValues(string(s)).Set(1)
		} else {
			m.RunStatus.WithLabelValues(string(s)).Set(0)
		}
	}
}

package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsService interface {
	// HTTP metrics
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)

	// Settlement metrics
	RecordTradeOperation(operation, outcome string, duration time.Duration)
	RecordSettlementVolume(energy, currency float64)

	// Ledger metrics
	RecordLedgerOperation(operation, outcome string, duration time.Duration)

	// Auth and rate limiting
	RecordAuthAttempt(endpoint, outcome string)
	RecordRateLimitDecision(endpoint string, allowed bool)

	// Events
	RecordEventPublish(eventType string, success bool)

	// Background jobs
	RecordReconciliation(status string, totalEnergy, totalCurrency float64, discrepancies int)
	RecordLimiterSweep(removed int)

	// System metrics
	RecordSystemMetrics()
	GetMetrics() map[string]interface{}

	Handler() http.Handler
}

type prometheusMetrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Settlement metrics
	tradeOperationsTotal   *prometheus.CounterVec
	tradeOperationDuration *prometheus.HistogramVec
	settledEnergyTotal     prometheus.Counter
	settledCurrencyTotal   prometheus.Counter

	// Ledger metrics
	ledgerOperationsTotal   *prometheus.CounterVec
	ledgerOperationDuration *prometheus.HistogramVec

	// Auth metrics
	authAttemptsTotal       *prometheus.CounterVec
	rateLimitDecisionsTotal *prometheus.CounterVec

	// Event metrics
	eventsPublishedTotal *prometheus.CounterVec

	// Background job metrics
	reconciliationRunsTotal     *prometheus.CounterVec
	ledgerEnergyGauge           prometheus.Gauge
	ledgerCurrencyGauge         prometheus.Gauge
	reconciliationDiscrepancies prometheus.Gauge
	limiterEntriesSweptTotal    prometheus.Counter

	// System metrics
	memoryUsageGauge    prometheus.Gauge
	goroutineCountGauge prometheus.Gauge
	uptimeGauge         prometheus.Gauge

	startTime time.Time
}

// NewPrometheusMetrics registers every collector on a private registry so
// several instances can coexist in tests
func NewPrometheusMetrics() MetricsService {
	m := &prometheusMetrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.initMetrics(promauto.With(m.registry))
	return m
}

func (m *prometheusMetrics) initMetrics(factory promauto.Factory) {
	// HTTP metrics
	m.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_trading_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	m.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "energy_trading_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Settlement metrics
	m.tradeOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_trading_trade_operations_total",
			Help: "Trade lifecycle operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.tradeOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "energy_trading_trade_operation_duration_seconds",
			Help:    "Trade lifecycle operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	m.settledEnergyTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "energy_trading_settled_energy_total",
			Help: "Energy moved by completed trades",
		},
	)

	m.settledCurrencyTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "energy_trading_settled_currency_total",
			Help: "Currency moved by completed trades",
		},
	)

	// Ledger metrics
	m.ledgerOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_trading_ledger_operations_total",
			Help: "Direct ledger operations (mint, transfer, level updates) by outcome",
		},
		[]string{"operation", "outcome"},
	)

	m.ledgerOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "energy_trading_ledger_operation_duration_seconds",
			Help:    "Ledger operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Auth metrics
	m.authAttemptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_trading_auth_attempts_total",
			Help: "Signup and login attempts by outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	m.rateLimitDecisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_trading_rate_limit_decisions_total",
			Help: "Rate limiter decisions",
		},
		[]string{"endpoint", "decision"},
	)

	// Event metrics
	m.eventsPublishedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_trading_events_published_total",
			Help: "Domain events handed to the broker",
		},
		[]string{"event_type", "success"},
	)

	// Background job metrics
	m.reconciliationRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "energy_trading_reconciliation_runs_total",
			Help: "Ledger reconciliation runs by status",
		},
		[]string{"status"},
	)

	m.ledgerEnergyGauge = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_trading_ledger_energy",
			Help: "Sum of energy balances at the last reconciliation",
		},
	)

	m.ledgerCurrencyGauge = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_trading_ledger_currency",
			Help: "Sum of currency balances at the last reconciliation",
		},
	)

	m.reconciliationDiscrepancies = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_trading_reconciliation_discrepancies",
			Help: "Discrepancies found by the last reconciliation",
		},
	)

	m.limiterEntriesSweptTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "energy_trading_rate_limit_entries_swept_total",
			Help: "Expired rate limit windows removed by the sweeper",
		},
	)

	// System metrics
	m.memoryUsageGauge = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_trading_memory_usage_bytes",
			Help: "Current memory usage in bytes",
		},
	)

	m.goroutineCountGauge = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_trading_goroutines_count",
			Help: "Current number of goroutines",
		},
	)

	m.uptimeGauge = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "energy_trading_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
}

// HTTP metrics implementation
func (m *prometheusMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, fmt.Sprintf("%d", statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Settlement metrics implementation
func (m *prometheusMetrics) RecordTradeOperation(operation, outcome string, duration time.Duration) {
	m.tradeOperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.tradeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordSettlementVolume(energy, currency float64) {
	m.settledEnergyTotal.Add(energy)
	m.settledCurrencyTotal.Add(currency)
}

func (m *prometheusMetrics) RecordLedgerOperation(operation, outcome string, duration time.Duration) {
	m.ledgerOperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.ledgerOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordAuthAttempt(endpoint, outcome string) {
	m.authAttemptsTotal.WithLabelValues(endpoint, outcome).Inc()
}

func (m *prometheusMetrics) RecordRateLimitDecision(endpoint string, allowed bool) {
	decision := "throttled"
	if allowed {
		decision = "allowed"
	}
	m.rateLimitDecisionsTotal.WithLabelValues(endpoint, decision).Inc()
}

func (m *prometheusMetrics) RecordEventPublish(eventType string, success bool) {
	successStr := "false"
	if success {
		successStr = "true"
	}
	m.eventsPublishedTotal.WithLabelValues(eventType, successStr).Inc()
}

func (m *prometheusMetrics) RecordReconciliation(status string, totalEnergy, totalCurrency float64, discrepancies int) {
	m.reconciliationRunsTotal.WithLabelValues(status).Inc()
	m.ledgerEnergyGauge.Set(totalEnergy)
	m.ledgerCurrencyGauge.Set(totalCurrency)
	m.reconciliationDiscrepancies.Set(float64(discrepancies))
}

func (m *prometheusMetrics) RecordLimiterSweep(removed int) {
	m.limiterEntriesSweptTotal.Add(float64(removed))
}

// System metrics implementation
func (m *prometheusMetrics) RecordSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.memoryUsageGauge.Set(float64(memStats.Alloc))
	m.goroutineCountGauge.Set(float64(runtime.NumGoroutine()))
	m.uptimeGauge.Set(time.Since(m.startTime).Seconds())
}

func (m *prometheusMetrics) GetMetrics() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		"memory_usage":    memStats.Alloc,
		"goroutine_count": runtime.NumGoroutine(),
		"uptime_seconds":  time.Since(m.startTime).Seconds(),
		"start_time":      m.startTime,
	}
}

// Handler exposes the private registry in the Prometheus text format
func (m *prometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartSystemMetricsRecording samples runtime stats until stop is closed
func StartSystemMetricsRecording(metrics MetricsService, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.RecordSystemMetrics()
			case <-stop:
				return
			}
		}
	}()
}

package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tai-ledger-api/internal/models"
)

const namespace = "tai_ledger"

// Metrics holds every Prometheus collector the service exports. It satisfies
// engine.MetricsRecorder.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	transactionsTotal      *prometheus.CounterVec
	transactionVolumeTotal *prometheus.CounterVec

	stakingSettledTotal *prometheus.CounterVec
	sweepDuration       prometheus.Histogram

	memoryUsageGauge    prometheus.Gauge
	goroutineCountGauge prometheus.Gauge
	uptimeGauge         prometheus.Gauge

	gatherer  prometheus.Gatherer
	startTime time.Time
}

// NewMetrics registers the collectors on reg. A nil reg uses a fresh registry
// so several instances can live in one process (tests).
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{gatherer: reg, startTime: time.Now()}

	m.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	m.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	m.operationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Total number of ledger operations by outcome",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_operation_duration_seconds",
			Help:      "Ledger operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5},
		},
		[]string{"operation"},
	)

	m.transactionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Total number of transaction rows written",
		},
		[]string{"type", "currency"},
	)

	m.transactionVolumeTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_volume_total",
			Help:      "Total amount moved by transaction rows",
		},
		[]string{"type", "currency"},
	)

	m.stakingSettledTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "staking_sweep_positions_total",
			Help:      "Staking positions handled by the maturity sweep",
		},
		[]string{"result"},
	)

	m.sweepDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "staking_sweep_duration_seconds",
			Help:      "Duration of a staking maturity sweep",
			Buckets:   []float64{0.01, 0.1, 0.5, 1.0, 5.0, 30.0},
		},
	)

	m.memoryUsageGauge = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	m.goroutineCountGauge = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines_count",
			Help:      "Current number of goroutines",
		},
	)

	m.uptimeGauge = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)

	return m
}

func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unmatched"
	}
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) RecordTransaction(tx *models.Transaction) {
	labels := []string{string(tx.Type), string(tx.Currency)}
	m.transactionsTotal.WithLabelValues(labels...).Inc()
	m.transactionVolumeTotal.WithLabelValues(labels...).Add(tx.Amount.InexactFloat64())
}

// RecordSweep observes one run of the staking maturity sweep.
func (m *Metrics) RecordSweep(settled, failed int, duration time.Duration) {
	m.stakingSettledTotal.WithLabelValues("settled").Add(float64(settled))
	m.stakingSettledTotal.WithLabelValues("failed").Add(float64(failed))
	m.sweepDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.memoryUsageGauge.Set(float64(memStats.Alloc))
	m.goroutineCountGauge.Set(float64(runtime.NumGoroutine()))
	m.uptimeGauge.Set(time.Since(m.startTime).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// StartSystemMetricsRecording samples runtime gauges until ctx is done.
func (m *Metrics) StartSystemMetricsRecording(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.RecordSystemMetrics()
		for {
			select {
			case <-ticker.C:
				m.RecordSystemMetrics()
			case <-ctx.Done():
				return
			}
		}
	}()
}

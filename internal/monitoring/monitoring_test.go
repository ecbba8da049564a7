package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tai-ledger-api/internal/models"
)

func TestMetricsRecordLedgerActivity(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordOperation("transfer", "success", 3*time.Millisecond)
	m.RecordOperation("transfer", "success", time.Millisecond)
	m.RecordOperation("transfer", "insufficient_funds", time.Millisecond)
	m.RecordTransaction(models.NewTransaction(1, models.TransactionTypeDeposit, decimal.RequireFromString("2.5"), models.CurrencyUSDT, "Admin funded USDT balance"))
	m.RecordTransaction(models.NewTransaction(1, models.TransactionTypeDeposit, decimal.RequireFromString("1.5"), models.CurrencyUSDT, "Admin funded USDT balance"))
	m.RecordSweep(3, 1, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("transfer", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("transfer", "insufficient_funds")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactionsTotal.WithLabelValues("deposit", "USDT")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.transactionVolumeTotal.WithLabelValues("deposit", "USDT")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.stakingSettledTotal.WithLabelValues("settled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stakingSettledTotal.WithLabelValues("failed")))
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordHTTPRequest(http.MethodGet, "/api/balance", http.StatusOK, 10*time.Millisecond)
	m.RecordSystemMetrics()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `tai_ledger_http_requests_total{endpoint="/api/balance",method="GET",status_code="200"} 1`)
	assert.Contains(t, body, "tai_ledger_goroutines_count")
}

func TestHealthCheckerAggregatesComponents(t *testing.T) {
	h := NewHealthChecker("1.2.3")
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	h.RegisterCheck(NewChecker("database", time.Second, ok))
	h.RegisterCheck(NewChecker("redis", time.Second, ok))
	assert.Equal(t, StatusUnknown, h.GetComponentStatus("redis").Status)

	status := h.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, 2, status.Summary.HealthyComponents)

	h.RegisterCheck(NewChecker("rabbitmq", time.Second, down))
	status = h.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, "connection refused", status.Components["rabbitmq"].Error)

	h.RegisterCheck(NewChecker("redis", time.Second, down))
	h.RegisterCheck(NewChecker("memcache", time.Second, down))
	status = h.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Nil(t, h.GetComponentStatus("missing"))
}

func TestHealthCheckHonoursTimeout(t *testing.T) {
	h := NewHealthChecker("test")
	h.RegisterCheck(NewChecker("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	status := h.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, status.Status)
	assert.Contains(t, status.Components["slow"].Error, "deadline exceeded")
}

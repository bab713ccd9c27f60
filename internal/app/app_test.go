package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 8, cfg.ConsolMaxDepth)
	require.Equal(t, "INVESTMENT-EQUITY-METHOD", cfg.ConsolInvestmentAccount)
	require.Equal(t, "NCI", cfg.ConsolNCIAccount)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONSOL_MAX_DEPTH", "0")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "-1")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "CONSOL_MAX_DEPTH")
	require.ErrorContains(t, err, "RATE_LIMIT_PER_MINUTE")
}

func TestLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json", AppEnv: "test"}, &buf).Info("hello")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "test", line["env"])

	buf.Reset()
	newLogger(nil, &buf).Info("plain")
	require.Contains(t, buf.String(), "msg=plain")
}

func TestRouterHealthAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	cfg := &Config{RateLimitPerMinute: 10}
	h := NewRouter(RouterParams{
		Config:  cfg,
		Metrics: metrics,
		HealthChecks: map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"postgres":"ok"`)
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "odyssey_http_requests_total"))
}

func TestRouterHealthDegraded(t *testing.T) {
	h := NewRouter(RouterParams{
		Config: &Config{},
		HealthChecks: map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("refused") },
		},
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"redis":"down"`)
}

func TestTenantRateLimitKeysByTenant(t *testing.T) {
	limited := TenantRateLimit(1)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	call := func(tenant string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/journal-entries", nil)
		req.Header.Set(httpx.TenantHeader, tenant)
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusNoContent, call("t1"))
	require.Equal(t, http.StatusTooManyRequests, call("t1"))
	require.Equal(t, http.StatusNoContent, call("t2"))
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}

func TestAccessLogRecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json"}, &buf)
	h := NewRouter(RouterParams{Logger: logger, Config: &Config{}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(httpx.TenantHeader, "t1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(raw, &entry))
		if entry["msg"] == "http request" {
			line = entry
		}
	}
	require.NotNil(t, line)
	require.Equal(t, "/healthz", line["path"])
	require.Equal(t, "t1", line["tenant"])
	require.EqualValues(t, http.StatusOK, line["status"])
	require.NotEmpty(t, line["request_id"])
}

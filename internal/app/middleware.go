package app

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultPostsPerMinute = 60
)

type middlewareFunc = func(http.Handler) http.Handler

// MiddlewareConfig carries what the shared middleware chain depends on.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack returns the chain applied to every route, outermost first.
func MiddlewareStack(cfg MiddlewareConfig) []middlewareFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := defaultRequestTimeout
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	chain := []middlewareFunc{
		middleware.RealIP,
		middleware.RequestID,
		accessLog(logger),
		middleware.Recoverer,
		middleware.Timeout(timeout),
		secureHeaders(cfg.Config.IsProduction(), logger),
		middleware.Compress(5),
	}
	if cfg.Metrics != nil {
		chain = append(chain, cfg.Metrics.Middleware)
	}
	return chain
}

// secureHeaders sets the API hardening headers. Redirects to https only in
// production, behind a proxy that reports X-Forwarded-Proto.
func secureHeaders(production bool, logger *slog.Logger) middlewareFunc {
	s := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           production,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})
	s.SetBadHostHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("request rejected by host policy", slog.String("host", r.Host))
		httpx.Problem(w, http.StatusBadRequest, "Bad Host", "")
	}))
	return s.Handler
}

// accessLog writes one structured line per request.
func accessLog(logger *slog.Logger) middlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "http request",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("tenant", r.Header.Get(httpx.TenantHeader)),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// TenantRateLimit throttles posting per tenant header, or per client IP when
// the header is absent.
func TenantRateLimit(requestsPerMinute int) middlewareFunc {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultPostsPerMinute
	}
	return httprate.Limit(requestsPerMinute, time.Minute, httprate.WithKeyFuncs(tenantKey))
}

func tenantKey(r *http.Request) (string, error) {
	if tenant := strings.TrimSpace(r.Header.Get(httpx.TenantHeader)); tenant != "" {
		return "tenant:" + tenant, nil
	}
	return httprate.KeyByIP(r)
}

package consol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

const cachePrefix = "consol"

// ReportCache stores consolidated reports in Redis. Keys embed a per-tenant
// version so that Bump invalidates every report of the tenant at once.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReportCache instantiates the cache helper.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ReportCache{client: client, ttl: ttl}
}

func versionKey(tenantID string) string {
	return strings.Join([]string{cachePrefix, "version", tenantID}, ":")
}

// Version returns the tenant's cache version, zero until the first bump.
func (c *ReportCache) Version(ctx context.Context, tenantID string) (int64, error) {
	ver, err := c.client.Get(ctx, versionKey(tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

// Key composes the cache key for one report.
func (c *ReportCache) Key(ctx context.Context, tenantID, parentEntityID string, asOf time.Time) (string, error) {
	ver, err := c.Version(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		cachePrefix, "report", tenantID, parentEntityID,
		accounting.CivilDate(asOf).Format(accounting.DateLayout),
		"v" + formatInt(ver),
	}, ":"), nil
}

// Get loads a cached report.
func (c *ReportCache) Get(ctx context.Context, key string) (Report, bool, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Report{}, false, nil
	}
	if err != nil {
		return Report{}, false, err
	}
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return Report{}, false, err
	}
	return report, true, nil
}

// Set stores a report for the cache TTL.
func (c *ReportCache) Set(ctx context.Context, key string, report Report) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// Bump invalidates every cached report of the tenant.
func (c *ReportCache) Bump(ctx context.Context, tenantID string) error {
	return c.client.Incr(ctx, versionKey(tenantID)).Err()
}

// Reporter produces consolidated reports.
type Reporter interface {
	Consolidate(ctx context.Context, tenantID, parentEntityID string, asOf time.Time) (Report, error)
}

// CacheMetrics observes cache behaviour.
type CacheMetrics interface {
	CacheHit()
	CacheMiss()
	ObserveBuild(d time.Duration)
}

type noopCacheMetrics struct{}

func (noopCacheMetrics) CacheHit()                  {}
func (noopCacheMetrics) CacheMiss()                 {}
func (noopCacheMetrics) ObserveBuild(time.Duration) {}

// CachedService memoises reports and collapses concurrent builds of the
// same report into one.
type CachedService struct {
	inner   Reporter
	cache   *ReportCache
	metrics CacheMetrics
	logger  *slog.Logger
	group   singleflight.Group
}

// NewCachedService wraps inner. A nil cache disables caching.
func NewCachedService(inner Reporter, cache *ReportCache, metrics CacheMetrics, logger *slog.Logger) *CachedService {
	if metrics == nil {
		metrics = noopCacheMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedService{inner: inner, cache: cache, metrics: metrics, logger: logger.With(slog.String("component", "consol_cache"))}
}

// Consolidate implements Reporter.
func (c *CachedService) Consolidate(ctx context.Context, tenantID, parentEntityID string, asOf time.Time) (Report, error) {
	if c.cache == nil {
		return c.inner.Consolidate(ctx, tenantID, parentEntityID, asOf)
	}
	key, err := c.cache.Key(ctx, tenantID, parentEntityID, asOf)
	if err != nil {
		c.logger.Warn("cache key unavailable", slog.Any("error", err))
		return c.inner.Consolidate(ctx, tenantID, parentEntityID, asOf)
	}
	if report, ok, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("cache read failed", slog.String("key", key), slog.Any("error", err))
	} else if ok {
		c.metrics.CacheHit()
		return report, nil
	}
	c.metrics.CacheMiss()
	return c.build(ctx, key, tenantID, parentEntityID, asOf)
}

// Warm builds the report and stores it regardless of what is cached.
func (c *CachedService) Warm(ctx context.Context, tenantID, parentEntityID string, asOf time.Time) error {
	if c.cache == nil {
		_, err := c.inner.Consolidate(ctx, tenantID, parentEntityID, asOf)
		return err
	}
	key, err := c.cache.Key(ctx, tenantID, parentEntityID, asOf)
	if err != nil {
		return err
	}
	_, err = c.build(ctx, key, tenantID, parentEntityID, asOf)
	return err
}

// Invalidate drops every cached report of the tenant.
func (c *CachedService) Invalidate(ctx context.Context, tenantID string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Bump(ctx, tenantID)
}

func (c *CachedService) build(ctx context.Context, key, tenantID, parentEntityID string, asOf time.Time) (Report, error) {
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others.
		buildCtx := context.WithoutCancel(ctx)
		started := time.Now()
		report, err := c.inner.Consolidate(buildCtx, tenantID, parentEntityID, asOf)
		c.metrics.ObserveBuild(time.Since(started))
		if err != nil {
			return nil, err
		}
		if err := c.cache.Set(buildCtx, key, report); err != nil {
			c.logger.Warn("cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return report, nil
	})
	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Report{}, res.Err
		}
		return res.Val.(Report), nil
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

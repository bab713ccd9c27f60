package consol

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReporter struct {
	calls   atomic.Int32
	release chan struct{}
}

func (r *countingReporter) Consolidate(_ context.Context, tenantID, parentEntityID string, asOf time.Time) (Report, error) {
	r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	total := int64(42)
	return Report{
		TenantID:           tenantID,
		ParentEntityID:     parentEntityID,
		AsOfDate:           asOf,
		Currency:           "USD",
		Lines:              []Line{{AccountCode: "1000-CASH", Kind: LineKindAccount, BalanceMinorUnits: 100}},
		TotalNCIMinorUnits: &total,
	}, nil
}

type cacheCounters struct {
	hits, misses, builds int
}

func (c *cacheCounters) CacheHit()                  { c.hits++ }
func (c *cacheCounters) CacheMiss()                 { c.misses++ }
func (c *cacheCounters) ObserveBuild(time.Duration) { c.builds++ }

func newTestCache(t *testing.T) *ReportCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewReportCache(client, time.Minute)
}

func TestCachedServiceServesSecondCallFromRedis(t *testing.T) {
	inner := &countingReporter{}
	counters := &cacheCounters{}
	svc := NewCachedService(inner, newTestCache(t), counters, nil)
	ctx := context.Background()
	day := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	first, err := svc.Consolidate(ctx, "t1", "parent", day)
	require.NoError(t, err)
	second, err := svc.Consolidate(ctx, "t1", "parent", day)
	require.NoError(t, err)

	require.EqualValues(t, 1, inner.calls.Load())
	require.Equal(t, first.Lines, second.Lines)
	require.EqualValues(t, 42, *second.TotalNCIMinorUnits)
	require.True(t, second.AsOfDate.Equal(day))
	require.Equal(t, 1, counters.hits)
	require.Equal(t, 1, counters.misses)
	require.Equal(t, 1, counters.builds)
}

func TestInvalidateBumpsTenantVersion(t *testing.T) {
	inner := &countingReporter{}
	cache := newTestCache(t)
	svc := NewCachedService(inner, cache, nil, nil)
	ctx := context.Background()
	day := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	before, err := cache.Key(ctx, "t1", "parent", day)
	require.NoError(t, err)
	_, err = svc.Consolidate(ctx, "t1", "parent", day)
	require.NoError(t, err)

	require.NoError(t, svc.Invalidate(ctx, "t1"))
	after, err := cache.Key(ctx, "t1", "parent", day)
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	_, err = svc.Consolidate(ctx, "t1", "parent", day)
	require.NoError(t, err)
	require.EqualValues(t, 2, inner.calls.Load())

	other, err := cache.Key(ctx, "t2", "parent", day)
	require.NoError(t, err)
	require.Contains(t, other, ":v0")
}

func TestConcurrentMissesShareOneBuild(t *testing.T) {
	inner := &countingReporter{release: make(chan struct{})}
	svc := NewCachedService(inner, newTestCache(t), nil, nil)
	day := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Consolidate(context.Background(), "t1", "parent", day)
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(inner.release)
	wg.Wait()
	require.LessOrEqual(t, inner.calls.Load(), int32(2))
}

func TestWarmStoresReport(t *testing.T) {
	inner := &countingReporter{}
	cache := newTestCache(t)
	svc := NewCachedService(inner, cache, nil, nil)
	ctx := context.Background()
	day := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	require.NoError(t, svc.Warm(ctx, "t1", "parent", day))
	key, err := cache.Key(ctx, "t1", "parent", day)
	require.NoError(t, err)
	report, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "parent", report.ParentEntityID)
}

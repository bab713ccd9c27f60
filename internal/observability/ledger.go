package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics counts journal postings and consolidation cache activity.
type LedgerMetrics struct {
	postings    *prometheus.CounterVec
	replays     prometheus.Counter
	rejections  *prometheus.CounterVec
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	builds      prometheus.Histogram
}

// NewLedgerMetrics registers the ledger collectors against registerer.
func NewLedgerMetrics(registerer prometheus.Registerer) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &LedgerMetrics{
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_postings_total",
			Help: "Journal entries posted, by source module.",
		}, []string{"source_module"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_ledger_idempotent_replays_total",
			Help: "Commands answered from a stored idempotent result.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ledger_posting_rejections_total",
			Help: "Rejected journal commands, by error code.",
		}, []string{"code"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_consol_cache_hits_total",
			Help: "Consolidated reports served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_consol_cache_miss_total",
			Help: "Consolidated report cache misses.",
		}),
		builds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "odyssey_consol_build_duration_seconds",
			Help:    "Duration required to build a consolidated report.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	registerer.MustRegister(m.postings, m.replays, m.rejections, m.cacheHits, m.cacheMisses, m.builds)
	return m
}

// PostingRecorded counts a first execution of a posting.
func (m *LedgerMetrics) PostingRecorded(sourceModule string) {
	if m == nil {
		return
	}
	if sourceModule == "" {
		sourceModule = "unknown"
	}
	m.postings.WithLabelValues(sourceModule).Inc()
}

// IdempotentReplay counts a replayed command.
func (m *LedgerMetrics) IdempotentReplay() {
	if m == nil {
		return
	}
	m.replays.Inc()
}

// PostingRejected counts a rejected command.
func (m *LedgerMetrics) PostingRejected(code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(code).Inc()
}

// CacheHit counts a report served from cache.
func (m *LedgerMetrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CacheMiss counts a report cache miss.
func (m *LedgerMetrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// ObserveBuild records the time spent building one report.
func (m *LedgerMetrics) ObserveBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.builds.Observe(d.Seconds())
}

// Package metrics holds the Prometheus collectors of a cache environment.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "graphcache"

// Metrics groups the collectors shared by the store, fragment resource,
// network tracker and mutation queue.
type Metrics struct {
	generation      prometheus.Gauge
	publishTotal    *prometheus.CounterVec
	changedRecords  prometheus.Counter
	notifications   prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheEvictions  prometheus.Counter
	activeEntries   prometheus.Gauge
	missingData     *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	commitsTotal    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg returns
// nil metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "store", Name: "generation",
			Help: "Current store generation",
		}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "publish_total",
			Help: "Record batches written to the store",
		}, []string{"kind"}),
		changedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "changed_records_total",
			Help: "Records whose effective value changed",
		}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "notifications_total",
			Help: "Subscriber callbacks invoked",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fragment", Name: "cache_hits_total",
			Help: "Fragment reads served without re-reading the store",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fragment", Name: "cache_misses_total",
			Help: "Fragment reads that re-read the store",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fragment", Name: "cache_evictions_total",
			Help: "Fragment entries evicted from the LRU",
		}),
		activeEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "fragment", Name: "active_entries",
			Help: "Fragment entries with at least one subscriber",
		}),
		missingData: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "fragment", Name: "missing_data_total",
			Help: "Fragment reads missing required data with no request in flight",
		}, []string{"fragment"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "network", Name: "requests_total",
			Help: "Network requests by outcome",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "network", Name: "request_duration_seconds",
			Help:    "Network request latency",
			Buckets: prometheus.DefBuckets,
		}),
		commitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mutation", Name: "commits_total",
			Help: "Mutation transactions by terminal status",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.generation, m.publishTotal, m.changedRecords, m.notifications,
		m.cacheHits, m.cacheMisses, m.cacheEvictions, m.activeEntries, m.missingData,
		m.requestsTotal, m.requestDuration, m.commitsTotal,
	)
	return m
}

// Published records one store write.
func (m *Metrics) Published(kind string, generation uint64, changed int) {
	if m == nil {
		return
	}
	m.publishTotal.WithLabelValues(kind).Inc()
	m.generation.Set(float64(generation))
	m.changedRecords.Add(float64(changed))
}

// Notified records n subscriber callbacks.
func (m *Metrics) Notified(n int) {
	if m == nil {
		return
	}
	m.notifications.Add(float64(n))
}

// CacheHit records a fragment read served from cache.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CacheMiss records a fragment read that went to the store.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// CacheEvicted records an LRU eviction.
func (m *Metrics) CacheEvicted() {
	if m == nil {
		return
	}
	m.cacheEvictions.Inc()
}

// ActiveEntries sets the number of subscribed fragment entries.
func (m *Metrics) ActiveEntries(n int) {
	if m == nil {
		return
	}
	m.activeEntries.Set(float64(n))
}

// MissingData records a missing-data read for fragment.
func (m *Metrics) MissingData(fragment string) {
	if m == nil {
		return
	}
	m.missingData.WithLabelValues(fragment).Inc()
}

// Request records a settled network request.
func (m *Metrics) Request(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.Observe(seconds)
}

// Commit records a transaction reaching status.
func (m *Metrics) Commit(status string) {
	if m == nil {
		return
	}
	m.commitsTotal.WithLabelValues(status).Inc()
}

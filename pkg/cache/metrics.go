package cache

import (
	"github.com/Neil2813/Nexus/metric"
	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics mirrors Statistics as Prometheus series.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "nexus",
			Subsystem:   "memory_cache",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &cacheMetrics{
		hits:      counter("hits_total", "Lookups that found a live entry"),
		misses:    counter("misses_total", "Lookups that found nothing or an expired entry"),
		sets:      counter("sets_total", "Entries written"),
		deletes:   counter("deletes_total", "Entries deleted explicitly"),
		evictions: counter("evictions_total", "Entries evicted at capacity"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "nexus",
			Subsystem:   "memory_cache",
			Name:        "size",
			Help:        "Entries currently held",
			ConstLabels: labels,
		}),
	}

	counters := map[string]prometheus.Counter{
		"cache_hits":      m.hits,
		"cache_misses":    m.misses,
		"cache_sets":      m.sets,
		"cache_deletes":   m.deletes,
		"cache_evictions": m.evictions,
	}
	for name, c := range counters {
		if err := registry.Register(prefix, name, c); err != nil {
			return nil, err
		}
	}
	if err := registry.Register(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) recordHit()      { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()     { m.misses.Inc() }
func (m *cacheMetrics) recordSet()      { m.sets.Inc() }
func (m *cacheMetrics) recordDelete()   { m.deletes.Inc() }
func (m *cacheMetrics) recordEviction() { m.evictions.Inc() }

func (m *cacheMetrics) updateSize(size int) {
	m.size.Set(float64(size))
}

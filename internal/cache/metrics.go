package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	descEntries = prometheus.NewDesc(
		"darksphere_cache_entries",
		"Current number of live cache entries",
		[]string{"cache"}, nil,
	)
	descHits = prometheus.NewDesc(
		"darksphere_cache_hits_total",
		"Cache hits since process start",
		[]string{"cache"}, nil,
	)
	descMisses = prometheus.NewDesc(
		"darksphere_cache_misses_total",
		"Cache misses since process start",
		[]string{"cache"}, nil,
	)
	descEvictions = prometheus.NewDesc(
		"darksphere_cache_evictions_total",
		"Entries evicted by capacity pressure since process start",
		[]string{"cache"}, nil,
	)
	descMemory = prometheus.NewDesc(
		"darksphere_cache_memory_bytes",
		"Approximate memory held by cache entries",
		[]string{"cache"}, nil,
	)
)

// Collector exposes a set of caches to Prometheus.
type Collector struct {
	caches []*Cache
}

// NewCollector builds a collector over the given caches.
func NewCollector(caches ...*Cache) *Collector {
	return &Collector{caches: caches}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descEntries
	ch <- descHits
	ch <- descMisses
	ch <- descEvictions
	ch <- descMemory
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, cache := range c.caches {
		stats := cache.Stats()
		ch <- prometheus.MustNewConstMetric(descEntries, prometheus.GaugeValue, float64(stats.Count), stats.Name)
		ch <- prometheus.MustNewConstMetric(descHits, prometheus.CounterValue, float64(stats.Hits), stats.Name)
		ch <- prometheus.MustNewConstMetric(descMisses, prometheus.CounterValue, float64(stats.Misses), stats.Name)
		ch <- prometheus.MustNewConstMetric(descEvictions, prometheus.CounterValue, float64(stats.Evictions), stats.Name)
		ch <- prometheus.MustNewConstMetric(descMemory, prometheus.GaugeValue, float64(stats.ApproxMemoryBytes), stats.Name)
	}
}

// Package prommetrics exports tinyvec metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	db, err := tinyvec.Open[float32](ctx, store, configs,
//	    tinyvec.WithMetricsCollector(prommetrics.New(reg, "tinyvec")),
//	)
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/tinyvec"
)

// Collector implements tinyvec.MetricsCollector with Prometheus counters and
// histograms.
type Collector struct {
	mutations     *prometheus.CounterVec
	mutationItems *prometheus.CounterVec
	mutationTime  *prometheus.HistogramVec

	searches   *prometheus.CounterVec
	searchTime prometheus.Histogram

	flushes      *prometheus.CounterVec
	flushChanges prometheus.Counter
	flushTime    prometheus.Histogram

	commits    *prometheus.CounterVec
	commitTime prometheus.Histogram

	loads    *prometheus.CounterVec
	loadRows prometheus.Counter
	loadTime prometheus.Histogram
}

var _ tinyvec.MetricsCollector = (*Collector)(nil)

var latencyBuckets = prometheus.ExponentialBuckets(0.0001, 2, 16)

// New registers the tinyvec metrics on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Collector {
	f := promauto.With(reg)

	return &Collector{
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Collection mutations by operation and result.",
		}, []string{"op", "result"}),
		mutationItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_items_total",
			Help:      "Rows passed to successful mutations by operation.",
		}, []string{"op"}),
		mutationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Duration of collection mutations.",
			Buckets:   latencyBuckets,
		}, []string{"op"}),

		searches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Searches by result.",
		}, []string{"result"}),
		searchTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of exact searches.",
			Buckets:   latencyBuckets,
		}),

		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Collection flushes by result.",
		}, []string{"result"}),
		flushChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_changes_total",
			Help:      "Row changes written by successful flushes.",
		}),
		flushTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of collection flushes.",
			Buckets:   latencyBuckets,
		}),

		commits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Store commits by result.",
		}, []string{"result"}),
		commitTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Duration of flush plus store commit.",
			Buckets:   latencyBuckets,
		}),

		loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Collection loads by result.",
		}, []string{"result"}),
		loadRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_rows_total",
			Help:      "Rows decoded by successful loads.",
		}),
		loadTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Duration of collection loads.",
			Buckets:   latencyBuckets,
		}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordMutation implements tinyvec.MetricsCollector.
func (c *Collector) RecordMutation(op string, count int, duration time.Duration, err error) {
	c.mutations.WithLabelValues(op, result(err)).Inc()
	c.mutationTime.WithLabelValues(op).Observe(duration.Seconds())
	if err == nil {
		c.mutationItems.WithLabelValues(op).Add(float64(count))
	}
}

// RecordSearch implements tinyvec.MetricsCollector.
func (c *Collector) RecordSearch(_ int, duration time.Duration, err error) {
	c.searches.WithLabelValues(result(err)).Inc()
	c.searchTime.Observe(duration.Seconds())
}

// RecordFlush implements tinyvec.MetricsCollector.
func (c *Collector) RecordFlush(changes int, duration time.Duration, err error) {
	c.flushes.WithLabelValues(result(err)).Inc()
	c.flushTime.Observe(duration.Seconds())
	if err == nil {
		c.flushChanges.Add(float64(changes))
	}
}

// RecordCommit implements tinyvec.MetricsCollector.
func (c *Collector) RecordCommit(duration time.Duration, err error) {
	c.commits.WithLabelValues(result(err)).Inc()
	c.commitTime.Observe(duration.Seconds())
}

// RecordLoad implements tinyvec.MetricsCollector.
func (c *Collector) RecordLoad(rows int, duration time.Duration, err error) {
	c.loads.WithLabelValues(result(err)).Inc()
	c.loadTime.Observe(duration.Seconds())
	if err == nil {
		c.loadRows.Add(float64(rows))
	}
}

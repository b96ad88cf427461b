package quill

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eringen/quill/analytics"
)

// Metrics holds the server's prometheus collectors. Each App owns its own
// registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	postsSaved      prometheus.Counter
	postsDeleted    prometheus.Counter
	images          *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quill_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		postsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "quill_posts_saved_total",
			Help: "Total number of post saves",
		}),
		postsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "quill_posts_deleted_total",
			Help: "Total number of post deletions",
		}),
		images: f.NewCounterVec(prometheus.CounterOpts{
			Name: "quill_images_total",
			Help: "Inline images processed on save, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, httpStatusBucket(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) PostSaved() {
	if m != nil {
		m.postsSaved.Inc()
	}
}

func (m *Metrics) PostDeleted() {
	if m != nil {
		m.postsDeleted.Inc()
	}
}

func (m *Metrics) ImageStored() {
	if m != nil {
		m.images.WithLabelValues("stored").Inc()
	}
}

func (m *Metrics) ImageDropped() {
	if m != nil {
		m.images.WithLabelValues("dropped").Inc()
	}
}

// WatchRecorder exports the page-view queue depth and loss counters.
func (m *Metrics) WatchRecorder(r *analytics.Recorder) {
	if m == nil || r == nil {
		return
	}
	f := promauto.With(m.registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "quill_pageview_queue_length",
		Help: "Page views waiting to be written",
	}, func() float64 { return float64(r.Pending()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "quill_pageviews_dropped_total",
		Help: "Page views dropped because the queue was full",
	}, func() float64 { return float64(r.Dropped()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "quill_pageviews_failed_total",
		Help: "Page views that could not be written",
	}, func() float64 { return float64(r.Failed()) })
}

// WatchCache exports post cache hit and miss counts.
func (m *Metrics) WatchCache(c *PostCache) {
	if m == nil || c == nil {
		return
	}
	f := promauto.With(m.registry)
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "quill_post_cache_hits_total",
		Help: "Total number of post cache hits",
	}, func() float64 { hits, _ := c.Stats(); return float64(hits) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "quill_post_cache_misses_total",
		Help: "Total number of post cache misses",
	}, func() float64 { _, misses := c.Stats(); return float64(misses) })
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/iderikon/mediastorage-proxy/pkg/handler"
	"github.com/iderikon/mediastorage-proxy/pkg/reactor"
	"github.com/iderikon/mediastorage-proxy/pkg/store"
)

// Collector holds the proxy's Prometheus metrics. Each Collector owns its
// registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	failures  *prometheus.CounterVec
	inflight  prometheus.Gauge
	bytesIn   *prometheus.CounterVec
	bytesOut  *prometheus.CounterVec
	startTime time.Time
}

// NewCollector creates the collector and registers its metrics
func NewCollector() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdsproxy_requests_total",
				Help: "Requests served, by route and reply status",
			},
			[]string{"route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mdsproxy_request_duration_seconds",
				Help:    "Time from request arrival to handler release",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 9),
			},
			[]string{"route"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdsproxy_handler_failures_total",
				Help: "Failures absorbed by the handler boundary, by reply status and log severity",
			},
			[]string{"status", "severity"},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mdsproxy_inflight_handlers",
				Help: "Handlers that have not yet been released",
			},
		),
		bytesIn: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdsproxy_upload_bytes_total",
				Help: "Payload bytes received, by namespace",
			},
			[]string{"namespace"},
		),
		bytesOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdsproxy_download_bytes_total",
				Help: "Payload bytes sent, by namespace",
			},
			[]string{"namespace"},
		),
	}

	c.registry.MustRegister(
		c.requests,
		c.duration,
		c.failures,
		c.inflight,
		c.bytesIn,
		c.bytesOut,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mdsproxy_uptime_seconds",
			Help: "Time since the proxy started",
		}, func() float64 {
			return time.Since(c.startTime).Seconds()
		}),
	)

	return c
}

// ObserveFailure implements handler.Observer
func (c *Collector) ObserveFailure(outcome handler.Outcome) {
	c.failures.WithLabelValues(strconv.Itoa(outcome.Status), outcome.Severity.String()).Inc()
}

// HandlerStarted marks a handler as in flight
func (c *Collector) HandlerStarted() {
	c.inflight.Inc()
}

// HandlerFinished records a released handler
func (c *Collector) HandlerFinished(route string, status int, elapsed time.Duration) {
	c.inflight.Dec()
	c.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// AddUploaded counts received payload bytes
func (c *Collector) AddUploaded(namespace string, n int64) {
	c.bytesIn.WithLabelValues(namespace).Add(float64(n))
}

// AddDownloaded counts sent payload bytes
func (c *Collector) AddDownloaded(namespace string, n int64) {
	c.bytesOut.WithLabelValues(namespace).Add(float64(n))
}

// RegisterReactor exposes reactor counters
func (c *Collector) RegisterReactor(r *reactor.Reactor) {
	c.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "mdsproxy_reactor_operations_total",
			Help: "Operations completed by the reactor",
		}, func() float64 { return float64(r.Stats().Completed) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "mdsproxy_reactor_discarded_total",
			Help: "Operations discarded without running",
		}, func() float64 { return float64(r.Stats().Discarded) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "mdsproxy_reactor_queue_length",
			Help: "Operations waiting for a worker",
		}, func() float64 { return float64(r.Stats().Queued) }),
	)
}

// RegisterStore exposes object counts from the metadata store
func (c *Collector) RegisterStore(s store.Store) {
	c.registry.MustRegister(&storeCollector{store: s})
}

// Handler returns the /metrics handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// storeCollector reads object counts at scrape time
type storeCollector struct {
	store store.Store
}

var (
	objectsDesc = prometheus.NewDesc("mdsproxy_objects", "Stored objects by namespace", []string{"namespace"}, nil)
	bytesDesc   = prometheus.NewDesc("mdsproxy_objects_bytes", "Stored payload bytes by namespace", []string{"namespace"}, nil)
)

func (sc *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- objectsDesc
	ch <- bytesDesc
}

func (sc *storeCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := sc.store.Stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(objectsDesc, err)
		return
	}
	for ns, n := range stats.ObjectsByNamespace {
		ch <- prometheus.MustNewConstMetric(objectsDesc, prometheus.GaugeValue, float64(n), ns)
	}
	for ns, n := range stats.BytesByNamespace {
		ch <- prometheus.MustNewConstMetric(bytesDesc, prometheus.GaugeValue, float64(n), ns)
	}
}

// WriteStoreSnapshot writes the object gauges of s in the Prometheus text
// format, e.g. for the node exporter textfile collector
func WriteStoreSnapshot(w io.Writer, s store.Store) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(&storeCollector{store: s}); err != nil {
		return err
	}

	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather store metrics: %w", err)
	}

	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

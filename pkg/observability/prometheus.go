package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics on a prometheus registry. Collectors
// are created on first use of a metric name; the label set seen on that first
// call is fixed for the name, later calls fill missing labels with "" and
// drop unknown ones.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*labeled[*prometheus.CounterVec]
	gauges     map[string]*labeled[*prometheus.GaugeVec]
	histograms map[string]*labeled[*prometheus.HistogramVec]
}

type labeled[V any] struct {
	vec    V
	labels []string
}

// NewPrometheusMetrics creates a collector backed by its own registry, with
// Go runtime and process collectors pre-registered.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return &PrometheusMetrics{
		registry:   reg,
		counters:   make(map[string]*labeled[*prometheus.CounterVec]),
		gauges:     make(map[string]*labeled[*prometheus.GaugeVec]),
		histograms: make(map[string]*labeled[*prometheus.HistogramVec]),
	}
}

// Registry exposes the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *PrometheusMetrics) Counter(name string, value int64, tags ...Tag) {
	if value < 0 {
		return
	}
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		c = &labeled[*prometheus.CounterVec]{labels: tagKeys(tags)}
		c.vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: promName(name) + "_total",
			Help: name,
		}, c.labels)
		if err := m.registry.Register(c.vec); err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.vec.WithLabelValues(labelValues(c.labels, tags)...).Add(float64(value))
}

func (m *PrometheusMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		g = &labeled[*prometheus.GaugeVec]{labels: tagKeys(tags)}
		g.vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: promName(name),
			Help: name,
		}, g.labels)
		if err := m.registry.Register(g.vec); err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.vec.WithLabelValues(labelValues(g.labels, tags)...).Set(value)
}

func (m *PrometheusMetrics) Histogram(name string, value float64, tags ...Tag) {
	m.observe(promName(name), name, value, tags)
}

// Timing records durations in seconds under "<name>_seconds".
func (m *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.observe(promName(name)+"_seconds", name, duration.Seconds(), tags)
}

func (m *PrometheusMetrics) observe(fqName, help string, value float64, tags []Tag) {
	m.mu.Lock()
	h, ok := m.histograms[fqName]
	if !ok {
		h = &labeled[*prometheus.HistogramVec]{labels: tagKeys(tags)}
		h.vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fqName,
			Help:    help,
			Buckets: prometheus.DefBuckets,
		}, h.labels)
		if err := m.registry.Register(h.vec); err != nil {
			m.mu.Unlock()
			return
		}
		m.histograms[fqName] = h
	}
	m.mu.Unlock()
	h.vec.WithLabelValues(labelValues(h.labels, tags)...).Observe(value)
}

// promName maps "beacon.pool.queue_depth" to "beacon_pool_queue_depth".
func promName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, name)
}

func tagKeys(tags []Tag) []string {
	keys := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		k := promName(t.Key)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func labelValues(labels []string, tags []Tag) []string {
	values := make([]string, len(labels))
	for i, l := range labels {
		for _, t := range tags {
			if promName(t.Key) == l {
				values[i] = t.Value
				break
			}
		}
	}
	return values
}

var _ Metrics = (*PrometheusMetrics)(nil)


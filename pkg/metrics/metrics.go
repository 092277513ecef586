// Package metrics exposes Prometheus metrics for hook dispatch, auxiliary
// data and persistence.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crystal-mush/nakedsun/pkg/persist"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

// Sources supplies the gauge values refreshed by Update. Any field may be
// nil.
type Sources struct {
	Entities      func() map[string]int // live entities per kind
	PendingEvents func() int
	Hooks         func() int // hook names with handlers
}

// Metrics holds Prometheus metric descriptors for the server.
type Metrics struct {
	gatherer  prometheus.Gatherer
	sources   Sources
	startTime time.Time

	hookRuns        *prometheus.CounterVec
	hookStops       *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	auxFailures     *prometheus.CounterVec
	storeOps        *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	entities        *prometheus.GaugeVec
	pendingEvents   prometheus.Gauge
	hooksRegistered prometheus.Gauge
	uptimeSeconds   prometheus.Gauge
	memoryHeapBytes prometheus.Gauge
	goroutines      prometheus.Gauge
}

// New creates the metrics and registers them with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry, sources Sources, startTime time.Time) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer:  reg,
		sources:   sources,
		startTime: startTime,
		hookRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakedsun_hook_runs_total",
			Help: "Hook dispatches that reached at least one handler.",
		}, []string{"hook"}),
		hookStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakedsun_hook_stops_total",
			Help: "Dispatches ended early by a handler.",
		}, []string{"hook"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakedsun_hook_handler_failures_total",
			Help: "Hook handlers that returned an error or panicked.",
		}, []string{"hook"}),
		auxFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakedsun_auxiliary_init_failures_total",
			Help: "Auxiliary data instances that failed to initialize.",
		}, []string{"type", "name"}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakedsun_store_operations_total",
			Help: "Persistence operations by kind.",
		}, []string{"op"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nakedsun_store_errors_total",
			Help: "Failed persistence operations by kind.",
		}, []string{"op"}),
		entities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nakedsun_entities",
			Help: "Live world entities by kind.",
		}, []string{"kind"}),
		pendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nakedsun_pending_events",
			Help: "Scheduled events waiting to fire.",
		}),
		hooksRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nakedsun_hooks_registered",
			Help: "Hook names with at least one handler.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nakedsun_uptime_seconds",
			Help: "Server uptime in seconds.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nakedsun_memory_heap_bytes",
			Help: "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nakedsun_goroutines",
			Help: "Number of active goroutines.",
		}),
	}

	reg.MustRegister(
		m.hookRuns,
		m.hookStops,
		m.handlerFailures,
		m.auxFailures,
		m.storeOps,
		m.storeErrors,
		m.entities,
		m.pendingEvents,
		m.hooksRegistered,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)
	return m
}

// HookRun implements hooks.Observer.
func (m *Metrics) HookRun(hook string) { m.hookRuns.WithLabelValues(hook).Inc() }

// HookStopped implements hooks.Observer.
func (m *Metrics) HookStopped(hook string) { m.hookStops.WithLabelValues(hook).Inc() }

// HandlerFailed implements hooks.Observer. Handler names are left out of
// the labels to bound cardinality.
func (m *Metrics) HandlerFailed(hook, handler string) {
	m.handlerFailures.WithLabelValues(hook).Inc()
}

// AuxFailed implements auxiliary.Observer.
func (m *Metrics) AuxFailed(tag, name string) {
	m.auxFailures.WithLabelValues(tag, name).Inc()
}

// Update refreshes all gauge metrics from the sources.
func (m *Metrics) Update() {
	if m.sources.Entities != nil {
		for kind, n := range m.sources.Entities() {
			m.entities.WithLabelValues(kind).Set(float64(n))
		}
	}
	if m.sources.PendingEvents != nil {
		m.pendingEvents.Set(float64(m.sources.PendingEvents()))
	}
	if m.sources.Hooks != nil {
		m.hooksRegistered.Set(float64(m.sources.Hooks()))
	}

	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates metrics before serving them.
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		inner.ServeHTTP(w, r)
	})
}

// Store wraps st so every operation is counted.
func (m *Metrics) Store(st persist.Store) persist.Store {
	return &countingStore{Store: st, m: m}
}

type countingStore struct {
	persist.Store
	m *Metrics
}

func (c *countingStore) count(op string, err error) error {
	c.m.storeOps.WithLabelValues(op).Inc()
	if err != nil {
		c.m.storeErrors.WithLabelValues(op).Inc()
	}
	return err
}

func (c *countingStore) Put(tag, key string, doc *storage.Set) error {
	return c.count("put", c.Store.Put(tag, key, doc))
}

func (c *countingStore) Get(tag, key string) (*storage.Set, error) {
	doc, err := c.Store.Get(tag, key)
	return doc, c.count("get", err)
}

func (c *countingStore) Delete(tag, key string) error {
	return c.count("delete", c.Store.Delete(tag, key))
}

func (c *countingStore) Keys(tag string) ([]string, error) {
	keys, err := c.Store.Keys(tag)
	return keys, c.count("keys", err)
}

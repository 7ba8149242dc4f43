// Package metrics tracks per-request counters, latency, resource samples and
// alerts for the gateway's monitoring surface, and exports them both as the
// admin JSON snapshot the spec's /metrics endpoint returns and as Prometheus
// series for external scraping.
package metrics

import (
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ring is a fixed-capacity ring buffer; the oldest entry is evicted on write
// once full, matching the bounded-history invariant in the data model.
type ring struct {
	mu   sync.Mutex
	buf  []float64
	cap  int
	next int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity), cap: capacity}
}

func (r *ring) push(v float64) {
	if r.cap == 0 {
		return
	}
	r.mu.Lock()
	r.buf[r.next] = v
	r.next = (r.next + 1) % r.cap
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

func (r *ring) values() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]float64, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]float64, r.cap)
	copy(out, r.buf[r.next:])
	copy(out[r.cap-r.next:], r.buf[:r.next])
	return out
}

func (r *ring) average() float64 {
	vals := r.values()
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// Alert is one entry in the bounded alert log.
type Alert struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

type alertLog struct {
	mu   sync.Mutex
	buf  []Alert
	cap  int
}

func newAlertLog(capacity int) *alertLog {
	return &alertLog{cap: capacity}
}

func (a *alertLog) push(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, Alert{Time: time.Now().UTC(), Message: msg})
	if len(a.buf) > a.cap {
		a.buf = a.buf[len(a.buf)-a.cap:]
	}
}

func (a *alertLog) snapshot() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Alert, len(a.buf))
	copy(out, a.buf)
	return out
}

// Collector aggregates gateway metrics. Per-route/method/status counters are
// mirrored into Prometheus vectors; response-time and resource samples are
// kept in bounded ring buffers for the JSON snapshot.
type Collector struct {
	mu sync.RWMutex

	requestsTotal       map[string]int64 // route|method|status
	cacheHits           map[string]int64
	cacheMisses         map[string]int64
	circuitBreakerState map[string]string
	backendHealth       map[string]bool

	responseTimes *ring
	cpuSamples    *ring
	memSamples    *ring
	alerts        *alertLog

	startedAt time.Time

	promRequestsTotal   *prometheus.CounterVec
	promRequestDuration *prometheus.HistogramVec
	promCacheHits       *prometheus.CounterVec
	promCacheMisses     *prometheus.CounterVec
	promCircuitState    *prometheus.GaugeVec
	promBackendHealth   *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewCollector builds a Collector with the given bounded-history capacities.
func NewCollector(responseTimeCap, resourceSampleCap, alertLogCap int) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		requestsTotal:       make(map[string]int64),
		cacheHits:           make(map[string]int64),
		cacheMisses:         make(map[string]int64),
		circuitBreakerState: make(map[string]string),
		backendHealth:       make(map[string]bool),
		responseTimes:       newRing(responseTimeCap),
		cpuSamples:          newRing(resourceSampleCap),
		memSamples:          newRing(resourceSampleCap),
		alerts:              newAlertLog(alertLogCap),
		startedAt:           time.Now().UTC(),
		registry:            reg,
	}
	factory := promauto.With(reg)
	c.promRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total number of requests handled by the gateway.",
	}, []string{"service", "method", "status"})
	c.promRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})
	c.promCacheHits = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cache_hits_total",
		Help: "Total cache hits.",
	}, []string{"service"})
	c.promCacheMisses = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_cache_misses_total",
		Help: "Total cache misses.",
	}, []string{"service"})
	c.promCircuitState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half_open).",
	}, []string{"service"})
	c.promBackendHealth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gateway_backend_health",
		Help: "Backend instance health (0=unhealthy, 1=healthy).",
	}, []string{"service", "instance"})
	return c
}

// Registry exposes the Prometheus registry for an external promhttp.Handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordRequest records a completed request's outcome and latency.
func (c *Collector) RecordRequest(service, method string, status int, d time.Duration) {
	c.mu.Lock()
	key := service + "|" + method + "|" + statusStr(status)
	c.requestsTotal[key]++
	c.mu.Unlock()

	c.responseTimes.push(float64(d.Milliseconds()))
	c.promRequestsTotal.WithLabelValues(service, method, statusStr(status)).Inc()
	c.promRequestDuration.WithLabelValues(service).Observe(d.Seconds())
}

func (c *Collector) RecordCacheHit(service string) {
	c.mu.Lock()
	c.cacheHits[service]++
	c.mu.Unlock()
	c.promCacheHits.WithLabelValues(service).Inc()
}

func (c *Collector) RecordCacheMiss(service string) {
	c.mu.Lock()
	c.cacheMisses[service]++
	c.mu.Unlock()
	c.promCacheMisses.WithLabelValues(service).Inc()
}

// circuitStateCode maps a breaker state name to the gauge's numeric encoding.
func circuitStateCode(state string) float64 {
	switch state {
	case "OPEN":
		return 1
	case "HALF_OPEN":
		return 2
	default:
		return 0
	}
}

func (c *Collector) SetCircuitBreakerState(service, state string) {
	c.mu.Lock()
	c.circuitBreakerState[service] = state
	c.mu.Unlock()
	c.promCircuitState.WithLabelValues(service).Set(circuitStateCode(state))
}

func (c *Collector) SetBackendHealth(service, instance string, healthy bool) {
	c.mu.Lock()
	c.backendHealth[service+"|"+instance] = healthy
	c.mu.Unlock()
	v := 0.0
	if healthy {
		v = 1.0
	}
	c.promBackendHealth.WithLabelValues(service, instance).Set(v)
}

// RecordAlert appends msg to the bounded alert log.
func (c *Collector) RecordAlert(msg string) { c.alerts.push(msg) }

// SampleResources records a CPU/memory point; the caller decides the cadence.
func (c *Collector) SampleResources() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.memSamples.push(float64(mem.Alloc))
	c.cpuSamples.push(float64(runtime.NumGoroutine()))
}

// Snapshot is the JSON body the admin /metrics endpoint returns.
type Snapshot struct {
	UptimeSeconds         float64           `json:"uptimeSeconds"`
	RequestsTotal         map[string]int64  `json:"requestsTotal"`
	CacheHits             map[string]int64  `json:"cacheHits"`
	CacheMisses           map[string]int64  `json:"cacheMisses"`
	CircuitBreakerState   map[string]string `json:"circuitBreakerState"`
	BackendHealth         map[string]bool   `json:"backendHealth"`
	AverageResponseTimeMs float64           `json:"averageResponseTimeMs"`
	AverageCPUSamples     float64           `json:"averageCpuSamples"`
	AverageMemoryBytes    float64           `json:"averageMemoryBytes"`
	Alerts                []Alert           `json:"alerts"`
}

// Snapshot returns a point-in-time copy of all tracked metrics.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := &Snapshot{
		UptimeSeconds:         time.Since(c.startedAt).Seconds(),
		RequestsTotal:         make(map[string]int64, len(c.requestsTotal)),
		CacheHits:             make(map[string]int64, len(c.cacheHits)),
		CacheMisses:           make(map[string]int64, len(c.cacheMisses)),
		CircuitBreakerState:   make(map[string]string, len(c.circuitBreakerState)),
		BackendHealth:         make(map[string]bool, len(c.backendHealth)),
		AverageResponseTimeMs: c.responseTimes.average(),
		AverageCPUSamples:     c.cpuSamples.average(),
		AverageMemoryBytes:    c.memSamples.average(),
		Alerts:                c.alerts.snapshot(),
	}
	for k, v := range c.requestsTotal {
		s.RequestsTotal[k] = v
	}
	for k, v := range c.cacheHits {
		s.CacheHits[k] = v
	}
	for k, v := range c.cacheMisses {
		s.CacheMisses[k] = v
	}
	for k, v := range c.circuitBreakerState {
		s.CircuitBreakerState[k] = v
	}
	for k, v := range c.backendHealth {
		s.BackendHealth[k] = v
	}
	return s
}

func statusStr(status int) string { return strconv.Itoa(status) }

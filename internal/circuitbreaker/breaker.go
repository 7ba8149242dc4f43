// Package circuitbreaker implements the per-service circuit breaker state
// machine: CLOSED -> OPEN on a dual failure-count/failure-percentage
// condition, OPEN -> HALF_OPEN after a reset timeout, HALF_OPEN -> CLOSED on
// consecutive successes, HALF_OPEN -> OPEN on any single failure.
package circuitbreaker

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/northbeam/gateway/internal/config"
)

// State is one of the three breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Transition records a single state change. From is always the true previous
// state — the source this is ported from recorded the new state here by
// mistake; that bug is not reproduced.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Breaker is a single service's circuit breaker.
type Breaker struct {
	mu sync.Mutex

	state             State
	failures          int
	successes         int // successes accounted toward the CLOSED/OPEN ratio while CLOSED
	halfOpenSuccesses int
	halfOpenInFlight  int
	lastStateChange   time.Time

	timeout          time.Duration
	errorCount       int
	errorThreshold   float64 // percent
	resetTimeout     time.Duration
	halfOpenRequests int

	totalRequests  atomic.Int64
	totalFailures  atomic.Int64
	totalSuccesses atomic.Int64
	totalRejected  atomic.Int64
	totalTimeouts  atomic.Int64

	onTransition func(Transition)
}

// New builds a Breaker from a resolved (already-defaulted) configuration.
// cfg.HalfOpenRequests == 0 is rejected at config load time, never here.
func New(cfg config.CircuitBreakerConfig) *Breaker {
	return &Breaker{
		state:            StateClosed,
		lastStateChange:  time.Now(),
		timeout:          cfg.Timeout,
		errorCount:       cfg.ErrorCount,
		errorThreshold:   cfg.ErrorThreshold,
		resetTimeout:     cfg.ResetTimeout,
		halfOpenRequests: cfg.HalfOpenRequests,
	}
}

// OnTransition registers a callback invoked (outside the breaker's lock)
// whenever the breaker changes state. Used by the orchestrator to log and to
// update the metrics gauge.
func (b *Breaker) OnTransition(fn func(Transition)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

func (b *Breaker) transitionTo(to State) {
	from := b.state
	b.state = to
	b.lastStateChange = time.Now()
	if b.onTransition != nil {
		fn := b.onTransition
		tr := Transition{From: from, To: to, At: b.lastStateChange}
		go fn(tr)
	}
}

// Timeout returns the per-call timeout stages should enforce.
func (b *Breaker) Timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timeout
}

// Allow reports whether a request may proceed, and if not, the duration
// until the breaker becomes eligible for HALF_OPEN (for Retry-After).
func (b *Breaker) Allow() (ok bool, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests.Add(1)

	switch b.state {
	case StateClosed:
		return true, 0

	case StateOpen:
		elapsed := time.Since(b.lastStateChange)
		if elapsed >= b.resetTimeout {
			b.transitionTo(StateHalfOpen)
			b.halfOpenInFlight = 1
			b.halfOpenSuccesses = 0
			return true, 0
		}
		b.totalRejected.Add(1)
		return false, b.resetTimeout - elapsed

	case StateHalfOpen:
		if b.halfOpenInFlight < b.halfOpenRequests {
			b.halfOpenInFlight++
			return true, 0
		}
		b.totalRejected.Add(1)
		return false, b.resetTimeout

	default:
		return false, b.resetTimeout
	}
}

// RecordSuccess reports a successful upstream call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses.Add(1)

	switch b.state {
	case StateClosed:
		b.successes++

	case StateHalfOpen:
		b.halfOpenSuccesses++
		b.halfOpenInFlight--
		if b.halfOpenInFlight < 0 {
			b.halfOpenInFlight = 0
		}
		if b.halfOpenSuccesses >= b.halfOpenRequests {
			b.transitionTo(StateClosed)
			b.failures = 0
			b.successes = 0
			b.halfOpenSuccesses = 0
			b.halfOpenInFlight = 0
		}
	}
}

// RecordFailure reports a failed upstream call. isTimeout additionally
// increments the timeouts counter used for telemetry.
func (b *Breaker) RecordFailure(isTimeout bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures.Add(1)
	if isTimeout {
		b.totalTimeouts.Add(1)
	}

	switch b.state {
	case StateClosed:
		b.failures++
		total := b.failures + b.successes
		pct := 0.0
		if total > 0 {
			pct = float64(b.failures) / float64(total) * 100
		}
		if b.failures >= b.errorCount && pct >= b.errorThreshold {
			b.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		b.halfOpenInFlight--
		if b.halfOpenInFlight < 0 {
			b.halfOpenInFlight = 0
		}
		b.transitionTo(StateOpen)
		b.failures = 0
		b.successes = 0
		b.halfOpenSuccesses = 0
	}
}

// Snapshot is a point-in-time view of the breaker for /metrics and /admin.
type Snapshot struct {
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	TotalRequests   int64     `json:"totalRequests"`
	TotalFailures   int64     `json:"totalFailures"`
	TotalSuccesses  int64     `json:"totalSuccesses"`
	TotalRejected   int64     `json:"totalRejected"`
	TotalTimeouts   int64     `json:"totalTimeouts"`
	LastStateChange time.Time `json:"lastStateChange"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:           b.state.String(),
		Failures:        b.failures,
		Successes:       b.successes,
		TotalRequests:   b.totalRequests.Load(),
		TotalFailures:   b.totalFailures.Load(),
		TotalSuccesses:  b.totalSuccesses.Load(),
		TotalRejected:   b.totalRejected.Load(),
		TotalTimeouts:   b.totalTimeouts.Load(),
		LastStateChange: b.lastStateChange,
	}
}

// Registry holds one breaker per service, keyed under a per-entry lock
// discipline (the outer map is read-dominated and guarded by its own lock;
// each Breaker guards its own fields).
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	global   config.CircuitBreakerConfig
}

func NewRegistry(global config.CircuitBreakerConfig) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), global: global}
}

// ForService returns (creating if needed) the breaker for a service, applying
// its override if one was configured.
func (r *Registry) ForService(service string, override *config.CircuitBreakerConfig) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[service]; ok {
		return b
	}
	eff := config.EffectiveCircuitBreaker(r.global, override)
	b = New(eff)
	r.breakers[service] = b
	return b
}

// ServiceKey derives the circuit name from a request path of the form
// /api/<service>/... or, absent that, the x-service-name header. Returns ""
// if neither is present, meaning the breaker should be bypassed.
func ServiceKey(path string, serviceNameHeader string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if strings.HasPrefix(trimmed, "api/") {
		rest := strings.TrimPrefix(trimmed, "api/")
		if idx := strings.Index(rest, "/"); idx >= 0 {
			if rest[:idx] != "" {
				return rest[:idx]
			}
		} else if rest != "" {
			return rest
		}
	}
	return serviceNameHeader
}

// Snapshots returns every registered breaker's snapshot, keyed by service.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for svc, b := range r.breakers {
		out[svc] = b.Snapshot()
	}
	return out
}

// Package ratelimit implements the gateway's fixed-window global IP limiter
// and per-identity quota accountant, plus a slow-down latency-injection
// policy distinct from outright rejection.
package ratelimit

import (
	"fmt"
	"net/http"
	"time"
)

// bucket is a fixed-window counter: {windowStart, count}. Window semantics
// are fixed (not sliding), computed as floor(now/window)*window; resetting
// is lazy on the next touch. This bounds memory to one bucket per key at the
// cost of a 2x burst at window boundaries, which is deliberate.
type bucket struct {
	windowStart time.Time
	count       int
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	SlowDown  time.Duration // non-zero: caller should sleep this long before proceeding
}

// WriteHeaders decorates w with the X-RateLimit-* headers the spec requires
// on both the allow and the deny path.
func (d Decision) WriteHeaders(h http.Header) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", d.ResetAt.Unix()))
}

// windowKey computes floor(now/window)*window.
func windowKey(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return now
	}
	return now.Truncate(window)
}

// Limiter enforces a single fixed-window limit (the global IP window, or a
// per-identity quota) over a sharded bucket map.
type Limiter struct {
	buckets *shardedMap[*bucket]
	window  time.Duration
	max     int
}

// New builds a Limiter with the given window and max-requests-per-window.
func New(window time.Duration, max int) *Limiter {
	return &Limiter{buckets: newShardedMap[*bucket](), window: window, max: max}
}

// Check evaluates and counts a request against key, touching (and lazily
// resetting) its bucket atomically under the key's shard lock.
func (l *Limiter) Check(key string) Decision {
	now := time.Now()
	wk := windowKey(now, l.window)

	var d Decision
	l.buckets.withLock(key, func(items map[string]*bucket) {
		b, ok := items[key]
		if !ok || b.windowStart.Before(wk) {
			b = &bucket{windowStart: wk, count: 0}
			items[key] = b
		}
		b.count++
		d = Decision{
			Limit:     l.max,
			Remaining: l.max - b.count,
			ResetAt:   wk.Add(l.window),
			Allowed:   b.count <= l.max,
		}
	})
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d
}

// Peek reports the current count for key without incrementing it, used by
// the slow-down policy to decide whether to inject latency.
func (l *Limiter) Peek(key string) int {
	now := time.Now()
	wk := windowKey(now, l.window)
	b, ok := l.buckets.get(key)
	if !ok || b.windowStart.Before(wk) {
		return 0
	}
	return b.count
}

// Sweep removes buckets whose window ended more than maxAge ago, bounding
// memory for keys that stop sending requests.
func (l *Limiter) Sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	l.buckets.deleteFunc(func(_ string, b *bucket) bool {
		return b.windowStart.Add(l.window).Before(cutoff)
	})
}

// SlowDown computes the latency a request should be delayed by once a key
// has made more than `after` requests in its current window. It is a
// separate policy from rejection: the request is still allowed, just slowed.
func SlowDown(count, after int, delay time.Duration) time.Duration {
	if after <= 0 || count <= after {
		return 0
	}
	return delay
}

// QuotaOverride describes a per-API-key override of the default per-identity
// quota window/limit.
type QuotaOverride struct {
	Window time.Duration
	Max    int
}

// Accountant wraps a global IP Limiter and a default per-identity Limiter,
// resolving a possible per-key override to its own independent Limiter.
type Accountant struct {
	global    *Limiter
	quota     *Limiter
	overrides *shardedMap[*Limiter]
}

// NewAccountant builds an Accountant from the global IP window and the
// default per-identity quota.
func NewAccountant(globalWindow time.Duration, globalMax int, quotaWindow time.Duration, quotaMax int) *Accountant {
	return &Accountant{
		global:    New(globalWindow, globalMax),
		quota:     New(quotaWindow, quotaMax),
		overrides: newShardedMap[*Limiter](),
	}
}

// CheckGlobal evaluates the global IP window for clientIP.
func (a *Accountant) CheckGlobal(clientIP string) Decision {
	return a.global.Check("ip:" + clientIP)
}

// CheckQuota evaluates the per-identity quota for identityKey (e.g.
// "user:<id>" or "apikey:<key>"), using override in place of the default
// quota limiter when one is supplied for that exact key.
func (a *Accountant) CheckQuota(identityKey string, override *QuotaOverride) Decision {
	if override == nil {
		return a.quota.Check(identityKey)
	}
	lim := a.overrides.getOrCreate(identityKey, func() *Limiter {
		return New(override.Window, override.Max)
	})
	return lim.Check(identityKey)
}

func (m *shardedMap[V]) getOrCreate(key string, init func() V) V {
	var out V
	m.withLock(key, func(items map[string]V) {
		v, ok := items[key]
		if !ok {
			v = init()
			items[key] = v
		}
		out = v
	})
	return out
}

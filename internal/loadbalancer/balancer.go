// Package loadbalancer selects a healthy instance for a service under one of
// five policies, and maintains the per-instance health/connection state the
// selection reads.
package loadbalancer

import (
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
)

// Policy names a load-balancing strategy.
type Policy string

const (
	RoundRobin         Policy = "ROUND_ROBIN"
	WeightedRoundRobin Policy = "WEIGHTED_ROUND_ROBIN"
	LeastConn          Policy = "LEAST_CONN"
	Random             Policy = "RANDOM"
	IPHash             Policy = "IP_HASH"
)

// Instance is one addressable backend endpoint. Healthy and ActiveConns are
// mutated by the health checker / proxy and read on every selection, so they
// are accessed without the balancer's lock: Healthy flips under the
// balancer's per-instance index lock, ActiveConns is a plain atomic.
type Instance struct {
	Host    string
	Port    int
	Weight  int
	addr    string
	healthy atomic.Bool
	active  atomic.Int64
}

// NewInstance builds an Instance, defaulting Weight to 1.
func NewInstance(host string, port int, weight int) *Instance {
	if weight <= 0 {
		weight = 1
	}
	i := &Instance{Host: host, Port: port, Weight: weight}
	i.addr = host + ":" + strconv.Itoa(port)
	i.healthy.Store(true)
	return i
}

// Addr is the instance's dial target, used as its stable identity in the
// health table and the balancer's URL index.
func (i *Instance) Addr() string { return i.addr }

func (i *Instance) Healthy() bool      { return i.healthy.Load() }
func (i *Instance) SetHealthy(v bool)  { i.healthy.Store(v) }
func (i *Instance) IncrActive()        { i.active.Add(1) }
func (i *Instance) DecrActive()        { i.active.Add(-1) }
func (i *Instance) ActiveConns() int64 { return i.active.Load() }

// Balancer selects an instance for a service. Selection inputs beyond the
// instance list (e.g. client IP for IP_HASH) are passed per call.
type Balancer struct {
	mu        sync.RWMutex
	instances []*Instance
	byAddr    map[string]*Instance
	policy    Policy

	rrCounter uint64

	wrrMu      sync.Mutex
	wrrCurrent int
	wrrMaxW    int

	cachedHealthy atomic.Value // []*Instance
}

// New builds a Balancer over instances using policy.
func New(policy Policy, instances []*Instance) *Balancer {
	b := &Balancer{policy: policy, wrrCurrent: -1}
	b.UpdateInstances(instances)
	return b
}

// UpdateInstances replaces the instance set, preserving health for instances
// that still appear (by address) and defaulting new ones to healthy.
func (b *Balancer) UpdateInstances(instances []*Instance) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.byAddr
	for _, inst := range instances {
		if old != nil {
			if prev, ok := old[inst.Addr()]; ok {
				inst.SetHealthy(prev.Healthy())
			}
		}
	}

	b.instances = instances
	b.byAddr = make(map[string]*Instance, len(instances))
	for _, inst := range instances {
		b.byAddr[inst.Addr()] = inst
	}
	b.rebuildHealthyCache()
	b.wrrMu.Lock()
	b.wrrCurrent = -1
	b.wrrMu.Unlock()
}

func (b *Balancer) rebuildHealthyCache() {
	healthy := make([]*Instance, 0, len(b.instances))
	for _, inst := range b.instances {
		if inst.Healthy() {
			healthy = append(healthy, inst)
		}
	}
	b.cachedHealthy.Store(healthy)
}

// healthyInstances returns the cached healthy slice, lock-free.
func (b *Balancer) healthyInstances() []*Instance {
	if v := b.cachedHealthy.Load(); v != nil {
		return v.([]*Instance)
	}
	return nil
}

// MarkHealthy/MarkUnhealthy flip one instance's health flag and rebuild the
// lock-free cache selection reads from.
func (b *Balancer) MarkHealthy(addr string) { b.setHealth(addr, true) }
func (b *Balancer) MarkUnhealthy(addr string) { b.setHealth(addr, false) }

func (b *Balancer) setHealth(addr string, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	inst, ok := b.byAddr[addr]
	if !ok {
		return
	}
	inst.SetHealthy(healthy)
	b.rebuildHealthyCache()
}

// HealthyCount reports how many instances are currently healthy.
func (b *Balancer) HealthyCount() int { return len(b.healthyInstances()) }

// Instances returns the full (not filtered) instance list.
func (b *Balancer) Instances() []*Instance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Instance, len(b.instances))
	copy(out, b.instances)
	return out
}

// Next selects an instance per the balancer's policy. clientIP is consulted
// only by IP_HASH. Returns nil if no instance is healthy.
func (b *Balancer) Next(clientIP string) *Instance {
	healthy := b.healthyInstances()
	if len(healthy) == 0 {
		return nil
	}
	switch b.policy {
	case WeightedRoundRobin:
		return b.nextWeighted(healthy)
	case LeastConn:
		return nextLeastConn(healthy)
	case Random:
		return healthy[rand.Intn(len(healthy))]
	case IPHash:
		return healthy[hashIP(clientIP)%uint32(len(healthy))]
	default: // RoundRobin
		idx := atomic.AddUint64(&b.rrCounter, 1)
		return healthy[(idx-1)%uint64(len(healthy))]
	}
}

// nextWeighted implements smooth weighted round-robin: the instance list is
// conceptually expanded by integer weight and walked in round-robin order,
// picking the highest-remaining-weight candidate each turn and decrementing
// the running maximum by the weight GCD once per full cycle.
func (b *Balancer) nextWeighted(healthy []*Instance) *Instance {
	b.wrrMu.Lock()
	defer b.wrrMu.Unlock()

	g := weightGCD(healthy)
	maxW := maxWeight(healthy)
	if b.wrrMaxW == 0 || b.wrrCurrent >= len(healthy) {
		b.wrrMaxW = maxW
		b.wrrCurrent = -1
	}

	for {
		b.wrrCurrent = (b.wrrCurrent + 1) % len(healthy)
		if b.wrrCurrent == 0 {
			b.wrrMaxW -= g
			if b.wrrMaxW <= 0 {
				b.wrrMaxW = maxW
			}
		}
		if healthy[b.wrrCurrent].Weight >= b.wrrMaxW {
			return healthy[b.wrrCurrent]
		}
	}
}

func nextLeastConn(healthy []*Instance) *Instance {
	best := healthy[0]
	bestConns := best.ActiveConns()
	for _, inst := range healthy[1:] {
		if c := inst.ActiveConns(); c < bestConns {
			best = inst
			bestConns = c
		}
	}
	return best
}

func weightGCD(instances []*Instance) int {
	g := instances[0].Weight
	for _, inst := range instances[1:] {
		g = gcd(g, inst.Weight)
	}
	if g == 0 {
		return 1
	}
	return g
}

func maxWeight(instances []*Instance) int {
	m := instances[0].Weight
	for _, inst := range instances[1:] {
		if inst.Weight > m {
			m = inst.Weight
		}
	}
	return m
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// hashIP deterministically hashes a client IP for sticky IP_HASH selection.
func hashIP(ip string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ip))
	return h.Sum32()
}

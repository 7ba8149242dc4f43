// Package router resolves the service and instance a request should be
// dispatched to: service name from the path (or the x-service-name header),
// instance from that service's load balancer.
package router

import (
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/errors"
	"github.com/northbeam/gateway/internal/health"
	"github.com/northbeam/gateway/internal/loadbalancer"
)

// entry pairs a service's static configuration with its live balancer.
type entry struct {
	cfg      config.ServiceConfig
	balancer *loadbalancer.Balancer
}

// standardMethods lists every method the service-path pattern is registered
// under, matching the fixed set httprouter needs one registration per.
var standardMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

// Router holds one entry per configured service, built once at startup from
// config.RoutingConfig, plus the httprouter tree that matches a request path
// against the fixed /api/:service/*rest pattern. Instance health is not
// owned here; it's updated by the shared health.Checker this router
// registers instances with.
type Router struct {
	services map[string]*entry
	tree     *httprouter.Router
}

// New builds a Router from cfg. Call Track afterward, once a health.Checker
// exists, to start active probing — the checker's onChange callback is
// typically the router's own OnHealthChange, so construction is two steps
// rather than one to avoid a circular dependency between the two.
func New(cfg config.RoutingConfig) *Router {
	r := &Router{services: make(map[string]*entry, len(cfg.Services))}

	for _, svc := range cfg.Services {
		instances := make([]*loadbalancer.Instance, 0, len(svc.Instances))
		for _, ic := range svc.Instances {
			instances = append(instances, loadbalancer.NewInstance(ic.Host, ic.Port, ic.Weight))
		}
		r.services[svc.Name] = &entry{
			cfg:      svc,
			balancer: loadbalancer.New(loadbalancer.Policy(svc.LoadBalancing), instances),
		}
	}

	r.tree = httprouter.New()
	r.tree.RedirectTrailingSlash = false
	r.tree.RedirectFixedPath = false
	for _, method := range standardMethods {
		r.tree.Handler(method, "/api/:service/*rest", matchCapture{})
		r.tree.Handler(method, "/api/:service", matchCapture{})
	}
	return r
}

// Track registers every configured instance of every service with checker
// for active probing.
func (r *Router) Track(checker *health.Checker) {
	for _, e := range r.services {
		for _, inst := range e.balancer.Instances() {
			checker.Track(e.cfg.Name, inst, e.cfg.HealthCheck.Path, e.cfg.HealthCheck.Timeout)
		}
	}
}

// Resolve names the service a request targets: the :service segment of
// /api/<service>/... matched against the httprouter tree, or, absent a
// match, the x-service-name header.
func (r *Router) Resolve(method, path string, header http.Header) string {
	if service := r.match(method, path); service != "" {
		return service
	}
	return header.Get("x-service-name")
}

// Config returns the static configuration for a known service.
func (r *Router) Config(service string) (config.ServiceConfig, bool) {
	e, ok := r.services[service]
	if !ok {
		return config.ServiceConfig{}, false
	}
	return e.cfg, true
}

// Known reports whether service names a configured service.
func (r *Router) Known(service string) bool {
	_, ok := r.services[service]
	return ok
}

// Services returns the static configuration of every routed service, for
// the admin surface; order is unspecified.
func (r *Router) Services() []config.ServiceConfig {
	out := make([]config.ServiceConfig, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, e.cfg)
	}
	return out
}

// OnHealthChange updates the balancer's cached health flag for addr whenever
// the health checker reports a transition, active or passive.
func (r *Router) OnHealthChange(service, addr string, healthy bool) {
	e, ok := r.services[service]
	if !ok {
		return
	}
	if healthy {
		e.balancer.MarkHealthy(addr)
	} else {
		e.balancer.MarkUnhealthy(addr)
	}
}

// Select picks a healthy instance of service for clientIP under that
// service's load-balancing policy. Returns NoHealthyInstance if the service
// has none currently healthy, or NotFound if the service isn't configured.
func (r *Router) Select(service, clientIP string) (*loadbalancer.Instance, *errors.GatewayError) {
	e, ok := r.services[service]
	if !ok {
		return nil, errors.ErrNotFound.WithDetails("unknown service: " + service)
	}
	inst := e.balancer.Next(clientIP)
	if inst == nil {
		return nil, errors.ErrNoHealthyInstance
	}
	return inst, nil
}

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	gwerrors "github.com/northbeam/gateway/internal/errors"
	"github.com/northbeam/gateway/internal/reqcontext"
)

// requireAdmin wraps next so it only runs for a request authenticated with
// the admin permission; every other request gets the standard unauthorized
// or forbidden error body.
func (g *Gateway) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.verifier.Verify(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", g.verifier.Challenge())
			gerr, ok := gwerrors.As(err)
			if !ok {
				gerr = gwerrors.ErrUnauthenticated
			}
			writeAuthError(w, gerr)
			return
		}
		if !principal.Has(reqcontext.PermAdmin) {
			writeAuthError(w, gwerrors.ErrForbidden)
			return
		}
		next(w, r)
	}
}

// handleHealth reports process uptime and every tracked instance's current
// health, unauthenticated so orchestrators and load balancers can poll it
// freely.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"timestamp":   time.Now().UTC(),
		"uptime":      time.Since(g.startedAt).String(),
		"version":     g.config.Server.Version,
		"environment": g.config.Server.Environment,
		"services":    g.healthCheck.AllStatus(),
	})
}

// handleMetrics returns the in-memory metrics snapshot (the Prometheus
// surface lives on the collector's own registry, mounted separately by the
// caller that wires promhttp).
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.metricsC.Snapshot())
}

// handleAdminServices lists every configured service and its instances. It
// reads the router's live service set rather than the config snapshot the
// gateway was built with, so it reflects the most recent hot reload.
func (g *Gateway) handleAdminServices(w http.ResponseWriter, r *http.Request) {
	svcs := g.rtr().Services()
	services := make([]map[string]interface{}, 0, len(svcs))
	for _, svc := range svcs {
		instances := make([]string, 0, len(svc.Instances))
		for _, inst := range svc.Instances {
			instances = append(instances, inst.Host+":"+strconv.Itoa(inst.Port))
		}
		services = append(services, map[string]interface{}{
			"name":           svc.Name,
			"pathPrefix":     svc.PathPrefix,
			"loadBalancing":  svc.LoadBalancing,
			"instances":      instances,
			"circuitBreaker": g.breakerFor(svc.Name).Snapshot(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": services})
}

// handleAdminRoutes lists the path-prefix -> service routing table.
func (g *Gateway) handleAdminRoutes(w http.ResponseWriter, r *http.Request) {
	svcs := g.rtr().Services()
	routes := make([]map[string]string, 0, len(svcs))
	for _, svc := range svcs {
		routes = append(routes, map[string]string{
			"pathPrefix": svc.PathPrefix,
			"service":    svc.Name,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"routes": routes})
}

// handleAdminCache serves /admin/cache/stats (GET) and /admin/cache/flush
// (POST) and /admin/cache/invalidate?path=... (POST).
func (g *Gateway) handleAdminCache(w http.ResponseWriter, r *http.Request) {
	if g.cacheHandler == nil {
		writeAuthError(w, gwerrors.ErrInternal.WithDetails("cache is not enabled"))
		return
	}
	sub := strings.TrimPrefix(r.URL.Path, "/admin/cache/")
	switch {
	case sub == "stats" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, g.cacheHandler.Stats())
	case sub == "flush" && r.Method == http.MethodPost:
		g.cacheHandler.Flush()
		w.WriteHeader(http.StatusNoContent)
	case sub == "invalidate" && r.Method == http.MethodPost:
		path := r.URL.Query().Get("path")
		if path == "" {
			writeAuthError(w, gwerrors.ErrValidationFailure.WithDetails("path query parameter required"))
			return
		}
		g.cacheHandler.Invalidate(path)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeAuthError(w, gwerrors.ErrNotFound)
	}
}

type pluginLoadRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// handleAdminPlugins serves /admin/plugins (GET list), /admin/plugins/load
// (POST), /admin/plugins/unload (POST), and /admin/plugins/reload (POST).
func (g *Gateway) handleAdminPlugins(w http.ResponseWriter, r *http.Request) {
	sub := strings.TrimPrefix(r.URL.Path, "/admin/plugins/")
	switch {
	case (sub == "" || sub == "list") && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{"plugins": g.plugins.Loaded()})

	case sub == "load" && r.Method == http.MethodPost:
		var req pluginLoadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
			writeAuthError(w, gwerrors.ErrValidationFailure.WithDetails("path is required"))
			return
		}
		if err := g.plugins.Load(req.Path); err != nil {
			writeAuthError(w, gwerrors.ErrInternal.WithDetails(err.Error()))
			return
		}
		w.WriteHeader(http.StatusCreated)

	case sub == "unload" && r.Method == http.MethodPost:
		var req pluginLoadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			writeAuthError(w, gwerrors.ErrValidationFailure.WithDetails("name is required"))
			return
		}
		if err := g.plugins.Unload(req.Name); err != nil {
			writeAuthError(w, gwerrors.ErrInternal.WithDetails(err.Error()))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case sub == "reload" && r.Method == http.MethodPost:
		var req pluginLoadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Path == "" {
			writeAuthError(w, gwerrors.ErrValidationFailure.WithDetails("name and path are required"))
			return
		}
		if err := g.plugins.Reload(req.Name, req.Path); err != nil {
			writeAuthError(w, gwerrors.ErrInternal.WithDetails(err.Error()))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeAuthError(w, gwerrors.ErrNotFound)
	}
}

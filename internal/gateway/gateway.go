// Package gateway wires every component package into the single request
// pipeline and the admin/auth HTTP surface, and owns their shared lifecycle.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/northbeam/gateway/internal/auth"
	"github.com/northbeam/gateway/internal/cache"
	"github.com/northbeam/gateway/internal/circuitbreaker"
	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/health"
	"github.com/northbeam/gateway/internal/logging"
	"github.com/northbeam/gateway/internal/metrics"
	"github.com/northbeam/gateway/internal/plugin"
	"github.com/northbeam/gateway/internal/proxy"
	"github.com/northbeam/gateway/internal/ratelimit"
	"github.com/northbeam/gateway/internal/router"
	"github.com/northbeam/gateway/internal/security"
)

// Gateway owns every component the request pipeline and the admin surface
// read from, plus whatever background state (health probes, cache sweeper)
// those components started at construction time.
type Gateway struct {
	config *config.Config

	filter       *security.Filter
	rateLimit    *ratelimit.Accountant
	verifier     *auth.Verifier
	cacheHandler *cache.Handler
	redisClient  *redis.Client
	plugins      *plugin.Engine
	breakers     *circuitbreaker.Registry
	router       atomic.Pointer[router.Router]
	proxy        *proxy.Proxy
	healthCheck  *health.Checker
	metricsC     *metrics.Collector
	watcher      *config.Watcher

	transformRules atomic.Pointer[[]config.TransformRuleSet]

	wiredMu           sync.Mutex
	wired             map[string]bool // service -> breaker OnTransition already wired
	loadedPluginPaths map[string]bool

	startedAt time.Time
}

// rtr returns the router currently in effect; it may be swapped out from
// under a caller by a config reload, so callers take a single snapshot per
// request rather than re-reading g.router.
func (g *Gateway) rtr() *router.Router {
	return g.router.Load()
}

// rules returns the transform rule set currently in effect.
func (g *Gateway) rules() []config.TransformRuleSet {
	if p := g.transformRules.Load(); p != nil {
		return *p
	}
	return nil
}

// New builds a Gateway from cfg: every component package is constructed and
// wired together, instances are registered for active health probing, and
// any configured plugins are loaded. It does not start listening; that is
// Server's job. If configPath is non-empty, the gateway also watches that
// file and hot-reloads routing and transformation rules when it changes;
// pass an empty path to disable watching (as tests typically do).
func New(cfg *config.Config, configPath string) (*Gateway, error) {
	g := &Gateway{
		config:            cfg,
		wired:             make(map[string]bool),
		loadedPluginPaths: make(map[string]bool),
		startedAt:         time.Now(),
	}
	rules := cfg.Transformation.Rules
	g.transformRules.Store(&rules)

	var waf *security.WAF
	if cfg.Security.Enabled && cfg.Security.WAF.Enabled {
		w, err := security.NewWAF(cfg.Security.WAF)
		if err != nil {
			return nil, fmt.Errorf("gateway: init WAF: %w", err)
		}
		waf = w
	}
	g.filter = security.New(cfg.Security, waf)

	g.rateLimit = ratelimit.NewAccountant(
		cfg.RateLimit.GlobalWindow, cfg.RateLimit.GlobalMax,
		cfg.RateLimit.QuotaWindow, cfg.RateLimit.QuotaMax,
	)

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("gateway: init auth: %w", err)
	}
	g.verifier = verifier

	if cfg.Cache.Enabled {
		var primary *cache.RedisStore
		if cfg.Cache.RedisAddr != "" {
			g.redisClient = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
			primary = cache.NewRedisStore(g.redisClient, "gateway:cache:", cfg.Cache.DefaultTTL)
		}
		fallback := cache.NewMemoryStore(cfg.Cache.MemoryMaxKeys, cfg.Cache.DefaultTTL)
		g.cacheHandler = cache.NewHandler(primary, fallback, cfg.Cache.DefaultTTL, cfg.Cache.PathTTLs, cfg.Cache.InvalidationMethods)
	}

	g.breakers = circuitbreaker.NewRegistry(cfg.CircuitBreaker)

	g.metricsC = metrics.NewCollector(cfg.Monitoring.ResponseTimeCap, cfg.Monitoring.ResourceSampleCap, cfg.Monitoring.AlertLogCap)

	g.router.Store(router.New(cfg.Routing))

	g.healthCheck = health.NewChecker(5*time.Second, func(service, addr string, healthy bool) {
		g.rtr().OnHealthChange(service, addr, healthy)
		g.metricsC.SetBackendHealth(service, addr, healthy)
	})
	g.rtr().Track(g.healthCheck)

	g.proxy = proxy.New(nil, g.healthCheck)

	g.plugins = plugin.New("gateway-plugin-v1", 2*time.Second)
	if cfg.Plugins.Enabled {
		for _, path := range cfg.Plugins.Load {
			if err := g.plugins.Load(path); err != nil {
				return nil, fmt.Errorf("gateway: load plugin %s: %w", path, err)
			}
			g.loadedPluginPaths[path] = true
		}
		// onStartup fires once every configured plugin is loaded and
		// registered, mirroring Shutdown's onShutdown firing on the way down.
		// There is no per-request context yet, so handlers run against an
		// empty Context and any override they return is discarded.
		g.plugins.Run(plugin.HookOnStartup, plugin.Context{})
	}

	if cfg.Cache.Enabled && cfg.Cache.SweepInterval > 0 {
		go g.runCacheSweep(cfg.Cache.SweepInterval)
	}
	go g.runResourceSampling(15 * time.Second)

	if configPath != "" {
		w, err := config.NewWatcher(configPath)
		if err != nil {
			return nil, fmt.Errorf("gateway: init config watcher: %w", err)
		}
		w.OnChange(g.reloadConfig)
		if err := w.Start(); err != nil {
			return nil, fmt.Errorf("gateway: start config watcher: %w", err)
		}
		g.watcher = w
	}

	return g, nil
}

// reloadConfig applies a freshly loaded configuration's routing and
// transformation rules without restarting the listener, and best-effort
// loads any plugin path newly added to the plugin list. Auth, security,
// rate limit, and cache policy are not hot-swapped: those affect in-flight
// accounting state (tokens, counters, breaker windows) that a live reload
// could corrupt, so picking them up requires a restart.
func (g *Gateway) reloadConfig(cfg *config.Config) {
	newRouter := router.New(cfg.Routing)
	newRouter.Track(g.healthCheck)
	g.router.Store(newRouter)

	rules := cfg.Transformation.Rules
	g.transformRules.Store(&rules)

	if cfg.Plugins.Enabled {
		g.wiredMu.Lock()
		var toLoad []string
		for _, path := range cfg.Plugins.Load {
			if !g.loadedPluginPaths[path] {
				toLoad = append(toLoad, path)
			}
		}
		g.wiredMu.Unlock()
		for _, path := range toLoad {
			if err := g.plugins.Load(path); err != nil {
				logging.Warn("config reload: failed to load new plugin", zap.String("path", path), zap.Error(err))
				continue
			}
			g.wiredMu.Lock()
			g.loadedPluginPaths[path] = true
			g.wiredMu.Unlock()
		}
	}

	logging.Info("gateway applied reloaded configuration",
		zap.Int("services", len(cfg.Routing.Services)), zap.Int("transformRules", len(rules)))
}

func (g *Gateway) runCacheSweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if g.redisClient == nil {
			continue
		}
		if err := g.redisClient.Ping(context.Background()).Err(); err != nil {
			g.cacheHandler.MarkPrimaryDown()
			logging.Warn("redis cache ping failed, using memory fallback", zap.Error(err))
		} else {
			g.cacheHandler.MarkPrimaryUp()
		}
	}
}

func (g *Gateway) runResourceSampling(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		g.metricsC.SampleResources()
	}
}

// breakerFor returns the service's circuit breaker, wiring its OnTransition
// callback into the metrics gauge the first time the service is seen.
func (g *Gateway) breakerFor(service string) *circuitbreaker.Breaker {
	cfg, _ := g.rtr().Config(service)
	b := g.breakers.ForService(service, cfg.CircuitBreaker)

	g.wiredMu.Lock()
	defer g.wiredMu.Unlock()
	if !g.wired[service] {
		b.OnTransition(func(tr circuitbreaker.Transition) {
			g.metricsC.SetCircuitBreakerState(service, tr.To.String())
			logging.Info("circuit breaker transitioned",
				zap.String("service", service), zap.String("from", tr.From.String()), zap.String("to", tr.To.String()))
		})
		g.wired[service] = true
	}
	return b
}

// Handler builds the gateway's full HTTP surface: the unauthenticated health
// check, the auth endpoints, the admin surface, and the /api/<service>/...
// pipeline catch-all.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)

	mux.HandleFunc("POST /auth/login", g.handleLogin)
	mux.HandleFunc("POST /auth/logout", g.handleLogout)
	mux.HandleFunc("POST /auth/refresh", g.handleRefresh)
	mux.HandleFunc("GET /auth/profile", g.handleProfile)
	mux.HandleFunc("/auth/api-keys", g.requireAdmin(g.handleAPIKeys))

	mux.HandleFunc("GET /metrics", g.requireAdmin(g.handleMetrics))
	mux.HandleFunc("GET /admin/services", g.requireAdmin(g.handleAdminServices))
	mux.HandleFunc("GET /admin/routes", g.requireAdmin(g.handleAdminRoutes))
	mux.HandleFunc("/admin/cache/", g.requireAdmin(g.handleAdminCache))
	mux.HandleFunc("/admin/plugins/", g.requireAdmin(g.handleAdminPlugins))

	mux.HandleFunc("/api/", g.handlePipeline)

	return mux
}

// Shutdown stops every background loop and releases external connections.
// It does not stop accepting HTTP connections; that is the listening
// server's responsibility, run before this is called.
func (g *Gateway) Shutdown() error {
	if g.watcher != nil {
		if err := g.watcher.Stop(); err != nil {
			logging.Warn("config watcher stop error", zap.Error(err))
		}
	}
	g.healthCheck.Stop()
	var closeErr error
	if g.redisClient != nil {
		if err := g.redisClient.Close(); err != nil {
			closeErr = fmt.Errorf("gateway: close redis client: %w", err)
		}
	}
	g.plugins.Shutdown()
	return closeErr
}

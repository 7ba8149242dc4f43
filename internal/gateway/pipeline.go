package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northbeam/gateway/internal/cache"
	"github.com/northbeam/gateway/internal/circuitbreaker"
	gwerrors "github.com/northbeam/gateway/internal/errors"
	"github.com/northbeam/gateway/internal/loadbalancer"
	"github.com/northbeam/gateway/internal/plugin"
	"github.com/northbeam/gateway/internal/proxy"
	"github.com/northbeam/gateway/internal/ratelimit"
	"github.com/northbeam/gateway/internal/reqcontext"
	"github.com/northbeam/gateway/internal/transform"
)

const gatewayVersion = "1.0.0"

var securityResponseHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"X-XSS-Protection":       "1; mode=block",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
	"Permissions-Policy":     "geolocation=(), microphone=(), camera=()",
}

func clientIPOf(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handlePipeline runs the full request pipeline for /api/<service>/... :
// security, rate limiting, request transform, auth, cache, circuit
// breaker, routing, the reverse proxy call, and response transform —
// exactly one terminal response is produced and every registered plugin
// hook point fires, even when an earlier stage short-circuits the rest.
func (g *Gateway) handlePipeline(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	maxBody := g.config.Limits.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	body, _ := io.ReadAll(r.Body)

	ctx := &reqcontext.Context{
		RequestID: requestID,
		StartedAt: start,
		ClientIP:  clientIPOf(r),
		Method:    r.Method,
		Path:      r.URL.Path,
		Query:     map[string][]string(r.URL.Query()),
		Header:    r.Header.Clone(),
		Body:      body,
	}

	service := g.rtr().Resolve(ctx.Method, ctx.Path, ctx.Header)
	var rateDecision ratelimit.Decision
	var cacheKey string
	var errKind string

	g.runHook(plugin.HookBeforeRequest, ctx, "")

	// Security
	if g.config.Security.Enabled {
		if gerr := g.filter.Check(ctx.ClientIP, ctx.Method, ctx.Path, r.Proto, ctx.Header, ctx.Body); gerr != nil {
			ctx.TerminalResponse = terminalFromError(gerr, requestID)
			errKind = string(gerr.Kind)
		}
	}

	// Rate limit: global IP window, plus the default per-identity quota keyed
	// on the same IP-derived identity pre-auth (the identity established by
	// Auth is not yet known at this point in the pipeline).
	if ctx.TerminalResponse == nil && g.config.RateLimit.Enabled {
		globalDecision := g.rateLimit.CheckGlobal(ctx.ClientIP)
		rateDecision = globalDecision
		if !globalDecision.Allowed {
			gerr := gwerrors.ErrRateLimited.WithRetryAfter(time.Until(globalDecision.ResetAt)).WithRequestID(requestID)
			ctx.TerminalResponse = terminalFromError(gerr, requestID)
			errKind = string(gerr.Kind)
		} else {
			quotaDecision := g.rateLimit.CheckQuota("ip:"+ctx.ClientIP, nil)
			rateDecision = quotaDecision
			if !quotaDecision.Allowed {
				gerr := gwerrors.ErrQuotaExceeded.WithRetryAfter(time.Until(quotaDecision.ResetAt)).WithRequestID(requestID)
				ctx.TerminalResponse = terminalFromError(gerr, requestID)
				errKind = string(gerr.Kind)
			} else if slow := ratelimit.SlowDown(g.config.RateLimit.GlobalMax-globalDecision.Remaining, g.config.RateLimit.SlowDownAfter, g.config.RateLimit.SlowDownDelay); slow > 0 {
				time.Sleep(slow)
			}
		}
	}

	// Request transform
	rules := transform.Resolve(g.rules(), ctx.Path)
	if ctx.TerminalResponse == nil && rules != nil {
		transform.Headers(ctx.Header, rules.Request)
		q := url.Values(ctx.Query)
		transform.SanitizeQuery(q)
		ctx.Query = map[string][]string(transform.Query(q, rules.Request))
		ctx.Body = transform.Body(ctx.Body, rules.Request)
	}

	g.runHook(plugin.HookBeforeAuth, ctx, "")

	// Auth
	if ctx.TerminalResponse == nil {
		verifyReq := &http.Request{
			Method: ctx.Method,
			Header: ctx.Header,
			URL:    &url.URL{Path: ctx.Path, RawQuery: url.Values(ctx.Query).Encode()},
		}
		principal, err := g.verifier.Verify(verifyReq)
		if err != nil {
			gerr, ok := gwerrors.As(err)
			if !ok {
				gerr = gwerrors.ErrUnauthenticated
			}
			w.Header().Set("WWW-Authenticate", g.verifier.Challenge())
			ctx.TerminalResponse = terminalFromError(gerr.WithRequestID(requestID), requestID)
			errKind = string(gerr.Kind)
		} else {
			ctx.Principal = principal
		}
	}

	g.runHook(plugin.HookAfterAuth, ctx, "")
	g.runHook(plugin.HookBeforeCache, ctx, "")

	// Cache lookup
	cacheable := ctx.TerminalResponse == nil && g.cacheHandler != nil && g.config.Cache.Enabled &&
		cache.ShouldCache(ctx.Method, 200, ctx.Header, http.Header{}) && !cache.HasSensitiveHeader(ctx.Header)
	if cacheable {
		cacheKey = cache.BuildKey(ctx.Method, ctx.Path, ctx.Query, ctx.Header)
		ctx.Decisions.CacheKey = cacheKey
		if entry, ok := g.cacheHandler.Get(cacheKey); ok {
			ctx.Decisions.CacheHit = true
			g.metricsC.RecordCacheHit(service)
			resp := reqcontext.NewResponse(entry.StatusCode)
			for k, v := range entry.Headers {
				resp.Header[k] = v
			}
			resp.Body = entry.Body
			ctx.TerminalResponse = resp
		} else {
			g.metricsC.RecordCacheMiss(service)
		}
	}
	if ctx.TerminalResponse == nil && g.cacheHandler != nil && !cache.ShouldCache(ctx.Method, 200, ctx.Header, http.Header{}) {
		if methods := g.cacheHandler.InvalidatorMethods(ctx.Path); containsMethod(methods, ctx.Method) {
			defer g.cacheHandler.Invalidate(ctx.Path)
		}
	}

	g.runHook(plugin.HookAfterCache, ctx, "")
	g.runHook(plugin.HookBeforeRouting, ctx, "")

	var breakerState string
	var forwardResult *proxy.Result
	var breaker *circuitbreaker.Breaker
	var instPtr *loadbalancer.Instance

	if ctx.TerminalResponse == nil {
		if service == "" || !g.rtr().Known(service) {
			gerr := gwerrors.ErrNotFound.WithDetails("no service matched the request path").WithRequestID(requestID)
			ctx.TerminalResponse = terminalFromError(gerr, requestID)
			errKind = string(gerr.Kind)
		}
	}

	if ctx.TerminalResponse == nil {
		breaker = g.breakerFor(service)
		ok, retryAfter := breaker.Allow()
		if !ok {
			gerr := gwerrors.ErrCircuitOpen.WithRetryAfter(retryAfter).WithRequestID(requestID)
			ctx.TerminalResponse = terminalFromError(gerr, requestID)
			errKind = string(gerr.Kind)
		} else {
			breakerState = breaker.Snapshot().State

			var gerr *gwerrors.GatewayError
			instPtr, gerr = g.rtr().Select(service, ctx.ClientIP)
			if gerr != nil {
				ctx.TerminalResponse = terminalFromError(gerr.WithRequestID(requestID), requestID)
				errKind = string(gerr.Kind)
				instPtr = nil
			} else {
				ctx.Service = service
				ctx.Instance = instPtr.Addr()
				ctx.Decisions.Service = service
				ctx.Decisions.Instance = instPtr.Addr()
			}
		}
	}

	// afterRouting fires exactly once here, whatever the routing block's
	// outcome was: a healthy instance selected, or a terminal response from
	// the known-service check, the breaker gate, or instance selection.
	g.runHook(plugin.HookAfterRouting, ctx, "")

	if ctx.TerminalResponse == nil && instPtr != nil {
		svcCfg, _ := g.rtr().Config(service)
		outbound := buildOutboundRequest(r, ctx)
		result, gerr := g.proxy.Forward(r.Context(), outbound, service, instPtr, svcCfg.PathPrefix, svcCfg.StripPrefix, breaker)
		if gerr != nil {
			ctx.TerminalResponse = terminalFromError(gerr.WithRequestID(requestID), requestID)
			errKind = string(gerr.Kind)
		} else {
			forwardResult = result
			ctx.TerminalResponse = &reqcontext.Response{Status: result.Status, Header: result.Header, Body: result.Body}
		}
	}

	// onError is the error-mapping tail: every terminal response backed by a
	// categorized GatewayError fires it exactly once, after the Kind that
	// produced it is final and before the response is serialized. A cache hit
	// or a genuine upstream 2xx/3xx never sets errKind, so onError stays
	// silent on the non-error path.
	if errKind != "" {
		g.runHook(plugin.HookOnError, ctx, errKind)
	}

	g.runHook(plugin.HookBeforeResponse, ctx, "")

	// Response transform, including cache store, only for a genuine upstream
	// response (not a short-circuit produced by an earlier stage, and not a
	// cache hit already serialized from a stored entry).
	if forwardResult != nil {
		if rules != nil {
			transform.Headers(ctx.TerminalResponse.Header, rules.Response)
			ctx.TerminalResponse.Body = transform.Body(ctx.TerminalResponse.Body, rules.Response)
		}
		ctx.TerminalResponse.Body = transform.Envelope(ctx.TerminalResponse.Body, requestID, service, ctx.Instance)
		if ctx.TerminalResponse.Status >= 400 {
			ctx.TerminalResponse.Body = transform.SupportEnvelope(ctx.TerminalResponse.Body, requestID)
		}
		if cacheable && cache.ShouldCache(ctx.Method, ctx.TerminalResponse.Status, ctx.Header, ctx.TerminalResponse.Header) {
			ttl := g.cacheHandler.ResolveTTL(ctx.Path, ctx.TerminalResponse.Header)
			g.cacheHandler.SetIfReconstructable(ctx.Path, cacheKey, ctx.TerminalResponse.Status, ctx.TerminalResponse.Header, ctx.TerminalResponse.Body, ttl)
		}
	}

	writePipelineResponse(w, ctx, rateDecision, cacheKey, service, requestID, start)

	g.runHook(plugin.HookAfterResponse, ctx, "")
	g.runHook(plugin.HookAfterRequest, ctx, errKind)

	status := 0
	if ctx.TerminalResponse != nil {
		status = ctx.TerminalResponse.Status
	}
	g.metricsC.RecordRequest(service, ctx.Method, status, time.Since(start))
	if breakerState != "" {
		g.metricsC.SetCircuitBreakerState(service, breakerState)
	}
}

func containsMethod(methods []string, method string) bool {
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func terminalFromError(gerr *gwerrors.GatewayError, requestID string) *reqcontext.Response {
	resp := reqcontext.NewResponse(gerr.Status())
	resp.Header.Set("Content-Type", "application/json")
	if gerr.RetryAfterSeconds > 0 {
		resp.Header.Set("Retry-After", strconv.Itoa(gerr.RetryAfterSeconds))
	}
	out := *gerr
	out.RequestID = requestID
	body, _ := json.Marshal(&out)
	resp.Body = body
	return resp
}

// buildOutboundRequest constructs the *http.Request proxy.Forward expects,
// carrying the (possibly request-transformed) method/path/query/header/body
// from ctx rather than the original inbound request.
func buildOutboundRequest(r *http.Request, ctx *reqcontext.Context) *http.Request {
	out := r.Clone(r.Context())
	out.Method = ctx.Method
	out.URL.Path = ctx.Path
	out.URL.RawQuery = url.Values(ctx.Query).Encode()
	out.Header = ctx.Header
	out.Header.Set("X-Forwarded-For", ctx.ClientIP)
	out.Body = io.NopCloser(bytes.NewReader(ctx.Body))
	out.ContentLength = int64(len(ctx.Body))
	return out
}

func writePipelineResponse(w http.ResponseWriter, ctx *reqcontext.Context, rateDecision ratelimit.Decision, cacheKey, service, requestID string, start time.Time) {
	h := w.Header()
	for k, v := range securityResponseHeaders {
		h.Set(k, v)
	}
	h.Set("X-Gateway-Version", gatewayVersion)
	h.Set("X-Request-Id", requestID)
	h.Set("X-Response-Time", time.Since(start).String())
	if service != "" {
		h.Set("X-Gateway-Service", service)
	}
	if ctx.Instance != "" {
		h.Set("X-Gateway-Instance", ctx.Instance)
	}
	if cacheKey != "" {
		h.Set("X-Cache-Key", cacheKey)
		if ctx.Decisions.CacheHit {
			h.Set("X-Cache", "HIT")
		} else {
			h.Set("X-Cache", "MISS")
		}
	}
	if rateDecision.Limit > 0 {
		rateDecision.WriteHeaders(h)
	}

	resp := ctx.TerminalResponse
	if resp == nil {
		resp = reqcontext.NewResponse(http.StatusInternalServerError)
	}
	for k, v := range resp.Header {
		if _, exists := h[k]; !exists {
			h[k] = v
		}
	}
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

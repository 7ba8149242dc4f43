// Package proxy forwards a transformed request to a selected service
// instance and streams the response back, feeding the result into the
// instance's circuit breaker and health tracking.
package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/northbeam/gateway/internal/circuitbreaker"
	"github.com/northbeam/gateway/internal/errors"
	"github.com/northbeam/gateway/internal/health"
	"github.com/northbeam/gateway/internal/loadbalancer"
)

// stripPrefix removes prefix from path, ensuring the remainder starts with a
// single leading slash.
func stripPrefix(prefix, path string) string {
	rest := strings.TrimPrefix(path, prefix)
	if rest == "" {
		return "/"
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

// hopHeaders are stripped from both the outbound request and the inbound
// response; they describe the immediate connection, not the payload.
var hopHeaders = []string{
	"Connection", "Proxy-Connection", "Keep-Alive", "Proxy-Authenticate",
	"Proxy-Authorization", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, hh := range hopHeaders {
		h.Del(hh)
	}
}

// Proxy holds the shared transport used for every upstream call.
type Proxy struct {
	transport http.RoundTripper
	checker   *health.Checker
}

// New builds a Proxy. checker may be nil if passive health recording is not
// wired for a given deployment.
func New(transport http.RoundTripper, checker *health.Checker) *Proxy {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Proxy{transport: transport, checker: checker}
}

// Result is what Forward reports back to the orchestrator so it can fill in
// reqcontext.StageDecisions without the proxy package depending on it.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Forward sends r to inst (stripping pathPrefix from the outbound path when
// strip is true), enforcing breaker.Timeout() as the per-call deadline, and
// records the outcome against breaker and, if configured, checker. service
// and inst.Addr() identify the instance for passive health tracking.
func (p *Proxy) Forward(ctx context.Context, r *http.Request, service string, inst *loadbalancer.Instance, pathPrefix string, strip bool, breaker *circuitbreaker.Breaker) (*Result, *errors.GatewayError) {
	inst.IncrActive()
	defer inst.DecrActive()

	timeout := breaker.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outPath := r.URL.Path
	if strip {
		outPath = stripPrefix(pathPrefix, outPath)
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, _ = io.ReadAll(r.Body)
	}

	targetURL := &url.URL{
		Scheme:   "http",
		Host:     inst.Host + ":" + strconv.Itoa(inst.Port),
		Path:     outPath,
		RawQuery: r.URL.RawQuery,
	}

	target, newReqErr := http.NewRequestWithContext(callCtx, r.Method, targetURL.String(), bytes.NewReader(bodyBytes))
	if newReqErr != nil {
		return nil, errors.ErrBadGateway.WithDetails(newReqErr.Error())
	}
	target.Host = inst.Addr()
	target.ContentLength = int64(len(bodyBytes))
	target.Header = make(http.Header, len(r.Header)+2)
	for k, vv := range r.Header {
		target.Header[k] = append([]string(nil), vv...)
	}
	removeHopHeaders(target.Header)
	if clientIP := r.Header.Get("X-Forwarded-For"); clientIP != "" {
		target.Header.Set("X-Forwarded-For", clientIP)
	}
	target.Header.Set("X-Gateway-Service", service)

	resp, err := p.transport.RoundTrip(target)
	if err != nil {
		p.recordFailure(service, inst, breaker, callCtx.Err() == context.DeadlineExceeded)
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, errors.ErrUpstreamTimeout.WithDetails(err.Error())
		}
		return nil, errors.ErrBadGateway.WithDetails(err.Error())
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		p.recordFailure(service, inst, breaker, false)
		return nil, errors.ErrBadGateway.WithDetails(readErr.Error())
	}

	if resp.StatusCode >= 500 {
		p.recordFailure(service, inst, breaker, false)
	} else {
		p.recordSuccess(service, inst, breaker)
	}

	header := resp.Header.Clone()
	removeHopHeaders(header)
	header.Set("X-Gateway-Instance", inst.Addr())

	return &Result{Status: resp.StatusCode, Header: header, Body: body}, nil
}

func (p *Proxy) recordSuccess(service string, inst *loadbalancer.Instance, breaker *circuitbreaker.Breaker) {
	breaker.RecordSuccess()
	if p.checker != nil {
		p.checker.RecordPassive(service, inst.Addr(), true)
	}
}

func (p *Proxy) recordFailure(service string, inst *loadbalancer.Instance, breaker *circuitbreaker.Breaker, isTimeout bool) {
	breaker.RecordFailure(isTimeout)
	if p.checker != nil {
		p.checker.RecordPassive(service, inst.Addr(), false)
	}
}

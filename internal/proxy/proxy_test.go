package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/northbeam/gateway/internal/circuitbreaker"
	"github.com/northbeam/gateway/internal/config"
	"github.com/northbeam/gateway/internal/loadbalancer"
)

func testBreaker() *circuitbreaker.Breaker {
	return circuitbreaker.New(config.CircuitBreakerConfig{
		Timeout:          time.Second,
		ErrorCount:       5,
		ErrorThreshold:   50,
		ResetTimeout:     time.Minute,
		HalfOpenRequests: 1,
	})
}

func instanceForServer(t *testing.T, srv *httptest.Server) *loadbalancer.Instance {
	t.Helper()
	u := strings.TrimPrefix(srv.URL, "http://")
	idx := strings.LastIndex(u, ":")
	port, err := strconv.Atoi(u[idx+1:])
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return loadbalancer.NewInstance(u[:idx], port, 1)
}

func TestForwardStripsPrefixAndReturnsBody(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("upstream body"))
	}))
	defer srv.Close()

	p := New(nil, nil)
	inst := instanceForServer(t, srv)
	r := httptest.NewRequest(http.MethodGet, "/users/123", nil)

	result, gwErr := p.Forward(context.Background(), r, "users", inst, "/users", true, testBreaker())
	if gwErr != nil {
		t.Fatalf("Forward: %v", gwErr)
	}
	if gotPath != "/123" {
		t.Errorf("upstream saw path %q, want /123", gotPath)
	}
	if result.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", result.Status)
	}
	if string(result.Body) != "upstream body" {
		t.Errorf("Body = %q, want upstream body", result.Body)
	}
}

func TestForwardWithoutStripKeepsFullPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(nil, nil)
	inst := instanceForServer(t, srv)
	r := httptest.NewRequest(http.MethodGet, "/users/123", nil)

	if _, gwErr := p.Forward(context.Background(), r, "users", inst, "/users", false, testBreaker()); gwErr != nil {
		t.Fatalf("Forward: %v", gwErr)
	}
	if gotPath != "/users/123" {
		t.Errorf("upstream saw path %q, want /users/123 unchanged", gotPath)
	}
}

func TestForwardStripsHopHeaders(t *testing.T) {
	var gotConnection string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(nil, nil)
	inst := instanceForServer(t, srv)
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set("Connection", "keep-alive")

	result, gwErr := p.Forward(context.Background(), r, "svc", inst, "/", true, testBreaker())
	if gwErr != nil {
		t.Fatalf("Forward: %v", gwErr)
	}
	if gotConnection != "" {
		t.Error("Connection header should be stripped before forwarding upstream")
	}
	if result.Header.Get("Connection") != "" {
		t.Error("Connection header should be stripped from the returned response")
	}
}

func TestForwardSetsGatewayInstanceHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(nil, nil)
	inst := instanceForServer(t, srv)
	r := httptest.NewRequest(http.MethodGet, "/x", nil)

	result, gwErr := p.Forward(context.Background(), r, "svc", inst, "/", true, testBreaker())
	if gwErr != nil {
		t.Fatalf("Forward: %v", gwErr)
	}
	if result.Header.Get("X-Gateway-Instance") != inst.Addr() {
		t.Errorf("X-Gateway-Instance = %q, want %q", result.Header.Get("X-Gateway-Instance"), inst.Addr())
	}
}

func TestForward5xxRecordsBreakerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(nil, nil)
	inst := instanceForServer(t, srv)
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	breaker := testBreaker()

	result, gwErr := p.Forward(context.Background(), r, "svc", inst, "/", true, breaker)
	if gwErr != nil {
		t.Fatalf("a 5xx upstream response is not itself a proxy error: %v", gwErr)
	}
	if result.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", result.Status)
	}
	snap := breaker.Snapshot()
	if snap.Failures == 0 {
		t.Error("a 5xx response should count as a breaker failure")
	}
}

func TestForwardTimeoutReturnsUpstreamTimeoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(nil, nil)
	inst := instanceForServer(t, srv)
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	breaker := circuitbreaker.New(config.CircuitBreakerConfig{
		Timeout:          10 * time.Millisecond,
		ErrorCount:       5,
		ErrorThreshold:   50,
		ResetTimeout:     time.Minute,
		HalfOpenRequests: 1,
	})

	_, gwErr := p.Forward(context.Background(), r, "svc", inst, "/", true, breaker)
	if gwErr == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestForwardIncrementsAndDecrementsActiveConns(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(nil, nil)
	inst := instanceForServer(t, srv)
	r := httptest.NewRequest(http.MethodGet, "/x", nil)

	done := make(chan struct{})
	go func() {
		p.Forward(context.Background(), r, "svc", inst, "/", true, testBreaker())
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for inst.ActiveConns() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if inst.ActiveConns() != 1 {
		t.Fatalf("ActiveConns = %d while request in flight, want 1", inst.ActiveConns())
	}

	close(release)
	<-done
	if inst.ActiveConns() != 0 {
		t.Errorf("ActiveConns = %d after completion, want 0", inst.ActiveConns())
	}
}

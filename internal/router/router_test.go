package router

import (
	"net/http"
	"testing"

	"github.com/northbeam/gateway/internal/config"
)

func testConfig() config.RoutingConfig {
	return config.RoutingConfig{
		Services: []config.ServiceConfig{
			{
				Name:          "users",
				PathPrefix:    "/api/users",
				StripPrefix:   true,
				LoadBalancing: "ROUND_ROBIN",
				Instances: []config.InstanceConfig{
					{Host: "10.0.0.1", Port: 9001, Weight: 1},
					{Host: "10.0.0.2", Port: 9002, Weight: 1},
				},
			},
		},
	}
}

func TestResolveFromPath(t *testing.T) {
	r := New(testConfig())

	cases := []struct {
		path string
		want string
	}{
		{"/api/users/42", "users"},
		{"/api/users", "users"},
		{"/api/orders/7", "orders"},
	}
	for _, c := range cases {
		got := r.Resolve(http.MethodGet, c.path, http.Header{})
		if got != c.want {
			t.Errorf("Resolve(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestResolveFallsBackToHeader(t *testing.T) {
	r := New(testConfig())
	header := http.Header{"X-Service-Name": []string{"users"}}

	got := r.Resolve(http.MethodGet, "/healthz", header)
	if got != "users" {
		t.Errorf("expected header fallback to resolve 'users', got %q", got)
	}
}

func TestKnownAndConfig(t *testing.T) {
	r := New(testConfig())

	if !r.Known("users") {
		t.Fatal("expected 'users' to be known")
	}
	if r.Known("orders") {
		t.Fatal("expected 'orders' to be unknown")
	}

	cfg, ok := r.Config("users")
	if !ok || cfg.PathPrefix != "/api/users" {
		t.Fatalf("unexpected config for 'users': %+v, ok=%v", cfg, ok)
	}
}

func TestSelectUnknownService(t *testing.T) {
	r := New(testConfig())

	_, gerr := r.Select("orders", "1.2.3.4")
	if gerr == nil {
		t.Fatal("expected an error selecting an unknown service")
	}
}

func TestSelectRoundRobin(t *testing.T) {
	r := New(testConfig())

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		inst, gerr := r.Select("users", "1.2.3.4")
		if gerr != nil {
			t.Fatalf("unexpected error: %v", gerr)
		}
		seen[inst.Addr()]++
	}
	if len(seen) != 2 {
		t.Fatalf("expected both instances to be dispatched to, got %v", seen)
	}
}

func TestSelectNoHealthyInstance(t *testing.T) {
	r := New(testConfig())

	r.OnHealthChange("users", "10.0.0.1:9001", false)
	r.OnHealthChange("users", "10.0.0.2:9002", false)

	_, gerr := r.Select("users", "1.2.3.4")
	if gerr == nil {
		t.Fatal("expected NoHealthyInstance when every instance is unhealthy")
	}
}

func TestOnHealthChangeRestoresSelection(t *testing.T) {
	r := New(testConfig())

	r.OnHealthChange("users", "10.0.0.1:9001", false)

	for i := 0; i < 4; i++ {
		inst, gerr := r.Select("users", "1.2.3.4")
		if gerr != nil {
			t.Fatalf("unexpected error: %v", gerr)
		}
		if inst.Addr() == "10.0.0.1:9001" {
			t.Fatal("unhealthy instance must not be selected")
		}
	}
}

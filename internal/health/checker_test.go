package health

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/northbeam/gateway/internal/loadbalancer"
)

func instanceForServer(t *testing.T, srv *httptest.Server) *loadbalancer.Instance {
	t.Helper()
	host, portStr, err := splitHostPort(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return loadbalancer.NewInstance(host, port, 1)
}

func splitHostPort(url string) (string, string, error) {
	url = strings.TrimPrefix(url, "http://")
	idx := strings.LastIndex(url, ":")
	return url[:idx], url[idx+1:], nil
}

func TestCheckerMarksInstanceHealthyOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	inst := instanceForServer(t, srv)
	c := NewChecker(10*time.Millisecond, nil)
	defer c.Stop()
	c.Track("svc", inst, "/health", time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if inst.Healthy() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("instance should remain healthy after successful probes")
}

func TestCheckerMarksUnhealthyAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	inst := instanceForServer(t, srv)
	c := NewChecker(5*time.Millisecond, nil)
	defer c.Stop()
	c.Track("svc", inst, "/health", time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !inst.Healthy() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("instance should be marked unhealthy after repeated failing probes")
}

func TestCheckerOnChangeFiresOnTransition(t *testing.T) {
	inst := loadbalancer.NewInstance("127.0.0.1", 1, 1)

	changes := make(chan bool, 10)
	c := NewChecker(time.Hour, func(service, addr string, healthy bool) { changes <- healthy })
	defer c.Stop()
	c.Track("svc", inst, "/health", time.Second)
	// Stop the background loop's first automatic probe from interfering;
	// drive state purely through RecordPassive for a deterministic test.
	time.Sleep(10 * time.Millisecond)
	for len(changes) > 0 {
		<-changes
	}

	for i := 0; i < unhealthyAfter; i++ {
		c.RecordPassive("svc", inst.Addr(), false)
	}

	select {
	case healthy := <-changes:
		if healthy {
			t.Error("onChange should report unhealthy after crossing the failure threshold")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onChange after consecutive failures")
	}

	c.RecordPassive("svc", inst.Addr(), true)
	select {
	case healthy := <-changes:
		if !healthy {
			t.Error("onChange should report healthy again after a success")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for onChange after recovery")
	}
}

func TestCheckerAllStatus(t *testing.T) {
	inst := loadbalancer.NewInstance("127.0.0.1", 2, 1)
	c := NewChecker(time.Hour, nil)
	defer c.Stop()
	c.Track("svc", inst, "/health", time.Second)
	time.Sleep(10 * time.Millisecond)

	status := c.AllStatus()
	snaps, ok := status["svc"]
	if !ok || len(snaps) != 1 {
		t.Fatalf("AllStatus()[svc] = %v, want one snapshot", snaps)
	}
	if snaps[0].Addr != inst.Addr() {
		t.Errorf("snapshot Addr = %q, want %q", snaps[0].Addr, inst.Addr())
	}
}

func TestCheckerUntrackStopsTracking(t *testing.T) {
	inst := loadbalancer.NewInstance("127.0.0.1", 3, 1)
	c := NewChecker(time.Hour, nil)
	defer c.Stop()
	c.Track("svc", inst, "/health", time.Second)
	c.Untrack("svc", inst.Addr())

	if snaps := c.AllStatus()["svc"]; len(snaps) != 0 {
		t.Errorf("AllStatus() after Untrack = %v, want empty", snaps)
	}
}

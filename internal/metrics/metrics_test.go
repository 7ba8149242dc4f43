package metrics

import "testing"

func TestRecordRequestAccumulatesCountAndLatency(t *testing.T) {
	c := NewCollector(10, 10, 10)
	c.RecordRequest("users", "GET", 200, 50_000_000) // 50ms

	snap := c.Snapshot()
	if got := snap.RequestsTotal["users|GET|200"]; got != 1 {
		t.Errorf("RequestsTotal = %d, want 1", got)
	}
	if snap.AverageResponseTimeMs != 50 {
		t.Errorf("AverageResponseTimeMs = %v, want 50", snap.AverageResponseTimeMs)
	}
}

func TestCacheHitMissCounters(t *testing.T) {
	c := NewCollector(10, 10, 10)
	c.RecordCacheHit("users")
	c.RecordCacheHit("users")
	c.RecordCacheMiss("users")

	snap := c.Snapshot()
	if snap.CacheHits["users"] != 2 {
		t.Errorf("CacheHits = %d, want 2", snap.CacheHits["users"])
	}
	if snap.CacheMisses["users"] != 1 {
		t.Errorf("CacheMisses = %d, want 1", snap.CacheMisses["users"])
	}
}

func TestCircuitBreakerStateAndBackendHealth(t *testing.T) {
	c := NewCollector(10, 10, 10)
	c.SetCircuitBreakerState("users", "OPEN")
	c.SetBackendHealth("users", "10.0.0.1:9001", false)

	snap := c.Snapshot()
	if snap.CircuitBreakerState["users"] != "OPEN" {
		t.Errorf("CircuitBreakerState = %q, want OPEN", snap.CircuitBreakerState["users"])
	}
	if snap.BackendHealth["users|10.0.0.1:9001"] {
		t.Error("BackendHealth should report false for an unhealthy instance")
	}
}

func TestRecordAlertAppendsAndBounds(t *testing.T) {
	c := NewCollector(10, 10, 2)
	c.RecordAlert("first")
	c.RecordAlert("second")
	c.RecordAlert("third")

	snap := c.Snapshot()
	if len(snap.Alerts) != 2 {
		t.Fatalf("Alerts len = %d, want bounded to 2", len(snap.Alerts))
	}
	if snap.Alerts[0].Message != "second" || snap.Alerts[1].Message != "third" {
		t.Errorf("Alerts = %+v, want the oldest entry evicted", snap.Alerts)
	}
}

func TestResponseTimeRingEvictsOldest(t *testing.T) {
	c := NewCollector(2, 10, 10)
	c.RecordRequest("svc", "GET", 200, 10_000_000) // 10ms
	c.RecordRequest("svc", "GET", 200, 20_000_000) // 20ms
	c.RecordRequest("svc", "GET", 200, 30_000_000) // 30ms, evicts the 10ms sample

	snap := c.Snapshot()
	if snap.AverageResponseTimeMs != 25 {
		t.Errorf("AverageResponseTimeMs = %v, want 25 (average of 20 and 30)", snap.AverageResponseTimeMs)
	}
}

func TestSampleResourcesPopulatesAverages(t *testing.T) {
	c := NewCollector(10, 10, 10)
	c.SampleResources()

	snap := c.Snapshot()
	if snap.AverageMemoryBytes <= 0 {
		t.Error("AverageMemoryBytes should be positive after a sample")
	}
}

func TestSnapshotUptimeIsNonNegative(t *testing.T) {
	c := NewCollector(10, 10, 10)
	if snap := c.Snapshot(); snap.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %v, want >= 0", snap.UptimeSeconds)
	}
}

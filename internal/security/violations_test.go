package security

import (
	"testing"
	"time"
)

func TestViolationTrackerRecordsUntilAutoDeny(t *testing.T) {
	tr := NewViolationTracker(time.Minute, 2)

	if tr.Record("1.2.3.4") {
		t.Error("1st violation should not trigger auto-deny")
	}
	if tr.Record("1.2.3.4") {
		t.Error("2nd violation should not trigger auto-deny")
	}
	if !tr.Record("1.2.3.4") {
		t.Error("3rd violation should trigger auto-deny (threshold exceeded)")
	}
}

func TestViolationTrackerIsAutoDeniedReflectsRecordedState(t *testing.T) {
	tr := NewViolationTracker(time.Minute, 1)
	if tr.IsAutoDenied("1.2.3.4") {
		t.Error("IP with no violations should not be auto-denied")
	}
	tr.Record("1.2.3.4")
	tr.Record("1.2.3.4")
	if !tr.IsAutoDenied("1.2.3.4") {
		t.Error("IP past the threshold should be auto-denied")
	}
}

func TestViolationTrackerIsolatesIPs(t *testing.T) {
	tr := NewViolationTracker(time.Minute, 1)
	tr.Record("1.2.3.4")
	tr.Record("1.2.3.4")
	if tr.IsAutoDenied("5.6.7.8") {
		t.Error("unrelated IP should not be affected")
	}
}

func TestViolationTrackerDisabledWhenAutoDenyZero(t *testing.T) {
	tr := NewViolationTracker(time.Minute, 0)
	for i := 0; i < 10; i++ {
		if tr.Record("1.2.3.4") {
			t.Fatal("auto-deny should never trigger when the threshold is 0 (disabled)")
		}
	}
}

func TestViolationTrackerWindowExpires(t *testing.T) {
	tr := NewViolationTracker(10*time.Millisecond, 1)
	tr.Record("1.2.3.4")
	tr.Record("1.2.3.4")
	if !tr.IsAutoDenied("1.2.3.4") {
		t.Fatal("setup: should be auto-denied immediately after 2 violations with threshold 1")
	}
	time.Sleep(30 * time.Millisecond)
	if tr.IsAutoDenied("1.2.3.4") {
		t.Error("violations older than the window should no longer count")
	}
}

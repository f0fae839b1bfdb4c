package ratelimit

import (
	"testing"
	"time"
)

func TestPerMinuteWindow(t *testing.T) {
	l := NewLimiter()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 3; i++ {
		l.Record("proj_a")
	}
	if got := l.PerMinute("proj_a"); got != 3 {
		t.Errorf("PerMinute = %d, want 3", got)
	}

	// 61 seconds later the minute window is empty, the hour window is not.
	now = now.Add(61 * time.Second)
	if got := l.PerMinute("proj_a"); got != 0 {
		t.Errorf("PerMinute after window = %d, want 0", got)
	}
	if got := l.PerHour("proj_a"); got != 3 {
		t.Errorf("PerHour = %d, want 3", got)
	}
}

func TestProjectIsolation(t *testing.T) {
	l := NewLimiter()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	for i := 0; i < 10; i++ {
		l.Record("proj_a")
	}
	if got := l.PerMinute("proj_b"); got != 0 {
		t.Errorf("project b count = %d, want 0", got)
	}
	if got := l.PerHour("proj_b"); got != 0 {
		t.Errorf("project b hourly = %d, want 0", got)
	}
}

func TestPruneBeyondHorizon(t *testing.T) {
	l := NewLimiter()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	l.Record("proj_a")
	now = now.Add(3 * time.Hour)
	l.Record("proj_a")

	l.mu.Lock()
	n := len(l.windows["proj_a"])
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("window length = %d, want 1 (old entry pruned)", n)
	}
}

func TestReset(t *testing.T) {
	l := NewLimiter()
	l.Record("proj_a")
	l.Reset("proj_a")
	if got := l.PerHour("proj_a"); got != 0 {
		t.Errorf("count after reset = %d", got)
	}
}

// Package ratelimit provides per-project request counters for the cost guard.
//
// Counters are kept in memory for latency. Under a multi-process deployment
// they are per-process and best-effort.
package ratelimit

import (
	"sync"
	"time"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

// pruneHorizon bounds memory: requests older than this are dropped on every
// record.
const pruneHorizon = 2 * time.Hour

// Limiter tracks request timestamps per project and answers sliding-window
// requests-per-minute and requests-per-hour questions.
type Limiter struct {
	mu      sync.Mutex
	windows map[models.ProjectID][]time.Time
	now     func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[models.ProjectID][]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the clock source. Tests use this to control time.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Record notes one request for the project and prunes entries past the
// horizon.
func (l *Limiter) Record(projectID models.ProjectID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := append(l.windows[projectID], now)
	l.windows[projectID] = pruneBefore(window, now.Add(-pruneHorizon))
}

// CountSince returns the number of requests for the project at or after the
// cutoff.
func (l *Limiter) CountSince(projectID models.ProjectID, cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, t := range l.windows[projectID] {
		if !t.Before(cutoff) {
			n++
		}
	}
	return n
}

// PerMinute returns the request count in the trailing minute.
func (l *Limiter) PerMinute(projectID models.ProjectID) int {
	return l.CountSince(projectID, l.clock().Add(-time.Minute))
}

// PerHour returns the request count in the trailing hour.
func (l *Limiter) PerHour(projectID models.ProjectID) int {
	return l.CountSince(projectID, l.clock().Add(-time.Hour))
}

// Reset drops all state for a project.
func (l *Limiter) Reset(projectID models.ProjectID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, projectID)
}

func (l *Limiter) clock() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now()
}

func pruneBefore(window []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(window) && window[idx].Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return window
	}
	kept := make([]time.Time, len(window)-idx)
	copy(kept, window[idx:])
	return kept
}

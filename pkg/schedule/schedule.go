// Package schedule decides when the next sample cycle is due.
package schedule

import "time"

// Mode selects how the scheduler re-arms after a fire.
type Mode int

const (
	// AnchorNow records the poll time of each fire as the new reference, so
	// consecutive fires are always at least one period apart.
	AnchorNow Mode = iota
	// PhaseLocked snaps the reference to the latest multiple of the period at
	// or before the poll time. Fires stay on the start-time grid (no long-term
	// drift); periods missed during an overrun are skipped, not replayed.
	PhaseLocked
)

// Scheduler is a non-blocking fixed-rate trigger for a cooperative poll loop.
// It is not safe for concurrent use.
//
// A period of zero or less is the degenerate "as fast as possible" mode: every
// call to Tick fires.
type Scheduler struct {
	period time.Duration
	mode   Mode
	last   time.Duration
}

// New returns a scheduler whose first fire is due one period after elapsed
// time zero.
func New(period time.Duration, mode Mode) *Scheduler {
	return &Scheduler{period: period, mode: mode}
}

// Period returns the configured sample period.
func (s *Scheduler) Period() time.Duration { return s.period }

// FreeRunning reports whether the scheduler fires on every poll.
func (s *Scheduler) FreeRunning() bool { return s.period <= 0 }

// Tick reports whether a cycle is due at elapsed time now. On true the caller
// must run exactly one acquisition-and-report cycle.
func (s *Scheduler) Tick(now time.Duration) bool {
	if s.period <= 0 {
		s.last = now
		return true
	}
	if now-s.last < s.period {
		return false
	}
	switch s.mode {
	case PhaseLocked:
		s.last = now - now%s.period
	default:
		s.last = now
	}
	return true
}

// Last returns the reference time recorded by the most recent fire.
func (s *Scheduler) Last() time.Duration { return s.last }

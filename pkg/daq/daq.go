// Package daq runs the acquisition loop: poll the scheduler, sample every
// sensor once when a cycle is due, hand the record to the reporter.
package daq

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericogr/tms-daq/pkg/record"
	"github.com/ericogr/tms-daq/pkg/schedule"
)

// Sampler produces one complete cycle. Read faults live inside the cycle.
type Sampler interface {
	Sample(ctx context.Context, elapsed time.Duration) record.Cycle
}

// Emitter delivers a finished cycle.
type Emitter interface {
	Emit(c record.Cycle) error
}

// Stats summarizes a run.
type Stats struct {
	Cycles     uint64
	Overruns   uint64 // cycles that took longer than the period
	EmitErrors uint64
	Faults     [len(record.Fields)]uint64 // faulted cycles per field
}

type Option func(*Loop)

// WithClock replaces the elapsed-time source (default: time since New).
func WithClock(elapsed func() time.Duration) Option {
	return func(l *Loop) { l.elapsed = elapsed }
}

// WithIdle sets the sleep between polls that did not fire. Zero spins.
func WithIdle(d time.Duration) Option {
	return func(l *Loop) { l.idle = d }
}

// Loop is the single acquisition actor. It is not safe for concurrent use.
type Loop struct {
	sched   *schedule.Scheduler
	sampler Sampler
	emitter Emitter
	elapsed func() time.Duration
	idle    time.Duration

	faulted [len(record.Fields)]bool
	stats   Stats
}

func New(sched *schedule.Scheduler, sampler Sampler, emitter Emitter, opts ...Option) *Loop {
	start := time.Now()
	l := &Loop{
		sched:   sched,
		sampler: sampler,
		emitter: emitter,
		elapsed: func() time.Duration { return time.Since(start) },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run polls until ctx is cancelled. Shutdown is not an error.
func (l *Loop) Run(ctx context.Context) error {
	if l.sched.FreeRunning() {
		slog.Warn("sample period <= 0, sampling as fast as possible")
	}
	var timer *time.Timer
	if l.idle > 0 {
		timer = time.NewTimer(l.idle)
		defer timer.Stop()
	}
	for ctx.Err() == nil {
		if l.Poll(ctx) || timer == nil {
			continue
		}
		timer.Reset(l.idle)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	return nil
}

// Poll checks the scheduler once and runs a cycle when one is due.
func (l *Loop) Poll(ctx context.Context) bool {
	now := l.elapsed()
	if !l.sched.Tick(now) {
		return false
	}
	l.cycle(ctx, now)
	return true
}

func (l *Loop) cycle(ctx context.Context, now time.Duration) {
	c := l.sampler.Sample(ctx, now)
	if ctx.Err() != nil {
		// reads were cut short by shutdown, not by the sensors
		return
	}
	l.stats.Cycles++
	l.trackFaults(c)
	if err := l.emitter.Emit(c); err != nil {
		l.stats.EmitErrors++
	}
	if p := l.sched.Period(); p > 0 {
		if took := l.elapsed() - now; took > p {
			l.stats.Overruns++
			slog.Debug("cycle overran period", "took", took, "period", p)
		}
	}
}

// trackFaults logs per-field fault transitions, not every faulted cycle.
func (l *Loop) trackFaults(c record.Cycle) {
	for i, f := range record.Fields {
		r := c.Get(f)
		switch {
		case !r.OK():
			l.stats.Faults[i]++
			if !l.faulted[i] {
				l.faulted[i] = true
				slog.Warn("sensor read fault", "field", f.String(), "err", r.Err, "elapsed_ms", c.ElapsedMs())
			}
		case l.faulted[i]:
			l.faulted[i] = false
			slog.Info("sensor recovered", "field", f.String(), "elapsed_ms", c.ElapsedMs())
		}
	}
}

func (l *Loop) Stats() Stats { return l.stats }

// LogSummary writes the run statistics at info level.
func (l *Loop) LogSummary() {
	s := l.stats
	args := []any{"cycles", s.Cycles, "overruns", s.Overruns, "emit_errors", s.EmitErrors}
	for i, f := range record.Fields {
		args = append(args, "faults_"+f.String(), s.Faults[i])
	}
	slog.Info("acquisition stopped", args...)
}

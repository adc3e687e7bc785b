// Package output delivers finished sample cycles to their sinks.
package output

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/ericogr/tms-daq/pkg/record"
	"github.com/ericogr/tms-daq/pkg/schedule"
)

// ErrDropped is returned by Publish when a congested sink discarded a whole
// record instead of waiting for it.
var ErrDropped = errors.New("record dropped")

// Output is a record sink. Publish must not block past the sink's own bound.
type Output interface {
	Publish(c record.Cycle) error
	Close() error
}

// SinkStats counts what happened to the records offered to one sink.
type SinkStats struct {
	Name      string
	Published uint64
	Dropped   uint64
	Failed    uint64
}

type sink struct {
	out     Output
	sched   *schedule.Scheduler
	stats   SinkStats
	failing bool
}

// Reporter fans each cycle out to its outputs. Every output has its own
// interval; an interval <= 0 publishes every cycle. Not safe for concurrent use.
type Reporter struct {
	sinks []*sink
}

func NewReporter() *Reporter { return &Reporter{} }

// Add registers out under name.
func (r *Reporter) Add(name string, out Output, interval time.Duration) {
	r.sinks = append(r.sinks, &sink{
		out:   out,
		sched: schedule.New(interval, schedule.AnchorNow),
		stats: SinkStats{Name: name},
	})
}

func (r *Reporter) Len() int { return len(r.sinks) }

// Emit offers c to every output that is due. A failing output never stops
// the others; the combined error is returned.
func (r *Reporter) Emit(c record.Cycle) error {
	var err error
	for _, s := range r.sinks {
		if !s.sched.Tick(c.Elapsed) {
			continue
		}
		perr := s.out.Publish(c)
		switch {
		case perr == nil:
			s.stats.Published++
			if s.failing {
				s.failing = false
				slog.Info("output recovered", "output", s.stats.Name)
			}
			continue
		case errors.Is(perr, ErrDropped):
			s.stats.Dropped++
		default:
			s.stats.Failed++
		}
		if !s.failing {
			s.failing = true
			slog.Warn("output failing", "output", s.stats.Name, "err", perr)
		}
		err = multierr.Append(err, fmt.Errorf("%s: %w", s.stats.Name, perr))
	}
	return err
}

// Stats returns a snapshot per output in registration order.
func (r *Reporter) Stats() []SinkStats {
	out := make([]SinkStats, 0, len(r.sinks))
	for _, s := range r.sinks {
		out = append(out, s.stats)
	}
	return out
}

// Close closes every output.
func (r *Reporter) Close() error {
	var err error
	for _, s := range r.sinks {
		if cerr := s.out.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", s.stats.Name, cerr))
		}
	}
	return err
}

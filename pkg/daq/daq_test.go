package daq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/tms-daq/pkg/record"
	"github.com/ericogr/tms-daq/pkg/schedule"
)

type fakeSampler struct {
	calls int
	fault func(n int) map[record.Field]bool
	onRun func()
}

func (s *fakeSampler) Sample(_ context.Context, elapsed time.Duration) record.Cycle {
	s.calls++
	if s.onRun != nil {
		s.onRun()
	}
	c := record.Cycle{
		Elapsed:      elapsed,
		Pressure:     record.Valid(1),
		Temperature1: record.Valid(2),
		Temperature2: record.Valid(3),
		Force:        record.Valid(4),
	}
	if s.fault != nil {
		faults := s.fault(s.calls)
		if faults[record.FieldTemperature1] {
			c.Temperature1 = record.Faulted(errors.New("open"))
		}
		if faults[record.FieldForce] {
			c.Force = record.Faulted(errors.New("timeout"))
		}
	}
	return c
}

type collector struct {
	cycles []record.Cycle
	err    error
}

func (c *collector) Emit(cycle record.Cycle) error {
	c.cycles = append(c.cycles, cycle)
	return c.err
}

type manualClock struct{ now time.Duration }

func (m *manualClock) elapsed() time.Duration { return m.now }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func TestPollScenario(t *testing.T) {
	clk := &manualClock{}
	out := &collector{}
	l := New(schedule.New(ms(10), schedule.PhaseLocked), &fakeSampler{}, out, WithClock(clk.elapsed))

	var fired []time.Duration
	for _, at := range []int{0, 4, 9, 11, 20} {
		clk.now = ms(at)
		if l.Poll(context.Background()) {
			fired = append(fired, clk.now)
		}
	}
	assert.Equal(t, []time.Duration{ms(11), ms(20)}, fired)
	require.Len(t, out.cycles, 2)
	assert.Equal(t, int64(11), out.cycles[0].ElapsedMs())
	assert.Equal(t, int64(20), out.cycles[1].ElapsedMs())
	assert.Equal(t, uint64(2), l.Stats().Cycles)
}

func TestOverrunCounted(t *testing.T) {
	clk := &manualClock{}
	sampler := &fakeSampler{}
	sampler.onRun = func() {
		if sampler.calls == 1 {
			clk.now += ms(15)
		}
	}
	l := New(schedule.New(ms(10), schedule.AnchorNow), sampler, &collector{}, WithClock(clk.elapsed))

	clk.now = ms(10)
	require.True(t, l.Poll(context.Background()))
	// the first cycle ended at 25, a full period after the fire at 10
	require.True(t, l.Poll(context.Background()))
	require.False(t, l.Poll(context.Background()))
	assert.Equal(t, uint64(1), l.Stats().Overruns)
	assert.Equal(t, uint64(2), l.Stats().Cycles)
}

func TestFaultsCountedPerField(t *testing.T) {
	clk := &manualClock{}
	sampler := &fakeSampler{fault: func(n int) map[record.Field]bool {
		return map[record.Field]bool{record.FieldTemperature1: n <= 2, record.FieldForce: n == 3}
	}}
	out := &collector{err: errors.New("sink down")}
	l := New(schedule.New(0, schedule.AnchorNow), sampler, out, WithClock(clk.elapsed))

	for i := 0; i < 4; i++ {
		require.True(t, l.Poll(context.Background()))
	}
	s := l.Stats()
	assert.Equal(t, uint64(4), s.Cycles)
	assert.Equal(t, uint64(4), s.EmitErrors)
	assert.Equal(t, [4]uint64{0, 2, 0, 1}, s.Faults)
	// every cycle is still emitted whole
	require.Len(t, out.cycles, 4)
	assert.Equal(t, []record.Field{record.FieldTemperature1}, out.cycles[0].Faults())
	assert.Empty(t, out.cycles[3].Faults())
	l.LogSummary()
}

func TestCancelledCycleNotEmitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sampler := &fakeSampler{onRun: cancel}
	out := &collector{}
	l := New(schedule.New(0, schedule.AnchorNow), sampler, out)
	require.NoError(t, l.Run(ctx))
	assert.Equal(t, 1, sampler.calls)
	assert.Empty(t, out.cycles)
}

func TestRunRealClock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	out := &collector{}
	l := New(schedule.New(ms(10), schedule.AnchorNow), &fakeSampler{}, out, WithIdle(100*time.Microsecond))
	require.NoError(t, l.Run(ctx))

	require.GreaterOrEqual(t, len(out.cycles), 3)
	for i := 1; i < len(out.cycles); i++ {
		gap := out.cycles[i].Elapsed - out.cycles[i-1].Elapsed
		assert.GreaterOrEqual(t, gap, ms(10))
	}
}

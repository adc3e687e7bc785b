package schedule

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const ms = time.Millisecond

func fires(s *Scheduler, polls ...time.Duration) []time.Duration {
	var out []time.Duration
	for _, p := range polls {
		if s.Tick(p * ms) {
			out = append(out, p*ms)
		}
	}
	return out
}

func TestTick_AnchorNow(t *testing.T) {
	s := New(10*ms, AnchorNow)
	got := fires(s, 0, 4, 9, 11, 20, 21, 30, 31)
	assert.Equal(t, []time.Duration{11 * ms, 21 * ms, 31 * ms}, got)
}

func TestTick_PhaseLocked(t *testing.T) {
	s := New(10*ms, PhaseLocked)
	got := fires(s, 0, 4, 9, 11, 20)
	assert.Equal(t, []time.Duration{11 * ms, 20 * ms}, got)
}

func TestTick_PhaseLockedSkipsMissedPeriods(t *testing.T) {
	s := New(10*ms, PhaseLocked)
	assert.True(t, s.Tick(10*ms))
	// A 35 ms overrun fires once, then waits for the next grid slot.
	assert.True(t, s.Tick(45*ms))
	assert.Equal(t, 40*ms, s.Last())
	assert.False(t, s.Tick(46*ms))
	assert.False(t, s.Tick(49*ms))
	assert.True(t, s.Tick(50*ms))
}

func TestTick_OverrunDoesNotRefireBackToBack(t *testing.T) {
	s := New(10*ms, AnchorNow)
	assert.True(t, s.Tick(10*ms))
	assert.True(t, s.Tick(55*ms)) // long cycle
	assert.False(t, s.Tick(56*ms))
	assert.False(t, s.Tick(64*ms))
	assert.True(t, s.Tick(65*ms))
}

func TestTick_GapNeverBelowPeriod(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, period := range []time.Duration{1 * ms, 7 * ms, 10 * ms, 250 * ms} {
		s := New(period, AnchorNow)
		now := time.Duration(0)
		var last time.Duration
		fired := false
		for i := 0; i < 5000; i++ {
			now += time.Duration(rng.Int63n(int64(3 * period)))
			if s.Tick(now) {
				if fired {
					assert.GreaterOrEqual(t, now-last, period)
				}
				last, fired = now, true
			}
		}
		assert.True(t, fired)
	}
}

func TestTick_AtMostOncePerCall(t *testing.T) {
	s := New(10*ms, AnchorNow)
	assert.True(t, s.Tick(100*ms))
	// Same instant again: nothing is owed even though ten periods passed.
	assert.False(t, s.Tick(100*ms))
}

func TestTick_ZeroPeriodFiresEveryPoll(t *testing.T) {
	for _, period := range []time.Duration{0, -5 * ms} {
		s := New(period, AnchorNow)
		assert.True(t, s.FreeRunning())
		for _, p := range []time.Duration{0, 0, 1, 1, 2, 100} {
			assert.True(t, s.Tick(p*ms))
		}
	}
}

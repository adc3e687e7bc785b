package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ericogr/tms-daq/pkg/config"
)

// simulatedTareCounts is the load-cell zero reading the simulation starts at.
const simulatedTareCounts = 84_000

var errSimulatedConversion = errors.New("simulated conversion error")

// simulator is the shared signal source behind the simulated drivers.
type simulator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	start     time.Time
	now       func() time.Time
	faultRate float64
}

func (s *simulator) elapsed() float64 {
	return s.now().Sub(s.start).Seconds()
}

// roll returns true with probability p.
func (s *simulator) roll(p float64) bool {
	if p <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < p
}

func (s *simulator) noise() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.NormFloat64()
}

// NewSimulation returns a driver set producing synthetic signals: a pressure
// loop sweeping slightly past 4-20 mA, two slowly heating thermocouples and a
// periodically loaded load cell. Each read faults with cfg.Simulation.FaultRate.
func NewSimulation(cfg config.Config) Set {
	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	sim := &simulator{
		rng:       rand.New(rand.NewSource(seed)),
		start:     time.Now(),
		now:       time.Now,
		faultRate: cfg.Simulation.FaultRate,
	}
	return Set{
		ADC:           &SimulatedADC{sim: sim, shuntOhms: cfg.Pressure.ShuntOhms},
		Thermocouple1: &SimulatedThermocouple{sim: sim, base: 22, swing: 800, periodSec: 120},
		Thermocouple2: &SimulatedThermocouple{sim: sim, base: 22, swing: 400, periodSec: 90},
		LoadCell:      &SimulatedLoadCell{sim: sim, offset: simulatedTareCounts, factor: cfg.LoadCell.CalibrationFactor},
	}
}

// SimulatedADC emulates the shunt voltage of a 4-20 mA pressure loop.
type SimulatedADC struct {
	sim       *simulator
	shuntOhms float64
}

func (a *SimulatedADC) ReadVoltage(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if a.sim.roll(a.sim.faultRate) {
		return 0, errSimulatedConversion
	}
	mA := 12 + 9*math.Sin(a.sim.elapsed()/4)
	return mA*a.shuntOhms/1000 + a.sim.noise()*0.0005, nil
}

func (a *SimulatedADC) Close() error { return nil }

// SimulatedThermocouple emulates a MAX6675 with 0.25 degC resolution.
type SimulatedThermocouple struct {
	sim       *simulator
	base      float64
	swing     float64
	periodSec float64
}

func (t *SimulatedThermocouple) ReadCelsius(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if t.sim.roll(t.sim.faultRate) {
		return 0, ErrOpenThermocouple
	}
	phase := 2 * math.Pi * t.sim.elapsed() / t.periodSec
	c := t.base + t.swing*(1-math.Cos(phase))/2 + t.sim.noise()*0.5
	return math.Round(c*4) / 4, nil
}

func (t *SimulatedThermocouple) Close() error { return nil }

// SimulatedLoadCell emulates HX711 counts; it is sometimes not ready, like
// the real amplifier between conversions.
type SimulatedLoadCell struct {
	sim    *simulator
	offset int32
	factor float64
}

func (l *SimulatedLoadCell) ReadCounts(ctx context.Context) (int32, error) {
	return Poll(ctx, hxPollInterval, func() (int32, error) {
		if l.sim.roll(0.2) {
			return 0, ErrNotReady
		}
		if l.sim.roll(l.sim.faultRate) {
			return 0, errSimulatedConversion
		}
		grams := 0.0
		if t := math.Mod(l.sim.elapsed(), 20); t > 5 && t < 15 {
			grams = 2500 * math.Sin(math.Pi*(t-5)/10)
		}
		counts := float64(l.offset) + grams*l.factor + l.sim.noise()*20
		return int32(math.Round(counts)), nil
	})
}

func (l *SimulatedLoadCell) Close() error { return nil }

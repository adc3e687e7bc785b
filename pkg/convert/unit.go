package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ericogr/tms-daq/pkg/config"
	"github.com/ericogr/tms-daq/pkg/record"
	"github.com/ericogr/tms-daq/pkg/sensor"
)

// retryInterval is the back-off between reads that returned ErrNotReady.
const retryInterval = 250 * time.Microsecond

var (
	// ErrNotTared is reported for the force field until Tare succeeded.
	ErrNotTared = errors.New("load cell not tared")
	// ErrInvalidValue is a driver value that cannot be a measurement (NaN/Inf).
	ErrInvalidValue = errors.New("invalid sensor value")
)

// Unit owns the driver handles and produces one record.Cycle per call to
// Sample. It is not safe for concurrent use.
type Unit struct {
	sensors     sensor.Set
	pressure    config.PressureConfig
	factor      float64
	tareSamples int
	readTimeout time.Duration

	offset float64
	tared  bool
}

func NewUnit(cfg config.Config, sensors sensor.Set) *Unit {
	return &Unit{
		sensors:     sensors,
		pressure:    cfg.Pressure,
		factor:      cfg.LoadCell.CalibrationFactor,
		tareSamples: max(cfg.LoadCell.TareSamples, 1),
		readTimeout: cfg.ReadTimeout(),
	}
}

// Tare averages the configured number of load-cell reads into the zero
// offset. Any failed read aborts the tare.
func (u *Unit) Tare(ctx context.Context) error {
	var sum float64
	for i := 0; i < u.tareSamples; i++ {
		c, err := u.readCounts(ctx)
		if err != nil {
			return fmt.Errorf("tare sample %d/%d: %w", i+1, u.tareSamples, err)
		}
		sum += float64(c)
	}
	u.offset = sum / float64(u.tareSamples)
	u.tared = true
	slog.Info("load cell tared", "offset", u.offset, "samples", u.tareSamples)
	return nil
}

// Offset is the tare baseline in raw counts.
func (u *Unit) Offset() float64 { return u.offset }

// Sample reads every sensor once and returns the converted cycle. A failed
// read only faults its own field.
func (u *Unit) Sample(ctx context.Context, elapsed time.Duration) record.Cycle {
	return record.Cycle{
		Elapsed:      elapsed,
		Pressure:     u.readPressure(ctx),
		Temperature1: u.readTemperature(ctx, u.sensors.Thermocouple1),
		Temperature2: u.readTemperature(ctx, u.sensors.Thermocouple2),
		Force:        u.readForce(ctx),
	}
}

func (u *Unit) readPressure(ctx context.Context) record.Reading {
	ctx, cancel := context.WithTimeout(ctx, u.readTimeout)
	defer cancel()
	v, err := sensor.Poll(ctx, retryInterval, func() (float64, error) {
		return u.sensors.ADC.ReadVoltage(ctx)
	})
	if err != nil {
		return record.Faulted(err)
	}
	if !finite(v) {
		return record.Faulted(ErrInvalidValue)
	}
	return record.Valid(Pressure(v, u.pressure))
}

func (u *Unit) readTemperature(ctx context.Context, tc sensor.TemperatureSensor) record.Reading {
	ctx, cancel := context.WithTimeout(ctx, u.readTimeout)
	defer cancel()
	v, err := sensor.Poll(ctx, retryInterval, func() (float64, error) {
		return tc.ReadCelsius(ctx)
	})
	if err != nil {
		return record.Faulted(err)
	}
	if !finite(v) {
		return record.Faulted(ErrInvalidValue)
	}
	return record.Valid(v)
}

func (u *Unit) readForce(ctx context.Context) record.Reading {
	if !u.tared {
		return record.Faulted(ErrNotTared)
	}
	c, err := u.readCounts(ctx)
	if err != nil {
		return record.Faulted(err)
	}
	return record.Valid(Force(c, u.offset, u.factor))
}

func (u *Unit) readCounts(ctx context.Context) (int32, error) {
	ctx, cancel := context.WithTimeout(ctx, u.readTimeout)
	defer cancel()
	return sensor.Poll(ctx, retryInterval, func() (int32, error) {
		return u.sensors.LoadCell.ReadCounts(ctx)
	})
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

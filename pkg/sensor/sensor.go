package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

var (
	// ErrNotReady means the device has no new value yet. It is not a fault;
	// callers poll again until their deadline.
	ErrNotReady = errors.New("no new value available yet")
	// ErrOpenThermocouple is reported by thermocouple ICs when the probe is
	// disconnected.
	ErrOpenThermocouple = errors.New("thermocouple open circuit")
	// ErrTimeout wraps a read that did not complete before its deadline.
	ErrTimeout = errors.New("read deadline exceeded")
)

// VoltageSensor is an ADC channel returning volts.
type VoltageSensor interface {
	ReadVoltage(ctx context.Context) (float64, error)
	Close() error
}

// TemperatureSensor returns a linearized, cold-junction compensated
// temperature in degrees Celsius.
type TemperatureSensor interface {
	ReadCelsius(ctx context.Context) (float64, error)
	Close() error
}

// CountSensor returns raw bridge-amplifier counts.
type CountSensor interface {
	ReadCounts(ctx context.Context) (int32, error)
	Close() error
}

// Set is the group of driver handles the acquisition loop owns.
type Set struct {
	ADC           VoltageSensor
	Thermocouple1 TemperatureSensor
	Thermocouple2 TemperatureSensor
	LoadCell      CountSensor
}

// Close releases every non-nil handle.
func (s Set) Close() error {
	var err error
	if s.ADC != nil {
		err = multierr.Append(err, s.ADC.Close())
	}
	if s.Thermocouple1 != nil {
		err = multierr.Append(err, s.Thermocouple1.Close())
	}
	if s.Thermocouple2 != nil {
		err = multierr.Append(err, s.Thermocouple2.Close())
	}
	if s.LoadCell != nil {
		err = multierr.Append(err, s.LoadCell.Close())
	}
	return err
}

// Poll calls read until it returns anything other than ErrNotReady, sleeping
// interval between attempts. When ctx ends first the result wraps ErrTimeout.
func Poll[T any](ctx context.Context, interval time.Duration, read func() (T, error)) (T, error) {
	var zero T
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C
	for {
		v, err := read()
		if !errors.Is(err, ErrNotReady) {
			return v, err
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-timer.C:
		}
	}
}

// remaining returns the time left before ctx's deadline, or fallback when it
// has none.
func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}

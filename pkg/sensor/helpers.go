package sensor

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/ericogr/tms-daq/pkg/config"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

// initHost loads the periph host drivers once per process.
func initHost() error {
	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostErr = fmt.Errorf("host init: %w", err)
		}
	})
	return hostErr
}

// Open initializes the driver set selected by cfg.SensorType. Any failure is
// an initialization fault: handles opened so far are closed again.
func Open(cfg config.Config) (Set, error) {
	switch cfg.SensorType {
	case config.SensorTypeSimulation:
		slog.Info("using simulated sensors", "fault_rate", cfg.Simulation.FaultRate)
		return NewSimulation(cfg), nil
	case config.SensorTypeReal, "":
		return openHardware(cfg)
	default:
		return Set{}, fmt.Errorf("unknown sensor type %q", cfg.SensorType)
	}
}

func openHardware(cfg config.Config) (set Set, err error) {
	defer func() {
		if err != nil {
			_ = set.Close()
			set = Set{}
		}
	}()

	adc, err := NewADS1115(cfg)
	if err != nil {
		return set, fmt.Errorf("pressure adc: %w", err)
	}
	set.ADC = adc

	tc1, err := NewMAX6675("thermocouple1", cfg.Thermocouple1)
	if err != nil {
		return set, fmt.Errorf("thermocouple1: %w", err)
	}
	set.Thermocouple1 = tc1

	tc2, err := NewMAX6675("thermocouple2", cfg.Thermocouple2)
	if err != nil {
		return set, fmt.Errorf("thermocouple2: %w", err)
	}
	set.Thermocouple2 = tc2

	lc, err := NewHX711(cfg.LoadCell)
	if err != nil {
		return set, fmt.Errorf("load cell: %w", err)
	}
	set.LoadCell = lc
	return set, nil
}

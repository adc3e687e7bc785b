package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericogr/tms-daq/pkg/config"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/hx711"
)

const hxPollInterval = time.Millisecond

// HX711 reads the load-cell bridge amplifier (channel A, gain 128).
type HX711 struct {
	dev *hx711.Dev
}

// NewHX711 claims the clock and data GPIOs.
func NewHX711(cfg config.LoadCellConfig) (*HX711, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	clk := gpioreg.ByName(cfg.ClockPin)
	if clk == nil {
		return nil, fmt.Errorf("hx711: clock pin %q not found", cfg.ClockPin)
	}
	data := gpioreg.ByName(cfg.DataPin)
	if data == nil {
		return nil, fmt.Errorf("hx711: data pin %q not found", cfg.DataPin)
	}
	dev, err := hx711.New(clk, data)
	if err != nil {
		return nil, fmt.Errorf("hx711: %w", err)
	}
	slog.Info("hx711 ready", "clk", cfg.ClockPin, "data", cfg.DataPin)
	return &HX711{dev: dev}, nil
}

func (h *HX711) Close() error {
	return h.dev.Halt()
}

// ReadCounts waits for the amplifier's data-ready signal until ctx ends and
// then clocks out one 24-bit sample.
func (h *HX711) ReadCounts(ctx context.Context) (int32, error) {
	return Poll(ctx, hxPollInterval, func() (int32, error) {
		if !h.dev.IsReady() {
			return 0, ErrNotReady
		}
		v, err := h.dev.ReadTimeout(max(remaining(ctx, 0), hxPollInterval))
		if err != nil {
			return 0, fmt.Errorf("hx711 read: %w", err)
		}
		return v, nil
	})
}

package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericogr/tms-daq/pkg/config"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01

	configOS = 0x8000 // write: start single conversion, read: 1 = idle

	adsPollInterval = 500 * time.Microsecond
)

// ADS1115 reads one single-ended channel of an ADS1115 in single-shot mode.
type ADS1115 struct {
	dev        *i2c.Dev
	bus        i2c.BusCloser
	channel    int
	sampleRate int
	pgaFS      float64
	pending    bool // a conversion was started and not yet collected
}

// NewADS1115 opens the I2C bus and checks the converter answers at the
// configured address.
func NewADS1115(cfg config.Config) (*ADS1115, error) {
	s := &ADS1115{channel: cfg.ADC.Channel, sampleRate: cfg.ADC.SampleRate, pgaFS: 4.096}
	if _, _, err := s.configForChannel(s.channel, s.sampleRate); err != nil {
		return nil, err
	}
	if err := initHost(); err != nil {
		return nil, err
	}
	bus, err := i2creg.Open(cfg.I2C.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c: %w", err)
	}
	s.bus = bus
	s.dev = &i2c.Dev{Addr: uint16(cfg.I2C.Address), Bus: bus}

	if _, err := s.readRegister(pointerConfig); err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("ads1115 at 0x%02X not responding: %w", cfg.I2C.Address, err)
	}
	slog.Info("ads1115 ready", "bus", cfg.I2C.Bus, "addr", fmt.Sprintf("0x%02X", cfg.I2C.Address),
		"channel", s.channel, "sps", s.sampleRate)
	return s, nil
}

func (s *ADS1115) Close() error {
	if s.bus != nil {
		return s.bus.Close()
	}
	return nil
}

// ReadVoltage starts a conversion and waits for it until ctx ends.
func (s *ADS1115) ReadVoltage(ctx context.Context) (float64, error) {
	v, err := Poll(ctx, adsPollInterval, s.step)
	if err != nil {
		// never collect a conversion started for an earlier cycle
		s.pending = false
	}
	return v, err
}

// step advances the single-shot state machine by one bus transaction pair.
func (s *ADS1115) step() (float64, error) {
	if !s.pending {
		msb, lsb, err := s.configForChannel(s.channel, s.sampleRate)
		if err != nil {
			return 0, err
		}
		if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
			return 0, fmt.Errorf("write config: %w", err)
		}
		s.pending = true
		return 0, ErrNotReady
	}
	status, err := s.readRegister(pointerConfig)
	if err != nil {
		s.pending = false
		return 0, fmt.Errorf("read status: %w", err)
	}
	if status&configOS == 0 {
		return 0, ErrNotReady
	}
	s.pending = false
	raw, err := s.readRegister(pointerConv)
	if err != nil {
		return 0, fmt.Errorf("read conv: %w", err)
	}
	return s.toVolts(int16(raw)), nil
}

func (s *ADS1115) toVolts(raw int16) float64 {
	return float64(raw) * s.pgaFS / 32768.0
}

func (s *ADS1115) readRegister(pointer byte) (uint16, error) {
	buf := make([]byte, 2)
	if err := s.dev.Tx([]byte{pointer}, buf); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (s *ADS1115) configForChannel(channel, sampleRate int) (byte, byte, error) {
	var mux byte
	switch channel {
	case 0:
		mux = 0x4
	case 1:
		mux = 0x5
	case 2:
		mux = 0x6
	case 3:
		mux = 0x7
	default:
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	// PGA: use ±4.096V -> bits 001
	pga := byte(0x1)
	// data rate bits
	var dr byte
	switch sampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	word := uint16(configOS)
	word |= uint16(mux) << 12
	word |= uint16(pga) << 9
	word |= 1 << 8 // single-shot mode
	word |= uint16(dr) << 5
	// comparator default: disabled (bits 1:0 = 11)
	word |= 0x3
	return byte(word >> 8), byte(word & 0xFF), nil
}

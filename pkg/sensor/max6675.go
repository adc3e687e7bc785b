package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericogr/tms-daq/pkg/config"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

const (
	// max6675ConversionTime is the worst-case conversion time. Reading the IC
	// aborts a running conversion, so reads closer together than this return
	// the held result instead.
	max6675ConversionTime = 220 * time.Millisecond

	max6675OpenBit = 0x0004 // D2
)

// MAX6675 reads a K-type thermocouple through a MAX6675 over SPI.
type MAX6675 struct {
	name string
	port spi.PortCloser
	conn spi.Conn
	now  func() time.Time

	last    time.Time
	held    float64
	heldErr error
	hasHeld bool
}

// NewMAX6675 opens the SPI device wired to the IC's chip select.
func NewMAX6675(name string, cfg config.ThermocoupleConfig) (*MAX6675, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	port, err := spireg.Open(cfg.SPIPort)
	if err != nil {
		return nil, fmt.Errorf("%s: open spi %q: %w", name, cfg.SPIPort, err)
	}
	hz := cfg.SpeedHz
	if hz <= 0 {
		hz = 4_000_000
	}
	conn, err := port.Connect(physic.Frequency(hz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("%s: spi connect: %w", name, err)
	}
	slog.Info("max6675 ready", "name", name, "spi", cfg.SPIPort, "hz", hz)
	return newMAX6675(name, conn, port, time.Now), nil
}

func newMAX6675(name string, conn spi.Conn, port spi.PortCloser, now func() time.Time) *MAX6675 {
	return &MAX6675{name: name, conn: conn, port: port, now: now}
}

func (m *MAX6675) Close() error {
	if m.port != nil {
		return m.port.Close()
	}
	return nil
}

// ReadCelsius returns the thermocouple temperature or ErrOpenThermocouple.
func (m *MAX6675) ReadCelsius(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	now := m.now()
	if m.hasHeld && now.Sub(m.last) < max6675ConversionTime {
		return m.held, m.heldErr
	}
	var w, r [2]byte
	if err := m.conn.Tx(w[:], r[:]); err != nil {
		return 0, fmt.Errorf("%s: spi tx: %w", m.name, err)
	}
	m.last = now
	m.hasHeld = true
	m.held, m.heldErr = decodeMAX6675(uint16(r[0])<<8 | uint16(r[1]))
	return m.held, m.heldErr
}

// decodeMAX6675 converts the 16-bit output word: D14..D3 temperature in
// 0.25 degC steps, D2 open-thermocouple flag.
func decodeMAX6675(word uint16) (float64, error) {
	if word&max6675OpenBit != 0 {
		return 0, ErrOpenThermocouple
	}
	return float64((word>>3)&0x0FFF) * 0.25, nil
}

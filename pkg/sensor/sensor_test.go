package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ericogr/tms-daq/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

func TestPoll_RetriesUntilReady(t *testing.T) {
	calls := 0
	v, err := Poll(context.Background(), time.Microsecond, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, ErrNotReady
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestPoll_PassesThroughFaults(t *testing.T) {
	boom := errors.New("bus error")
	_, err := Poll(context.Background(), time.Microsecond, func() (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestPoll_DeadlineBecomesTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Poll(ctx, time.Millisecond, func() (int, error) {
		return 0, ErrNotReady
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDecodeMAX6675(t *testing.T) {
	tests := []struct {
		name    string
		word    uint16
		want    float64
		wantErr error
	}{
		{"zero", 0x0000, 0, nil},
		{"quarter degree", 1 << 3, 0.25, nil},
		{"425 degrees", 1700 << 3, 425, nil},
		{"full scale", 0x0FFF << 3, 1023.75, nil},
		{"open thermocouple", 0x0004, 0, ErrOpenThermocouple},
		{"open wins over data", 1700<<3 | 0x0004, 0, ErrOpenThermocouple},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeMAX6675(tt.word)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// fakeSPI returns a fixed 16-bit word per transaction.
type fakeSPI struct {
	word uint16
	txs  int
}

func (f *fakeSPI) String() string { return "fake" }

func (f *fakeSPI) Duplex() conn.Duplex { return conn.Full }

func (f *fakeSPI) Tx(w, r []byte) error {
	f.txs++
	r[0] = byte(f.word >> 8)
	r[1] = byte(f.word)
	return nil
}

func (f *fakeSPI) TxPackets(p []spi.Packet) error { return nil }

func TestMAX6675_HoldsValueDuringConversion(t *testing.T) {
	now := time.Unix(0, 0)
	bus := &fakeSPI{word: 100 << 3}
	m := newMAX6675("tc", bus, nil, func() time.Time { return now })
	ctx := context.Background()

	v, err := m.ReadCelsius(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25.0, v)

	bus.word = 200 << 3
	now = now.Add(100 * time.Millisecond)
	v, err = m.ReadCelsius(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25.0, v, "conversion still running")
	assert.Equal(t, 1, bus.txs)

	now = now.Add(max6675ConversionTime)
	v, err = m.ReadCelsius(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)
	assert.Equal(t, 2, bus.txs)

	bus.word = 0x0004
	now = now.Add(max6675ConversionTime)
	_, err = m.ReadCelsius(ctx)
	assert.ErrorIs(t, err, ErrOpenThermocouple)
}

func TestSimulation_ProducesPlausibleValues(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Simulation.Seed = 7
	set := NewSimulation(cfg)
	defer set.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	v, err := set.ADC.ReadVoltage(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 12*cfg.Pressure.ShuntOhms/1000, v, 9*cfg.Pressure.ShuntOhms/1000+0.01)

	c, err := set.Thermocouple1.ReadCelsius(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 22, c, 5)

	n, err := set.LoadCell.ReadCounts(ctx)
	require.NoError(t, err)
	assert.InDelta(t, simulatedTareCounts, n, 200)
}

func TestSimulation_InjectsFaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Simulation.Seed = 1
	cfg.Simulation.FaultRate = 1
	set := NewSimulation(cfg)

	ctx := context.Background()
	_, err := set.ADC.ReadVoltage(ctx)
	assert.Error(t, err)
	_, err = set.Thermocouple2.ReadCelsius(ctx)
	assert.ErrorIs(t, err, ErrOpenThermocouple)
	_, err = set.LoadCell.ReadCounts(ctx)
	assert.Error(t, err)
}

func TestOpen_UnknownSensorType(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SensorType = "quantum"
	_, err := Open(cfg)
	assert.Error(t, err)
}

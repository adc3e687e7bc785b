package record

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendPackets_Layout(t *testing.T) {
	c := Cycle{
		Elapsed:      1500 * time.Millisecond,
		Pressure:     Valid(2.5),
		Temperature1: Valid(25),
		Temperature2: Faulted(nil),
		Force:        Valid(100),
	}
	b := AppendPackets(nil, c)
	require.Len(t, b, 2*PacketSize)

	first := b[:PacketSize]
	assert.Equal(t, TagForcePressure, first[0])
	assert.Equal(t, uint32(1500), binary.LittleEndian.Uint32(first[1:5]))
	assert.Equal(t, float32(100), math.Float32frombits(binary.LittleEndian.Uint32(first[5:9])))
	assert.Equal(t, float32(2.5), math.Float32frombits(binary.LittleEndian.Uint32(first[9:13])))

	second := b[PacketSize:]
	assert.Equal(t, TagTemperature, second[0])
	assert.Equal(t, float32(25), math.Float32frombits(binary.LittleEndian.Uint32(second[5:9])))
	assert.True(t, math.IsNaN(float64(math.Float32frombits(binary.LittleEndian.Uint32(second[9:13])))))
}

func TestDecodePacket_Invalid(t *testing.T) {
	_, err := DecodePacket(make([]byte, PacketSize-1))
	assert.Error(t, err)

	bad := make([]byte, PacketSize)
	bad[0] = 0x42
	_, err = DecodePacket(bad)
	assert.Error(t, err)
}

func TestAssembler(t *testing.T) {
	c := Cycle{
		Elapsed:      30 * time.Millisecond,
		Pressure:     Valid(150),
		Temperature1: Faulted(nil),
		Temperature2: Valid(425),
		Force:        Valid(-2),
	}
	b := AppendPackets(nil, c)

	var a Assembler
	p1, err := DecodePacket(b[:PacketSize])
	require.NoError(t, err)
	_, ok := a.Add(p1)
	assert.False(t, ok)

	p2, err := DecodePacket(b[PacketSize:])
	require.NoError(t, err)
	got, ok := a.Add(p2)
	require.True(t, ok)

	assert.Equal(t, c.Elapsed, got.Elapsed)
	assert.Equal(t, Valid(150), got.Pressure)
	assert.False(t, got.Temperature1.OK())
	assert.Equal(t, Valid(425), got.Temperature2)
	assert.Equal(t, Valid(-2), got.Force)
}

func TestAssembler_MismatchedTimestamps(t *testing.T) {
	a := Assembler{}
	_, ok := a.Add(Packet{Tag: TagForcePressure, ElapsedMs: 10})
	assert.False(t, ok)
	_, ok = a.Add(Packet{Tag: TagTemperature, ElapsedMs: 20})
	assert.False(t, ok)

	// A lone temperature frame never completes a cycle.
	_, ok = a.Add(Packet{Tag: TagTemperature, ElapsedMs: 20})
	assert.False(t, ok)
}

func TestNewPayload(t *testing.T) {
	p := NewPayload(Cycle{
		Elapsed:      5 * time.Millisecond,
		Pressure:     Valid(1),
		Temperature1: Faulted(nil),
		Temperature2: Valid(3),
		Force:        Faulted(nil),
	})
	assert.Equal(t, int64(5), p.ElapsedMs)
	require.NotNil(t, p.Pressure)
	assert.Equal(t, 1.0, *p.Pressure)
	assert.Nil(t, p.Temperature1)
	assert.Nil(t, p.Force)
	assert.Equal(t, []string{"temperature1", "force"}, p.Faults)
}

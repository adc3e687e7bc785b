package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/chewxy/math32"
)

// Binary framing used by the bench host tool: each cycle becomes two 13-byte
// little-endian packets, tag + uint32 elapsed ms + two float32 values.
const (
	PacketSize = 13

	// TagForcePressure carries (force, pressure).
	TagForcePressure byte = 0x00
	// TagTemperature carries (temperature1, temperature2).
	TagTemperature byte = 0xFF
)

// Packet is one decoded binary frame.
type Packet struct {
	Tag       byte
	ElapsedMs uint32
	A, B      float32
}

// AppendPackets appends both frames for c. Faulted fields are sent as NaN.
func AppendPackets(dst []byte, c Cycle) []byte {
	ms := uint32(c.ElapsedMs())
	dst = appendPacket(dst, TagForcePressure, ms, c.Force, c.Pressure)
	return appendPacket(dst, TagTemperature, ms, c.Temperature1, c.Temperature2)
}

func appendPacket(dst []byte, tag byte, ms uint32, a, b Reading) []byte {
	dst = append(dst, tag)
	dst = binary.LittleEndian.AppendUint32(dst, ms)
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(toFloat32(a)))
	return binary.LittleEndian.AppendUint32(dst, math.Float32bits(toFloat32(b)))
}

func toFloat32(r Reading) float32 {
	if !r.OK() {
		return math32.NaN()
	}
	return float32(r.Value)
}

// DecodePacket decodes exactly one frame.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) != PacketSize {
		return Packet{}, fmt.Errorf("invalid packet: expected %d bytes, got %d", PacketSize, len(b))
	}
	p := Packet{
		Tag:       b[0],
		ElapsedMs: binary.LittleEndian.Uint32(b[1:5]),
		A:         math.Float32frombits(binary.LittleEndian.Uint32(b[5:9])),
		B:         math.Float32frombits(binary.LittleEndian.Uint32(b[9:13])),
	}
	if p.Tag != TagForcePressure && p.Tag != TagTemperature {
		return Packet{}, fmt.Errorf("invalid packet tag 0x%02X", p.Tag)
	}
	return p, nil
}

// Elapsed returns the frame timestamp.
func (p Packet) Elapsed() time.Duration {
	return time.Duration(p.ElapsedMs) * time.Millisecond
}

// Readings returns the two values of the frame, NaN mapped back to faults.
func (p Packet) Readings() (Reading, Reading) {
	return fromFloat32(p.A), fromFloat32(p.B)
}

func fromFloat32(v float32) Reading {
	if math32.IsNaN(v) || math32.IsInf(v, 0) {
		return Faulted(ErrFaulted)
	}
	return Valid(float64(v))
}

// Assembler joins the two frames of a cycle back into a Cycle.
type Assembler struct {
	pending *Packet
}

// Add feeds one frame. It returns the complete cycle once a force/pressure
// frame is followed by the temperature frame with the same timestamp. Frames
// that do not pair up are discarded.
func (a *Assembler) Add(p Packet) (Cycle, bool) {
	if p.Tag == TagForcePressure {
		a.pending = &p
		return Cycle{}, false
	}
	first := a.pending
	a.pending = nil
	if first == nil || first.ElapsedMs != p.ElapsedMs {
		return Cycle{}, false
	}
	force, pressure := first.Readings()
	t1, t2 := p.Readings()
	return Cycle{
		Elapsed:      p.Elapsed(),
		Pressure:     pressure,
		Temperature1: t1,
		Temperature2: t2,
		Force:        force,
	}, true
}

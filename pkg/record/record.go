// Package record holds the per-cycle reading set and its wire encodings.
package record

import (
	"errors"
	"time"
)

// ErrFaulted marks a field that arrived as a fault sentinel when decoding a
// record; the original driver error does not survive the wire.
var ErrFaulted = errors.New("field faulted")

// Reading is one converted value or the fault that replaced it.
type Reading struct {
	Value float64
	Err   error
}

// Valid returns a non-faulted reading.
func Valid(v float64) Reading { return Reading{Value: v} }

// Faulted returns a reading carrying err instead of a value.
func Faulted(err error) Reading {
	if err == nil {
		err = ErrFaulted
	}
	return Reading{Err: err}
}

func (r Reading) OK() bool { return r.Err == nil }

// Field identifies a measurement column of a Cycle.
type Field int

const (
	FieldPressure Field = iota
	FieldTemperature1
	FieldTemperature2
	FieldForce
)

// Fields lists the measurement columns in wire order.
var Fields = [...]Field{FieldPressure, FieldTemperature1, FieldTemperature2, FieldForce}

func (f Field) String() string {
	switch f {
	case FieldPressure:
		return "pressure"
	case FieldTemperature1:
		return "temperature1"
	case FieldTemperature2:
		return "temperature2"
	case FieldForce:
		return "force"
	}
	return "unknown"
}

// Cycle is the immutable result of one sample cycle. Every field was read
// during the same cycle.
type Cycle struct {
	Elapsed      time.Duration // since process start
	Pressure     Reading
	Temperature1 Reading
	Temperature2 Reading
	Force        Reading
}

// ElapsedMs is the cycle timestamp at millisecond resolution.
func (c Cycle) ElapsedMs() int64 { return c.Elapsed.Milliseconds() }

// Get returns the reading for f.
func (c Cycle) Get(f Field) Reading {
	switch f {
	case FieldPressure:
		return c.Pressure
	case FieldTemperature1:
		return c.Temperature1
	case FieldTemperature2:
		return c.Temperature2
	case FieldForce:
		return c.Force
	}
	return Faulted(nil)
}

// Faults returns the faulted fields in wire order.
func (c Cycle) Faults() []Field {
	var out []Field
	for _, f := range Fields {
		if !c.Get(f).OK() {
			out = append(out, f)
		}
	}
	return out
}

package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// Separator splits the fields of a text record.
	Separator = ','
	// FaultToken replaces the value of a faulted field.
	FaultToken = "FAULT"
	// FieldCount is the number of columns in every text record.
	FieldCount = 1 + len(Fields)
)

// decimals caps the printed precision per field.
var decimals = map[Field]int{
	FieldPressure:     3,
	FieldTemperature1: 2,
	FieldTemperature2: 2,
	FieldForce:        2,
}

// AppendLine appends the text record for c, including the trailing newline.
// Format: elapsed_ms,pressure,temperature1,temperature2,force
func AppendLine(dst []byte, c Cycle) []byte {
	dst = strconv.AppendInt(dst, c.ElapsedMs(), 10)
	for _, f := range Fields {
		dst = append(dst, Separator)
		dst = appendReading(dst, c.Get(f), decimals[f])
	}
	return append(dst, '\n')
}

// FormatLine returns the text record for c.
func FormatLine(c Cycle) string {
	return string(AppendLine(make([]byte, 0, 48), c))
}

func appendReading(dst []byte, r Reading, prec int) []byte {
	if !r.OK() || math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return append(dst, FaultToken...)
	}
	return appendNumber(dst, r.Value, prec)
}

// appendNumber prints v rounded to prec decimals in its shortest form, keeping
// at least one decimal digit so 425 reads as "425.0".
func appendNumber(dst []byte, v float64, prec int) []byte {
	scale := math.Pow10(prec)
	v = math.Round(v*scale) / scale
	if v == 0 {
		v = 0 // drop negative zero
	}
	start := len(dst)
	dst = strconv.AppendFloat(dst, v, 'f', -1, 64)
	for _, b := range dst[start:] {
		if b == '.' {
			return dst
		}
	}
	return append(dst, '.', '0')
}

// ParseLine decodes a text record. Faulted fields come back with ErrFaulted.
func ParseLine(line string) (Cycle, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, string(Separator))
	if len(parts) != FieldCount {
		return Cycle{}, fmt.Errorf("invalid record: expected %d comma-separated values, got %d", FieldCount, len(parts))
	}

	ms, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Cycle{}, fmt.Errorf("invalid elapsed time: %w", err)
	}
	if ms < 0 {
		return Cycle{}, fmt.Errorf("invalid elapsed time: %d", ms)
	}

	c := Cycle{Elapsed: time.Duration(ms) * time.Millisecond}
	for i, f := range Fields {
		r, err := parseReading(strings.TrimSpace(parts[i+1]))
		if err != nil {
			return Cycle{}, fmt.Errorf("invalid %s: %w", f, err)
		}
		c.set(f, r)
	}
	return c, nil
}

func parseReading(s string) (Reading, error) {
	if s == FaultToken {
		return Faulted(ErrFaulted), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Reading{}, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Reading{}, fmt.Errorf("non-finite value %q", s)
	}
	return Valid(v), nil
}

func (c *Cycle) set(f Field, r Reading) {
	switch f {
	case FieldPressure:
		c.Pressure = r
	case FieldTemperature1:
		c.Temperature1 = r
	case FieldTemperature2:
		c.Temperature2 = r
	case FieldForce:
		c.Force = r
	}
}

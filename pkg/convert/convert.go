// Package convert turns raw driver readings into engineering units.
package convert

import "github.com/ericogr/tms-daq/pkg/config"

// CurrentMA is the loop current through a shunt of shuntOhms showing volts.
func CurrentMA(volts, shuntOhms float64) float64 {
	return volts / shuntOhms * 1000
}

// PressureFromCurrent maps the transducer's current band linearly onto its
// rated span. Currents outside the band saturate at the span bounds.
func PressureFromCurrent(mA float64, p config.PressureConfig) float64 {
	if mA <= p.MinCurrentMA {
		return p.MinPressure
	}
	if mA >= p.MaxCurrentMA {
		return p.MaxPressure
	}
	frac := (mA - p.MinCurrentMA) / (p.MaxCurrentMA - p.MinCurrentMA)
	return p.MinPressure + frac*(p.MaxPressure-p.MinPressure)
}

// Pressure converts a shunt voltage straight to pressure.
func Pressure(volts float64, p config.PressureConfig) float64 {
	return PressureFromCurrent(CurrentMA(volts, p.ShuntOhms), p)
}

// Force removes the tare offset from counts and scales by factor (counts per
// unit).
func Force(counts int32, offset, factor float64) float64 {
	return (float64(counts) - offset) / factor
}

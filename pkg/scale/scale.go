// Package scale reads the weight sensor used to measure dispensed fluid.
// The real sensor is a load cell behind a small serial bridge MCU that
// streams raw ADC counts; readings are averaged host-side and converted to
// grams through a tare offset and a counts-per-gram scale factor.
package scale

import "time"

// Scale is the weight-sensor collaborator.
type Scale interface {
	// Tare records the current averaged raw reading as the zero offset.
	Tare(samples int) error
	// ReadRaw returns the averaged raw counts over the given sample window.
	ReadRaw(samples int) (float32, error)
	// ReadUnits returns grams: (raw - tare offset) / scale factor.
	ReadUnits(samples int) (float32, error)
	// SetScale sets the counts-per-gram scale factor.
	SetScale(factor float32)
	// Scale returns the counts-per-gram scale factor.
	Scale() float32
}

// Reading is one raw sample line from the bridge MCU.
type Reading struct {
	Timestamp time.Time
	Counts    int32 // signed 24-bit ADC counts
}

// Ensure both implementations satisfy Scale.
var (
	_ Scale = (*Serial)(nil)
	_ Scale = (*Mock)(nil)
)

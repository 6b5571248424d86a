// Package hal isolates the valve controller from physical I/O. The real
// implementation drives GPIO through periph.io; the mock implementation
// backs unit tests and the simulated rig.
package hal

import "context"

// Input is a digital input line.
type Input interface {
	// Read samples the electrical level; true is high.
	Read() bool
	// Watch delivers the post-edge level to fn on every detected edge until
	// ctx is done. fn runs on the watch goroutine and must be short and
	// non-blocking.
	Watch(ctx context.Context, fn func(level bool)) error
}

// Output is a graduated power output; 0 is fully off, 255 fully on.
type Output interface {
	SetLevel(level uint8) error
}

// LED is a simple on/off indicator output.
type LED interface {
	Set(on bool) error
}

var (
	_ Input  = (*GPIOInput)(nil)
	_ Input  = (*MockInput)(nil)
	_ Output = (*PWMOutput)(nil)
	_ Output = (*MockOutput)(nil)
	_ LED    = (*GPIOLED)(nil)
	_ LED    = (*MockLED)(nil)
)

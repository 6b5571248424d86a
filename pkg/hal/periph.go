package hal

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// edgeWait bounds WaitForEdge so watch goroutines notice context
// cancellation between edges.
const edgeWait = 500 * time.Millisecond

// Pull levels for OpenInput, re-exported so callers stay off the gpio
// package.
const (
	PullUp   = gpio.PullUp
	PullDown = gpio.PullDown
)

// Init loads the host peripheral drivers. Call once before opening pins.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph host: %w", err)
	}
	return nil
}

// GPIOInput is a digital input with interrupt-backed edge detection.
type GPIOInput struct {
	pin gpio.PinIO
}

// OpenInput configures the named pin as an input with the given pull and
// edge detection on both edges.
func OpenInput(name string, pull gpio.Pull) (*GPIOInput, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("no such pin: %s", name)
	}

	if err := pin.In(pull, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("failed to configure %s as input: %w", name, err)
	}

	return &GPIOInput{pin: pin}, nil
}

// Read samples the electrical level.
func (g *GPIOInput) Read() bool {
	return g.pin.Read() == gpio.High
}

// Watch starts a goroutine that delivers the post-edge level to fn on every
// detected edge until ctx is done.
func (g *GPIOInput) Watch(ctx context.Context, fn func(level bool)) error {
	go func() {
		for ctx.Err() == nil {
			if !g.pin.WaitForEdge(edgeWait) {
				continue
			}
			fn(g.pin.Read() == gpio.High)
		}
	}()

	return nil
}

// PWMOutput drives a PWM-capable pin at a graduated 0-255 level.
type PWMOutput struct {
	pin  gpio.PinIO
	freq physic.Frequency
}

// OpenPWM configures the named pin as a PWM output at the given carrier
// frequency and drives it fully off.
func OpenPWM(name string, hz int) (*PWMOutput, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("no such pin: %s", name)
	}

	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure %s as output: %w", name, err)
	}

	return &PWMOutput{
		pin:  pin,
		freq: physic.Frequency(hz) * physic.Hertz,
	}, nil
}

// SetLevel drives the output. 0 and 255 use plain digital levels so the pin
// is quiet at the endpoints; anything between runs the PWM carrier.
func (p *PWMOutput) SetLevel(level uint8) error {
	switch level {
	case 0:
		return p.pin.Out(gpio.Low)
	case 255:
		return p.pin.Out(gpio.High)
	default:
		duty := gpio.Duty(uint64(level) * uint64(gpio.DutyMax) / 255)
		return p.pin.PWM(duty, p.freq)
	}
}

// GPIOLED mirrors a boolean on a plain output pin.
type GPIOLED struct {
	pin gpio.PinIO
}

// OpenLED configures the named pin as a plain output, initially off.
func OpenLED(name string) (*GPIOLED, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("no such pin: %s", name)
	}

	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure %s as output: %w", name, err)
	}

	return &GPIOLED{pin: pin}, nil
}

// Set drives the indicator.
func (l *GPIOLED) Set(on bool) error {
	if on {
		return l.pin.Out(gpio.High)
	}
	return l.pin.Out(gpio.Low)
}

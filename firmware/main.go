//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

var uart = machine.UART0

func main() {
	// Configure the load-cell converter pins
	PIN_SCK.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_DOUT.Configure(machine.PinConfig{Mode: machine.PinInput})
	PIN_RATE.Configure(machine.PinConfig{Mode: machine.PinOutput})

	// RATE high selects the fast conversion rate (80 samples/s)
	PIN_RATE.High()

	// SCK low keeps the converter powered up
	PIN_SCK.Low()

	// Configure UART for streaming readings
	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	// Discard the first conversions while the input stage settles after power-up
	for i := 0; i < SETTLE_DISCARDS; i++ {
		readCounts()
	}

	// Main loop: one line per conversion
	for {
		counts := readCounts()
		outputReading(counts)
	}
}

// readCounts blocks until the converter signals a finished conversion, then
// shifts out the 24-bit two's complement value and schedules the next
// conversion on channel A.
func readCounts() int32 {
	// DOUT falls when a conversion is ready
	for PIN_DOUT.Get() {
		time.Sleep(100 * time.Microsecond)
	}

	// Shift out 24 bits, MSB first. No delays between edges: a clock pulse
	// held high longer than 60us powers the converter down mid-read.
	var raw uint32
	for i := 0; i < 24; i++ {
		PIN_SCK.High()
		raw <<= 1
		PIN_SCK.Low()
		if PIN_DOUT.Get() {
			raw |= 1
		}
	}

	// Extra pulses select the input and gain for the next conversion
	for i := 0; i < GAIN_PULSES; i++ {
		PIN_SCK.High()
		PIN_SCK.Low()
	}

	// Sign-extend the 24-bit value
	if raw&0x800000 != 0 {
		raw |= 0xFF000000
	}

	return int32(raw)
}

func outputReading(counts int32) {
	// Get timestamp in unix microseconds
	now := time.Now()
	timestampMicros := now.UnixNano() / 1000

	// Output format: "unix_micros,counts\n"
	// Example: "1234567890123,-131072\n"
	print(timestampMicros)
	print(",")
	print(counts)
	print("\n")
}

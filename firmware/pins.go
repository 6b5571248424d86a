//go:build tinygo

package main

import "machine"

const (
	// Conversion configuration
	SETTLE_DISCARDS = 4 // conversions to discard after power-up
	GAIN_PULSES     = 1 // extra clock pulses: 1 = channel A gain 128

	// Load-cell converter pins (HX711-style bridge amplifier)
	PIN_DOUT = machine.D9 // data out, falls when a conversion is ready
	PIN_SCK  = machine.D8 // serial clock, high >60us powers the chip down
	PIN_RATE = machine.D7 // conversion rate select, high = 80 samples/s

	// Serial configuration
	// Baud rate calculation: Format "unix_micros,counts\n"
	// Example: "1234567890123456,-8388608\n" = ~27 bytes max per line
	// 80 conversions/sec * 27 bytes/line = 2,160 bytes/sec
	// UART 8N1: 10 bits/byte = 21,600 baud minimum. With 3x headroom: 64,800 baud minimum
	// 115200 provides ~5.3x headroom (11,520 bytes/sec max / 2,160 bytes/sec required)
	UART_BAUD_RATE = 115200
)

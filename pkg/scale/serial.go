package scale

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/godrip/pkg/logger"
)

const (
	// DefaultBaudRate is the standard baud rate for the bridge MCU firmware.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the readings channel buffer.
	DefaultBufferSize = 100
	// DefaultReadTimeout bounds how long a read waits for the bridge to
	// deliver the requested number of samples.
	DefaultReadTimeout = 2 * time.Second

	// countsMax and countsMin bound a valid signed 24-bit conversion.
	countsMax = 1<<23 - 1
	countsMin = -(1 << 23)
)

var (
	// ErrNotConnected is returned by reads before Connect or after Close.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned by Connect when a session is open.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrReadTimeout is returned when the bridge stops streaming mid-read.
	ErrReadTimeout = errors.New("timed out waiting for readings")
	// ErrNoScale is returned by ReadUnits when the scale factor is zero.
	ErrNoScale = errors.New("scale factor not set")
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial reads the weight sensor through its serial bridge MCU. The bridge
// streams one "unix_micros,counts" line per ADC conversion; Serial parses
// the stream into Readings and derives grams from averaged counts.
type Serial struct {
	port        string
	baudRate    int
	bufSize     int
	readTimeout time.Duration

	conn      serial.Port
	readings  chan Reading
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	offset float32 // tare offset, raw counts
	factor float32 // counts per gram
}

// New creates a driver for the bridge on the given port. Zero values fall
// back to the package defaults.
func New(port string, baudRate int, bufSize int, readTimeout time.Duration) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:        port,
		baudRate:    baudRate,
		bufSize:     bufSize,
		readTimeout: readTimeout,
		readings:    make(chan Reading, bufSize),
		ctx:         ctx,
		cancel:      cancel,
		connected:   false,
		factor:      1,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		// Try to open the port so clearly dead entries can be told apart,
		// but list it either way.
		port, err := serial.Open(name, &serial.Mode{
			BaudRate: DefaultBaudRate,
		})
		desc := name
		if err == nil {
			port.Close()
		}
		result = append(result, Port{
			Name:        name,
			Description: desc,
		})
	}

	return result, nil
}

// Connect opens the serial port and starts the reader goroutine.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return ErrAlreadyConnected
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
	}

	port, err := serial.Open(d.port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	go d.readLoop()

	return nil
}

// Close closes the connection and stops the reader goroutine.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()

	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			logger.Logger().Warnf("Error closing serial port: %v", err)
		}
		d.conn = nil
	}

	d.connected = false
	close(d.readings)

	return nil
}

// Readings returns the channel carrying the raw sample stream.
func (d *Serial) Readings() <-chan Reading {
	return d.readings
}

// IsConnected returns whether the bridge is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// Tare averages a fresh window of raw counts and records it as the zero
// offset for ReadUnits.
func (d *Serial) Tare(samples int) error {
	raw, err := d.ReadRaw(samples)
	if err != nil {
		return fmt.Errorf("failed to tare: %w", err)
	}

	d.mu.Lock()
	d.offset = raw
	d.mu.Unlock()

	return nil
}

// ReadRaw returns the outlier-rejected average of a fresh window of raw
// counts.
func (d *Serial) ReadRaw(samples int) (float32, error) {
	window, err := d.collect(samples)
	if err != nil {
		return 0, err
	}
	return robustMean(window), nil
}

// ReadUnits returns grams: (raw - tare offset) / scale factor.
func (d *Serial) ReadUnits(samples int) (float32, error) {
	raw, err := d.ReadRaw(samples)
	if err != nil {
		return 0, err
	}

	d.mu.RLock()
	offset, factor := d.offset, d.factor
	d.mu.RUnlock()

	if factor == 0 {
		return 0, ErrNoScale
	}
	return (raw - offset) / factor, nil
}

// SetScale sets the counts-per-gram scale factor.
func (d *Serial) SetScale(factor float32) {
	d.mu.Lock()
	d.factor = factor
	d.mu.Unlock()
}

// Scale returns the counts-per-gram scale factor.
func (d *Serial) Scale() float32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.factor
}

// collect gathers n fresh readings as float32 counts. Anything buffered
// before the call is discarded so the average reflects the load on the pan
// now, not whatever streamed in while the host was idle.
func (d *Serial) collect(n int) ([]float32, error) {
	if n <= 0 {
		n = 1
	}

	d.mu.RLock()
	connected := d.connected
	timeout := d.readTimeout
	ch := d.readings
	d.mu.RUnlock()

	if !connected {
		return nil, ErrNotConnected
	}

drain:
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return nil, ErrNotConnected
			}
		default:
			break drain
		}
	}

	out := make([]float32, 0, n)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(out) < n {
		select {
		case r, ok := <-ch:
			if !ok {
				return nil, ErrNotConnected
			}
			out = append(out, float32(r.Counts))
		case <-timer.C:
			return nil, fmt.Errorf("%w: got %d of %d samples", ErrReadTimeout, len(out), n)
		}
	}

	return out, nil
}

// readLoop reads lines from the serial port and parses them into Readings.
func (d *Serial) readLoop() {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger().Errorf("Panic in scale read loop: %v", r)
		}
	}()

	scanner := bufio.NewScanner(d.conn)
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
			if !scanner.Scan() {
				// Scanner stopped (EOF or error)
				if err := scanner.Err(); err != nil {
					if err != io.EOF {
						logger.Logger().Errorf("Error reading from serial port: %v", err)
					}
				}
				return
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			reading, err := parseLine(line)
			if err != nil {
				logger.Logger().Debugf("Failed to parse line '%s': %v", line, err)
				continue
			}

			select {
			case d.readings <- reading:
			case <-d.ctx.Done():
				return
			default:
				// Channel full; readers only want fresh samples anyway.
				logger.Logger().Debugf("Readings channel full, dropping sample")
			}
		}
	}
}

// parseLine parses a line from the bridge MCU into a Reading.
// Format: unix_micros,counts
// Example: 1234567890123,-183245
func parseLine(line string) (Reading, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return Reading{}, fmt.Errorf("invalid line format: expected 2 comma-separated values, got %d", len(parts))
	}

	timestampMicros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid timestamp: %w", err)
	}
	timestamp := time.Unix(0, timestampMicros*1000)

	counts, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return Reading{}, fmt.Errorf("invalid counts: %w", err)
	}
	if counts > countsMax || counts < countsMin {
		return Reading{}, fmt.Errorf("counts out of range: %d (24-bit ADC)", counts)
	}

	return Reading{
		Timestamp: timestamp,
		Counts:    int32(counts),
	}, nil
}

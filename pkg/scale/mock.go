package scale

import (
	"sync"

	"github.com/chewxy/math32"
)

// Mock simulates the weight sensor for tests and for running the controller
// without hardware. It models a load cell with a fixed baseline, a physical
// counts-per-gram response, and a small deterministic ripple standing in
// for ADC noise. Dispensed fluid is added with Deposit.
type Mock struct {
	mu        sync.Mutex
	baseline  float32 // raw counts with the pan empty
	noise     float32 // ripple amplitude, raw counts
	simFactor float32 // physical counts per gram of the simulated cell

	offset float32 // tare offset, raw counts
	factor float32 // configured counts-per-gram scale factor
	massG  float32 // accumulated mass on the pan, grams
	n      uint64  // conversion counter driving the ripple
}

// NewMock creates a simulated sensor. The configured scale factor starts
// equal to the physical one, so an uncalibrated Mock still reads true.
func NewMock(baseline, noise, countsPerGram float32) *Mock {
	if countsPerGram == 0 {
		countsPerGram = 1
	}
	return &Mock{
		baseline:  baseline,
		noise:     noise,
		simFactor: countsPerGram,
		factor:    countsPerGram,
	}
}

// Deposit adds simulated dispensed mass to the pan.
func (m *Mock) Deposit(grams float32) {
	m.mu.Lock()
	m.massG += grams
	m.mu.Unlock()
}

// PanMass returns the accumulated simulated mass in grams.
func (m *Mock) PanMass() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.massG
}

// Tare records the current averaged raw reading as the zero offset.
func (m *Mock) Tare(samples int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = m.sampleLocked(samples)
	return nil
}

// ReadRaw returns the averaged raw counts over the given sample window.
func (m *Mock) ReadRaw(samples int) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampleLocked(samples), nil
}

// ReadUnits returns grams: (raw - tare offset) / scale factor.
func (m *Mock) ReadUnits(samples int) (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.factor == 0 {
		return 0, ErrNoScale
	}
	return (m.sampleLocked(samples) - m.offset) / m.factor, nil
}

// SetScale sets the counts-per-gram scale factor.
func (m *Mock) SetScale(factor float32) {
	m.mu.Lock()
	m.factor = factor
	m.mu.Unlock()
}

// Scale returns the counts-per-gram scale factor.
func (m *Mock) Scale() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.factor
}

// sampleLocked averages n simulated conversions. Callers hold m.mu.
func (m *Mock) sampleLocked(n int) float32 {
	if n <= 0 {
		n = 1
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += m.rawLocked()
	}
	return sum / float32(n)
}

// rawLocked produces one simulated conversion. Callers hold m.mu.
func (m *Mock) rawLocked() float32 {
	m.n++
	ripple := math32.Sin(float32(m.n)*1.7) * m.noise
	return m.baseline + m.massG*m.simFactor + ripple
}

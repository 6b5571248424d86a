package hal

import (
	"context"
	"sync"
)

// MockInput is an in-memory input line for tests and the simulated rig.
type MockInput struct {
	mu       sync.Mutex
	level    bool
	watchers []func(bool)
}

// NewMockInput creates a mock input resting at the given level.
func NewMockInput(level bool) *MockInput {
	return &MockInput{level: level}
}

// Read samples the simulated level.
func (m *MockInput) Read() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Watch registers fn for level-change notifications. The registration lasts
// for the life of the input; ctx is accepted for interface parity.
func (m *MockInput) Watch(_ context.Context, fn func(level bool)) error {
	m.mu.Lock()
	m.watchers = append(m.watchers, fn)
	m.mu.Unlock()
	return nil
}

// SetLevel drives the line. Each actual change is delivered to watchers
// synchronously, modeling one pin-change interrupt.
func (m *MockInput) SetLevel(level bool) {
	m.mu.Lock()
	if m.level == level {
		m.mu.Unlock()
		return
	}
	m.level = level
	watchers := append([]func(bool)(nil), m.watchers...)
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(level)
	}
}

// Bounce simulates contact chatter: a burst of raw transitions that leaves
// the line at final.
func (m *MockInput) Bounce(transitions int, final bool) {
	for i := 0; i < transitions; i++ {
		m.SetLevel(!m.Read())
	}
	m.SetLevel(final)
}

// MockOutput records every level driven on the line.
type MockOutput struct {
	mu      sync.Mutex
	level   uint8
	history []uint8
}

// NewMockOutput creates a mock output resting at level 0.
func NewMockOutput() *MockOutput {
	return &MockOutput{}
}

// SetLevel records the driven level.
func (m *MockOutput) SetLevel(level uint8) error {
	m.mu.Lock()
	m.level = level
	m.history = append(m.history, level)
	m.mu.Unlock()
	return nil
}

// Level returns the last driven level.
func (m *MockOutput) Level() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// History returns a copy of every level driven since creation or Reset.
func (m *MockOutput) History() []uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint8(nil), m.history...)
}

// Reset clears the recorded history without touching the current level.
func (m *MockOutput) Reset() {
	m.mu.Lock()
	m.history = nil
	m.mu.Unlock()
}

// MockLED is an in-memory indicator.
type MockLED struct {
	mu sync.Mutex
	on bool
}

// NewMockLED creates a mock LED, initially off.
func NewMockLED() *MockLED {
	return &MockLED{}
}

// Set drives the indicator.
func (m *MockLED) Set(on bool) error {
	m.mu.Lock()
	m.on = on
	m.mu.Unlock()
	return nil
}

// On reports the current indicator state.
func (m *MockLED) On() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

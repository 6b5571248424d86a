// Package tick provides the deferred-callback scheduler behind debounce
// settling, the hit-to-hold transition, drain watchdog counting, and
// calibration pulse timing. Each Clock is one periodic granularity; timers
// minted from a Clock are independent one-shots counted in whole ticks of
// that granularity.
package tick

import (
	"sync"
	"time"
)

// Timer is a one-shot deferred callback counted in ticks of its Clock.
//
// Arming an already armed timer restarts its deadline; a timer never queues
// a second firing. Cancel disables a pending firing and is a no-op when
// none is pending. Callbacks run on the clock's goroutine and must be short
// and non-blocking; a callback may arm or cancel timers, including its own.
type Timer interface {
	Arm(ticks uint32)
	Cancel()
	Armed() bool
}

// Clock mints timers sharing one tick granularity. Start drives the timers
// from a real periodic ticker; an unstarted Clock advanced manually with
// Advance gives tests deterministic control over firing.
type Clock struct {
	interval time.Duration

	mu      sync.Mutex
	timers  []*clockTimer
	stop    chan struct{}
	running bool
	wg      sync.WaitGroup
}

// NewClock creates a stopped clock with the given tick interval.
func NewClock(interval time.Duration) *Clock {
	return &Clock{interval: interval}
}

// Interval returns the tick granularity.
func (c *Clock) Interval() time.Duration {
	return c.interval
}

// TicksIn converts a duration to whole ticks of this clock, rounding up and
// never returning less than one tick.
func (c *Clock) TicksIn(d time.Duration) uint32 {
	if d <= c.interval {
		return 1
	}
	return uint32((d + c.interval - 1) / c.interval)
}

// NewTimer mints a disarmed timer that runs fn when it fires.
func (c *Clock) NewTimer(fn func()) Timer {
	t := &clockTimer{clock: c, fn: fn}

	c.mu.Lock()
	c.timers = append(c.timers, t)
	c.mu.Unlock()

	return t
}

// Start begins real-time ticking. It is a no-op when already running.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()
}

// Stop halts real-time ticking and waits for the tick goroutine to exit.
// Pending timers keep their remaining counts.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
}

// Advance steps the clock n ticks synchronously, running due callbacks on
// the caller's goroutine. Tests drive unstarted clocks with it.
func (c *Clock) Advance(n uint32) {
	for i := uint32(0); i < n; i++ {
		c.step()
	}
}

func (c *Clock) run() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.step()
		}
	}
}

// step decrements every armed timer and fires the ones that reach zero.
// Due callbacks are collected under the lock and invoked outside it so they
// can arm or cancel timers. A timer re-armed or canceled after collection
// but before its callback runs still sees that callback invoked; callers
// guard their callbacks on current state.
func (c *Clock) step() {
	c.mu.Lock()
	var due []*clockTimer
	for _, t := range c.timers {
		if !t.armed {
			continue
		}
		t.remaining--
		if t.remaining == 0 {
			t.armed = false
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
}

type clockTimer struct {
	clock     *Clock
	fn        func()
	armed     bool
	remaining uint32
}

var _ Timer = (*clockTimer)(nil)

// Arm schedules the callback after the given number of ticks, replacing any
// pending deadline. Zero ticks is treated as one.
func (t *clockTimer) Arm(ticks uint32) {
	if ticks == 0 {
		ticks = 1
	}

	t.clock.mu.Lock()
	t.armed = true
	t.remaining = ticks
	t.clock.mu.Unlock()
}

// Cancel disables a pending firing.
func (t *clockTimer) Cancel() {
	t.clock.mu.Lock()
	t.armed = false
	t.clock.mu.Unlock()
}

// Armed reports whether a firing is pending.
func (t *clockTimer) Armed() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	return t.armed
}

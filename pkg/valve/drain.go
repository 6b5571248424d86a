package valve

import "github.com/itohio/godrip/pkg/tick"

// drainWatchdog caps a drain session independent of user input. It counts
// coarse ticks on a self re-arming timer; it is the only component allowed
// to force the valve closed, and it only ever flips the Drain flag.
type drainWatchdog struct {
	timer   tick.Timer
	elapsed uint32
}

// start and stop run under the controller lock.

func (w *drainWatchdog) start() {
	w.elapsed = 0
	w.timer.Arm(1)
}

func (w *drainWatchdog) stop() {
	w.timer.Cancel()
	w.elapsed = 0
}

// panelSettled handles the debounced drain-panel button. A press toggles
// the drain session: it begins one only while the valve is closed and ends
// a running one. Releases are ignored, so a session outlives the press.
func (c *Controller) panelSettled(pressed bool) {
	if !pressed {
		return
	}

	c.mu.Lock()
	var changed bool
	switch {
	case c.active[Drain]:
		changed = c.setActiveLocked(Drain, false)
	case c.state == Closed:
		changed = c.setActiveLocked(Drain, true)
	default:
		c.log.Debugf("drain request ignored, valve already open")
	}
	st := c.state
	c.mu.Unlock()

	c.notify(changed, st)
}

// drainTick runs once per coarse tick while a drain session is active. Past
// the configured cap it deactivates Drain exactly as a second panel press
// would; other sources are never overridden.
func (c *Controller) drainTick() {
	c.mu.Lock()
	if !c.active[Drain] {
		// Stale firing collected just before the session ended.
		c.mu.Unlock()
		return
	}

	c.drain.elapsed++
	if c.drain.elapsed < c.cfg.DrainMaxTicks {
		c.drain.timer.Arm(1)
		c.mu.Unlock()
		return
	}

	c.log.Warnf("drain session open for %d coarse ticks, forcing release", c.drain.elapsed)
	changed := c.setActiveLocked(Drain, false)
	st := c.state
	c.mu.Unlock()

	c.notify(changed, st)
}

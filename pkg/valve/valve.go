// Package valve implements the trigger-debounce, arbitration, and two-stage
// actuation state machine for the dispensing solenoid. Three independent
// trigger sources (manual button, externally driven line, panel-initiated
// drain) are ORed together: the valve opens on the first activation, stays
// open while any source is active, and closes only when all are inactive.
// Opening applies a high hit level to overcome static friction, then
// downgrades to a lower hold level. A watchdog caps drain sessions.
package valve

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/itohio/godrip/pkg/hal"
	"github.com/itohio/godrip/pkg/tick"
)

// State is the actuation stage of the solenoid output.
type State uint8

const (
	// Closed holds exactly when no trigger source is active.
	Closed State = iota
	// OpeningHit drives the high hit level to overcome static friction.
	OpeningHit
	// HoldingOpen drives the reduced level sufficient to keep the valve open.
	HoldingOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case OpeningHit:
		return "opening-hit"
	case HoldingOpen:
		return "holding-open"
	default:
		return "unknown"
	}
}

// Source identifies one of the three trigger inputs.
type Source uint8

const (
	Manual Source = iota
	External
	Drain

	numSources
)

func (s Source) String() string {
	switch s {
	case Manual:
		return "manual"
	case External:
		return "external"
	case Drain:
		return "drain"
	default:
		return "unknown"
	}
}

// Config holds the actuation profile and timing. Tick counts are in ticks
// of the corresponding clock in Clocks.
type Config struct {
	HitLevel      uint8  // opening pulse output level
	HoldLevel     uint8  // sustain output level, below hit
	HoldDelay     uint32 // hold-clock ticks spent at hit level
	SettleTicks   uint32 // debounce-clock ticks before re-sampling a bouncing input
	DrainMaxTicks uint32 // coarse ticks before a drain session force-closes
}

// Clocks groups the tick granularities the controller schedules on.
type Clocks struct {
	Debounce *tick.Clock // settle re-sampling, ~8 ms ticks
	Hold     *tick.Clock // hit-to-hold transition, ~25 ms ticks
	Coarse   *tick.Clock // drain watchdog, ~1 s ticks
}

// Inputs groups the physical trigger lines. A nil line is not watched;
// the external trigger can still be driven synthetically through
// ExternalLevel (the calibration path).
type Inputs struct {
	Manual   hal.Input // push button, idle-high with pull-up, asserted low
	Panel    hal.Input // drain panel button, idle-high with pull-up, asserted low
	External hal.Input // driven trigger line, idle-low with pull-down, asserted high
}

// Controller owns the three trigger flags and the valve state and is the
// only writer of either. Input watch goroutines and tick clocks call into
// it concurrently; every read-modify-write runs under one mutex so each
// transition appears indivisible to the other contexts.
type Controller struct {
	cfg    Config
	log    *zap.SugaredLogger
	out    hal.Output
	inputs Inputs

	mu     sync.Mutex
	state  State
	active [numSources]bool

	manual *debouncedInput
	panel  *debouncedInput
	hold   tick.Timer
	drain  drainWatchdog

	calibrating atomic.Bool

	onChange func(State)
}

// New creates a controller wired to the given output and trigger lines.
// The output is not touched until Start.
func New(cfg Config, out hal.Output, inputs Inputs, clocks Clocks, log *zap.SugaredLogger) *Controller {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	c := &Controller{
		cfg:    cfg,
		log:    log,
		out:    out,
		inputs: inputs,
	}

	c.hold = clocks.Hold.NewTimer(c.holdElapsed)
	c.drain.timer = clocks.Coarse.NewTimer(c.drainTick)
	c.manual = newDebouncedInput(clocks.Debounce, inputs.Manual, true, cfg.SettleTicks, c.manualSettled)
	c.panel = newDebouncedInput(clocks.Debounce, inputs.Panel, true, cfg.SettleTicks, c.panelSettled)

	return c
}

// OnStateChange registers fn to run after every valve state change, outside
// the controller lock. Set it before Start; fn must be short and
// non-blocking.
func (c *Controller) OnStateChange(fn func(State)) {
	c.onChange = fn
}

// Start drives the output to the closed level and begins watching the
// trigger lines. Watch goroutines run until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.out.SetLevel(0); err != nil {
		return fmt.Errorf("failed to drive valve closed: %w", err)
	}

	if c.inputs.Manual != nil {
		// The level delivered with the raw edge is ignored; the settle
		// callback re-samples the pin once the line stops bouncing.
		if err := c.inputs.Manual.Watch(ctx, func(bool) { c.manual.rawEdge() }); err != nil {
			return fmt.Errorf("failed to watch manual input: %w", err)
		}
	}
	if c.inputs.Panel != nil {
		if err := c.inputs.Panel.Watch(ctx, func(bool) { c.panel.rawEdge() }); err != nil {
			return fmt.Errorf("failed to watch drain panel input: %w", err)
		}
	}
	if c.inputs.External != nil {
		if err := c.inputs.External.Watch(ctx, c.ExternalLevel); err != nil {
			return fmt.Errorf("failed to watch external input: %w", err)
		}
	}

	return nil
}

// ExternalLevel feeds the electrical level of the external trigger line.
// The line is idle-low, so a high level asserts the trigger; it is decoded
// directly with no settle delay because the source is assumed electrically
// clean. Real edges and the calibration sequencer's synthetic pulses both
// enter here.
func (c *Controller) ExternalLevel(level bool) {
	c.mu.Lock()
	changed := c.setActiveLocked(External, level)
	st := c.state
	c.mu.Unlock()

	c.notify(changed, st)
}

// SetCalibrating marks a calibration run in progress. Arbitration does not
// consult this flag; it only surfaces in status output and logs.
func (c *Controller) SetCalibrating(on bool) {
	c.calibrating.Store(on)
}

// Calibrating reports whether a calibration run is in progress.
func (c *Controller) Calibrating() bool {
	return c.calibrating.Load()
}

// State returns the current valve state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether the given trigger source is active.
func (c *Controller) Active(src Source) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[src]
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State       State
	Manual      bool
	External    bool
	Drain       bool
	DrainTicks  uint32
	Calibrating bool
}

// Status returns a consistent snapshot of the valve state and trigger flags.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		State:       c.state,
		Manual:      c.active[Manual],
		External:    c.active[External],
		Drain:       c.active[Drain],
		DrainTicks:  c.drain.elapsed,
		Calibrating: c.calibrating.Load(),
	}
}

// manualSettled follows the debounced manual button level: pressed
// activates the Manual source, released deactivates it.
func (c *Controller) manualSettled(pressed bool) {
	c.mu.Lock()
	changed := c.setActiveLocked(Manual, pressed)
	st := c.state
	c.mu.Unlock()

	c.notify(changed, st)
}

// holdElapsed downgrades the output from hit to hold level. The timer can
// fire after the valve already closed; the state guard makes that a no-op.
func (c *Controller) holdElapsed() {
	c.mu.Lock()
	if c.state != OpeningHit {
		c.mu.Unlock()
		return
	}
	c.state = HoldingOpen
	c.setOutputLocked(c.cfg.HoldLevel)
	st := c.state
	c.mu.Unlock()

	c.notify(true, st)
}

// setActiveLocked is the single mutation point for trigger flags. It
// reports whether the valve state changed.
func (c *Controller) setActiveLocked(src Source, active bool) bool {
	if c.active[src] == active {
		return false
	}
	c.active[src] = active

	if src == Drain {
		if active {
			c.drain.start()
		} else {
			c.drain.stop()
		}
	}

	if active {
		return c.openLocked(src)
	}
	return c.closeIfIdleLocked(src)
}

// openLocked applies the hit stage when the valve is closed. Activations
// while already open only update the flag; the hit pulse is never
// re-applied to an open valve.
func (c *Controller) openLocked(src Source) bool {
	if c.state != Closed {
		c.log.Debugf("%s active, valve already open", src)
		return false
	}

	c.state = OpeningHit
	c.setOutputLocked(c.cfg.HitLevel)
	c.hold.Arm(c.cfg.HoldDelay)
	c.log.Debugf("%s opened valve, hit level %d", src, c.cfg.HitLevel)

	return true
}

// closeIfIdleLocked closes the valve once no source holds it open,
// regardless of the stage it is in.
func (c *Controller) closeIfIdleLocked(src Source) bool {
	if c.anyActiveLocked() {
		c.log.Debugf("%s released, another source holds the valve open", src)
		return false
	}
	if c.state == Closed {
		return false
	}

	c.state = Closed
	c.setOutputLocked(0)
	c.log.Debugf("%s released, valve closed", src)

	return true
}

func (c *Controller) anyActiveLocked() bool {
	for _, a := range c.active {
		if a {
			return true
		}
	}
	return false
}

func (c *Controller) setOutputLocked(level uint8) {
	if err := c.out.SetLevel(level); err != nil {
		c.log.Errorf("failed to drive valve output to %d: %v", level, err)
	}
}

func (c *Controller) notify(changed bool, st State) {
	if changed && c.onChange != nil {
		c.onChange(st)
	}
}

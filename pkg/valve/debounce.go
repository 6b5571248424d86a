package valve

import (
	"github.com/itohio/godrip/pkg/hal"
	"github.com/itohio/godrip/pkg/tick"
)

// debouncedInput turns raw edges on a bouncing line into settled logical
// transitions. A raw edge only (re)arms the settle timer; when the timer
// fires the pin is re-sampled and compared against the last settled state,
// so a burst of chatter collapses into at most one logical transition whose
// value is the level actually present at settle time.
type debouncedInput struct {
	in          hal.Input
	assertedLow bool
	settleTicks uint32
	timer       tick.Timer

	// settled is only touched from the debounce clock's firing context.
	settled  bool
	onChange func(asserted bool)
}

func newDebouncedInput(clock *tick.Clock, in hal.Input, assertedLow bool, settleTicks uint32, onChange func(bool)) *debouncedInput {
	d := &debouncedInput{
		in:          in,
		assertedLow: assertedLow,
		settleTicks: settleTicks,
		onChange:    onChange,
	}
	d.timer = clock.NewTimer(d.settle)

	return d
}

// rawEdge restarts the settle timer. Acting on the raw edge itself would
// let contact bounce through; a new edge while the timer is pending simply
// pushes the evaluation out.
func (d *debouncedInput) rawEdge() {
	d.timer.Arm(d.settleTicks)
}

// settle re-samples the pin after the line has had time to stop bouncing.
func (d *debouncedInput) settle() {
	asserted := d.in.Read()
	if d.assertedLow {
		asserted = !asserted
	}

	if asserted == d.settled {
		// Chatter: the burst never changed the logical state.
		return
	}

	d.settled = asserted
	d.onChange(asserted)
}

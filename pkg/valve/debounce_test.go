package valve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godrip/pkg/hal"
	"github.com/itohio/godrip/pkg/tick"
)

func TestDebounce_RawEdgeDoesNotActImmediately(t *testing.T) {
	r := newRig(t)

	r.manual.SetLevel(false) // raw edge, settle timer pending
	assert.Equal(t, Closed, r.ctrl.State(), "raw edges must not drive the valve")
	assert.False(t, r.ctrl.Active(Manual))

	r.debounce.Advance(1)
	assert.Equal(t, OpeningHit, r.ctrl.State())
}

func TestDebounce_BurstCollapsesToOneTransition(t *testing.T) {
	r := newRig(t)

	// Contact chatter: several raw transitions inside one settle window,
	// ending with the button held down.
	r.manual.Bounce(7, false)
	r.debounce.Advance(1)

	assert.True(t, r.ctrl.Active(Manual))
	assert.Equal(t, []uint8{testHit}, r.out.History(),
		"a bounce burst must open the valve exactly once")

	// And back up, same story.
	r.manual.Bounce(4, true)
	r.debounce.Advance(1)

	assert.False(t, r.ctrl.Active(Manual))
	assert.Equal(t, []uint8{testHit, 0}, r.out.History())
}

func TestDebounce_BurstBackToIdleIsSuppressed(t *testing.T) {
	r := newRig(t)

	// Noise burst that settles back at the idle level: at settle time the
	// sampled level matches the logical flag, so nothing happens.
	r.manual.Bounce(6, true)
	r.debounce.Advance(1)

	assert.False(t, r.ctrl.Active(Manual))
	assert.Empty(t, r.out.History())
	assert.Equal(t, Closed, r.ctrl.State())
}

func TestDebounce_NewEdgeRestartsSettleTimer(t *testing.T) {
	// Two settle ticks so the restart is observable.
	out := hal.NewMockOutput()
	manual := hal.NewMockInput(true)
	debounce := tick.NewClock(8 * time.Millisecond)

	ctrl := New(Config{HitLevel: testHit, HoldLevel: testHold, HoldDelay: 1, SettleTicks: 2, DrainMaxTicks: 1},
		out,
		Inputs{Manual: manual},
		Clocks{Debounce: debounce, Hold: tick.NewClock(25 * time.Millisecond), Coarse: tick.NewClock(time.Second)},
		nil)
	require.NoError(t, ctrl.Start(context.Background()))

	manual.SetLevel(false) // edge, fires after 2 ticks
	debounce.Advance(1)
	manual.SetLevel(true)  // bounce
	manual.SetLevel(false) // edges restart the countdown

	debounce.Advance(1)
	assert.Equal(t, Closed, ctrl.State(),
		"the restarted timer must not fire on the original deadline")

	debounce.Advance(1)
	assert.Equal(t, OpeningHit, ctrl.State())
	assert.True(t, ctrl.Active(Manual))
}

func TestDebounce_FinalSampledLevelWins(t *testing.T) {
	r := newRig(t)

	// The burst ends released even though it started toward pressed: the
	// settle sample decides.
	r.manual.SetLevel(false)
	r.manual.SetLevel(true)
	r.debounce.Advance(1)
	assert.False(t, r.ctrl.Active(Manual))
	assert.Equal(t, Closed, r.ctrl.State())

	// Ends pressed.
	r.manual.SetLevel(false)
	r.manual.SetLevel(true)
	r.manual.SetLevel(false)
	r.debounce.Advance(1)
	assert.True(t, r.ctrl.Active(Manual))
	assert.Equal(t, OpeningHit, r.ctrl.State())
}

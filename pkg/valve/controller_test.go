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

const (
	testHit      = uint8(255)
	testHold     = uint8(90)
	testDrainMax = uint32(5)
)

// rig wires a controller to mock pins and manually advanced clocks.
type rig struct {
	ctrl     *Controller
	out      *hal.MockOutput
	manual   *hal.MockInput
	panel    *hal.MockInput
	external *hal.MockInput
	debounce *tick.Clock
	hold     *tick.Clock
	coarse   *tick.Clock
}

func newRig(t *testing.T) *rig {
	t.Helper()

	r := &rig{
		out:      hal.NewMockOutput(),
		manual:   hal.NewMockInput(true),  // idle high
		panel:    hal.NewMockInput(true),  // idle high
		external: hal.NewMockInput(false), // idle low
		debounce: tick.NewClock(8 * time.Millisecond),
		hold:     tick.NewClock(25 * time.Millisecond),
		coarse:   tick.NewClock(time.Second),
	}

	cfg := Config{
		HitLevel:      testHit,
		HoldLevel:     testHold,
		HoldDelay:     1,
		SettleTicks:   1,
		DrainMaxTicks: testDrainMax,
	}
	r.ctrl = New(cfg, r.out,
		Inputs{Manual: r.manual, Panel: r.panel, External: r.external},
		Clocks{Debounce: r.debounce, Hold: r.hold, Coarse: r.coarse},
		nil)

	require.NoError(t, r.ctrl.Start(context.Background()))
	r.out.Reset() // drop the initial closed write

	return r
}

func (r *rig) pressManual() {
	r.manual.SetLevel(false)
	r.debounce.Advance(1)
}

func (r *rig) releaseManual() {
	r.manual.SetLevel(true)
	r.debounce.Advance(1)
}

// tapPanel performs a full debounced press-and-release of the panel button.
func (r *rig) tapPanel() {
	r.panel.SetLevel(false)
	r.debounce.Advance(1)
	r.panel.SetLevel(true)
	r.debounce.Advance(1)
}

func (r *rig) assertInvariant(t *testing.T) {
	t.Helper()

	st := r.ctrl.Status()
	if st.Manual || st.External || st.Drain {
		assert.NotEqual(t, Closed, st.State, "valve must be open while any source is active")
	} else {
		assert.Equal(t, Closed, st.State, "valve must be closed when no source is active")
	}
}

func TestController_StartDrivesOutputClosed(t *testing.T) {
	out := hal.NewMockOutput()
	ctrl := New(Config{HitLevel: testHit, HoldLevel: testHold, HoldDelay: 1, SettleTicks: 1, DrainMaxTicks: 1},
		out,
		Inputs{},
		Clocks{
			Debounce: tick.NewClock(8 * time.Millisecond),
			Hold:     tick.NewClock(25 * time.Millisecond),
			Coarse:   tick.NewClock(time.Second),
		},
		nil)

	require.NoError(t, ctrl.Start(context.Background()))

	assert.Equal(t, []uint8{0}, out.History())
	assert.Equal(t, Closed, ctrl.State())
}

func TestManualPress_HitThenHoldThenClose(t *testing.T) {
	r := newRig(t)

	r.pressManual()
	assert.Equal(t, OpeningHit, r.ctrl.State())
	assert.Equal(t, testHit, r.out.Level())
	r.assertInvariant(t)

	r.hold.Advance(1)
	assert.Equal(t, HoldingOpen, r.ctrl.State())
	assert.Equal(t, testHold, r.out.Level())
	r.assertInvariant(t)

	r.releaseManual()
	assert.Equal(t, Closed, r.ctrl.State())
	assert.Equal(t, uint8(0), r.out.Level())
	r.assertInvariant(t)

	// Opening always passes through the hit stage before hold.
	assert.Equal(t, []uint8{testHit, testHold, 0}, r.out.History())
}

func TestCloseDuringHit_SkipsHoldTransition(t *testing.T) {
	r := newRig(t)

	r.pressManual()
	assert.Equal(t, OpeningHit, r.ctrl.State())

	r.releaseManual()
	assert.Equal(t, Closed, r.ctrl.State())
	r.assertInvariant(t)

	// The pending hold timer fires on a closed valve and must do nothing.
	r.hold.Advance(1)
	assert.Equal(t, Closed, r.ctrl.State())
	assert.Equal(t, []uint8{testHit, 0}, r.out.History(),
		"hold level must never be applied to a closed valve")
}

func TestReopenDuringPendingHold_RestartsHitPhase(t *testing.T) {
	r := newRig(t)

	r.pressManual()
	r.releaseManual()
	r.pressManual() // reopen before the first hold timer ever fired

	assert.Equal(t, OpeningHit, r.ctrl.State())
	r.hold.Advance(1)
	assert.Equal(t, HoldingOpen, r.ctrl.State())

	assert.Equal(t, []uint8{testHit, 0, testHit, testHold}, r.out.History())
}

func TestSecondSourceWhileOpen_NoOutputChange(t *testing.T) {
	r := newRig(t)

	r.external.SetLevel(true) // direct decode, no clock needed
	r.hold.Advance(1)
	require.Equal(t, HoldingOpen, r.ctrl.State())
	before := len(r.out.History())

	r.pressManual()
	assert.True(t, r.ctrl.Active(Manual))
	assert.Len(t, r.out.History(), before, "a second activation must not touch the output")
	r.assertInvariant(t)

	r.external.SetLevel(false)
	assert.Equal(t, HoldingOpen, r.ctrl.State(), "manual still holds the valve open")
	assert.Len(t, r.out.History(), before)
	r.assertInvariant(t)

	r.releaseManual()
	assert.Equal(t, Closed, r.ctrl.State())
	r.assertInvariant(t)
}

func TestReassertActiveSource_NoOutputChange(t *testing.T) {
	r := newRig(t)

	r.ctrl.ExternalLevel(true)
	before := r.out.History()

	r.ctrl.ExternalLevel(true) // no logical change
	assert.Equal(t, before, r.out.History())
	assert.Equal(t, OpeningHit, r.ctrl.State())
}

func TestManualAndExternal_EitherReleaseOrder(t *testing.T) {
	releaseOrders := []struct {
		name  string
		first func(*rig)
		then  func(*rig)
	}{
		{"external then manual", func(r *rig) { r.external.SetLevel(false) }, func(r *rig) { r.releaseManual() }},
		{"manual then external", func(r *rig) { r.releaseManual() }, func(r *rig) { r.external.SetLevel(false) }},
	}

	for _, order := range releaseOrders {
		t.Run(order.name, func(t *testing.T) {
			r := newRig(t)

			r.external.SetLevel(true)
			r.pressManual()
			r.hold.Advance(1)

			// One opening for both sources.
			assert.Equal(t, []uint8{testHit, testHold}, r.out.History())

			order.first(r)
			assert.Equal(t, HoldingOpen, r.ctrl.State(), "valve stays open while one source remains")
			r.assertInvariant(t)

			order.then(r)
			assert.Equal(t, Closed, r.ctrl.State())
			assert.Equal(t, []uint8{testHit, testHold, 0}, r.out.History())
			r.assertInvariant(t)
		})
	}
}

func TestExternal_DirectDecodeNoSettleDelay(t *testing.T) {
	r := newRig(t)

	// No clock advances at all: the external line acts immediately.
	r.external.SetLevel(true)
	assert.Equal(t, OpeningHit, r.ctrl.State())

	r.external.SetLevel(false)
	assert.Equal(t, Closed, r.ctrl.State())
}

func TestOnStateChange_ReportsEveryTransition(t *testing.T) {
	r := newRig(t)

	var states []State
	r.ctrl.OnStateChange(func(s State) { states = append(states, s) })

	r.pressManual()
	r.hold.Advance(1)
	r.releaseManual()

	assert.Equal(t, []State{OpeningHit, HoldingOpen, Closed}, states)
}

func TestStatus_Snapshot(t *testing.T) {
	r := newRig(t)

	r.pressManual()
	r.ctrl.SetCalibrating(true)

	st := r.ctrl.Status()
	assert.Equal(t, OpeningHit, st.State)
	assert.True(t, st.Manual)
	assert.False(t, st.External)
	assert.False(t, st.Drain)
	assert.True(t, st.Calibrating)

	r.ctrl.SetCalibrating(false)
	assert.False(t, r.ctrl.Status().Calibrating)
}

// TestScriptedSequence_InvariantHolds walks a mixed activation sequence and
// checks the closed-iff-all-inactive invariant after every step.
func TestScriptedSequence_InvariantHolds(t *testing.T) {
	r := newRig(t)

	steps := []struct {
		name string
		run  func()
	}{
		{"external asserts", func() { r.external.SetLevel(true) }},
		{"manual presses", func() { r.pressManual() }},
		{"hold elapses", func() { r.hold.Advance(1) }},
		{"panel tap ignored while open", func() { r.tapPanel() }},
		{"external releases", func() { r.external.SetLevel(false) }},
		{"manual releases", func() { r.releaseManual() }},
		{"panel tap starts drain", func() { r.tapPanel() }},
		{"watchdog runs out", func() { r.coarse.Advance(testDrainMax) }},
		{"manual press reopens", func() { r.pressManual() }},
		{"manual releases again", func() { r.releaseManual() }},
	}

	for _, step := range steps {
		step.run()
		r.assertInvariant(t)
	}

	assert.Equal(t, Closed, r.ctrl.State())
}

package calib

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/godrip/pkg/hal"
	"github.com/itohio/godrip/pkg/scale"
	"github.com/itohio/godrip/pkg/tick"
	"github.com/itohio/godrip/pkg/valve"
)

// gramsPerPulse is the mass the simulated rig drops per valve opening.
const gramsPerPulse = 0.05

type flowRig struct {
	ctrl  *valve.Controller
	out   *hal.MockOutput
	cell  *scale.Mock
	pulse *tick.Clock
	seq   *Sequencer
}

// newFlowRig builds a controller on manual clocks, a noiseless simulated
// cell that gains gramsPerPulse on every valve opening, and a sequencer
// pulsing on a 1 ms tick.
func newFlowRig(t *testing.T, density float32) *flowRig {
	t.Helper()

	out := hal.NewMockOutput()
	clocks := valve.Clocks{
		Debounce: tick.NewClock(8 * time.Millisecond),
		Hold:     tick.NewClock(25 * time.Millisecond),
		Coarse:   tick.NewClock(time.Second),
	}
	ctrl := valve.New(valve.Config{
		HitLevel:      255,
		HoldLevel:     90,
		HoldDelay:     1,
		SettleTicks:   1,
		DrainMaxTicks: 5,
	}, out, valve.Inputs{}, clocks, nil)

	cell := scale.NewMock(12000, 0, 420)
	ctrl.OnStateChange(func(st valve.State) {
		if st == valve.OpeningHit {
			cell.Deposit(gramsPerPulse)
		}
	})

	require.NoError(t, ctrl.Start(context.Background()))

	pulse := tick.NewClock(time.Millisecond)
	seq := NewSequencer(ctrl, cell, pulse, density, 4, nil)

	out.Reset()
	return &flowRig{ctrl: ctrl, out: out, cell: cell, pulse: pulse, seq: seq}
}

func TestRun_PulseTrainCountIsExact(t *testing.T) {
	r := newFlowRig(t, 1.0)

	var results []TrialResult
	runErr := make(chan error, 1)
	go func() {
		runErr <- r.seq.Run(
			[]Trial{{PulseDuration: 100 * time.Millisecond, PulseCount: 10}},
			func(res TrialResult) { results = append(results, res) },
		)
	}()

	require.Eventually(t, func() bool { return r.ctrl.Active(valve.External) },
		time.Second, time.Millisecond)

	// 100 ticks per pulse, ten pulses. Each completed pulse re-arms and
	// re-asserts inside the timer callback, so one advance walks the train.
	r.pulse.Advance(1000)

	require.NoError(t, <-runErr)

	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, 1, res.TrialIndex)
	assert.Equal(t, 10, res.PulseCount)
	assert.InDelta(t, 0.5, res.DispensedGrams, 1e-3)
	assert.InDelta(t, 0.5, res.VolumeML, 1e-3)
	assert.InDelta(t, 0.05, res.VolumePerPulse, 1e-4)
	assert.InDelta(t, 0.5, res.FlowRateMLPerS, 1e-3)

	// Exactly ten discrete open/close pairs reached the coil.
	history := r.out.History()
	require.Len(t, history, 20)
	for i, level := range history {
		if i%2 == 0 {
			assert.Equal(t, uint8(255), level, "write %d", i)
		} else {
			assert.Equal(t, uint8(0), level, "write %d", i)
		}
	}

	assert.Equal(t, valve.Closed, r.ctrl.State())
	assert.False(t, r.ctrl.Active(valve.External))
	assert.False(t, r.ctrl.Calibrating())
}

func TestRun_LadderTaresPerTrial(t *testing.T) {
	r := newFlowRig(t, 1.0)

	trials := []Trial{
		{PulseDuration: 20 * time.Millisecond, PulseCount: 3},
		{PulseDuration: 40 * time.Millisecond, PulseCount: 2},
	}
	var results []TrialResult
	runErr := make(chan error, 1)
	go func() {
		runErr <- r.seq.Run(trials, func(res TrialResult) { results = append(results, res) })
	}()

	for _, trial := range trials {
		require.Eventually(t, func() bool { return r.ctrl.Active(valve.External) },
			time.Second, time.Millisecond)
		r.pulse.Advance(uint32(trial.PulseCount) * uint32(trial.PulseDuration/time.Millisecond))
	}

	require.NoError(t, <-runErr)
	require.Len(t, results, 2)

	// Each trial tares first, so rows report only their own dispensed mass.
	assert.InDelta(t, 0.15, results[0].DispensedGrams, 1e-3)
	assert.InDelta(t, 2.5, results[0].FlowRateMLPerS, 1e-2)
	assert.InDelta(t, 0.10, results[1].DispensedGrams, 1e-3)
	assert.InDelta(t, 1.25, results[1].FlowRateMLPerS, 1e-2)

	assert.InDelta(t, 0.25, r.cell.PanMass(), 1e-3)
}

func TestRun_DensityConvertsMassToVolume(t *testing.T) {
	r := newFlowRig(t, 2.0)

	var results []TrialResult
	runErr := make(chan error, 1)
	go func() {
		runErr <- r.seq.Run(
			[]Trial{{PulseDuration: 20 * time.Millisecond, PulseCount: 2}},
			func(res TrialResult) { results = append(results, res) },
		)
	}()

	require.Eventually(t, func() bool { return r.ctrl.Active(valve.External) },
		time.Second, time.Millisecond)
	r.pulse.Advance(40)

	require.NoError(t, <-runErr)
	require.Len(t, results, 1)

	assert.InDelta(t, 0.10, results[0].DispensedGrams, 1e-3)
	assert.InDelta(t, 0.05, results[0].VolumeML, 1e-3)
	assert.InDelta(t, 0.025, results[0].VolumePerPulse, 1e-4)
	assert.InDelta(t, 1.25, results[0].FlowRateMLPerS, 1e-2)
}

func TestRun_BlocksUntilPulseClockDelivers(t *testing.T) {
	r := newFlowRig(t, 1.0)

	runErr := make(chan error, 1)
	go func() {
		runErr <- r.seq.Run([]Trial{{PulseDuration: 20 * time.Millisecond, PulseCount: 1}}, nil)
	}()

	require.Eventually(t, func() bool { return r.ctrl.Active(valve.External) },
		time.Second, time.Millisecond)

	// No ticks, no completion: the run stays blocked with the valve open.
	select {
	case err := <-runErr:
		t.Fatalf("run returned without pulse ticks: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, valve.OpeningHit, r.ctrl.State())
	assert.True(t, r.ctrl.Calibrating())

	r.pulse.Advance(20)
	require.NoError(t, <-runErr)
	assert.Equal(t, valve.Closed, r.ctrl.State())
	assert.False(t, r.ctrl.Calibrating())
}

func TestRun_Validation(t *testing.T) {
	r := newFlowRig(t, 1.0)

	assert.ErrorIs(t, r.seq.Run(nil, nil), ErrNoTrials)

	err := r.seq.Run([]Trial{{PulseDuration: 20 * time.Millisecond, PulseCount: 0}}, nil)
	assert.Error(t, err)
	assert.False(t, r.ctrl.Calibrating())

	err = r.seq.Run([]Trial{{PulseDuration: 0, PulseCount: 5}}, nil)
	assert.Error(t, err)
}

type failingScale struct {
	*scale.Mock
	tareErr error
}

func (f *failingScale) Tare(samples int) error {
	if f.tareErr != nil {
		return f.tareErr
	}
	return f.Mock.Tare(samples)
}

func TestRun_TareErrorAborts(t *testing.T) {
	r := newFlowRig(t, 1.0)

	fs := &failingScale{Mock: scale.NewMock(0, 0, 1), tareErr: errors.New("bridge unplugged")}
	seq := NewSequencer(r.ctrl, fs, tick.NewClock(time.Millisecond), 1, 4, nil)

	err := seq.Run([]Trial{{PulseDuration: 20 * time.Millisecond, PulseCount: 1}}, nil)
	assert.ErrorContains(t, err, "failed to tare")
	assert.ErrorContains(t, err, "bridge unplugged")
	assert.False(t, r.ctrl.Calibrating())
	assert.Equal(t, valve.Closed, r.ctrl.State())
}

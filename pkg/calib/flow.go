// Package calib implements the two calibration procedures for the
// dispensing rig: flow calibration, which measures dispensed volume across
// a ladder of valve pulse widths, and weight calibration, which fits the
// scale factor of the load cell against reference masses.
package calib

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/godrip/pkg/scale"
	"github.com/itohio/godrip/pkg/tick"
	"github.com/itohio/godrip/pkg/valve"
)

// ErrNoTrials is returned by Run when the trial ladder is empty.
var ErrNoTrials = errors.New("no calibration trials configured")

// Trial is one rung of the flow-calibration ladder: a pulse width and how
// many pulses to dispense at that width.
type Trial struct {
	PulseDuration time.Duration
	PulseCount    int
}

// TrialResult is one measured row of the flow-calibration table.
type TrialResult struct {
	TrialIndex     int
	PulseDuration  time.Duration
	PulseCount     int
	DispensedGrams float32
	VolumeML       float32 // total volume dispensed by the trial
	VolumePerPulse float32 // mL
	FlowRateMLPerS float32 // per-pulse volume over per-pulse open time
}

// Sequencer dispenses calibration pulse trains through the valve
// controller and measures the result on the scale. Pulses enter the
// controller as synthetic external-trigger levels, so calibration
// exercises the same debounce-free decode, arbitration, and two-stage
// actuation as a live trigger.
type Sequencer struct {
	ctrl    *valve.Controller
	scale   scale.Scale
	clock   *tick.Clock
	timer   tick.Timer
	log     *zap.SugaredLogger
	samples int
	density float32 // grams per mL of the dispensed fluid

	mu  sync.Mutex
	run *pulseRun
}

// pulseRun tracks one in-flight pulse train.
type pulseRun struct {
	durationTicks uint32
	target        int
	completed     int
	done          chan struct{}
}

// NewSequencer creates a flow-calibration sequencer. Pulse widths are
// timed on clock; densityGPerML converts measured grams to volume and
// samples sets the scale averaging window. A nil log discards output.
func NewSequencer(ctrl *valve.Controller, sc scale.Scale, clock *tick.Clock, densityGPerML float32, samples int, log *zap.SugaredLogger) *Sequencer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if densityGPerML == 0 {
		densityGPerML = 1
	}
	if samples <= 0 {
		samples = 1
	}

	s := &Sequencer{
		ctrl:    ctrl,
		scale:   sc,
		clock:   clock,
		log:     log,
		samples: samples,
		density: densityGPerML,
	}
	s.timer = clock.NewTimer(s.pulseElapsed)
	return s
}

// Run dispenses every trial in order and hands each measured row to
// onResult. The controller is flagged as calibrating for the duration.
//
// Each trial blocks until its pulse train reports completion; a stalled
// pulse clock stalls the run with it.
func (s *Sequencer) Run(trials []Trial, onResult func(TrialResult)) error {
	if len(trials) == 0 {
		return ErrNoTrials
	}

	s.ctrl.SetCalibrating(true)
	defer s.ctrl.SetCalibrating(false)

	for i, trial := range trials {
		if trial.PulseCount <= 0 {
			return fmt.Errorf("trial %d: pulse count must be positive, got %d", i+1, trial.PulseCount)
		}
		if trial.PulseDuration <= 0 {
			return fmt.Errorf("trial %d: pulse duration must be positive, got %s", i+1, trial.PulseDuration)
		}

		if err := s.scale.Tare(s.samples); err != nil {
			return fmt.Errorf("trial %d: failed to tare: %w", i+1, err)
		}

		ticks := s.clock.TicksIn(trial.PulseDuration)
		run := &pulseRun{
			durationTicks: ticks,
			target:        trial.PulseCount,
			done:          make(chan struct{}),
		}

		s.mu.Lock()
		s.run = run
		s.mu.Unlock()

		s.log.Infof("Trial %d/%d: %d pulses of %s", i+1, len(trials), trial.PulseCount, trial.PulseDuration)

		s.timer.Arm(ticks)
		s.ctrl.ExternalLevel(true)

		<-run.done

		grams, err := s.scale.ReadUnits(s.samples)
		if err != nil {
			return fmt.Errorf("trial %d: failed to read dispensed mass: %w", i+1, err)
		}

		openPerPulse := time.Duration(ticks) * s.clock.Interval()
		volume := grams / s.density
		perPulse := volume / float32(trial.PulseCount)
		flow := perPulse / float32(openPerPulse.Seconds())

		result := TrialResult{
			TrialIndex:     i + 1,
			PulseDuration:  trial.PulseDuration,
			PulseCount:     trial.PulseCount,
			DispensedGrams: grams,
			VolumeML:       volume,
			VolumePerPulse: perPulse,
			FlowRateMLPerS: flow,
		}
		if onResult != nil {
			onResult(result)
		}
	}

	return nil
}

// pulseElapsed runs on the pulse clock when the current pulse width has
// elapsed: it closes the valve, then either starts the next pulse or
// reports the train complete.
func (s *Sequencer) pulseElapsed() {
	s.ctrl.ExternalLevel(false)

	s.mu.Lock()
	run := s.run
	if run == nil {
		s.mu.Unlock()
		return
	}
	run.completed++
	finished := run.completed >= run.target
	if finished {
		s.run = nil
	}
	s.mu.Unlock()

	if finished {
		close(run.done)
		return
	}

	s.timer.Arm(run.durationTicks)
	s.ctrl.ExternalLevel(true)
}

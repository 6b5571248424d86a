package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/itohio/godrip/pkg/config"
	"github.com/itohio/godrip/pkg/hal"
	"github.com/itohio/godrip/pkg/scale"
	"github.com/itohio/godrip/pkg/store"
	"github.com/itohio/godrip/pkg/tick"
	"github.com/itohio/godrip/pkg/valve"
)

// rig bundles the controller, its clocks, and the scale for one session,
// built either against real GPIO and the serial bridge or fully simulated.
type rig struct {
	cfg *config.Config
	log *zap.SugaredLogger

	ctrl       *valve.Controller
	cell       scale.Scale
	serial     *scale.Serial // non-nil on hardware
	mockCell   *scale.Mock   // non-nil when simulated
	led        hal.LED       // nil when disabled
	scaleStore *store.ScaleStore

	clocks []*tick.Clock
	pulse  *tick.Clock
}

// buildRig wires clocks, pins, controller, and scale. Nothing moves until
// start.
func buildRig(cfg *config.Config, mock bool, log *zap.SugaredLogger) (*rig, error) {
	r := &rig{cfg: cfg, log: log}

	// One clock per timing concern; each timer's configured duration is its
	// clock's granularity.
	debounce := tick.NewClock(cfg.Debounce.Settle)
	hold := tick.NewClock(cfg.Valve.HoldTransition)
	coarse := tick.NewClock(time.Second)
	r.pulse = tick.NewClock(cfg.Calibration.PulseTick)
	r.clocks = []*tick.Clock{debounce, hold, coarse, r.pulse}

	vcfg := valve.Config{
		HitLevel:      cfg.Valve.HitLevel,
		HoldLevel:     cfg.Valve.HoldLevel,
		HoldDelay:     hold.TicksIn(cfg.Valve.HoldTransition),
		SettleTicks:   debounce.TicksIn(cfg.Debounce.Settle),
		DrainMaxTicks: coarse.TicksIn(cfg.Drain.MaxOpen),
	}
	clocks := valve.Clocks{Debounce: debounce, Hold: hold, Coarse: coarse}

	var (
		out    hal.Output
		inputs valve.Inputs
	)
	if mock {
		out = hal.NewMockOutput()
		r.mockCell = scale.NewMock(cfg.Mock.BaselineCounts, cfg.Mock.NoiseCounts, cfg.Mock.ScaleFactor)
		r.cell = r.mockCell
	} else {
		if err := hal.Init(); err != nil {
			return nil, err
		}

		manual, err := hal.OpenInput(cfg.Pins.Manual, hal.PullUp)
		if err != nil {
			return nil, fmt.Errorf("manual trigger: %w", err)
		}
		panel, err := hal.OpenInput(cfg.Pins.DrainPanel, hal.PullUp)
		if err != nil {
			return nil, fmt.Errorf("drain panel: %w", err)
		}
		external, err := hal.OpenInput(cfg.Pins.External, hal.PullDown)
		if err != nil {
			return nil, fmt.Errorf("external trigger: %w", err)
		}
		inputs = valve.Inputs{Manual: manual, Panel: panel, External: external}

		out, err = hal.OpenPWM(cfg.Pins.Valve, cfg.Valve.PWMHz)
		if err != nil {
			return nil, fmt.Errorf("valve output: %w", err)
		}

		if cfg.Pins.StatusLED != "" {
			led, err := hal.OpenLED(cfg.Pins.StatusLED)
			if err != nil {
				return nil, fmt.Errorf("status led: %w", err)
			}
			r.led = led
		}

		r.serial = scale.New(cfg.Scale.Port, cfg.Scale.BaudRate, 0, cfg.Scale.ReadTimeout)
		r.cell = r.serial
	}

	r.ctrl = valve.New(vcfg, out, inputs, clocks, log)

	fallback := float32(1)
	if mock {
		fallback = cfg.Mock.ScaleFactor
	}
	r.scaleStore = store.NewScaleStore(cfg.Store.ScaleFile, fallback)

	var drip *mockDrip
	if r.mockCell != nil {
		drip = &mockDrip{cell: r.mockCell, rate: cfg.Mock.DripGramsPerS}
	}
	r.ctrl.OnStateChange(func(st valve.State) {
		open := st != valve.Closed
		if r.led != nil {
			if err := r.led.Set(open); err != nil {
				log.Warnf("Failed to drive status led: %v", err)
			}
		}
		if drip != nil {
			drip.stateChanged(st)
		}
	})

	return r, nil
}

// start runs the clocks, drives the valve closed, connects the scale, and
// applies the persisted scale factor.
func (r *rig) start(ctx context.Context) error {
	for _, c := range r.clocks {
		c.Start()
	}

	if err := r.ctrl.Start(ctx); err != nil {
		return err
	}

	if r.serial != nil {
		if err := r.serial.Connect(); err != nil {
			return fmt.Errorf("failed to connect scale bridge: %w", err)
		}
	}

	factor, err := r.scaleStore.Load()
	if err != nil {
		return err
	}
	r.cell.SetScale(factor)
	r.log.Infof("Scale factor: %.3f counts/g", factor)

	return nil
}

// stop closes the scale and halts the clocks.
func (r *rig) stop() {
	if r.serial != nil {
		if err := r.serial.Close(); err != nil {
			r.log.Warnf("Failed to close scale bridge: %v", err)
		}
	}
	for _, c := range r.clocks {
		c.Stop()
	}
}

// mockDrip accumulates simulated dispensed mass on the mock cell while the
// valve is open, so calibration against the simulated rig yields plausible
// numbers.
type mockDrip struct {
	mu       sync.Mutex
	cell     *scale.Mock
	rate     float32 // grams per second while open
	openedAt time.Time
	open     bool
}

func (d *mockDrip) stateChanged(st valve.State) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	open := st != valve.Closed
	switch {
	case open && !d.open:
		d.openedAt = now
	case !open && d.open:
		d.cell.Deposit(d.rate * float32(now.Sub(d.openedAt).Seconds()))
	}
	d.open = open
}

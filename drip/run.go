package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itohio/godrip/pkg/calib"
	"github.com/itohio/godrip/pkg/config"
	"github.com/itohio/godrip/pkg/console"
	"github.com/itohio/godrip/pkg/logger"
	"github.com/itohio/godrip/pkg/store"
	"github.com/itohio/godrip/pkg/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the valve controller with the operator console on stdin.",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(ctx, cfg, mockFlag)
	},
}

func run(ctx context.Context, cfg *config.Config, mock bool) error {
	log := logger.Logger()
	log.Infof("Starting drip %s (mock=%v)", version.Short(), mock)

	r, err := buildRig(cfg, mock, log)
	if err != nil {
		return err
	}
	defer r.stop()

	if err := r.start(ctx); err != nil {
		return err
	}

	hist, err := store.OpenHistory(cfg.Store.HistoryFile)
	if err != nil {
		// A rig without trial history still dispenses.
		log.Warnf("History store disabled: %v", err)
		hist = nil
	} else {
		defer hist.Close()
	}

	seq := calib.NewSequencer(r.ctrl, r.cell, r.pulse, cfg.Calibration.DensityGPerML, cfg.Scale.Samples, log)

	cons := console.New(os.Stdin, os.Stdout, console.Deps{
		Ctrl:    r.ctrl,
		Scale:   r.cell,
		Flow:    seq,
		Trials:  flowTrials(cfg),
		Masses:  cfg.Calibration.ReferenceGrams,
		Samples: cfg.Scale.Samples,
		Store:   r.scaleStore,
		History: hist,
		Log:     log,
	})

	log.Infof("Console ready")
	return cons.Run(ctx)
}

// flowTrials converts the configured trial table to sequencer trials.
func flowTrials(cfg *config.Config) []calib.Trial {
	trials := make([]calib.Trial, 0, len(cfg.Calibration.Trials))
	for _, t := range cfg.Calibration.Trials {
		trials = append(trials, calib.Trial{
			PulseDuration: t.Duration,
			PulseCount:    t.Count,
		})
	}
	return trials
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/itohio/godrip/pkg/calib"
	"github.com/itohio/godrip/pkg/logger"
	"github.com/itohio/godrip/pkg/store"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run a calibration procedure without the operator console.",
}

func init() {
	calibrateCmd.AddCommand(calibrateFlowCmd)
	calibrateCmd.AddCommand(calibrateWeightCmd)
}

var calibrateFlowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Run the flow-trial ladder and print one row per trial.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		log := logger.Logger()

		r, err := buildRig(cfg, mockFlag, log)
		if err != nil {
			return err
		}
		defer r.stop()
		if err := r.start(ctx); err != nil {
			return err
		}

		hist, err := store.OpenHistory(cfg.Store.HistoryFile)
		if err != nil {
			log.Warnf("History store disabled: %v", err)
			hist = nil
		} else {
			defer hist.Close()
		}

		seq := calib.NewSequencer(r.ctrl, r.cell, r.pulse, cfg.Calibration.DensityGPerML, cfg.Scale.Samples, log)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%8s %6s %12s %14s %10s\n", "pulse", "trial", "volume mL", "per pulse mL", "mL/s")
		return seq.Run(flowTrials(cfg), func(res calib.TrialResult) {
			fmt.Fprintf(out, "%6dms %6d %12.4f %14.5f %10.4f\n",
				res.PulseDuration.Milliseconds(), res.TrialIndex,
				res.VolumeML, res.VolumePerPulse, res.FlowRateMLPerS)
			if hist == nil {
				return
			}
			if err := hist.RecordTrial(ctx, store.NewTrialRecord(res)); err != nil {
				log.Warnf("Failed to record trial: %v", err)
			}
		})
	},
}

var calibrateWeightCmd = &cobra.Command{
	Use:   "weight",
	Short: "Fit the scale factor against the configured reference masses.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log := logger.Logger()

		r, err := buildRig(cfg, mockFlag, log)
		if err != nil {
			return err
		}
		defer r.stop()
		if err := r.start(context.Background()); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(cmd.InOrStdin())
		prompt := func(msg string) error {
			fmt.Fprintf(out, "%s, then press enter\n", msg)
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return err
				}
				return io.EOF
			}
			return nil
		}

		w := calib.NewWeightCalibrator(r.cell, cfg.Calibration.ReferenceGrams, cfg.Scale.Samples)
		factor, err := w.Run(prompt, func(p calib.Point) {
			fmt.Fprintf(out, "%8.1f g -> %10.1f counts\n", p.MassGrams, p.DeltaCounts)
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "scale factor: %.3f counts/g\n", factor)
		if err := r.scaleStore.Save(factor); err != nil {
			return err
		}
		fmt.Fprintln(out, "scale factor saved")
		return nil
	},
}

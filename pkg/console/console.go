// Package console implements the operator command channel: single-letter
// commands with an optional integer modifier, read one line at a time.
// Unrecognized commands and malformed modifiers are ignored so a stray
// keystroke never disturbs a live rig.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/itohio/godrip/pkg/calib"
	"github.com/itohio/godrip/pkg/scale"
	"github.com/itohio/godrip/pkg/store"
	"github.com/itohio/godrip/pkg/valve"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	errColor    = color.New(color.FgRed)
)

// Deps are the collaborators a console session drives.
type Deps struct {
	Ctrl    *valve.Controller
	Scale   scale.Scale
	Flow    *calib.Sequencer
	Trials  []calib.Trial
	Masses  []float32 // reference masses for weight calibration, grams
	Samples int       // default averaging window
	Store   *store.ScaleStore
	History *store.History // optional
	Log     *zap.SugaredLogger
}

// Console reads operator commands from a line-oriented channel and drives
// the rig. Calibration commands own the channel while they run, so their
// prompts read from the same stream.
type Console struct {
	deps  Deps
	in    io.Reader
	out   io.Writer
	lines chan string
	echo  bool
}

// New creates a console over the given streams. Nothing is read until Run.
func New(in io.Reader, out io.Writer, deps Deps) *Console {
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	if deps.Samples <= 0 {
		deps.Samples = 1
	}
	return &Console{
		deps:  deps,
		in:    in,
		out:   out,
		lines: make(chan string),
	}
}

// Run prints the menu and dispatches commands until ctx is done or the
// input stream ends.
func (c *Console) Run(ctx context.Context) error {
	go c.readLines(ctx)

	c.printMenu()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-c.lines:
			if !ok {
				return nil
			}
			c.dispatch(ctx, line)
		}
	}
}

// readLines pumps input lines into the lines channel until EOF or ctx.
func (c *Console) readLines(ctx context.Context) {
	defer close(c.lines)

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case c.lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.deps.Log.Warnf("Console input closed: %v", err)
	}
}

// awaitLine blocks until the operator sends any line. Calibration prompts
// use it to pace their steps.
func (c *Console) awaitLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// dispatch parses and runs one command line.
func (c *Console) dispatch(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if c.echo {
		fmt.Fprintf(c.out, "> %s\n", line)
	}

	fields := strings.Fields(line)
	if len(fields[0]) != 1 || len(fields) > 2 {
		c.deps.Log.Debugf("Ignoring unrecognized command %q", line)
		return
	}

	n := 0
	if len(fields) == 2 {
		v, err := strconv.Atoi(fields[1])
		if err != nil || v <= 0 {
			c.deps.Log.Debugf("Ignoring malformed modifier %q", line)
			return
		}
		n = v
	}

	switch fields[0] {
	case "t":
		c.cmdTare(c.samples(n))
	case "r":
		c.cmdReadRaw(c.samples(n))
	case "u":
		c.cmdReadUnits(c.samples(n))
	case "w":
		c.cmdWeight(ctx)
	case "f":
		c.cmdFlow(ctx)
	case "s":
		c.cmdStatus()
	case "h":
		c.cmdHistory(ctx, n)
	case "e":
		c.echo = !c.echo
		if c.echo {
			c.okf("echo on")
		} else {
			c.okf("echo off")
		}
	case "m":
		c.printMenu()
	default:
		c.deps.Log.Debugf("Ignoring unrecognized command %q", line)
	}
}

// samples applies the default averaging window when no modifier was given.
func (c *Console) samples(n int) int {
	if n > 0 {
		return n
	}
	return c.deps.Samples
}

func (c *Console) cmdTare(n int) {
	if err := c.deps.Scale.Tare(n); err != nil {
		c.errorf("tare failed: %v", err)
		return
	}
	c.okf("tared (%d samples)", n)
}

func (c *Console) cmdReadRaw(n int) {
	raw, err := c.deps.Scale.ReadRaw(n)
	if err != nil {
		c.errorf("read failed: %v", err)
		return
	}
	c.printf("raw: %.1f counts (%d samples)\n", raw, n)
}

func (c *Console) cmdReadUnits(n int) {
	units, err := c.deps.Scale.ReadUnits(n)
	if err != nil {
		c.errorf("read failed: %v", err)
		return
	}
	c.printf("weight: %.3f g (%d samples)\n", units, n)
}

// cmdWeight walks the operator through scale calibration. The prompts
// block on the next input line, so the command owns the console until it
// finishes.
func (c *Console) cmdWeight(ctx context.Context) {
	w := calib.NewWeightCalibrator(c.deps.Scale, c.deps.Masses, c.deps.Samples)

	factor, err := w.Run(
		func(msg string) error {
			c.printf("%s, then press enter\n", msg)
			_, err := c.awaitLine(ctx)
			return err
		},
		func(p calib.Point) {
			c.printf("%8.1f g -> %10.1f counts\n", p.MassGrams, p.DeltaCounts)
		},
	)
	if err != nil {
		c.errorf("weight calibration failed: %v", err)
		return
	}

	c.okf("scale factor: %.3f counts/g", factor)
	if c.deps.Store != nil {
		if err := c.deps.Store.Save(factor); err != nil {
			c.errorf("failed to persist scale factor: %v", err)
			return
		}
		c.printf("scale factor saved\n")
	}
}

// cmdFlow runs the configured trial ladder, printing one row per trial and
// recording each in the history store. The console blocks while the
// sequencer runs.
func (c *Console) cmdFlow(ctx context.Context) {
	start := time.Now()
	c.headerf("flow calibration: %d trials", len(c.deps.Trials))
	c.printf("%8s %6s %12s %14s %10s\n", "pulse", "trial", "volume mL", "per pulse mL", "mL/s")

	err := c.deps.Flow.Run(c.deps.Trials, func(res calib.TrialResult) {
		c.printf("%6dms %6d %12.4f %14.5f %10.4f\n",
			res.PulseDuration.Milliseconds(), res.TrialIndex,
			res.VolumeML, res.VolumePerPulse, res.FlowRateMLPerS)

		if c.deps.History == nil {
			return
		}
		if err := c.deps.History.RecordTrial(ctx, store.NewTrialRecord(res)); err != nil {
			c.deps.Log.Warnf("Failed to record trial: %v", err)
		}
	})
	if err != nil {
		c.errorf("flow calibration failed: %v", err)
		return
	}

	c.okf("flow calibration complete in %s", time.Since(start).Round(time.Millisecond))
}

func (c *Console) cmdStatus() {
	st := c.deps.Ctrl.Status()
	c.headerf("valve: %s", st.State)
	c.printf("  manual=%v external=%v drain=%v drainTicks=%d calibrating=%v\n",
		st.Manual, st.External, st.Drain, st.DrainTicks, st.Calibrating)
	c.printf("  scale factor: %.3f counts/g\n", c.deps.Scale.Scale())
}

func (c *Console) cmdHistory(ctx context.Context, n int) {
	if c.deps.History == nil {
		c.printf("no history store configured\n")
		return
	}
	if n <= 0 {
		n = 10
	}

	rows, err := c.deps.History.Recent(ctx, n)
	if err != nil {
		c.errorf("history read failed: %v", err)
		return
	}
	if len(rows) == 0 {
		c.printf("no trials recorded yet\n")
		return
	}

	c.headerf("last %d trials", len(rows))
	for _, r := range rows {
		c.printf("%s  #%d %6.0fms x%-4d %8.4f mL %10.5f mL/pulse %8.4f mL/s\n",
			r.RunAt.Format("2006-01-02 15:04:05"), r.TrialIndex,
			r.PulseMs, r.PulseCount, r.VolumeML, r.VolumePerPulse, r.FlowMLPerS)
	}
}

func (c *Console) printMenu() {
	c.headerf("commands")
	rows := []struct{ cmd, desc string }{
		{"t [n]", "tare the scale"},
		{"r [n]", "read raw counts"},
		{"u [n]", "read weight in grams"},
		{"w", "calibrate scale against reference masses"},
		{"f", "run flow calibration"},
		{"s", "show valve and scale status"},
		{"h [n]", "show recent flow trials"},
		{"e", "toggle command echo"},
		{"m", "show this menu"},
	}
	for _, r := range rows {
		c.printf("  %-6s %s\n", r.cmd, r.desc)
	}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) headerf(format string, args ...any) {
	headerColor.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) okf(format string, args ...any) {
	okColor.Fprintf(c.out, format+"\n", args...)
}

func (c *Console) errorf(format string, args ...any) {
	errColor.Fprintf(c.out, format+"\n", args...)
}

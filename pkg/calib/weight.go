package calib

import (
	"errors"
	"fmt"

	"github.com/itohio/godrip/pkg/scale"
)

var (
	// ErrNoReferenceMasses is returned by a weight calibration run with an
	// empty reference set.
	ErrNoReferenceMasses = errors.New("no reference masses configured")
	// ErrBadFit is returned when the fitted scale factor comes out
	// non-positive, which means the cell readings did not track the masses.
	ErrBadFit = errors.New("calibration fit produced a non-positive scale factor")
)

// Point is one measured point of a weight calibration: a reference mass
// and the raw counts it added over the tared zero.
type Point struct {
	MassGrams   float32
	DeltaCounts float32
}

// WeightCalibrator fits the counts-per-gram scale factor of the load cell
// against a set of reference masses. The fit is least squares through the
// origin, so the tare offset absorbs the empty-pan reading and a single
// factor maps counts to grams.
type WeightCalibrator struct {
	scale   scale.Scale
	masses  []float32
	samples int
}

// NewWeightCalibrator creates a calibrator over the given reference masses
// in grams. samples sets the averaging window per reading.
func NewWeightCalibrator(sc scale.Scale, masses []float32, samples int) *WeightCalibrator {
	if samples <= 0 {
		samples = 1
	}
	return &WeightCalibrator{
		scale:   sc,
		masses:  masses,
		samples: samples,
	}
}

// Run walks the operator through the reference masses. prompt is called
// with an instruction and must return once the operator has complied;
// onPoint receives each measured point. On success the fitted factor is
// applied to the scale and returned.
func (w *WeightCalibrator) Run(prompt func(msg string) error, onPoint func(Point)) (float32, error) {
	if len(w.masses) == 0 {
		return 0, ErrNoReferenceMasses
	}
	for _, m := range w.masses {
		if m <= 0 {
			return 0, fmt.Errorf("reference mass must be positive, got %v g", m)
		}
	}

	if err := prompt("remove all weight from the pan"); err != nil {
		return 0, err
	}
	if err := w.scale.Tare(w.samples); err != nil {
		return 0, fmt.Errorf("failed to tare: %w", err)
	}
	zero, err := w.scale.ReadRaw(w.samples)
	if err != nil {
		return 0, fmt.Errorf("failed to read zero point: %w", err)
	}

	var num, den float32
	for _, m := range w.masses {
		if err := prompt(fmt.Sprintf("place %v g on the pan", m)); err != nil {
			return 0, err
		}
		raw, err := w.scale.ReadRaw(w.samples)
		if err != nil {
			return 0, fmt.Errorf("failed to read %v g point: %w", m, err)
		}

		delta := raw - zero
		num += m * delta
		den += m * m

		if onPoint != nil {
			onPoint(Point{MassGrams: m, DeltaCounts: delta})
		}
	}

	factor := num / den
	if factor <= 0 {
		return 0, ErrBadFit
	}

	w.scale.SetScale(factor)
	return factor, nil
}

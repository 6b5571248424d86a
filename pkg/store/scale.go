// Package store persists the rig's calibration artifacts: the fitted scale
// factor as a small YAML file and flow-calibration results in SQLite.
package store

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ScaleRecord is the persisted scale calibration.
type ScaleRecord struct {
	ScaleFactor  float32   `yaml:"scale_factor"` // counts per gram
	CalibratedAt time.Time `yaml:"calibrated_at,omitempty"`
}

// LoadScale reads the persisted scale factor. A missing file or a zero
// stored factor falls back to the given default, matching first boot on a
// fresh rig.
func LoadScale(path string, fallback float32) (ScaleRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ScaleRecord{ScaleFactor: fallback}, nil
		}
		return ScaleRecord{}, fmt.Errorf("failed to read scale file: %w", err)
	}

	var rec ScaleRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return ScaleRecord{}, fmt.Errorf("failed to parse scale file: %w", err)
	}
	if rec.ScaleFactor == 0 {
		rec.ScaleFactor = fallback
	}
	return rec, nil
}

// SaveScale writes the scale record to path.
func SaveScale(path string, rec ScaleRecord) error {
	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to marshal scale record: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write scale file: %w", err)
	}
	return nil
}

// ScaleStore binds scale-factor persistence to one file and one fallback.
type ScaleStore struct {
	path     string
	fallback float32
}

// NewScaleStore creates a store over path. fallback is returned by Load
// when no calibration has been saved yet.
func NewScaleStore(path string, fallback float32) *ScaleStore {
	return &ScaleStore{path: path, fallback: fallback}
}

// Load returns the persisted scale factor, or the fallback on a fresh rig.
func (s *ScaleStore) Load() (float32, error) {
	rec, err := LoadScale(s.path, s.fallback)
	if err != nil {
		return 0, err
	}
	return rec.ScaleFactor, nil
}

// Save persists the scale factor stamped with the current time.
func (s *ScaleStore) Save(factor float32) error {
	return SaveScale(s.path, ScaleRecord{
		ScaleFactor:  factor,
		CalibratedAt: time.Now(),
	})
}

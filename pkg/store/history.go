package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/itohio/godrip/pkg/calib"
)

// schemaSQL creates the calibration history table. IF NOT EXISTS keeps
// reopening an existing file cheap.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS trials (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	trial_index INTEGER NOT NULL,
	pulse_ms REAL NOT NULL,
	pulse_count INTEGER NOT NULL,
	dispensed_g REAL NOT NULL,
	volume_ml REAL NOT NULL,
	volume_per_pulse_ml REAL NOT NULL,
	flow_ml_per_s REAL NOT NULL
);`

// TrialRecord is one persisted flow-calibration row.
type TrialRecord struct {
	ID             int64
	RunAt          time.Time
	TrialIndex     int
	PulseMs        float64
	PulseCount     int
	DispensedG     float64
	VolumeML       float64
	VolumePerPulse float64
	FlowMLPerS     float64
}

// NewTrialRecord converts a measured calibration row for persistence.
func NewTrialRecord(res calib.TrialResult) TrialRecord {
	return TrialRecord{
		TrialIndex:     res.TrialIndex,
		PulseMs:        float64(res.PulseDuration) / float64(time.Millisecond),
		PulseCount:     res.PulseCount,
		DispensedG:     float64(res.DispensedGrams),
		VolumeML:       float64(res.VolumeML),
		VolumePerPulse: float64(res.VolumePerPulse),
		FlowMLPerS:     float64(res.FlowRateMLPerS),
	}
}

// History stores flow-calibration results in SQLite.
type History struct {
	db *sql.DB
}

// OpenHistory opens the history database at path, creating the schema if
// needed. Use ":memory:" for an ephemeral store.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}

// RecordTrial appends one calibration row.
func (h *History) RecordTrial(ctx context.Context, rec TrialRecord) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO trials (trial_index, pulse_ms, pulse_count, dispensed_g, volume_ml, volume_per_pulse_ml, flow_ml_per_s) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TrialIndex,
		rec.PulseMs,
		rec.PulseCount,
		rec.DispensedG,
		rec.VolumeML,
		rec.VolumePerPulse,
		rec.FlowMLPerS,
	)
	if err != nil {
		return fmt.Errorf("failed to record trial: %w", err)
	}
	return nil
}

// Recent returns up to limit rows, newest first. A non-positive limit
// defaults to 20.
func (h *History) Recent(ctx context.Context, limit int) ([]TrialRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, run_at, trial_index, pulse_ms, pulse_count, dispensed_g, volume_ml, volume_per_pulse_ml, flow_ml_per_s FROM trials ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trials: %w", err)
	}
	defer rows.Close()

	var out []TrialRecord
	for rows.Next() {
		var rec TrialRecord
		if err := rows.Scan(
			&rec.ID, &rec.RunAt, &rec.TrialIndex, &rec.PulseMs, &rec.PulseCount,
			&rec.DispensedG, &rec.VolumeML, &rec.VolumePerPulse, &rec.FlowMLPerS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trial: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trials: %w", err)
	}
	return out, nil
}

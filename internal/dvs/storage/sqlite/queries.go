package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run is a row of the runs table.
type Run struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	Source      string    `json:"source"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Frequencies []float64 `json:"frequencies_hz"`
	ConfigJSON  string    `json:"config_json,omitempty"`
}

// PeakRow is a row of the peaks table.
type PeakRow struct {
	RunID        string
	Channel      int
	Time         time.Duration // epoch end, sensor time
	EpochStart   time.Duration
	FrequencyHz  float64
	Count, Index int
	X, Y, Weight int
}

// Runs returns every recorded run, newest first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, started_at, source, width, height, frequencies_json, config_json
		FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			started int64
			freqs   string
			cfg     sql.NullString
		)
		if err := rows.Scan(&run.RunID, &started, &run.Source, &run.Width, &run.Height, &freqs, &cfg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = time.Unix(0, started)
		if err := json.Unmarshal([]byte(freqs), &run.Frequencies); err != nil {
			return nil, fmt.Errorf("run %s: bad frequencies_json: %w", run.RunID, err)
		}
		run.ConfigJSON = cfg.String
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Peaks returns the recorded peaks of a run ordered by time, channel and
// rank.
func (db *DB) Peaks(ctx context.Context, runID string) ([]PeakRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, channel, time_us, epoch_start_us, frequency_hz, peak_count, peak_index, x, y, weight
		FROM peaks WHERE run_id = ?
		ORDER BY time_us, channel, peak_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query peaks: %w", err)
	}
	defer rows.Close()

	var out []PeakRow
	for rows.Next() {
		var (
			p            PeakRow
			tUS, startUS int64
		)
		if err := rows.Scan(&p.RunID, &p.Channel, &tUS, &startUS, &p.FrequencyHz, &p.Count, &p.Index, &p.X, &p.Y, &p.Weight); err != nil {
			return nil, fmt.Errorf("failed to scan peak: %w", err)
		}
		p.Time = time.Duration(tUS) * time.Microsecond
		p.EpochStart = time.Duration(startUS) * time.Microsecond
		out = append(out, p)
	}
	return out, rows.Err()
}

package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/eternallovelin/dvs-tracking/internal/config"
	"github.com/eternallovelin/dvs-tracking/internal/dvs/pipeline"
	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

// ErrRecorderClosed is returned by Start after Close.
var ErrRecorderClosed = errors.New("recorder closed")

// RecorderConfig describes one recorded run.
type RecorderConfig struct {
	DB *DB

	// Source names the event source ("udp", "serial", "pcap:<file>").
	Source string
	// Tuning is stored as JSON with the run. Optional.
	Tuning *config.TuningConfig
	// Buffer is the number of reports held while the writer is busy.
	// Defaults to 256.
	Buffer int
	// MaxBatch caps the reports written per transaction. Defaults to 64.
	MaxBatch int
	// Now stamps the run. Defaults to time.Now.
	Now func() time.Time
}

// Recorder is a PeakSink that writes every non-zero peak to the peaks
// table. PublishPeaks never blocks: reports are queued for a writer
// goroutine and dropped (and counted) when the queue is full.
type Recorder struct {
	db       *DB
	runID    string
	maxBatch int

	mu      sync.RWMutex
	closed  bool
	started bool
	reports chan pipeline.PeakReport
	done    chan struct{}

	written atomic.Uint64 // peak rows
	dropped atomic.Uint64 // reports
	failed  atomic.Uint64 // reports lost to write errors
}

// NewRecorder registers a new run and returns a Recorder for it. Call
// Start to begin writing and Close to flush.
func NewRecorder(ctx context.Context, cfg RecorderConfig) (*Recorder, error) {
	if cfg.DB == nil {
		return nil, errors.New("recorder requires a database")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	tuning := cfg.Tuning
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}

	freqs, err := json.Marshal(tuning.GetFrequencies())
	if err != nil {
		return nil, fmt.Errorf("failed to encode frequencies: %w", err)
	}
	var cfgJSON interface{}
	if cfg.Tuning != nil {
		b, err := json.Marshal(cfg.Tuning)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tuning config: %w", err)
		}
		cfgJSON = string(b)
	}

	runID := uuid.New().String()
	err = retryOnBusy(func() error {
		_, err := cfg.DB.ExecContext(ctx, `
			INSERT INTO runs (run_id, started_at, source, width, height, frequencies_json, config_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, cfg.Now().UnixNano(), cfg.Source, tuning.GetWidth(), tuning.GetHeight(), string(freqs), cfgJSON,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	monitoring.Diagf("[Recorder] run %s started (source=%q db=%s)", runID, cfg.Source, cfg.DB.Path())

	return &Recorder{
		db:       cfg.DB,
		runID:    runID,
		maxBatch: cfg.MaxBatch,
		reports:  make(chan pipeline.PeakReport, cfg.Buffer),
		done:     make(chan struct{}),
	}, nil
}

// RunID returns the UUID of the recorded run.
func (r *Recorder) RunID() string { return r.runID }

// PublishPeaks queues rep for writing. Reports without peaks are skipped.
func (r *Recorder) PublishPeaks(rep pipeline.PeakReport) {
	if len(rep.Peaks) == 0 {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.reports <- rep:
	default:
		if n := r.dropped.Add(1); n&(n-1) == 0 {
			monitoring.Opsf("[Recorder] writer behind, %d reports dropped", n)
		}
	}
}

// Start launches the writer goroutine.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	if r.started {
		return nil
	}
	r.started = true
	go r.writeLoop()
	return nil
}

// Close stops accepting reports, writes everything already queued and
// waits for the writer to finish. ctx bounds the wait.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.reports)
	started := r.started
	r.mu.Unlock()

	if !started {
		// Nothing will drain the queue; write it here.
		r.writeLoop()
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	monitoring.Diagf("[Recorder] run %s closed: %d peaks written, %d reports dropped, %d failed",
		r.runID, r.Written(), r.Dropped(), r.Failed())
	return nil
}

// Written returns the number of peak rows inserted.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Dropped returns the number of reports discarded on a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Failed returns the number of reports lost to database errors.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

func (r *Recorder) writeLoop() {
	defer close(r.done)
	batch := make([]pipeline.PeakReport, 0, r.maxBatch)
	for rep := range r.reports {
		batch = append(batch[:0], rep)
	fill:
		for len(batch) < r.maxBatch {
			select {
			case more, ok := <-r.reports:
				if !ok {
					break fill
				}
				batch = append(batch, more)
			default:
				break fill
			}
		}
		r.writeBatch(batch)
	}
}

func (r *Recorder) writeBatch(batch []pipeline.PeakReport) {
	var rows uint64
	err := retryOnBusy(func() error {
		rows = 0
		tx, err := r.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO peaks (run_id, time_us, frequency_hz, peak_count, peak_index, x, y, weight, channel, epoch_start_us)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rep := range batch {
			count := 0
			for _, p := range rep.Peaks {
				if p.Weight > 0 {
					count++
				}
			}
			idx := 0
			for _, p := range rep.Peaks {
				if p.Weight <= 0 {
					continue
				}
				if _, err := stmt.Exec(r.runID, rep.EpochEnd.Microseconds(), rep.Frequency, count, idx,
					p.X, p.Y, p.Weight, rep.Channel, rep.EpochStart.Microseconds()); err != nil {
					return err
				}
				idx++
				rows++
			}
		}
		return tx.Commit()
	})
	if err != nil {
		r.failed.Add(uint64(len(batch)))
		monitoring.Opsf("[Recorder] failed to write %d reports: %v", len(batch), err)
		return
	}
	r.written.Add(rows)
}

package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/garnizeh/randstorm-scanner/internal/checkpoint"
	"github.com/garnizeh/randstorm-scanner/internal/enumerate"
)

// ErrScanAborted is returned when a batch failed on the accelerator path
// and the scalar retry failed too. The result carries the last good
// checkpoint so the caller can offer a resume.
var ErrScanAborted = errors.New("scan: aborted")

// DefaultBatchSize is used when the configuration does not set one. Batch
// size is always a tunable, never a compiled-in constant of the pipeline.
const DefaultBatchSize = 4096

// Config tunes the engine. Zero values select defaults.
type Config struct {
	// BatchSize is the number of candidates dispatched per batch.
	BatchSize int
	// CheckpointEvery emits a checkpoint after this many completed
	// batches. Zero disables periodic checkpoints (one is still written
	// at completion and on cancellation).
	CheckpointEvery int
	// ForceScalar skips the accelerator probe entirely.
	ForceScalar bool
}

// BatchStats describes one completed batch for progress reporting.
type BatchStats struct {
	Backend    string
	Candidates int
	Matches    int
	Skipped    uint64
	Cursor     enumerate.Cursor
	Done       bool
}

// Events are the engine's structured diagnostics. The engine never writes
// to a log or stdout itself; the surrounding layer decides how to render
// these. All callbacks are optional and invoked from the engine goroutine.
type Events struct {
	BatchDone       func(BatchStats)
	BackendFallback func(from, to, reason string)
	CheckpointSaved func(checkpoint.Checkpoint)
}

// Result is a finished (or aborted) scan. Checkpoint always addresses the
// first candidate not covered by Matches, so resuming from it is lossless.
type Result struct {
	Matches    []Match
	Scanned    uint64
	Skipped    uint64
	Checkpoint checkpoint.Checkpoint
}

// Engine drives batches of the candidate space through an active backend,
// falling back from the accelerator to the scalar path per the degradation
// ladder: probe failure at startup is a logged, non-fatal fallback; a
// mid-batch failure is retried once on the scalar path; a second failure
// aborts the scan with the last good checkpoint preserved.
type Engine struct {
	space  *enumerate.Space
	accel  Backend
	scalar Backend
	cfg    Config
	events Events
}

// NewEngine wires an engine from a candidate space and a pipeline, building
// the two standard backends.
func NewEngine(space *enumerate.Space, pipeline *Pipeline, cfg Config, events Events) *Engine {
	return NewEngineWithBackends(space, NewLaneBackend(pipeline, 0), NewScalarBackend(pipeline, 0), cfg, events)
}

// NewEngineWithBackends wires an engine from explicit backends. The scalar
// backend is the fallback and must not be nil.
func NewEngineWithBackends(space *enumerate.Space, accel, scalar Backend, cfg Config, events Events) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Engine{space: space, accel: accel, scalar: scalar, cfg: cfg, events: events}
}

// Run scans the candidate space from the given cursor, carrying any matches
// accumulated before a resume. Cancellation is cooperative and checked only
// at batch boundaries: the in-flight batch completes, a checkpoint is
// written, and the context error is returned alongside a usable Result.
func (e *Engine) Run(ctx context.Context, start enumerate.Cursor, prior []Match) (Result, error) {
	if !e.space.ValidCursor(start) {
		return Result{}, fmt.Errorf("scan: start cursor %+v outside candidate space", start)
	}

	active := e.pickBackend()
	matches := append([]Match(nil), prior...)
	cursor := start
	var scanned, skipped uint64
	sinceCheckpoint := 0

	for {
		if err := ctx.Err(); err != nil {
			cp := e.snapshot(cursor, matches)
			e.emitCheckpoint(cp)
			return Result{Matches: matches, Scanned: scanned, Skipped: skipped, Checkpoint: cp},
				fmt.Errorf("scan: canceled at cursor %+v: %w", cursor, err)
		}

		batch, next, done := e.space.Batch(cursor, e.cfg.BatchSize)
		if len(batch) == 0 {
			cp := e.snapshot(cursor, matches)
			e.emitCheckpoint(cp)
			return Result{Matches: matches, Scanned: scanned, Skipped: skipped, Checkpoint: cp}, nil
		}

		found, sk, err := active.ScanBatch(batch)
		if err != nil && active != e.scalar {
			// Mid-batch accelerator failure: one retry on the scalar
			// path, and the accelerator is not trusted again this run.
			if e.events.BackendFallback != nil {
				e.events.BackendFallback(active.Name(), e.scalar.Name(), err.Error())
			}
			active = e.scalar
			found, sk, err = active.ScanBatch(batch)
		}
		if err != nil {
			cp := e.snapshot(cursor, matches)
			e.emitCheckpoint(cp)
			return Result{Matches: matches, Scanned: scanned, Skipped: skipped, Checkpoint: cp},
				fmt.Errorf("%w: batch at cursor %+v: %w", ErrScanAborted, cursor, err)
		}

		matches = append(matches, found...)
		scanned += uint64(len(batch))
		skipped += sk
		cursor = next
		sinceCheckpoint++

		if e.events.BatchDone != nil {
			e.events.BatchDone(BatchStats{
				Backend:    active.Name(),
				Candidates: len(batch),
				Matches:    len(found),
				Skipped:    sk,
				Cursor:     cursor,
				Done:       done,
			})
		}

		if done {
			cp := e.snapshot(cursor, matches)
			e.emitCheckpoint(cp)
			return Result{Matches: matches, Scanned: scanned, Skipped: skipped, Checkpoint: cp}, nil
		}

		if e.cfg.CheckpointEvery > 0 && sinceCheckpoint >= e.cfg.CheckpointEvery {
			e.emitCheckpoint(e.snapshot(cursor, matches))
			sinceCheckpoint = 0
		}
	}
}

// pickBackend applies the startup half of the degradation ladder.
func (e *Engine) pickBackend() Backend {
	if e.cfg.ForceScalar || e.accel == nil {
		return e.scalar
	}
	if err := e.accel.Probe(); err != nil {
		if e.events.BackendFallback != nil {
			e.events.BackendFallback(e.accel.Name(), e.scalar.Name(), err.Error())
		}
		return e.scalar
	}
	return e.accel
}

func (e *Engine) snapshot(cursor enumerate.Cursor, matches []Match) checkpoint.Checkpoint {
	records := make([]checkpoint.MatchRecord, len(matches))
	for i, m := range matches {
		records[i] = checkpoint.MatchRecord{
			FingerprintID: m.FingerprintID,
			TimestampMS:   m.TimestampMS,
			Address:       m.Address,
		}
	}
	return checkpoint.Save(cursor, records)
}

func (e *Engine) emitCheckpoint(cp checkpoint.Checkpoint) {
	if e.events.CheckpointSaved != nil {
		e.events.CheckpointSaved(cp)
	}
}

// MatchesFromRecords converts checkpoint records back into matches when a
// scan resumes.
func MatchesFromRecords(records []checkpoint.MatchRecord) []Match {
	matches := make([]Match, len(records))
	for i, r := range records {
		matches[i] = Match{FingerprintID: r.FingerprintID, TimestampMS: r.TimestampMS, Address: r.Address}
	}
	return matches
}

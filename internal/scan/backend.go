package scan

import "github.com/garnizeh/randstorm-scanner/internal/enumerate"

// Backend executes one batch of candidates through the pipeline. A batch is
// CPU-bound and runs to completion once started; cancellation is the
// engine's job and happens only between batches, so no partial batch state
// ever needs persisting.
//
// Both implementations must return the same match set for the same batch.
// That parity is a release gate enforced by the differential test harness,
// not a best-effort property.
type Backend interface {
	// Name identifies the backend in events and diagnostics.
	Name() string

	// Probe reports whether the backend can run at all. Called once at
	// scan start; a failure triggers the non-fatal fallback path.
	Probe() error

	// ScanBatch evaluates every candidate in the batch and returns the
	// matches found plus the count of deterministic skips. Match order
	// within the returned slice is unspecified.
	ScanBatch(batch []enumerate.CandidateSeed) ([]Match, uint64, error)
}

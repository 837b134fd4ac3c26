package scan

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/garnizeh/randstorm-scanner/internal/enumerate"
)

// defaultLaneFactor sizes the lane arena relative to the host: wide enough
// to model a data-parallel dispatch, bounded so per-lane stacks stay cheap.
const defaultLaneFactor = 64

// LaneBackend models the accelerator execution strategy: a fixed arena of
// lanes, each owning its PRNG state and entropy pool by value on its own
// stack, processing a strided slice of the batch. Matches are written to a
// preallocated shared buffer through an atomic cursor, the only shared
// mutable state, so contention can never drop a match. Key material never
// leaves a lane's frame.
type LaneBackend struct {
	pipeline *Pipeline
	lanes    int
}

// NewLaneBackend builds the lane backend. lanes of zero selects
// GOMAXPROCS * 64.
func NewLaneBackend(p *Pipeline, lanes int) *LaneBackend {
	if lanes <= 0 {
		lanes = runtime.GOMAXPROCS(0) * defaultLaneFactor
	}
	return &LaneBackend{pipeline: p, lanes: lanes}
}

// Name implements Backend.
func (b *LaneBackend) Name() string { return "lanes" }

// Probe implements Backend.
func (b *LaneBackend) Probe() error {
	if b.pipeline == nil {
		return errors.New("scan: lane backend has no pipeline")
	}
	if b.lanes <= 0 {
		return errors.New("scan: lane backend has no lanes")
	}
	return nil
}

// ScanBatch implements Backend. Lane l evaluates candidates l, l+lanes,
// l+2*lanes, ... so assignment is pure index arithmetic with no work
// stealing and no cross-lane visibility.
func (b *LaneBackend) ScanBatch(batch []enumerate.CandidateSeed) ([]Match, uint64, error) {
	if len(batch) == 0 {
		return nil, 0, nil
	}

	lanes := b.lanes
	if lanes > len(batch) {
		lanes = len(batch)
	}

	results := make([]Match, len(batch))
	var next atomic.Int64
	var skipped atomic.Uint64

	var wg sync.WaitGroup
	for lane := 0; lane < lanes; lane++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			for i := lane; i < len(batch); i += lanes {
				m, outcome := b.pipeline.Evaluate(batch[i])
				switch outcome {
				case OutcomeMatch:
					results[next.Add(1)-1] = m
				case OutcomeSkip:
					skipped.Add(1)
				}
			}
		}(lane)
	}
	wg.Wait()

	n := next.Load()
	if n == 0 {
		return nil, skipped.Load(), nil
	}
	return append([]Match(nil), results[:n]...), skipped.Load(), nil
}

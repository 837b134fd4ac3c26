package scan

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/garnizeh/randstorm-scanner/internal/enumerate"
)

// scalarChunk is the number of candidates a worker claims at a time. Small
// enough to balance uneven batches, large enough that the channel is not
// the bottleneck.
const scalarChunk = 256

// ScalarBackend is the fallback execution strategy: a bounded pool of
// synchronous CPU-bound workers, one candidate evaluated at a time per
// worker, with the same sensitive-data lifetime discipline as the lane
// backend.
type ScalarBackend struct {
	pipeline *Pipeline
	workers  int
}

// NewScalarBackend builds the worker-pool backend. workers of zero selects
// GOMAXPROCS.
func NewScalarBackend(p *Pipeline, workers int) *ScalarBackend {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &ScalarBackend{pipeline: p, workers: workers}
}

// Name implements Backend.
func (b *ScalarBackend) Name() string { return "scalar" }

// Probe implements Backend. The scalar path is the fallback of last resort
// and is always available.
func (b *ScalarBackend) Probe() error {
	if b.pipeline == nil {
		return errors.New("scan: scalar backend has no pipeline")
	}
	return nil
}

// ScanBatch implements Backend.
func (b *ScalarBackend) ScanBatch(batch []enumerate.CandidateSeed) ([]Match, uint64, error) {
	if len(batch) == 0 {
		return nil, 0, nil
	}

	type chunk struct{ start, end int }
	chunks := make(chan chunk, b.workers)

	var mu sync.Mutex
	var matches []Match
	var skipped atomic.Uint64

	var wg sync.WaitGroup
	for w := 0; w < b.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var local []Match
			for c := range chunks {
				for i := c.start; i < c.end; i++ {
					m, outcome := b.pipeline.Evaluate(batch[i])
					switch outcome {
					case OutcomeMatch:
						local = append(local, m)
					case OutcomeSkip:
						skipped.Add(1)
					}
				}
			}
			if len(local) > 0 {
				mu.Lock()
				matches = append(matches, local...)
				mu.Unlock()
			}
		}()
	}

	for start := 0; start < len(batch); start += scalarChunk {
		end := start + scalarChunk
		if end > len(batch) {
			end = len(batch)
		}
		chunks <- chunk{start: start, end: end}
	}
	close(chunks)
	wg.Wait()

	return matches, skipped.Load(), nil
}

package scan

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/garnizeh/randstorm-scanner/internal/checkpoint"
	"github.com/garnizeh/randstorm-scanner/internal/derive"
	"github.com/garnizeh/randstorm-scanner/internal/enumerate"
	"github.com/garnizeh/randstorm-scanner/internal/fingerprint"
	"github.com/garnizeh/randstorm-scanner/internal/target"
)

// unrelatedHashes yields deterministic hash160 values that no candidate in
// any test window derives to.
func unrelatedHashes(n int) [][20]byte {
	hashes := make([][20]byte, n)
	for i := range hashes {
		var seed [8]byte
		binary.LittleEndian.PutUint64(seed[:], uint64(i))
		sum := sha256.Sum256(seed[:])
		copy(hashes[i][:], sum[:20])
	}
	return hashes
}

func testSpace(t *testing.T, fps []fingerprint.Fingerprint, centerMS uint64, halfSteps int) *enumerate.Space {
	t.Helper()
	const stepMS = 1000
	start := centerMS - uint64(halfSteps)*stepMS
	end := centerMS + uint64(halfSteps)*stepMS
	space, err := enumerate.New(fps, start, end, stepMS)
	if err != nil {
		t.Fatalf("enumerate.New: %v", err)
	}
	return space
}

func TestEngineDetectsKnownVulnerableWallet(t *testing.T) {
	fps := fingerprint.Defaults()
	const tsMS = uint64(1389744000000)

	fp := fingerprintByID(t, fps, 5)
	h := deriveHash(t, fp, tsMS)
	hashes := append(unrelatedHashes(50), h)

	targets, err := target.NewSetFromHashes(hashes)
	if err != nil {
		t.Fatalf("NewSetFromHashes: %v", err)
	}
	p, err := NewPipeline(fps, targets)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	space := testSpace(t, fps, tsMS, 5)

	engine := NewEngine(space, p, Config{BatchSize: 16}, Events{})
	res, err := engine.Run(context.Background(), enumerate.Cursor{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Fatalf("found %d matches, want exactly 1: %+v", len(res.Matches), res.Matches)
	}
	m := res.Matches[0]
	if m.FingerprintID != 5 || m.TimestampMS != tsMS {
		t.Fatalf("unexpected match %+v", m)
	}
	if res.Scanned != space.Total() {
		t.Fatalf("scanned %d candidates, want %d", res.Scanned, space.Total())
	}
}

func TestEngineReportsNoMatchForUnrelatedTargets(t *testing.T) {
	fps := fingerprint.Defaults()
	targets, err := target.NewSetFromHashes(unrelatedHashes(1000))
	if err != nil {
		t.Fatalf("NewSetFromHashes: %v", err)
	}
	p, err := NewPipeline(fps, targets)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	space := testSpace(t, fps, 1389744000000, 10)

	engine := NewEngine(space, p, Config{BatchSize: 32}, Events{})
	res, err := engine.Run(context.Background(), enumerate.Cursor{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Matches) != 0 {
		t.Fatalf("found %d matches against unrelated targets: %+v", len(res.Matches), res.Matches)
	}
}

// stubBackend wraps a real backend and injects failures.
type stubBackend struct {
	name     string
	inner    Backend
	probeErr error
	scanErr  error
	failN    int // fail the first failN ScanBatch calls; <0 fails forever
	calls    int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Probe() error { return s.probeErr }

func (s *stubBackend) ScanBatch(batch []enumerate.CandidateSeed) ([]Match, uint64, error) {
	s.calls++
	if s.scanErr != nil && (s.failN < 0 || s.calls <= s.failN) {
		return nil, 0, s.scanErr
	}
	return s.inner.ScanBatch(batch)
}

func fallbackFixture(t *testing.T) (*Pipeline, *enumerate.Space, Match) {
	t.Helper()
	fps := fingerprint.Defaults()
	const tsMS = uint64(1389744000000)
	fp := fingerprintByID(t, fps, 5)
	h := deriveHash(t, fp, tsMS)

	targets, err := target.NewSetFromHashes([][20]byte{h})
	if err != nil {
		t.Fatalf("NewSetFromHashes: %v", err)
	}
	p, err := NewPipeline(fps, targets)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	want := Match{FingerprintID: 5, TimestampMS: tsMS, Address: derive.Address(h)}
	return p, testSpace(t, fps, tsMS, 3), want
}

func TestEngineFallsBackWhenProbeFails(t *testing.T) {
	p, space, want := fallbackFixture(t)

	accel := &stubBackend{name: "lanes", inner: NewLaneBackend(p, 0), probeErr: errors.New("device not present")}
	scalar := NewScalarBackend(p, 0)

	var fellBack bool
	events := Events{
		BackendFallback: func(from, to, reason string) {
			fellBack = true
			if from != "lanes" || to != "scalar" {
				t.Errorf("fallback %q -> %q, want lanes -> scalar", from, to)
			}
			if reason == "" {
				t.Errorf("fallback reason is empty")
			}
		},
		BatchDone: func(bs BatchStats) {
			if bs.Backend != "scalar" {
				t.Errorf("batch ran on %q after probe failure", bs.Backend)
			}
		},
	}

	engine := NewEngineWithBackends(space, accel, scalar, Config{BatchSize: 8}, events)
	res, err := engine.Run(context.Background(), enumerate.Cursor{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !fellBack {
		t.Fatalf("probe failure did not raise a fallback event")
	}
	if accel.calls != 0 {
		t.Fatalf("accelerator ran %d batches after a failed probe", accel.calls)
	}
	if len(res.Matches) != 1 || res.Matches[0] != want {
		t.Fatalf("fallback scan matches = %+v, want [%+v]", res.Matches, want)
	}
}

func TestEngineRetriesMidBatchFailureOnScalar(t *testing.T) {
	p, space, want := fallbackFixture(t)

	accel := &stubBackend{name: "lanes", inner: NewLaneBackend(p, 0), scanErr: errors.New("lane arena fault"), failN: 1}
	scalar := NewScalarBackend(p, 0)

	var fallbacks int
	backends := make(map[string]int)
	events := Events{
		BackendFallback: func(from, to, reason string) { fallbacks++ },
		BatchDone:       func(bs BatchStats) { backends[bs.Backend]++ },
	}

	engine := NewEngineWithBackends(space, accel, scalar, Config{BatchSize: 8}, events)
	res, err := engine.Run(context.Background(), enumerate.Cursor{}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fallbacks != 1 {
		t.Fatalf("fallback events = %d, want 1", fallbacks)
	}
	// The failed batch is retried on the scalar path and the accelerator is
	// never consulted again.
	if accel.calls != 1 {
		t.Fatalf("accelerator called %d times, want 1", accel.calls)
	}
	if backends["lanes"] != 0 {
		t.Fatalf("batches attributed to the accelerator after its failure: %d", backends["lanes"])
	}
	if res.Scanned != space.Total() {
		t.Fatalf("scanned %d, want %d", res.Scanned, space.Total())
	}
	if len(res.Matches) != 1 || res.Matches[0] != want {
		t.Fatalf("matches = %+v, want [%+v]", res.Matches, want)
	}
}

func TestEngineAbortsWhenScalarRetryFails(t *testing.T) {
	p, space, _ := fallbackFixture(t)

	accel := &stubBackend{name: "lanes", inner: NewLaneBackend(p, 0), scanErr: errors.New("lane arena fault"), failN: -1}
	scalar := &stubBackend{name: "scalar", inner: NewScalarBackend(p, 0), scanErr: errors.New("worker pool fault"), failN: -1}

	engine := NewEngineWithBackends(space, accel, scalar, Config{BatchSize: 8}, Events{})
	res, err := engine.Run(context.Background(), enumerate.Cursor{}, nil)
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("err = %v, want ErrScanAborted", err)
	}
	// The checkpoint still addresses the first unscanned candidate.
	if res.Checkpoint.FingerprintIndex != 0 || res.Checkpoint.TimestampOffset != 0 {
		t.Fatalf("abort checkpoint moved past unscanned work: %+v", res.Checkpoint)
	}
	if res.Scanned != 0 {
		t.Fatalf("scanned %d candidates despite total failure", res.Scanned)
	}
}

func TestEngineAbortPreservesCompletedBatches(t *testing.T) {
	p, space, want := fallbackFixture(t)

	// The accelerator completes a few batches, then fails for good while the
	// scalar path is also broken. Matches from completed batches must
	// survive in the result and its checkpoint.
	accel := &failAfterBackend{inner: NewLaneBackend(p, 0), failAfter: 3}
	scalar := &stubBackend{name: "scalar", inner: NewScalarBackend(p, 0), scanErr: errors.New("worker pool fault"), failN: -1}

	const batchSize = 8
	engine := NewEngineWithBackends(space, accel, scalar, Config{BatchSize: batchSize}, Events{})
	res, err := engine.Run(context.Background(), enumerate.Cursor{}, nil)
	if !errors.Is(err, ErrScanAborted) {
		t.Fatalf("err = %v, want ErrScanAborted", err)
	}
	if res.Scanned != 3*batchSize {
		t.Fatalf("scanned %d, want %d", res.Scanned, 3*batchSize)
	}
	resumed := enumerate.Cursor{FingerprintIndex: res.Checkpoint.FingerprintIndex, TimestampOffset: res.Checkpoint.TimestampOffset}
	if got := space.Index(resumed); got != 3*batchSize {
		t.Fatalf("checkpoint cursor at linear index %d, want %d", got, 3*batchSize)
	}
	// Whether the planted match landed in the first three batches depends on
	// enumeration order; what must hold is result/checkpoint agreement.
	if len(res.Matches) != len(res.Checkpoint.Matches) {
		t.Fatalf("result has %d matches, checkpoint has %d", len(res.Matches), len(res.Checkpoint.Matches))
	}
	for _, m := range res.Matches {
		if m != want {
			t.Fatalf("unexpected match %+v", m)
		}
	}
}

// failAfterBackend succeeds for failAfter batches, then fails forever.
type failAfterBackend struct {
	inner     Backend
	failAfter int
	calls     int
}

func (f *failAfterBackend) Name() string { return "lanes" }
func (f *failAfterBackend) Probe() error { return nil }

func (f *failAfterBackend) ScanBatch(batch []enumerate.CandidateSeed) ([]Match, uint64, error) {
	f.calls++
	if f.calls > f.failAfter {
		return nil, 0, errors.New("lane arena fault")
	}
	return f.inner.ScanBatch(batch)
}

func TestEngineCancellationAtBatchBoundary(t *testing.T) {
	p, space, _ := fallbackFixture(t)

	const batchSize = 8
	ctx, cancel := context.WithCancel(context.Background())

	var batches int
	var checkpoints []checkpoint.Checkpoint
	events := Events{
		BatchDone: func(bs BatchStats) {
			batches++
			if batches == 2 {
				cancel()
			}
		},
		CheckpointSaved: func(cp checkpoint.Checkpoint) { checkpoints = append(checkpoints, cp) },
	}

	engine := NewEngine(space, p, Config{BatchSize: batchSize}, events)
	res, err := engine.Run(ctx, enumerate.Cursor{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// The in-flight batch ran to completion; nothing after it started.
	if res.Scanned != 2*batchSize {
		t.Fatalf("scanned %d, want %d", res.Scanned, 2*batchSize)
	}
	if len(checkpoints) == 0 {
		t.Fatalf("cancellation did not write a checkpoint")
	}
	last := checkpoints[len(checkpoints)-1]
	got := space.Index(enumerate.Cursor{FingerprintIndex: last.FingerprintIndex, TimestampOffset: last.TimestampOffset})
	if got != 2*batchSize {
		t.Fatalf("cancellation checkpoint at linear index %d, want %d", got, 2*batchSize)
	}
}

func TestEngineResumeEquivalence(t *testing.T) {
	fps := fingerprint.Defaults()
	const tsMS = uint64(1389744000000)

	// Plant two hits, one in each half of the window, so both the pre- and
	// post-resume runs contribute matches.
	early := deriveHash(t, fps[1], tsMS-4000)
	late := deriveHash(t, fingerprintByID(t, fps, 5), tsMS+3000)
	targets, err := target.NewSetFromHashes([][20]byte{early, late})
	if err != nil {
		t.Fatalf("NewSetFromHashes: %v", err)
	}
	p, err := NewPipeline(fps, targets)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	space := testSpace(t, fps, tsMS, 5)

	// Reference: one uninterrupted pass.
	full, err := NewEngine(space, p, Config{BatchSize: 8}, Events{}).Run(context.Background(), enumerate.Cursor{}, nil)
	if err != nil {
		t.Fatalf("full Run: %v", err)
	}
	if len(full.Matches) != 2 {
		t.Fatalf("full pass found %d matches, want 2", len(full.Matches))
	}

	// Interrupted pass: cancel after three batches, round-trip the
	// checkpoint through its wire encoding, resume, finish.
	ctx, cancel := context.WithCancel(context.Background())
	var batches int
	first, err := NewEngine(space, p, Config{BatchSize: 8}, Events{
		BatchDone: func(BatchStats) {
			batches++
			if batches == 3 {
				cancel()
			}
		},
	}).Run(ctx, enumerate.Cursor{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("interrupted Run: err = %v, want context.Canceled", err)
	}

	blob, err := checkpoint.Encode(first.Checkpoint)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	restored, err := checkpoint.Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	cursor, records, err := checkpoint.Resume(restored, space)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	second, err := NewEngine(space, p, Config{BatchSize: 8}, Events{}).Run(context.Background(), cursor, MatchesFromRecords(records))
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}

	if first.Scanned+second.Scanned != space.Total() {
		t.Fatalf("interrupted halves scanned %d+%d, want %d total", first.Scanned, second.Scanned, space.Total())
	}
	want, got := sortedMatches(full.Matches), sortedMatches(second.Matches)
	if len(want) != len(got) {
		t.Fatalf("resumed pass found %d matches, uninterrupted found %d", len(got), len(want))
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("match %d diverges: resumed=%+v full=%+v", i, got[i], want[i])
		}
	}
}

func TestEnginePeriodicCheckpoints(t *testing.T) {
	p, space, _ := fallbackFixture(t)

	var periodic []checkpoint.Checkpoint
	engine := NewEngine(space, p, Config{BatchSize: 8, CheckpointEvery: 2}, Events{
		CheckpointSaved: func(cp checkpoint.Checkpoint) { periodic = append(periodic, cp) },
	})
	if _, err := engine.Run(context.Background(), enumerate.Cursor{}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(periodic) < 2 {
		t.Fatalf("checkpoint events = %d, want periodic plus final", len(periodic))
	}
	// Cursors advance monotonically through the linear index.
	prev := int64(-1)
	for _, cp := range periodic {
		idx := space.Index(enumerate.Cursor{FingerprintIndex: cp.FingerprintIndex, TimestampOffset: cp.TimestampOffset})
		if int64(idx) <= prev {
			t.Fatalf("checkpoint cursors not monotonic: %d after %d", idx, prev)
		}
		prev = int64(idx)
	}
}

func TestEngineRejectsCursorOutsideSpace(t *testing.T) {
	p, space, _ := fallbackFixture(t)
	engine := NewEngine(space, p, Config{}, Events{})
	bad := enumerate.Cursor{FingerprintIndex: len(fingerprint.Defaults()) + 5}
	if _, err := engine.Run(context.Background(), bad, nil); err == nil {
		t.Fatalf("cursor outside the space must be rejected")
	}
}

func TestEngineForceScalarSkipsAccelerator(t *testing.T) {
	p, space, _ := fallbackFixture(t)

	accel := &stubBackend{name: "lanes", inner: NewLaneBackend(p, 0)}
	engine := NewEngineWithBackends(space, accel, NewScalarBackend(p, 0), Config{BatchSize: 8, ForceScalar: true}, Events{
		BatchDone: func(bs BatchStats) {
			if bs.Backend != "scalar" {
				t.Errorf("ForceScalar ran a batch on %q", bs.Backend)
			}
		},
	})
	if _, err := engine.Run(context.Background(), enumerate.Cursor{}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if accel.calls != 0 {
		t.Fatalf("accelerator ran %d batches under ForceScalar", accel.calls)
	}
}

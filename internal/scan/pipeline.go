// Package scan runs the seed-to-match pipeline over the candidate space on
// one of two execution backends: a wide lane dispatcher modeled after a
// data-parallel accelerator, and a bounded worker pool as the scalar
// fallback. Both backends execute the same evaluation function, and a
// differential harness holds them to set-equal results on every batch.
// There is no way to configure that requirement away.
package scan

import (
	"errors"
	"fmt"

	"github.com/garnizeh/randstorm-scanner/internal/derive"
	"github.com/garnizeh/randstorm-scanner/internal/entropy"
	"github.com/garnizeh/randstorm-scanner/internal/enumerate"
	"github.com/garnizeh/randstorm-scanner/internal/fingerprint"
	"github.com/garnizeh/randstorm-scanner/internal/prng"
	"github.com/garnizeh/randstorm-scanner/internal/target"
)

// Match is a positive finding: a target address reachable from one
// (fingerprint, timestamp) candidate. It is the only sensitive-adjacent
// value that crosses the package boundary; the key material that produced
// it never does.
type Match struct {
	FingerprintID int
	TimestampMS   uint64
	Address       string
}

// Outcome classifies one candidate evaluation.
type Outcome uint8

const (
	// OutcomeMiss: valid key, derived address not in the target set.
	OutcomeMiss Outcome = iota
	// OutcomeMatch: derived address is a target.
	OutcomeMatch
	// OutcomeSkip: the key stream did not yield a usable scalar. Counted,
	// never treated as an error.
	OutcomeSkip
)

// Pipeline is the shared candidate evaluation: PRNG reconstruction →
// entropy pool → key/address derivation → target comparison. It is
// stateless between calls and safe for concurrent use; all mutable state
// lives on the caller's stack.
type Pipeline struct {
	fps     []fingerprint.Fingerprint
	targets *target.Set
}

// NewPipeline validates the inputs the collaborators supplied.
func NewPipeline(fps []fingerprint.Fingerprint, targets *target.Set) (*Pipeline, error) {
	if err := fingerprint.Validate(fps); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	if targets == nil || targets.Len() == 0 {
		return nil, fmt.Errorf("scan: %w", target.ErrEmptyTargetSet)
	}
	return &Pipeline{fps: fps, targets: targets}, nil
}

// Fingerprints exposes the validated collection for the engine and the
// reporter.
func (p *Pipeline) Fingerprints() []fingerprint.Fingerprint {
	return p.fps
}

// Evaluate runs one candidate through the full pipeline. The derived key
// material lives only on this frame and is wiped before returning.
func (p *Pipeline) Evaluate(c enumerate.CandidateSeed) (Match, Outcome) {
	fp := p.fps[c.FingerprintIndex]

	eng := prng.New(fp.Engine, fp.Components(), c.TimestampMS)
	pool := entropy.NewPool(eng, c.TimestampMS)
	key := derive.KeyFromPool(pool)
	defer key.Zero()

	var pub [33]byte
	if err := derive.CompressedPubKey(&key, &pub); err != nil {
		if errors.Is(err, derive.ErrInvalidScalar) {
			return Match{}, OutcomeSkip
		}
		// CompressedPubKey has no other failure mode today; treat an
		// unknown one as a skip rather than abort the batch.
		return Match{}, OutcomeSkip
	}

	var scratch [32]byte
	h160 := derive.Hash160(pub[:], &scratch)

	addr, ok := p.targets.ContainsHash160(h160)
	if !ok {
		return Match{}, OutcomeMiss
	}
	return Match{
		FingerprintID: fp.ID,
		TimestampMS:   c.TimestampMS,
		Address:       addr,
	}, OutcomeMatch
}

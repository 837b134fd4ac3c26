// Package enumerate defines the ordered candidate search space: the cross
// product of the weight-sorted fingerprint collection and a timestamp
// window at fixed granularity. Progress through the space is pure index
// arithmetic; there is no iterator state to suspend or replay, which is
// what makes checkpoint resume and backend parity trivial to reason about.
package enumerate

import (
	"errors"
	"fmt"

	"github.com/garnizeh/randstorm-scanner/internal/fingerprint"
)

// ErrInvalidWindow is a pre-scan configuration error for an empty or
// inverted timestamp window.
var ErrInvalidWindow = errors.New("enumerate: invalid timestamp window")

// DefaultStepMS is the default enumeration granularity: wallet generation
// timestamps are guessed to whole seconds.
const DefaultStepMS = 1000

// CandidateSeed is the atomic unit of work: one fingerprint at one
// generation timestamp.
type CandidateSeed struct {
	FingerprintIndex int
	TimestampMS      uint64
}

// Cursor addresses a position in the candidate space. The zero value is
// the start of the space.
type Cursor struct {
	FingerprintIndex int
	TimestampOffset  uint64
}

// Space is the immutable candidate search space. Fingerprints are visited
// in their collection order (highest weight first); timestamps ascend
// within each fingerprint.
type Space struct {
	fps     []fingerprint.Fingerprint
	startMS uint64
	endMS   uint64
	stepMS  uint64
}

// New validates the window and builds the space. stepMS of zero selects
// DefaultStepMS. The fingerprint collection must already be validated and
// weight-sorted by the loader.
func New(fps []fingerprint.Fingerprint, startMS, endMS, stepMS uint64) (*Space, error) {
	if len(fps) == 0 {
		return nil, errors.New("enumerate: no fingerprints")
	}
	if endMS < startMS {
		return nil, fmt.Errorf("%w: end %d before start %d", ErrInvalidWindow, endMS, startMS)
	}
	if stepMS == 0 {
		stepMS = DefaultStepMS
	}
	return &Space{fps: fps, startMS: startMS, endMS: endMS, stepMS: stepMS}, nil
}

// Fingerprints exposes the collection backing the space.
func (s *Space) Fingerprints() []fingerprint.Fingerprint {
	return s.fps
}

// Steps is the number of timestamps per fingerprint (the window is
// inclusive on both ends).
func (s *Space) Steps() uint64 {
	return (s.endMS-s.startMS)/s.stepMS + 1
}

// Total is the number of candidates in the space.
func (s *Space) Total() uint64 {
	return uint64(len(s.fps)) * s.Steps()
}

// At maps a linear index to its candidate. i must be < Total.
func (s *Space) At(i uint64) CandidateSeed {
	steps := s.Steps()
	return CandidateSeed{
		FingerprintIndex: int(i / steps),
		TimestampMS:      s.startMS + (i%steps)*s.stepMS,
	}
}

// Index maps a cursor to its linear index.
func (s *Space) Index(c Cursor) uint64 {
	return uint64(c.FingerprintIndex)*s.Steps() + c.TimestampOffset
}

// CursorAt maps a linear index back to a cursor.
func (s *Space) CursorAt(i uint64) Cursor {
	steps := s.Steps()
	return Cursor{
		FingerprintIndex: int(i / steps),
		TimestampOffset:  i % steps,
	}
}

// ValidCursor reports whether the cursor addresses a position inside the
// space or its one-past-the-end terminal position.
func (s *Space) ValidCursor(c Cursor) bool {
	if c.FingerprintIndex < 0 || c.TimestampOffset >= s.Steps() {
		return false
	}
	return s.Index(c) <= s.Total()
}

// Batch returns up to n candidates starting at the cursor, the cursor one
// past the returned candidates, and whether the space is exhausted after
// them. Batches partition the space: concatenating the batches from the
// zero cursor yields every candidate exactly once, in order.
func (s *Space) Batch(c Cursor, n int) ([]CandidateSeed, Cursor, bool) {
	start := s.Index(c)
	total := s.Total()
	if start >= total {
		return nil, c, true
	}

	end := start + uint64(n)
	if n <= 0 || end > total {
		end = total
	}

	batch := make([]CandidateSeed, 0, end-start)
	for i := start; i < end; i++ {
		batch = append(batch, s.At(i))
	}
	return batch, s.CursorAt(end), end == total
}

// Package checkpoint snapshots scan progress as pure cursor integers plus
// the sanitized matches accumulated so far. Resuming is index arithmetic
// against the candidate space, never replayed control flow, so a resumed
// scan provably covers exactly the candidates an uninterrupted run would.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garnizeh/randstorm-scanner/internal/enumerate"
)

// FormatVersion is bumped whenever the snapshot layout changes. Snapshots
// with any other version are treated as corrupt.
const FormatVersion = 1

// ErrCorrupt marks an unreadable or inconsistent snapshot. It is non-fatal
// by contract: the caller warns and restarts the configured range from the
// beginning instead of crashing.
var ErrCorrupt = errors.New("checkpoint: corrupt snapshot")

// MatchRecord is the sanitized form of an accumulated match carried inside
// a snapshot. It holds no key material, PRNG state or pool bytes.
type MatchRecord struct {
	FingerprintID int    `json:"fingerprint_id"`
	TimestampMS   uint64 `json:"timestamp_ms"`
	Address       string `json:"address"`
}

// Checkpoint is one serializable progress snapshot.
type Checkpoint struct {
	FormatVersion    int           `json:"format_version"`
	FingerprintIndex int           `json:"fingerprint_index"`
	TimestampOffset  uint64        `json:"timestamp_offset"`
	Matches          []MatchRecord `json:"accumulated_matches"`
	SavedAt          time.Time     `json:"saved_at"`
}

// Save builds a snapshot for the given cursor and accumulated matches.
func Save(cursor enumerate.Cursor, matches []MatchRecord) Checkpoint {
	return Checkpoint{
		FormatVersion:    FormatVersion,
		FingerprintIndex: cursor.FingerprintIndex,
		TimestampOffset:  cursor.TimestampOffset,
		Matches:          append([]MatchRecord(nil), matches...),
		SavedAt:          time.Now().UTC(),
	}
}

// Encode serializes the snapshot for the persistence collaborator.
func Encode(cp Checkpoint) ([]byte, error) {
	b, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: encode: %w", err)
	}
	return b, nil
}

// Decode parses a snapshot blob. Malformed JSON and unknown format versions
// both map to ErrCorrupt.
func Decode(blob []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(blob, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if cp.FormatVersion != FormatVersion {
		return Checkpoint{}, fmt.Errorf("%w: format version %d, want %d", ErrCorrupt, cp.FormatVersion, FormatVersion)
	}
	if cp.FingerprintIndex < 0 {
		return Checkpoint{}, fmt.Errorf("%w: negative fingerprint index", ErrCorrupt)
	}
	return cp, nil
}

// Resume validates the snapshot against the candidate space it will drive
// and returns the cursor and accumulated matches. A snapshot addressing a
// position outside the space is corrupt (the configured range changed, or
// the blob was damaged).
func Resume(cp Checkpoint, space *enumerate.Space) (enumerate.Cursor, []MatchRecord, error) {
	cursor := enumerate.Cursor{
		FingerprintIndex: cp.FingerprintIndex,
		TimestampOffset:  cp.TimestampOffset,
	}
	if !space.ValidCursor(cursor) {
		return enumerate.Cursor{}, nil, fmt.Errorf("%w: cursor %+v outside candidate space", ErrCorrupt, cursor)
	}
	return cursor, append([]MatchRecord(nil), cp.Matches...), nil
}

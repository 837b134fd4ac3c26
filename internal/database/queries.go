package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Queries wraps the session store operations.
type Queries struct {
	db *sql.DB
}

// New builds a Queries over an initialized connection.
func New(db *sql.DB) *Queries {
	return &Queries{db: db}
}

// Checkpoint is one stored progress snapshot. Blob is the checkpoint
// package's wire encoding; this layer never looks inside it.
type Checkpoint struct {
	ID        int64
	SessionID string
	Blob      []byte
	CreatedAt time.Time
}

// Finding is one stored sanitized record.
type Finding struct {
	ID            int64
	SessionID     string
	Address       string
	Status        string
	FingerprintID int64
	TimestampMS   int64
	Confidence    string
	CreatedAt     time.Time
}

// SaveCheckpoint appends a snapshot for the session. Older snapshots are
// kept so a damaged latest blob still leaves something to resume from.
func (q *Queries) SaveCheckpoint(ctx context.Context, sessionID string, blob []byte) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, blob)
		VALUES (?, ?)
	`, sessionID, blob)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent snapshot for the session, or
// sql.ErrNoRows when the session has none.
func (q *Queries) LatestCheckpoint(ctx context.Context, sessionID string) (Checkpoint, error) {
	var cp Checkpoint
	err := q.db.QueryRowContext(ctx, `
		SELECT id, session_id, blob, created_at
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, sessionID).Scan(&cp.ID, &cp.SessionID, &cp.Blob, &cp.CreatedAt)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("latest checkpoint: %w", err)
	}
	return cp, nil
}

// InsertFinding stores one sanitized record. Re-inserting the same address
// for a session is a no-op, so re-running a resumed scan cannot duplicate
// findings.
func (q *Queries) InsertFinding(ctx context.Context, f Finding) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO findings (session_id, address, status, fingerprint_id, timestamp_ms, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, address) DO NOTHING
	`, f.SessionID, f.Address, f.Status, f.FingerprintID, f.TimestampMS, f.Confidence)
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// ListFindings returns the session's findings in insertion order.
func (q *Queries) ListFindings(ctx context.Context, sessionID string) ([]Finding, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, session_id, address, status, fingerprint_id, timestamp_ms, confidence, created_at
		FROM findings
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Address, &f.Status, &f.FingerprintID, &f.TimestampMS, &f.Confidence, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	return findings, nil
}

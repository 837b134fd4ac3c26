// Command scanner reconstructs wallets generated by historically weak
// browser PRNGs and checks them against a target address list. It is a
// research tool: findings are sanitized (address, fingerprint, timestamp,
// confidence) and no key material is ever written anywhere.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/garnizeh/randstorm-scanner/internal/checkpoint"
	"github.com/garnizeh/randstorm-scanner/internal/config"
	"github.com/garnizeh/randstorm-scanner/internal/database"
	"github.com/garnizeh/randstorm-scanner/internal/enumerate"
	"github.com/garnizeh/randstorm-scanner/internal/fingerprint"
	"github.com/garnizeh/randstorm-scanner/internal/progress"
	"github.com/garnizeh/randstorm-scanner/internal/report"
	"github.com/garnizeh/randstorm-scanner/internal/scan"
	"github.com/garnizeh/randstorm-scanner/internal/target"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("%s - %v", time.Now().UTC().Format(time.RFC3339), err)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fps, err := loadFingerprints(cfg.FingerprintsPath)
	if err != nil {
		return fmt.Errorf("failed to load fingerprints: %w", err)
	}

	addresses, err := loadTargetAddresses(cfg.TargetsPath)
	if err != nil {
		return fmt.Errorf("failed to load targets: %w", err)
	}
	targets, err := target.NewSet(addresses)
	if err != nil {
		return fmt.Errorf("failed to build target set: %w", err)
	}

	db, err := database.InitDB(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := database.CloseDB(db); err != nil {
			log.Printf("warning: failed to close database: %v", err)
		}
	}()
	queries := database.NewQueries(db)

	space, err := enumerate.New(fps, cfg.WindowStartMS, cfg.WindowEndMS, cfg.StepMS)
	if err != nil {
		return fmt.Errorf("failed to build candidate space: %w", err)
	}
	pipeline, err := scan.NewPipeline(fps, targets)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	sessionID := cfg.SessionID
	newSession := sessionID == ""
	if newSession {
		sessionID = uuid.NewString()
	}

	cursor, prior := resumePoint(ctx, queries, space, sessionID, newSession)

	log.Printf("session %s: %d fingerprints, %d targets, %d candidates, backend=%s",
		sessionID, len(fps), targets.Len(), space.Total(), cfg.Backend)

	// Optional websocket telemetry.
	hub := progress.NewHub()
	if cfg.ProgressAddr != "" {
		hubCtx, hubCancel := context.WithCancel(ctx)
		defer hubCancel()
		go hub.Run(hubCtx)

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.ServeWS)
		go func() {
			if err := http.ListenAndServe(cfg.ProgressAddr, mux); err != nil {
				log.Printf("progress hub stopped: %v", err)
			}
		}()
		log.Printf("progress hub listening on %s", cfg.ProgressAddr)
	}

	bar := progressbar.NewOptions64(
		int64(space.Total()),
		progressbar.OptionSetDescription("scanning"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("candidates/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionFullWidth(),
	)
	_ = bar.Add64(int64(space.Index(cursor)))

	var matchTotal int
	var scannedTotal, skippedTotal uint64
	events := scan.Events{
		BatchDone: func(bs scan.BatchStats) {
			_ = bar.Add(bs.Candidates)
			matchTotal += bs.Matches
			scannedTotal += uint64(bs.Candidates)
			skippedTotal += bs.Skipped
			hub.BroadcastSnapshot(progress.Snapshot{
				SessionID:        sessionID,
				Backend:          bs.Backend,
				Scanned:          space.Index(bs.Cursor),
				Total:            space.Total(),
				Matches:          matchTotal,
				Skipped:          skippedTotal,
				FingerprintIndex: bs.Cursor.FingerprintIndex,
				TimestampOffset:  bs.Cursor.TimestampOffset,
				Done:             bs.Done,
			})
		},
		BackendFallback: func(from, to, reason string) {
			log.Printf("backend fallback %s -> %s: %s", from, to, reason)
		},
		CheckpointSaved: func(cp checkpoint.Checkpoint) {
			blob, err := checkpoint.Encode(cp)
			if err != nil {
				log.Printf("warning: failed to encode checkpoint: %v", err)
				return
			}
			if err := queries.SaveCheckpoint(ctx, sessionID, blob); err != nil {
				log.Printf("warning: failed to persist checkpoint: %v", err)
			}
		},
	}

	engine := scan.NewEngineWithBackends(
		space,
		scan.NewLaneBackend(pipeline, cfg.Lanes),
		scan.NewScalarBackend(pipeline, cfg.Workers),
		scan.Config{
			BatchSize:       cfg.BatchSize,
			CheckpointEvery: cfg.CheckpointEvery,
			ForceScalar:     cfg.Backend == "scalar",
		},
		events,
	)

	// SIGINT/SIGTERM stop the scan at the next batch boundary; the
	// in-flight batch completes and its checkpoint is persisted.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := engine.Run(sigCtx, cursor, prior)
	fmt.Fprintln(os.Stderr)

	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		log.Printf("scan interrupted after %d candidates; resume with SCANNER_SESSION_ID=%s", result.Scanned, sessionID)
	case errors.Is(runErr, scan.ErrScanAborted):
		log.Printf("last good checkpoint persisted; resume with SCANNER_SESSION_ID=%s", sessionID)
	default:
		return runErr
	}

	if err := persistFindings(ctx, queries, fps, sessionID, result.Matches, addresses); err != nil {
		return err
	}
	if cfg.ReportPath != "" {
		if err := exportCSV(cfg.ReportPath, fps, result.Matches, addresses); err != nil {
			return err
		}
		log.Printf("report written to %s", cfg.ReportPath)
	}

	log.Printf("session %s: scanned=%d skipped=%d vulnerable=%d",
		sessionID, result.Scanned, result.Skipped, len(result.Matches))
	for _, m := range result.Matches {
		log.Printf("VULNERABLE %s (fingerprint %d, timestamp %d)", m.Address, m.FingerprintID, m.TimestampMS)
	}

	if errors.Is(runErr, scan.ErrScanAborted) {
		return runErr
	}
	return nil
}

// resumePoint loads the session's latest checkpoint. Corrupt or missing
// snapshots are non-fatal: the scan restarts the configured range.
func resumePoint(ctx context.Context, queries *database.Queries, space *enumerate.Space, sessionID string, newSession bool) (enumerate.Cursor, []scan.Match) {
	if newSession {
		return enumerate.Cursor{}, nil
	}

	stored, err := queries.LatestCheckpoint(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("warning: failed to read checkpoint, restarting range: %v", err)
		}
		return enumerate.Cursor{}, nil
	}

	cp, err := checkpoint.Decode(stored.Blob)
	if err != nil {
		log.Printf("warning: corrupt checkpoint, restarting range: %v", err)
		return enumerate.Cursor{}, nil
	}
	cursor, records, err := checkpoint.Resume(cp, space)
	if err != nil {
		log.Printf("warning: checkpoint does not fit configured range, restarting: %v", err)
		return enumerate.Cursor{}, nil
	}

	log.Printf("resuming session %s from fingerprint %d offset %d (%d matches carried)",
		sessionID, cursor.FingerprintIndex, cursor.TimestampOffset, len(records))
	return cursor, scan.MatchesFromRecords(records)
}

func persistFindings(ctx context.Context, queries *database.Queries, fps []fingerprint.Fingerprint, sessionID string, matches []scan.Match, addresses []string) error {
	reporter := report.NewReporter(fps)
	for _, rec := range reporter.Build(matches, addresses) {
		f := database.Finding{
			SessionID:     sessionID,
			Address:       rec.Address,
			Status:        string(rec.Status),
			FingerprintID: int64(rec.FingerprintID),
			TimestampMS:   int64(rec.TimestampMS),
			Confidence:    string(rec.Confidence),
		}
		if err := queries.InsertFinding(ctx, f); err != nil {
			return fmt.Errorf("failed to persist finding: %w", err)
		}
	}
	return nil
}

func exportCSV(path string, fps []fingerprint.Fingerprint, matches []scan.Match, addresses []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	reporter := report.NewReporter(fps)
	if err := report.WriteCSV(f, reporter.Build(matches, addresses)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// loadFingerprints reads the CSV collection, or falls back to the built-in
// one when no path is configured.
func loadFingerprints(path string) ([]fingerprint.Fingerprint, error) {
	if path == "" {
		return fingerprint.Defaults(), nil
	}
	return fingerprint.LoadFile(path)
}

// loadTargetAddresses reads one address per line, skipping blanks and
// comments.
func loadTargetAddresses(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var addresses []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addresses = append(addresses, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return addresses, nil
}

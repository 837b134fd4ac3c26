// Package config provides configuration loading and validation for the
// scanner CLI. Everything comes from SCANNER_* environment variables with
// sensible research defaults, so a scan is reproducible from its
// environment alone.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Window defaults cover the era of the vulnerable wallet generators:
// 2011-01-01 through 2015-12-31.
const (
	defaultWindowStart = "2011-01-01T00:00:00Z"
	defaultWindowEnd   = "2015-12-31T23:59:59Z"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	// TargetsPath is the file of target addresses, one per line. Required.
	TargetsPath string

	// FingerprintsPath is the fingerprint CSV. Empty selects the built-in
	// collection.
	FingerprintsPath string

	// WindowStartMS and WindowEndMS bound the timestamp search window,
	// both inclusive, in Unix milliseconds.
	WindowStartMS uint64
	WindowEndMS   uint64

	// StepMS is the enumeration granularity in milliseconds.
	StepMS uint64

	// BatchSize is the number of candidates per dispatched batch.
	BatchSize int

	// Workers sizes the scalar backend's pool. Zero selects GOMAXPROCS.
	Workers int

	// Lanes sizes the lane backend's arena. Zero selects the default.
	Lanes int

	// Backend selects the execution strategy: "auto" probes the lane
	// backend and falls back, "scalar" skips it entirely.
	Backend string

	// CheckpointEvery persists a checkpoint after this many batches.
	CheckpointEvery int

	// DBPath is the filesystem path to the SQLite session store.
	DBPath string

	// SessionID resumes a previous session when set; empty starts a new
	// one.
	SessionID string

	// ReportPath is the CSV export destination. Empty writes no CSV.
	ReportPath string

	// ProgressAddr is the listen address for the websocket telemetry hub
	// (e.g. "localhost:8990"). Empty disables the hub.
	ProgressAddr string

	// LogLevel controls application logging: debug, info, warn, error.
	LogLevel string

	// ShutdownTimeout bounds the graceful-stop window after SIGINT.
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults and
// validates required values. It returns a configured Config or an error.
func Load() (*Config, error) {
	cfg := &Config{
		TargetsPath:      strings.TrimSpace(os.Getenv("SCANNER_TARGETS_PATH")),
		FingerprintsPath: strings.TrimSpace(os.Getenv("SCANNER_FINGERPRINTS_PATH")),
		DBPath:           strings.TrimSpace(os.Getenv("SCANNER_DB_PATH")),
		SessionID:        strings.TrimSpace(os.Getenv("SCANNER_SESSION_ID")),
		ReportPath:       strings.TrimSpace(os.Getenv("SCANNER_REPORT_PATH")),
		ProgressAddr:     strings.TrimSpace(os.Getenv("SCANNER_PROGRESS_ADDR")),
		LogLevel:         strings.TrimSpace(os.Getenv("SCANNER_LOG_LEVEL")),
		Backend:          strings.TrimSpace(os.Getenv("SCANNER_BACKEND")),
	}

	if cfg.TargetsPath == "" {
		return nil, fmt.Errorf("SCANNER_TARGETS_PATH is required")
	}

	if cfg.DBPath == "" {
		cfg.DBPath = "scanner.db"
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	} else {
		cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid SCANNER_LOG_LEVEL %q", cfg.LogLevel)
	}

	if cfg.Backend == "" {
		cfg.Backend = "auto"
	} else {
		cfg.Backend = strings.ToLower(cfg.Backend)
	}
	switch cfg.Backend {
	case "auto", "scalar":
	default:
		return nil, fmt.Errorf("invalid SCANNER_BACKEND %q (want auto or scalar)", cfg.Backend)
	}

	start, err := timestampMS("SCANNER_WINDOW_START", defaultWindowStart)
	if err != nil {
		return nil, err
	}
	end, err := timestampMS("SCANNER_WINDOW_END", defaultWindowEnd)
	if err != nil {
		return nil, err
	}
	if end < start {
		return nil, fmt.Errorf("SCANNER_WINDOW_END is before SCANNER_WINDOW_START")
	}
	cfg.WindowStartMS, cfg.WindowEndMS = start, end

	cfg.StepMS, err = uintVar("SCANNER_STEP_MS", 1000)
	if err != nil {
		return nil, err
	}
	if cfg.StepMS == 0 {
		return nil, fmt.Errorf("SCANNER_STEP_MS must be positive")
	}

	batch, err := intVar("SCANNER_BATCH_SIZE", 4096)
	if err != nil {
		return nil, err
	}
	if batch <= 0 {
		return nil, fmt.Errorf("SCANNER_BATCH_SIZE must be positive")
	}
	cfg.BatchSize = batch

	if cfg.Workers, err = intVar("SCANNER_WORKERS", 0); err != nil {
		return nil, err
	}
	if cfg.Lanes, err = intVar("SCANNER_LANES", 0); err != nil {
		return nil, err
	}
	if cfg.CheckpointEvery, err = intVar("SCANNER_CHECKPOINT_EVERY", 16); err != nil {
		return nil, err
	}
	if cfg.CheckpointEvery < 0 {
		return nil, fmt.Errorf("SCANNER_CHECKPOINT_EVERY must not be negative")
	}

	st := strings.TrimSpace(os.Getenv("SCANNER_SHUTDOWN_TIMEOUT"))
	if st == "" {
		cfg.ShutdownTimeout = 30 * time.Second
	} else {
		d, err := time.ParseDuration(st)
		if err != nil {
			return nil, fmt.Errorf("invalid SCANNER_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	return cfg, nil
}

// timestampMS parses an env var holding either an RFC 3339 time or a raw
// Unix-millisecond integer.
func timestampMS(name, fallback string) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		v = fallback
	}
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return uint64(ts.UnixMilli()), nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: want RFC 3339 time or unix milliseconds, got %q", name, v)
	}
	return n, nil
}

func intVar(name string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func uintVar(name string, fallback uint64) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

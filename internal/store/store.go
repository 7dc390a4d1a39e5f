// Package store persists finished runs and their per-metric outcomes in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

// RunStore is the SQLite run database. Safe for concurrent use.
type RunStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	logger *zap.Logger
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string, logger *zap.Logger) (*RunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("sqlite pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &RunStore{db: db, dbPath: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("run store ready", zap.String("path", path))
	return s, nil
}

// Close closes the database.
func (s *RunStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database path.
func (s *RunStore) Path() string { return s.dbPath }

func (s *RunStore) initialize() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		metrics INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		plan_json TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_runs_user ON runs(user_id, created_at);
	`

	metricRunsTable := `
	CREATE TABLE IF NOT EXISTS metric_runs (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		metric_id TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		message TEXT,
		csv_path TEXT,
		chart_path TEXT,
		cost REAL NOT NULL DEFAULT 0,
		attempts_df INTEGER NOT NULL DEFAULT 0,
		attempts_chart INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, metric_id)
	);
	`

	for _, stmt := range []string{runsTable, metricRunsTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

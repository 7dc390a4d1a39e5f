package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// migration adds a column that older databases lack.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations are applied in order when the column is missing.
var pendingMigrations = []migration{
	// Full report for `runs <id>` and the /runs endpoint
	{"runs", "report_json", "TEXT NOT NULL DEFAULT '{}'"},
	// Per-metric failure detail and timing
	{"metric_runs", "error", "TEXT"},
	{"metric_runs", "duration_ms", "INTEGER NOT NULL DEFAULT 0"},
}

func runMigrations(db *sql.DB, logger *zap.Logger) error {
	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) || columnExists(db, m.Table, m.Column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		logger.Info("schema migration applied", zap.String("table", m.Table), zap.String("column", m.Column))
		applied++
	}
	logger.Debug("schema migrations complete", zap.Int("applied", applied))
	return nil
}

// columnExists checks a column with PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}

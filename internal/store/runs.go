package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

// timeLayout has fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MetricRecord is the stored outcome of one metric.
type MetricRecord struct {
	MetricID      string        `json:"metric_id"`
	Status        string        `json:"status"` // normal, alert, failed
	Message       string        `json:"message,omitempty"`
	CSVPath       string        `json:"csv_path,omitempty"`
	ChartPath     string        `json:"chart_path,omitempty"`
	Cost          float64       `json:"cost"`
	AttemptsDF    int           `json:"attempts_df"`
	AttemptsChart int           `json:"attempts_chart"`
	Error         string        `json:"error,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// RunSummary is one row of ListRuns.
type RunSummary struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Metrics   int       `json:"metrics"`
	Failed    int       `json:"failed"`
	Cost      float64   `json:"cost"`
}

// StoredRun is a run with its plan, report and metric records.
type StoredRun struct {
	RunSummary
	Plan    *types.MetricPlan `json:"plan"`
	Report  *types.ReportPlan `json:"report"`
	Records []MetricRecord    `json:"records"`
}

// SaveReport stores a finished run. Saving the same run id again replaces it.
func (s *RunStore) SaveReport(ctx context.Context, userID string, plan *types.MetricPlan, report *types.ReportPlan, records []MetricRecord) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("save report: missing run id")
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("save report: marshal plan: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("save report: marshal report: %w", err)
	}
	metrics := len(records)
	if plan != nil {
		metrics = len(plan.Metrics)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save report: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM metric_runs WHERE run_id = ?`, report.RunID); err != nil {
		return fmt.Errorf("save report: clear metrics: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, user_id, created_at, metrics, failed, cost, plan_json, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			metrics = excluded.metrics,
			failed = excluded.failed,
			cost = excluded.cost,
			plan_json = excluded.plan_json,
			report_json = excluded.report_json`,
		report.RunID, userID, time.Now().UTC().Format(timeLayout),
		metrics, len(report.Failed), report.Cost, string(planJSON), string(reportJSON))
	if err != nil {
		return fmt.Errorf("save report: insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metric_runs (run_id, metric_id, position, status, message, csv_path, chart_path,
			cost, attempts_df, attempts_chart, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("save report: prepare: %w", err)
	}
	defer stmt.Close()
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, report.RunID, r.MetricID, i, r.Status, r.Message, r.CSVPath, r.ChartPath,
			r.Cost, r.AttemptsDF, r.AttemptsChart, r.Error, r.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("save report: insert metric %s: %w", r.MetricID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save report: commit: %w", err)
	}
	s.logger.Info("run saved", zap.String("run_id", report.RunID), zap.Int("metrics", len(records)), zap.Float64("cost_usd", report.Cost))
	return nil
}

// ListRuns returns the newest runs first. An empty userID lists every user;
// limit <= 0 means no limit.
func (s *RunStore) ListRuns(ctx context.Context, userID string, limit int) ([]RunSummary, error) {
	query := `SELECT id, user_id, created_at, metrics, failed, cost FROM runs`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetReport loads one run. ErrNotFound is returned for an unknown id.
func (s *RunStore) GetReport(ctx context.Context, runID string) (*StoredRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, metrics, failed, cost, plan_json, report_json FROM runs WHERE id = ?`, runID)
	var (
		run                  StoredRun
		created              string
		planJSON, reportJSON string
	)
	err := row.Scan(&run.ID, &run.UserID, &created, &run.Metrics, &run.Failed, &run.Cost, &planJSON, &reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	run.CreatedAt = parseTime(created)

	run.Plan = &types.MetricPlan{}
	if err := json.Unmarshal([]byte(planJSON), run.Plan); err != nil {
		return nil, fmt.Errorf("get report: decode plan: %w", err)
	}
	run.Report = &types.ReportPlan{}
	if err := json.Unmarshal([]byte(reportJSON), run.Report); err != nil {
		return nil, fmt.Errorf("get report: decode report: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT metric_id, status, COALESCE(message, ''), COALESCE(csv_path, ''), COALESCE(chart_path, ''),
			cost, attempts_df, attempts_chart, COALESCE(error, ''), duration_ms
		FROM metric_runs WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("get report: metrics: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r MetricRecord
		var ms int64
		if err := rows.Scan(&r.MetricID, &r.Status, &r.Message, &r.CSVPath, &r.ChartPath,
			&r.Cost, &r.AttemptsDF, &r.AttemptsChart, &r.Error, &ms); err != nil {
			return nil, fmt.Errorf("get report: scan metric: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		run.Records = append(run.Records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get report: metrics: %w", err)
	}
	return &run, nil
}

// DeleteRun removes a run and its metric records.
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM metric_runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (RunSummary, error) {
	var sum RunSummary
	var created string
	if err := row.Scan(&sum.ID, &sum.UserID, &created, &sum.Metrics, &sum.Failed, &sum.Cost); err != nil {
		return RunSummary{}, fmt.Errorf("scan run: %w", err)
	}
	sum.CreatedAt = parseTime(created)
	return sum, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

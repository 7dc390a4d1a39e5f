package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	_ "modernc.org/sqlite"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

func samplePlan() *types.MetricPlan {
	return &types.MetricPlan{
		Analysis: types.AnalysisSpec{Audience: "student", Language: "ko"},
		Metrics: []types.MetricSpec{
			{ID: "gpa_trend", Rationale: "r", ComputeHint: "h", ChartType: types.ChartLine},
			{ID: "credit_mix", Rationale: "r", ComputeHint: "h"},
		},
	}
}

func sampleReport(runID string) *types.ReportPlan {
	return &types.ReportPlan{
		RunID: runID,
		Insights: []types.Insight{
			{MetricID: "gpa_trend", Title: "GPA trend", Insight: "rising", Status: "normal"},
		},
		Failed: []string{"credit_mix"},
		Cost:   0.037,
	}
}

func sampleRecords() []MetricRecord {
	return []MetricRecord{
		{MetricID: "gpa_trend", Status: "normal", CSVPath: "a.csv", ChartPath: "a.png", Cost: 0.03, AttemptsDF: 2, AttemptsChart: 1, Duration: 1500 * time.Millisecond},
		{MetricID: "credit_mix", Status: "failed", Cost: 0.007, Error: "panic: boom"},
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, ":memory:", s.Path())
	for _, col := range []string{"report_json"} {
		assert.True(t, columnExists(s.db, "runs", col), col)
	}
	for _, col := range []string{"error", "duration_ms"} {
		assert.True(t, columnExists(s.db, "metric_runs", col), col)
	}
}

func TestSaveAndGetReport(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveReport(ctx, "u1", samplePlan(), sampleReport("r1"), sampleRecords()))

	run, err := s.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "u1", run.UserID)
	assert.Equal(t, 2, run.Metrics)
	assert.Equal(t, 1, run.Failed)
	assert.InDelta(t, 0.037, run.Cost, 1e-9)
	assert.False(t, run.CreatedAt.IsZero())

	require.Len(t, run.Plan.Metrics, 2)
	assert.Equal(t, types.ChartLine, run.Plan.Metrics[0].ChartType)
	require.Len(t, run.Report.Insights, 1)
	assert.Equal(t, "rising", run.Report.Insights[0].Insight)

	require.Len(t, run.Records, 2)
	assert.Equal(t, "gpa_trend", run.Records[0].MetricID)
	assert.Equal(t, 2, run.Records[0].AttemptsDF)
	assert.Equal(t, 1500*time.Millisecond, run.Records[0].Duration)
	assert.Equal(t, "panic: boom", run.Records[1].Error)
	assert.Empty(t, run.Records[1].CSVPath)
}

func TestSaveReport_Replaces(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveReport(ctx, "u1", samplePlan(), sampleReport("r1"), sampleRecords()))

	report := sampleReport("r1")
	report.Failed = nil
	require.NoError(t, s.SaveReport(ctx, "u1", samplePlan(), report, sampleRecords()[:1]))

	run, err := s.GetReport(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, run.Failed)
	assert.Len(t, run.Records, 1)

	runs, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSaveReport_MissingRunID(t *testing.T) {
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.SaveReport(context.Background(), "u1", samplePlan(), &types.ReportPlan{}, nil))
	assert.Error(t, s.SaveReport(context.Background(), "u1", samplePlan(), nil, nil))
}

func TestListRuns_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "runs", "insight.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.SaveReport(ctx, "u1", samplePlan(), sampleReport(id), nil))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, s.SaveReport(ctx, "u2", samplePlan(), sampleReport("other"), nil))

	runs, err := s.ListRuns(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"r3", "r2", "r1"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = s.ListRuns(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 4)
	assert.Equal(t, "other", runs[0].ID)
}

func TestGetReport_NotFound(t *testing.T) {
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetReport(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteRun(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveReport(ctx, "u1", samplePlan(), sampleReport("r1"), sampleRecords()))
	require.NoError(t, s.DeleteRun(ctx, "r1"))

	_, err = s.GetReport(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteRun(ctx, "r1"), ErrNotFound)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM metric_runs`).Scan(&n))
	assert.Zero(t, n)
}

func TestOpen_MigratesOldSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	// Schema written before report_json, error and duration_ms existed.
	old, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = old.Exec(`
		CREATE TABLE runs (
			id TEXT PRIMARY KEY, user_id TEXT NOT NULL, created_at TEXT NOT NULL,
			metrics INTEGER NOT NULL DEFAULT 0, failed INTEGER NOT NULL DEFAULT 0,
			cost REAL NOT NULL DEFAULT 0, plan_json TEXT NOT NULL DEFAULT '{}');
		CREATE TABLE metric_runs (
			run_id TEXT NOT NULL, metric_id TEXT NOT NULL, position INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL, message TEXT, csv_path TEXT, chart_path TEXT,
			cost REAL NOT NULL DEFAULT 0, attempts_df INTEGER NOT NULL DEFAULT 0,
			attempts_chart INTEGER NOT NULL DEFAULT 0, PRIMARY KEY (run_id, metric_id));
		INSERT INTO runs (id, user_id, created_at, metrics) VALUES ('legacy', 'u1', '2025-01-02T03:04:05.000000000Z', 1);
		INSERT INTO metric_runs (run_id, metric_id, status) VALUES ('legacy', 'gpa_trend', 'normal');`)
	require.NoError(t, err)
	require.NoError(t, old.Close())

	s, err := Open(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, columnExists(s.db, "runs", "report_json"))
	assert.True(t, columnExists(s.db, "metric_runs", "duration_ms"))

	run, err := s.GetReport(context.Background(), "legacy")
	require.NoError(t, err)
	assert.Equal(t, 2025, run.CreatedAt.Year())
	require.Len(t, run.Records, 1)
	assert.Zero(t, run.Records[0].Duration)
	assert.Empty(t, run.Records[0].Error)
}

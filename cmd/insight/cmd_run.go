package main

import (
	"context"
	"encoding/json"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Rigel0718/transcript-insight/internal/dataset"
	"github.com/Rigel0718/transcript-insight/internal/report"
	"github.com/Rigel0718/transcript-insight/internal/types"
	"github.com/Rigel0718/transcript-insight/internal/ui"
)

var (
	planPath    string
	datasetPath string
	runUser     string
	runDebug    bool
	runTUI      bool
	runJSON     bool
)

// runCmd executes a metric plan
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a metric plan against a parsed transcript",
	Long: `Runs every metric of the plan in parallel, stores the report in the run
database and prints it.

Example:
  insight run --plan plan.yaml --dataset transcript.json --tui`,
	RunE: runPlanCmd,
}

func init() {
	runCmd.Flags().StringVarP(&planPath, "plan", "p", "", "Metric plan (YAML or JSON)")
	runCmd.Flags().StringVarP(&datasetPath, "dataset", "d", "", "Parsed transcript JSON")
	runCmd.Flags().StringVar(&runUser, "user", "", "User id (default: storage.user_id)")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Collect artifact schemas and samples")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show live progress")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the report plan as JSON")
	_ = runCmd.MarkFlagRequired("plan")
	_ = runCmd.MarkFlagRequired("dataset")
}

func runPlanCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	plan, err := loadPlan(planPath)
	if err != nil {
		return err
	}
	ds, err := dataset.Load(datasetPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := runOptions{UserID: runUser, Debug: runDebug}
	var rep *types.ReportPlan
	if runTUI {
		rep, err = runWithTUI(ctx, a, plan, ds, opts)
	} else {
		rep, _, err = a.runPlan(ctx, plan, ds, opts)
	}
	if err != nil && rep == nil {
		return err
	}
	if err != nil {
		logger.Warn("report not stored", zap.Error(err))
	}
	return printReport(cmd, rep)
}

// runWithTUI runs the plan behind a bubbletea progress view. Quitting the
// view cancels the run.
func runWithTUI(ctx context.Context, a *app, plan *types.MetricPlan, ds *dataset.Dataset, opts runOptions) (*types.ReportPlan, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := ui.NewProgressModel(metricIDs(plan), ui.DefaultStyles())
	prog := tea.NewProgram(model, tea.WithContext(ctx))
	opts.Sink = ui.ProgramSink{Program: prog}

	done := make(chan struct{})
	var (
		rep    *types.ReportPlan
		runErr error
	)
	go func() {
		defer close(done)
		rep, _, runErr = a.runPlan(ctx, plan, ds, opts)
		prog.Send(ui.DoneMsg{Report: rep, Err: runErr})
	}()

	final, err := prog.Run()
	if m, ok := final.(ui.ProgressModel); ok && m.Cancelled() {
		cancel()
	}
	<-done
	if err != nil && rep == nil {
		return nil, fmt.Errorf("progress view failed: %w", err)
	}
	return rep, runErr
}

func printReport(cmd *cobra.Command, rep *types.ReportPlan) error {
	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	r, err := report.NewRenderer(ui.DefaultStyles(), 100)
	if err != nil {
		return err
	}
	rendered, err := r.Render(rep)
	if err != nil {
		return err
	}
	fmt.Fprint(out, rendered)
	return nil
}

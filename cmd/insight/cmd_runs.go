package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Rigel0718/transcript-insight/internal/logging"
	"github.com/Rigel0718/transcript-insight/internal/report"
	"github.com/Rigel0718/transcript-insight/internal/store"
	"github.com/Rigel0718/transcript-insight/internal/ui"
)

var (
	runsUser  string
	runsLimit int
	runsJSON  bool
)

// runsCmd lists stored runs or shows one
var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List stored runs, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsUser, "user", "", "Only runs of this user")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Print JSON")
}

func runRuns(cmd *cobra.Command, args []string) error {
	s, err := store.Open(cfg.Storage.DatabasePath, logging.For(logger, logging.CategoryStore))
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	styles := ui.DefaultStyles()

	if len(args) == 0 {
		runs, err := s.ListRuns(cmd.Context(), runsUser, runsLimit)
		if err != nil {
			return err
		}
		if runsJSON {
			return json.NewEncoder(out).Encode(runs)
		}
		fmt.Fprint(out, report.RunList(runs, styles))
		return nil
	}

	run, err := s.GetReport(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if runsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	fmt.Fprint(out, report.RecordList(run.Records, styles))
	fmt.Fprintln(out)
	r, err := report.NewRenderer(styles, 100)
	if err != nil {
		return err
	}
	rendered, err := r.Render(run.Report)
	if err != nil {
		return err
	}
	fmt.Fprint(out, rendered)
	return nil
}

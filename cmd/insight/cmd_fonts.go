package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Rigel0718/transcript-insight/internal/logging"
	"github.com/Rigel0718/transcript-insight/internal/render"
)

// fontsCmd shows which font charts will use
var fontsCmd = &cobra.Command{
	Use:   "fonts",
	Short: "Show the chart font selected from render.font_candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		r := render.New(cfg.Render.FontCandidates, cfg.Render.WidthInches, cfg.Render.HeightInches, logging.For(logger, logging.CategoryRender))
		session := r.Begin()
		choice := session.Font()
		session.End()

		out := cmd.OutOrStdout()
		if choice.Path == "" {
			fmt.Fprintf(out, "no candidate font found, using built-in %s\n", choice.Family)
		} else {
			fmt.Fprintf(out, "%s (%s)\n", choice.Family, choice.Path)
		}
		for _, c := range cfg.Render.FontCandidates {
			fmt.Fprintf(out, "  candidate: %s\n", c)
		}
		return nil
	},
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"intake/internal/config"
	"intake/internal/pipeline"
)

func newSimulateCommand(ctx *commandContext) *cobra.Command {
	var watcherName string

	cmd := &cobra.Command{
		Use:   "simulate [relative-path...]",
		Short: "Show which steps would run for sample and supplied paths",
		Long: "Evaluate routing, global excludes and step filters without touching the " +
			"filesystem. Paths derived from the configured patterns are always included; " +
			"extra relative paths may be passed as arguments.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			w, err := selectWatcher(cfg, watcherName)
			if err != nil {
				return err
			}

			paths := pipeline.MergePaths(pipeline.SamplePaths(w), args)
			evaluations, err := pipeline.Evaluate(w, paths)
			if err != nil {
				return err
			}

			steps := pipeline.StepNames(w)
			headers := append(append([]string{"Path"}, steps...), "Route")
			rows := make([][]string, 0, len(evaluations))
			for _, ev := range evaluations {
				row := []string{ev.Path}
				if ev.GloballyExcluded() {
					for range steps {
						row = append(row, pipeline.VerdictGlobal)
					}
					row = append(row, "-")
					rows = append(rows, row)
					continue
				}
				for _, sv := range ev.Steps {
					row = append(row, sv.Verdict)
				}
				row = append(row, routeCell(ev))
				rows = append(rows, row)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watcher: %s (%s)\n", w.Name, w.Watch.BaseFolder)
			if patterns := w.GlobalExcludes(); len(patterns) > 0 {
				fmt.Fprintf(out, "Global exclude: %s\n", strings.Join(patterns, ", "))
			}
			fmt.Fprintln(out, renderTable(headers, rows, nil))
			return nil
		},
	}

	cmd.Flags().StringVarP(&watcherName, "watcher", "w", "", "Watcher to simulate (defaults to the first enabled watcher)")
	return cmd
}

func routeCell(ev pipeline.Evaluation) string {
	if ev.RouteErr != nil {
		return "invalid"
	}
	return ev.Route.String()
}

func selectWatcher(cfg *config.Config, name string) (config.Watcher, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		w, ok := cfg.Watcher(name)
		if !ok {
			return config.Watcher{}, fmt.Errorf("unknown watcher %q", name)
		}
		return w, nil
	}
	enabled := cfg.EnabledWatchers()
	if len(enabled) == 0 {
		return config.Watcher{}, fmt.Errorf("no enabled watchers configured")
	}
	return enabled[0], nil
}

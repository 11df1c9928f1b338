package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"intake/internal/daemon"
	"intake/internal/history"
	"intake/internal/pipeline"
	"intake/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon state and per-watcher outcome counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			running, err := daemon.LockHeld(cfg.LockPath())
			if err != nil {
				return fmt.Errorf("check lock: %w", err)
			}

			store, err := history.Open(cmd.Context(), cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			rows := make([][]string, 0, len(cfg.Watchers))
			for _, w := range cfg.Watchers {
				stats, err := store.Stats(cmd.Context(), w.Name)
				if err != nil {
					return err
				}
				rows = append(rows, []string{
					w.Name,
					yesNo(w.IsEnabled()),
					w.Watch.BaseFolder,
					strconv.Itoa(stats[string(pipeline.OutcomeSuccess)]),
					strconv.Itoa(stats[string(pipeline.OutcomeReplicated)]),
					strconv.Itoa(stats[string(pipeline.OutcomeSkipped)]),
					strconv.Itoa(stats[string(pipeline.OutcomeFailed)]),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon running: %s\n", yesNo(running))
			if ctx.configPath != "" {
				fmt.Fprintf(out, "Config: %s\n", ctx.configPath)
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Watcher", "Enabled", "Root", "Imported", "Replicated", "Skipped", "Failed"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
			))

			checks := preflight.RunAll(cfg)
			checkRows := make([][]string, 0, len(checks))
			for _, r := range checks {
				state := "ok"
				switch {
				case !r.Passed:
					state = "FAIL"
				case r.Optional:
					state = "note"
				}
				checkRows = append(checkRows, []string{r.Name, state, r.Detail})
			}
			fmt.Fprintln(out, renderTable([]string{"Check", "State", "Detail"}, checkRows, nil))
			return nil
		},
	}
}

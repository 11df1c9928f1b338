package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"intake/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		watcherName string
		outcomes    []string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded file outcomes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cmd.Context(), cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), history.Filter{
				Watcher:  strings.TrimSpace(watcherName),
				Outcomes: outcomes,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				detail := run.ErrorMessage
				if detail == "" {
					detail = strings.Join(run.Steps, ", ")
				}
				rows = append(rows, []string{
					strconv.FormatInt(run.ID, 10),
					run.Watcher,
					run.RelativePath,
					run.Outcome,
					strconv.Itoa(run.Attempts),
					formatTime(run.FinishedAt),
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Watcher", "File", "Outcome", "Attempts", "Finished", "Detail"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&watcherName, "watcher", "w", "", "Only show runs for this watcher")
	cmd.Flags().StringSliceVar(&outcomes, "outcome", nil, "Only show these outcomes (success, replicated, skipped, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows to show (0 for all)")

	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than the given number of days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cmd.Context(), cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.Prune(cmd.Context(), time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 90, "Age threshold in days")
	return cmd
}

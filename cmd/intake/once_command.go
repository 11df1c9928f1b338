package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"intake/internal/daemon"
	"intake/internal/logging"
)

func newOnceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Process files currently present and exit",
		Long: "Scan every enabled watch root once, drain the queues (retries included) " +
			"and exit. The exit status is non-zero when any file failed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			st, err := openStack(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			d, err := daemon.New(cfg, logger, st.deps())
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}
			summary, err := d.RunOnce(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Processed %d file(s): %d imported, %d replicated, %d skipped, %d failed\n",
				summary.Processed(), summary.Succeeded, summary.Replicated, summary.Skipped, summary.Failed)
			if summary.Retries > 0 {
				fmt.Fprintf(out, "Retries: %d\n", summary.Retries)
			}
			if summary.HasFailures() {
				for _, key := range summary.FailedKeys {
					fmt.Fprintf(out, "  failed: %s\n", key)
				}
				return fmt.Errorf("%d file(s) failed: %s", summary.Failed, strings.Join(summary.FailedKeys, ", "))
			}
			return nil
		},
	}
}

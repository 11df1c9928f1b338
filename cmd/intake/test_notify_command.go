package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"intake/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			n := cfg.Notifications
			if !n.Enabled || (strings.TrimSpace(n.NtfyTopic) == "" && strings.TrimSpace(n.NATSURL) == "") {
				fmt.Fprintln(out, "Notifications not configured; nothing sent")
				return nil
			}

			svc := notifications.NewService(cfg)
			defer notifications.Close(svc)
			if err := svc.Publish(cmd.Context(), notifications.EventTest, notifications.Payload{}); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(out, "Test notification sent")
			return nil
		},
	}
}

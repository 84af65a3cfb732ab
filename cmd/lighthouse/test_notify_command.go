package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"lighthouse/internal/awsclient"
	"lighthouse/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Notifications.TopicARN) == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Notification topic not configured")
				return nil
			}

			awsCfg, err := awsclient.Load(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			notifier := notifications.NewService(awsCfg, cfg)
			if err := notifier.TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lighthouse/internal/awsclient"
	"lighthouse/internal/ingest"
	"lighthouse/internal/queue"
	"lighthouse/internal/storage"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the upload prefix and enqueue new recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			awsCfg, err := awsclient.Load(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			objects := storage.New(awsCfg, cfg.Storage.Bucket, cfg.AWS.Endpoint)

			return ctx.withStore(func(store *queue.Store) error {
				scanner := ingest.New(cfg, objects, store, nil)
				created, err := scanner.ScanOnce(cmd.Context())
				if err != nil {
					return err
				}
				if created == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No new recordings found")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %d new recordings\n", created)
				return nil
			})
		},
	}
}

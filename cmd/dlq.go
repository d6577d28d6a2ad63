package cmd

import (
	"context"
	"fmt"

	"notifyq/internal/app"
	"notifyq/internal/config"

	"github.com/spf13/cobra"
)

func dlqCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay the dead-letter store",
	}

	command.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show failed/waiting/delayed job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.Build(config.Load())
			ctx := context.Background()
			if err := a.Client.Connect(ctx); err != nil {
				return err
			}
			stats, err := a.DLQ.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("failed=%d waiting=%d delayed=%d\n", stats.Failed, stats.Waiting, stats.Delayed)
			return nil
		},
	})

	command.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Resubmit every dead-lettered job to its original queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.Build(config.Load())
			ctx := context.Background()
			if err := a.Client.Connect(ctx); err != nil {
				return err
			}
			count, err := a.DLQ.ReplayAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("replayed %d jobs\n", count)
			return nil
		},
	})

	return command
}

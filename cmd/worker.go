package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"notifyq/internal/app"
	"notifyq/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var queues []string

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start delivery workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			cfg := config.Load()
			a := app.Build(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := a.Client.Connect(ctx); err != nil {
				return err
			}

			for _, q := range queues {
				if err := a.Runtime.InitializeQueue(ctx, q, "", ""); err != nil {
					return err
				}
			}

			go func() {
				if err := a.Scheduler.Run(ctx); err != nil && ctx.Err() == nil {
					log.Ctx(ctx).Error().Err(err).Msg("scheduler stopped with error")
				}
			}()

			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
			defer cancel()
			return a.Runtime.Shutdown(shutdownCtx)
		},
	}

	command.Flags().StringSliceVar(&queues, "queues", []string{"email", "sms", "push"}, "Logical channels to consume")
	return command
}

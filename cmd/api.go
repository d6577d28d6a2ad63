package cmd

import (
	"notifyq/internal/api"
	"notifyq/internal/app"
	"notifyq/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server",
		Run: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			cfg := config.Load()

			a := app.Build(cfg)
			ctx := cmd.Context()
			if err := a.Client.Connect(ctx); err != nil {
				log.Fatal().Err(err).Msg("redis unavailable")
			}

			log.Info().Msgf("API server using stream prefix: %s, group: %s", cfg.Redis.StreamPrefix, cfg.Redis.Group)
			server := api.NewServer(a.Dispatcher, a.DLQ)
			server.Run(port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}

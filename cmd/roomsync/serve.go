package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomsync/internal/app"
	"github.com/vovakirdan/roomsync/internal/config"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr              string
		readHeaderTimeout time.Duration
		shutdownTimeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the room relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(false)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{
				Addr:              addr,
				ReadHeaderTimeout: readHeaderTimeout,
				ShutdownTimeout:   shutdownTimeout,
			})

			logger.Info().Str("addr", cfg.Addr).Msg("starting roomsync relay")
			if err := app.New(&cfg, logger).Run(cmd.Context()); err != nil {
				return err
			}
			logger.Info().Msg("relay stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	cmd.Flags().DurationVar(&readHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	return cmd
}

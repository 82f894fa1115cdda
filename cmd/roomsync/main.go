package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomsync/internal/config"
	applog "github.com/vovakirdan/roomsync/internal/log"
)

type rootOptions struct {
	configPath string
	logLevel   string
	room       string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "roomsync: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "roomsync",
		Short:         "Presence-aware group chat relay and client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.room, "room", "", "room name")

	root.AddCommand(newServeCmd(opts), newChatCmd(opts), newTokenCmd(opts))
	return root
}

// load resolves configuration and applies the persistent flag overrides.
func (o *rootOptions) load(stderr bool) (config.Config, *zerolog.Logger, error) {
	bootLevel := o.logLevel
	if bootLevel == "" {
		bootLevel = "info"
	}
	logger := o.logger(stderr, bootLevel)

	cfg, path, err := config.Load(logger, o.configPath)
	if err != nil {
		return cfg, logger, err
	}
	cfg.UpdateFrom(config.Config{LogLevel: o.logLevel, Room: o.room})

	logger = o.logger(stderr, cfg.LogLevel)
	logger.Debug().Str("path", path).Msg("config loaded")
	return cfg, logger, nil
}

func (o *rootOptions) logger(stderr bool, level string) *zerolog.Logger {
	if stderr {
		return applog.NewWriter(os.Stderr, level)
	}
	return applog.New(level)
}

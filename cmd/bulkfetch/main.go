package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/analytics-loaders/bulkfetch/pkg/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("bulkfetch failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		logLevel string
		pretty   bool
	)

	root := &cobra.Command{
		Use:           "bulkfetch",
		Short:         "Fetch paginated vendor APIs under retry, concurrency and rate limits",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := logging.FromEnv()
			if cmd.Flags().Changed("log-level") {
				cfg.Level = logging.LogLevel(logLevel)
			}
			if cmd.Flags().Changed("pretty") {
				cfg.Pretty = pretty
			}
			cfg.Output = cmd.ErrOrStderr()
			logging.Setup(cfg)
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	root.PersistentFlags().BoolVar(&pretty, "pretty", false, "Human-readable logs; overrides LOG_PRETTY")

	root.AddCommand(newSplitCmd())
	root.AddCommand(newRunCmd())

	return root
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

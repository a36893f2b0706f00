// Command chatd runs the assessment chat service: the HTTP API, the
// background job workers, and maintenance tasks.
package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/assessment-chat/internal/config"
	"github.com/tbourn/assessment-chat/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	logLevel string
	envFiles []string

	// appConfig is loaded once by the root command before any subcommand runs.
	appConfig config.Config
)

var rootCmd = &cobra.Command{
	Use:   "chatd",
	Short: "Conversational assistant over cycle assessments",
	Long: `chatd serves the assessment chat API and runs the job queues that
generate replies in the background and deliver webhooks.

Configuration is read from the environment, optionally seeded from .env files.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return errors.WithMessage(err, "couldn't read env files")
		}
		cfg, err := config.Load()
		if err != nil {
			return errors.WithMessage(err, "invalid configuration")
		}
		appConfig = cfg
		sysutil.ConfigureLogging(nil, sysutil.FirstNonEmpty(logLevel, cfg.LogLevel), cfg.LogPretty, cfg.OTEL.ServiceName)
		log.Debug().Str("version", version).Msg("debug logging enabled")
		return nil
	},
}

func main() {
	rootCmd.AddCommand(
		NewServeCommand(),
		NewWorkerCommand(),
		NewRepairThreadsCommand(),
		NewVersionCommand(),
	)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug,info,warn,error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		"Env files to load before reading configuration (default .env)")

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("could not execute root command")
		os.Exit(1)
	}
}

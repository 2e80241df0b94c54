package main

import (
	"fmt"
	"os"

	"roomcast/pkg/config"
	"roomcast/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagConfig   string
	flagLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "participant",
	Short: "Join a roomcast room as a presenter, moderator or viewer",
	Long: `participant connects to a roomcast relay and takes part in one live room.

Presenters publish camera, screen and microphone captures read from files and can
record the composited broadcast. Viewers write the received tracks to disk.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "configs/participant.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override the configured log level")
	rootCmd.AddCommand(joinCmd, sessionCmd)
}

// loadConfig falls back to defaults when the file cannot be read.
func loadConfig() (*config.Config, *zap.Logger) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}

	zapLogger := logger.New(cfg.Logging.Level)
	if err != nil {
		zapLogger.Sugar().Warnw("Using default configuration", "path", flagConfig, "error", err)
	}
	return cfg, zapLogger
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

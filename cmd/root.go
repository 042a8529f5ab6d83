// Package cmd builds the battycoda command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/battycoda/battycoda/cmd/cancel"
	"github.com/battycoda/battycoda/cmd/classify"
	"github.com/battycoda/battycoda/cmd/cluster"
	"github.com/battycoda/battycoda/cmd/config"
	"github.com/battycoda/battycoda/cmd/ingest"
	"github.com/battycoda/battycoda/cmd/ping"
	"github.com/battycoda/battycoda/cmd/preview"
	"github.com/battycoda/battycoda/cmd/segment"
	"github.com/battycoda/battycoda/cmd/spectrogram"
	"github.com/battycoda/battycoda/cmd/status"
	"github.com/battycoda/battycoda/cmd/train"
	"github.com/battycoda/battycoda/cmd/worker"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/telemetry"
)

// Version is set at build time with -ldflags.
var Version = "dev"

// RootCommand creates the root command. settings is filled from the
// configuration file before any subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	rootCmd := &cobra.Command{
		Use:           "battycoda",
		Short:         "BattyCoda audio processing pipeline",
		Long:          "Segment, classify, train and cluster animal vocalization recordings.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := viper.BindPFlag("debug", cmd.Flags().Lookup("debug")); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
		loaded, err := conf.Load(configPath)
		if err != nil {
			return err
		}
		*settings = *loaded
		return initialize(settings, debug)
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		telemetry.Flush()
		_ = logger.Global().Flush()
	}

	rootCmd.AddCommand(
		worker.Command(settings),
		segment.Command(settings),
		preview.Command(settings),
		ingest.Command(settings),
		classify.Command(settings),
		train.Command(settings),
		cluster.Command(settings),
		spectrogram.Command(settings),
		status.Command(settings),
		cancel.Command(settings),
		ping.Command(settings),
		config.Command(settings),
	)
	return rootCmd
}

// initialize sets up logging and telemetry once settings are known.
func initialize(settings *conf.Settings, debug bool) error {
	logCfg := settings.Main.Log
	if debug || settings.Debug {
		logCfg.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	return telemetry.InitSentry(&settings.Sentry, Version)
}

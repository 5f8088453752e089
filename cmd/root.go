package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/dualverify/cmd/analyze"
	"github.com/tphakala/dualverify/cmd/chirp"
	"github.com/tphakala/dualverify/cmd/config"
	"github.com/tphakala/dualverify/cmd/listen"
	"github.com/tphakala/dualverify/cmd/run"
	"github.com/tphakala/dualverify/cmd/scan"
	"github.com/tphakala/dualverify/internal/conf"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/telemetry"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "dualverify",
		Short:         "Dual-verify proximity engine",
		Long:          "Verifies that a peer is physically close by requiring both a Bluetooth sighting and an ultrasonic chirp.",
		Version:       settings.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	configCmd := config.Command(settings)

	subcommands := []*cobra.Command{
		run.Command(settings),
		listen.Command(settings),
		scan.Command(settings),
		chirp.Command(settings),
		analyze.Command(settings),
		configCmd,
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// config subcommands print settings and must not touch logging outputs
		if cmd == configCmd || cmd.Parent() == configCmd {
			return nil
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize is called before any subcommand runs. It replaces the bootstrap
// logger with one built from the final settings and enables error reporting.
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	centralLogger, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(centralLogger)

	if err := telemetry.InitSentry(settings); err != nil {
		// Reporting is optional, the engine runs without it.
		logger.Global().Module("main").Warn("sentry initialization failed", logger.Error(err))
	}

	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Main.Name, "name", viper.GetString("main.name"), "Device name used when advertising and in published messages")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

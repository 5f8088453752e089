package listen

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/dualverify/internal/analysis"
	"github.com/tphakala/dualverify/internal/conf"
)

// Command creates the command that only runs the tone receiver.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen for the ultrasonic chirp",
		Long:  "Capture audio and report whenever the target tone appears or disappears.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := analysis.NotifyContext(context.Background())
			defer stop()
			return analysis.Listen(ctx, settings, cmd.OutOrStdout())
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the listen command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Audio.Source, "source", viper.GetString("audio.source"), "Audio capture device, empty for the system default")
	cmd.Flags().Float64Var(&settings.Audio.DetectionThreshold, "threshold", viper.GetFloat64("audio.detectionthreshold"), "Peak magnitude required for a detection")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

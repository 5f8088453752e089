package analyze

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/dualverify/internal/analysis"
	"github.com/tphakala/dualverify/internal/conf"
)

// Command creates the command for offline tone detection in WAV files.
func Command(settings *conf.Settings) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "analyze [input.wav]...",
		Short: "Detect the ultrasonic chirp in WAV files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if _, err := analysis.FileAnalysis(settings, path, cmd.OutOrStdout(), verbose); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print every frame that contains the tone")

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the analyze command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().Float64Var(&settings.Audio.DetectionThreshold, "threshold", viper.GetFloat64("audio.detectionthreshold"), "Peak magnitude required for a detection")
	cmd.Flags().Float64Var(&settings.Audio.TargetFrequency, "frequency", viper.GetFloat64("audio.targetfrequency"), "Target tone frequency in Hz")
	cmd.Flags().IntVar(&settings.Audio.FFTSize, "fftsize", viper.GetInt("audio.fftsize"), "Samples per analysis frame")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

package chirp

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/dualverify/internal/analysis"
	"github.com/tphakala/dualverify/internal/conf"
)

// Command creates the command that emits or renders the chirp.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		out      string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "chirp",
		Short: "Play the ultrasonic chirp or write it to a WAV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out != "" {
				if err := analysis.WriteChirp(settings, out); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s chirp at %.0f Hz to %s\n",
					settings.Chirp.Duration, settings.Audio.TargetFrequency, out)
				return nil
			}

			ctx, stop := analysis.NotifyContext(context.Background())
			defer stop()
			return analysis.PlayChirp(ctx, settings, duration)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Write one chirp to this WAV file instead of playing it")
	cmd.Flags().DurationVar(&duration, "for", 10*time.Second, "How long to keep transmitting")

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the chirp command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Chirp.Output, "output", viper.GetString("chirp.output"), "Audio playback device, empty for the system default")
	cmd.Flags().Float64Var(&settings.Chirp.Amplitude, "amplitude", viper.GetFloat64("chirp.amplitude"), "Chirp amplitude between 0.0 and 1.0")
	cmd.Flags().DurationVar(&settings.Chirp.Interval, "interval", viper.GetDuration("chirp.interval"), "Time between chirps")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

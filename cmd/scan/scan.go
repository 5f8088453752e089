package scan

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/dualverify/internal/analysis"
	"github.com/tphakala/dualverify/internal/conf"
)

// Command creates the command that only runs Bluetooth discovery.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for peers advertising the shared service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := analysis.NotifyContext(context.Background())
			defer stop()
			return analysis.Scan(ctx, settings, cmd.OutOrStdout())
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the scan command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().IntVar(&settings.Radio.RSSIThreshold, "rssi", viper.GetInt("radio.rssithreshold"), "Ignore sightings weaker than this, in dBm")
	cmd.Flags().StringVar(&settings.Radio.ServiceUUID, "service", viper.GetString("radio.serviceuuid"), "Service UUID peers must advertise")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

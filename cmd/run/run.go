package run

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/dualverify/internal/analysis"
	"github.com/tphakala/dualverify/internal/conf"
)

// Command creates the command that runs the full proximity engine.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dual-verify proximity engine",
		Long:  "Transmit and listen for the ultrasonic chirp, scan and advertise over Bluetooth, and connect to peers verified by both.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.RealtimeProximity(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the run command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Audio.Source, "source", viper.GetString("audio.source"), "Audio capture device, empty for the system default")
	cmd.Flags().StringVar(&settings.Chirp.Output, "output", viper.GetString("chirp.output"), "Audio playback device, empty for the system default")
	cmd.Flags().BoolVar(&settings.Fusion.AutoConnect, "autoconnect", viper.GetBool("fusion.autoconnect"), "Connect automatically to dual verified peers")
	cmd.Flags().BoolVar(&settings.Radio.Advertise, "advertise", viper.GetBool("radio.advertise"), "Advertise the shared service so peers can discover this device")
	cmd.Flags().BoolVar(&settings.Telemetry.Enabled, "telemetry", viper.GetBool("telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Telemetry.Listen, "listen", viper.GetString("telemetry.listen"), "Listen address and port of telemetry endpoint")
	cmd.Flags().BoolVar(&settings.MQTT.Enabled, "mqtt", viper.GetBool("mqtt.enabled"), "Publish connection and verification events to MQTT")
	cmd.Flags().StringVar(&settings.MQTT.Broker, "broker", viper.GetString("mqtt.broker"), "MQTT broker URL")

	// Bind flags to the viper settings
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}

package analysis

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/tphakala/dualverify/internal/conf"
	"github.com/tphakala/dualverify/internal/myaudio"
	"github.com/tphakala/dualverify/internal/radio"
	"github.com/tphakala/dualverify/internal/timeutil"
	"github.com/tphakala/dualverify/internal/tone"
)

// Listen runs only the receiver and writes a line to out whenever the
// detection state flips, until ctx is cancelled.
func Listen(ctx context.Context, settings *conf.Settings, out io.Writer) error {
	receiver, err := NewReceiver(settings, timeutil.RealClock{})
	if err != nil {
		return err
	}
	defer func() { _ = receiver.Close() }()

	events, cancel := receiver.Subscribe(64)
	defer cancel()

	if err := receiver.Start(ctx); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "listening for %.0f Hz ±%.0f Hz, press Ctrl+C to stop\n",
		settings.Audio.TargetFrequency, settings.Audio.Tolerance)

	return reportTransitions(ctx, events, out)
}

func reportTransitions(ctx context.Context, events <-chan tone.DetectionEvent, out io.Writer) error {
	detected := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Detected == detected {
				continue
			}
			detected = ev.Detected
			state := "lost"
			if detected {
				state = "detected"
			}
			_, _ = fmt.Fprintf(out, "%s  tone %-8s peak %7.1f Hz  magnitude %.4f\n",
				ev.Timestamp.Format(time.TimeOnly), state, ev.PeakFrequency, ev.PeakMagnitude)
		}
	}
}

// Scan runs only the radio aggregator and prints the device list after
// every change, until ctx is cancelled.
func Scan(ctx context.Context, settings *conf.Settings, out io.Writer) error {
	aggregator, err := NewAggregator(settings, timeutil.RealClock{})
	if err != nil {
		return err
	}
	defer aggregator.StopScanning()

	if err := aggregator.StartScanning(ctx); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "scanning for service %s, press Ctrl+C to stop\n", settings.Radio.ServiceUUID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case devices := <-aggregator.Updates():
			PrintDevices(out, devices)
		}
	}
}

// PrintDevices renders a device list as an aligned table.
func PrintDevices(out io.Writer, devices []radio.Device) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tRSSI\tDISTANCE\tLAST SEEN")
	for _, d := range devices {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d dBm\t%.1f m\t%s\n",
			d.ID, d.Name, d.RSSI, d.Distance, d.LastSeen.Format(time.TimeOnly))
	}
	_ = w.Flush()
}

// PlayChirp runs the transmitter on the configured output device for the
// given duration or until ctx is cancelled.
func PlayChirp(ctx context.Context, settings *conf.Settings, d time.Duration) error {
	sink := myaudio.NewPlaybackSink(settings.Chirp.Output, settings.Audio.SampleRate, nil)
	tx := tone.NewTransmitter(ChirpConfig(settings), settings.Chirp.Interval, sink, timeutil.RealClock{}, nil)

	if err := tx.Start(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	if err := tx.Stop(); err != nil {
		return err
	}
	return tx.State().Err
}

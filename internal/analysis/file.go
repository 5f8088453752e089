package analysis

import (
	"fmt"
	"io"
	"time"

	"github.com/tphakala/dualverify/internal/conf"
	"github.com/tphakala/dualverify/internal/logger"
	"github.com/tphakala/dualverify/internal/myaudio"
	"github.com/tphakala/dualverify/internal/tone"
)

// FileReport summarizes an offline detection run.
type FileReport struct {
	SampleRate    int
	Frames        int
	Detections    int
	FirstDetected time.Duration // offset of the first positive frame, -1 if none
	PeakFrequency float64       // of the strongest frame
	PeakMagnitude float64
}

// FileAnalysis runs the tone detector over consecutive, non-overlapping
// frames of a WAV file. A trailing partial frame is ignored, as it is in
// the live receiver. Detected frames are written to out when verbose is set.
func FileAnalysis(settings *conf.Settings, path string, out io.Writer, verbose bool) (FileReport, error) {
	pcm, sampleRate, err := myaudio.ReadWAV(path)
	if err != nil {
		return FileReport{}, err
	}

	cfg := DetectorConfig(settings)
	if sampleRate != cfg.SampleRate {
		GetLogger().Info("using file sample rate",
			logger.String("path", path),
			logger.Int("file_rate", sampleRate),
			logger.Int("configured_rate", cfg.SampleRate))
		cfg.SampleRate = sampleRate
	}

	detector, err := tone.NewDetector(cfg, nil)
	if err != nil {
		return FileReport{}, err
	}

	samples := tone.BytesToSamples(pcm)
	frameSize := detector.FrameSize()
	frameDuration := time.Duration(float64(frameSize) / float64(sampleRate) * float64(time.Second))

	report := FileReport{SampleRate: sampleRate, FirstDetected: -1}
	for start := 0; start+frameSize <= len(samples); start += frameSize {
		ev := detector.Analyze(samples[start : start+frameSize])
		offset := time.Duration(report.Frames) * frameDuration
		report.Frames++

		if ev.PeakMagnitude > report.PeakMagnitude {
			report.PeakMagnitude = ev.PeakMagnitude
			report.PeakFrequency = ev.PeakFrequency
		}
		if !ev.Detected {
			continue
		}
		report.Detections++
		if report.FirstDetected < 0 {
			report.FirstDetected = offset
		}
		if verbose {
			_, _ = fmt.Fprintf(out, "%10s  peak %7.1f Hz  magnitude %.4f\n",
				offset.Round(time.Millisecond), ev.PeakFrequency, ev.PeakMagnitude)
		}
	}

	_, _ = fmt.Fprintf(out, "%s: %d of %d frames contain the %.0f Hz tone (strongest %.4f at %.1f Hz)\n",
		path, report.Detections, report.Frames, cfg.TargetFrequency, report.PeakMagnitude, report.PeakFrequency)

	return report, nil
}

// WriteChirp renders one chirp burst to a 16-bit mono WAV file.
func WriteChirp(settings *conf.Settings, path string) error {
	pcm := tone.EncodePCM16(tone.GenerateChirp(ChirpConfig(settings)))
	return myaudio.WriteWAV(path, pcm, settings.Audio.SampleRate)
}

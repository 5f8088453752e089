package tone

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/timeutil"
)

// DetectionEvent is the result of analysing one frame.
type DetectionEvent struct {
	Detected      bool
	PeakFrequency float64 // Hz
	PeakMagnitude float64
	Timestamp     time.Time
}

// DetectorConfig holds detection parameters.
type DetectorConfig struct {
	SampleRate      int
	FFTSize         int
	TargetFrequency float64
	Tolerance       float64
	Threshold       float64
}

// Detector finds the target tone in fixed-size frames. A Detector reuses its
// buffers and must only be used from one goroutine.
type Detector struct {
	cfg       DetectorConfig
	clock     timeutil.Clock
	fft       *fourier.FFT
	window    []float64
	windowSum float64
	lowBin    int
	highBin   int

	frame  []float64
	coeffs []complex128
}

// NewDetector validates cfg and precomputes the window and bin range.
func NewDetector(cfg DetectorConfig, clock timeutil.Clock) (*Detector, error) {
	if cfg.SampleRate <= 0 || cfg.FFTSize < 2 {
		return nil, errors.Newf("invalid detector config: sample rate %d, fft size %d", cfg.SampleRate, cfg.FFTSize).
			Component("tone").
			Category(errors.CategoryConfiguration).
			Build()
	}

	w := make([]float64, cfg.FFTSize)
	for i := range w {
		w[i] = 1
	}
	w = window.Hann(w)

	var sum float64
	for _, v := range w {
		sum += v
	}

	binWidth := float64(cfg.SampleRate) / float64(cfg.FFTSize)
	nyquistBin := cfg.FFTSize / 2
	low := int(math.Floor((cfg.TargetFrequency - cfg.Tolerance) / binWidth))
	high := int(math.Ceil((cfg.TargetFrequency + cfg.Tolerance) / binWidth))
	if low > nyquistBin || high < 0 || low > high {
		return nil, errors.Newf("empty search band %g±%g Hz", cfg.TargetFrequency, cfg.Tolerance).
			Component("tone").
			Category(errors.CategoryConfiguration).
			Build()
	}
	low = max(0, low)
	high = min(high, nyquistBin)

	return &Detector{
		cfg:       cfg,
		clock:     timeutil.OrReal(clock),
		fft:       fourier.NewFFT(cfg.FFTSize),
		window:    w,
		windowSum: sum,
		lowBin:    low,
		highBin:   high,
		frame:     make([]float64, cfg.FFTSize),
		coeffs:    make([]complex128, nyquistBin+1),
	}, nil
}

// FrameSize returns the number of samples consumed per analysis.
func (d *Detector) FrameSize() int { return d.cfg.FFTSize }

// BinWidth returns the frequency resolution in Hz.
func (d *Detector) BinWidth() float64 {
	return float64(d.cfg.SampleRate) / float64(d.cfg.FFTSize)
}

// SearchBand returns the inclusive FFT bin range searched for the peak.
func (d *Detector) SearchBand() (low, high int) { return d.lowBin, d.highBin }

// Analyze windows frame, transforms it and reports the strongest bin inside
// the search band. Short frames are zero padded and long ones truncated.
// Magnitudes are single-sided amplitude estimates, 2|X[k]|/Σw, so a sine of
// amplitude A centred on a bin reads as A.
func (d *Detector) Analyze(frame []float64) DetectionEvent {
	n := copy(d.frame, frame)
	clear(d.frame[n:])

	for i := range d.frame {
		d.frame[i] *= d.window[i]
	}

	d.coeffs = d.fft.Coefficients(d.coeffs, d.frame)

	peakBin := d.lowBin
	peak := -1.0
	for k := d.lowBin; k <= d.highBin; k++ {
		if m := cmplx.Abs(d.coeffs[k]); m > peak {
			peak = m
			peakBin = k
		}
	}

	magnitude := 2 * peak / d.windowSum

	return DetectionEvent{
		Detected:      magnitude > d.cfg.Threshold,
		PeakFrequency: float64(peakBin) * d.BinWidth(),
		PeakMagnitude: magnitude,
		Timestamp:     d.clock.Now(),
	}
}

// String describes the detector for log output.
func (d *Detector) String() string {
	return fmt.Sprintf("%g±%g Hz, %d-point FFT at %d Hz (bins %d-%d)",
		d.cfg.TargetFrequency, d.cfg.Tolerance, d.cfg.FFTSize, d.cfg.SampleRate, d.lowBin, d.highBin)
}

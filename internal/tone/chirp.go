// Package tone implements the ultrasonic half of dual verification: chirp
// synthesis and playback, and narrow-band detection of the same tone in a
// microphone stream.
package tone

import (
	"encoding/binary"
	"math"
	"time"
)

// ChirpConfig describes a single fixed-frequency tone burst.
type ChirpConfig struct {
	SampleRate  int
	Frequency   float64       // Hz
	Duration    time.Duration // burst length
	Amplitude   float64       // 0.0 - 1.0
	FadeSamples int           // linear ramp length at each edge
}

// NumSamples returns the burst length in samples.
func (c ChirpConfig) NumSamples() int {
	return int(math.Round(c.Duration.Seconds() * float64(c.SampleRate)))
}

// Envelope returns the amplitude envelope at sample i of an n-sample chirp
// with fade samples of linear ramp at each edge. When the chirp is shorter
// than two ramps the fade is clamped to n/2 so that the ramps meet.
func Envelope(i, n, fade int) float64 {
	if i < 0 || i >= n {
		return 0
	}

	fade = min(fade, n/2)
	if fade <= 0 {
		return 1
	}

	in := float64(i) / float64(fade)
	out := float64(n-1-i) / float64(fade)
	return min(1, in, out)
}

// GenerateChirp renders the chirp as float samples in [-Amplitude, Amplitude].
func GenerateChirp(cfg ChirpConfig) []float64 {
	n := cfg.NumSamples()
	if n <= 0 || cfg.SampleRate <= 0 {
		return nil
	}

	samples := make([]float64, n)
	step := 2 * math.Pi * cfg.Frequency / float64(cfg.SampleRate)
	for i := range samples {
		samples[i] = cfg.Amplitude * Envelope(i, n, cfg.FadeSamples) * math.Sin(step*float64(i))
	}
	return samples
}

// EncodePCM16 converts float samples to little-endian signed 16-bit PCM.
// Values outside [-1, 1] are clipped.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = max(-1, min(1, s))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(s*math.MaxInt16))))
	}
	return out
}

// BytesToSamples converts little-endian signed 16-bit PCM to floats in
// [-1, 1]. A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []float64 {
	samples := make([]float64, len(pcm)/2)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return samples
}

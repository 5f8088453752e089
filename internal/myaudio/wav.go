package myaudio

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/dualverify/internal/errors"
)

// ReadWAV decodes a PCM WAV file into mono 16-bit little-endian PCM.
// Multi-channel audio is averaged to mono; 24 and 32-bit audio is reduced to
// 16 bits.
func ReadWAV(path string) (pcm []byte, sampleRate int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer func() { _ = file.Close() }()

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, errors.Newf("%s is not a valid WAV file", path).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Build()
	}

	depth := int(decoder.BitDepth)
	if depth != 16 && depth != 24 && depth != 32 {
		return nil, 0, errors.Newf("unsupported bit depth: %d", depth).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Context("path", path).
			Build()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("error decoding %s: %w", path, err)
	}

	channels := max(1, buf.Format.NumChannels)
	frames := len(buf.Data) / channels
	shift := depth - 16

	pcm = make([]byte, frames*2)
	for i := range frames {
		var sum int
		for c := range channels {
			sum += buf.Data[i*channels+c]
		}
		v := (sum / channels) >> shift
		v = max(math.MinInt16, min(math.MaxInt16, v))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}

	return pcm, buf.Format.SampleRate, nil
}

// WriteWAV writes mono 16-bit little-endian PCM to a WAV file.
func WriteWAV(path string, pcm []byte, sampleRate int) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	enc := wav.NewEncoder(file, sampleRate, bitDepth, numChannels, 1)
	writeErr := enc.Write(&audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: numChannels},
		SourceBitDepth: bitDepth,
	})
	closeErr := enc.Close()
	fileErr := file.Close()

	if err := errors.Join(writeErr, closeErr, fileErr); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

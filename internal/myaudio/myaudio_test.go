package myaudio

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcmFrom(values ...int16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestWAVRoundTripPreservesSamples(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chirp.wav")
	pcm := pcmFrom(0, 1000, -1000, math.MaxInt16, math.MinInt16)

	require.NoError(t, WriteWAV(path, pcm, 44100))

	got, rate, err := ReadWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 44100, rate)
	assert.Equal(t, pcm, got)
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "noise.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a riff file"), 0o600))

	_, _, err := ReadWAV(path)
	require.Error(t, err)

	_, _, err = ReadWAV(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
}

func TestLevelDBFS(t *testing.T) {
	t.Parallel()

	assert.True(t, math.IsInf(LevelDBFS(nil), -1))
	assert.True(t, math.IsInf(LevelDBFS(pcmFrom(0, 0, 0)), -1))

	fullScale := pcmFrom(math.MinInt16, math.MinInt16)
	assert.InDelta(t, 0, LevelDBFS(fullScale), 1e-9)

	half := pcmFrom(16384, -16384)
	assert.InDelta(t, -6.02, LevelDBFS(half), 0.01)
}

func TestMatchesDevice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		display, id, want string
		match             bool
	}{
		{"USB Audio Device", "hw:1,0", "usb audio", true},
		{"Built-in Microphone", "hw:0,0", "hw:0,0", true},
		{"Built-in Microphone", "hw:0,0", "hw:1", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.match, matchesDevice(tt.display, tt.id, tt.want), "%s/%s vs %s", tt.display, tt.id, tt.want)
	}
}

func TestDecodeDeviceID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "hw:1,0", decodeDeviceID("68773a312c30"))
	assert.Equal(t, "hw:1,0", decodeDeviceID("68773a312c300000"))
	assert.Equal(t, "zz", decodeDeviceID("zz"), "not hex")
	assert.Equal(t, "0102", decodeDeviceID("0102"), "not printable")
}

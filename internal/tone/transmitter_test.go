package tone

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dualverify/internal/errors"
	"github.com/tphakala/dualverify/internal/timeutil"
)

func testChirpConfig() ChirpConfig {
	return ChirpConfig{
		SampleRate:  44100,
		Frequency:   18000,
		Duration:    100 * time.Millisecond,
		Amplitude:   0.5,
		FadeSamples: 100,
	}
}

func TestTransmitterEmitsOnInterval(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sink := &fakeSink{}
	tx := NewTransmitter(testChirpConfig(), 2*time.Second, sink, clock, discardLogger())

	require.NoError(t, tx.Start(t.Context()))
	require.NoError(t, tx.Start(t.Context()), "second start is a no-op")
	assert.True(t, tx.IsTransmitting())

	require.Eventually(t, func() bool { _, plays, _ := sink.counts(); return plays == 1 },
		time.Second, 5*time.Millisecond, "first chirp plays immediately")

	require.True(t, clock.BlockUntil(1, time.Second))
	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { _, plays, _ := sink.counts(); return plays == 2 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, tx.Stop())
	require.NoError(t, tx.Stop(), "second stop is a no-op")

	opens, _, closes := sink.counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
	assert.False(t, tx.IsTransmitting())
	assert.Len(t, sink.lastPCM, 4410*2)
}

func TestTransmitterOpenFailure(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{openErr: errors.NewStd("no output device")}
	tx := NewTransmitter(testChirpConfig(), 2*time.Second, sink, timeutil.NewMockClock(time.Unix(0, 0)), discardLogger())

	err := tx.Start(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsHardwareUnavailable(err))

	state := tx.State()
	assert.False(t, state.Transmitting)
	assert.True(t, errors.IsHardwareUnavailable(state.Err))
	_, plays, _ := sink.counts()
	assert.Zero(t, plays)
}

func TestTransmitterPlaybackFailureStops(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sink := &fakeSink{failAfter: 1}
	tx := NewTransmitter(testChirpConfig(), 2*time.Second, sink, clock, discardLogger())

	require.NoError(t, tx.Start(t.Context()))
	require.True(t, clock.BlockUntil(1, time.Second))
	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool { return !tx.IsTransmitting() }, time.Second, 5*time.Millisecond)

	state := tx.State()
	assert.True(t, errors.IsStreamFailure(state.Err))
	assert.Equal(t, uint64(1), state.ChirpsSent)

	_, _, closes := sink.counts()
	assert.Equal(t, 1, closes)
	require.NoError(t, tx.Stop())

	// Explicit restart clears the error
	sink.mu.Lock()
	sink.failAfter = 0
	sink.mu.Unlock()
	require.NoError(t, tx.Start(t.Context()))
	assert.NoError(t, tx.State().Err)
	require.NoError(t, tx.Stop())
}

func TestTransmitterStopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sink := &fakeSink{}
	tx := NewTransmitter(testChirpConfig(), 2*time.Second, sink, clock, discardLogger())

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, tx.Start(ctx))
	require.Eventually(t, func() bool { _, plays, _ := sink.counts(); return plays == 1 },
		time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !tx.IsTransmitting() }, time.Second, 5*time.Millisecond)
	_, _, closes := sink.counts()
	assert.Equal(t, 1, closes, "sink is closed when the context ends")
	assert.NoError(t, tx.State().Err)

	// A fresh start must emit again rather than being treated as a no-op.
	require.NoError(t, tx.Start(t.Context()))
	assert.True(t, tx.IsTransmitting())
	require.Eventually(t, func() bool { _, plays, _ := sink.counts(); return plays == 2 },
		time.Second, 5*time.Millisecond)

	require.True(t, clock.BlockUntil(1, time.Second))
	clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool { _, plays, _ := sink.counts(); return plays == 3 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, tx.Stop())
	opens, _, closes := sink.counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 2, closes)
}

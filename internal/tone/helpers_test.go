package tone

import (
	"context"
	"math"
	"sync"

	"github.com/tphakala/dualverify/internal/errors"
)

func testDetectorConfig() DetectorConfig {
	return DetectorConfig{
		SampleRate:      44100,
		FFTSize:         4096,
		TargetFrequency: 18000,
		Tolerance:       500,
		Threshold:       0.1,
	}
}

func sine(freq, amplitude float64, sampleRate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

// fakeSink records every Play call.
type fakeSink struct {
	mu        sync.Mutex
	openErr   error
	failAfter int // fail the Play call after this many successes, 0 never fails
	opens     int
	closes    int
	plays     int
	lastPCM   []byte
}

func (s *fakeSink) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return s.openErr
	}
	s.opens++
	return nil
}

func (s *fakeSink) Play(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && s.plays >= s.failAfter {
		return errors.NewStd("device unplugged")
	}
	s.plays++
	s.lastPCM = pcm
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSink) counts() (opens, plays, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens, s.plays, s.closes
}

// fakeSource lets a test push PCM into a Receiver.
type fakeSource struct {
	mu       sync.Mutex
	startErr error
	onData   func([]byte)
	onError  func(error)
	starts   int
	stops    int
}

func (s *fakeSource) Start(_ context.Context, onData func([]byte), onError func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts++
	s.onData = onData
	s.onError = onError
	return nil
}

func (s *fakeSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeSource) feed(pcm []byte) {
	s.mu.Lock()
	fn := s.onData
	s.mu.Unlock()
	fn(pcm)
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	fn(err)
}

func (s *fakeSource) counts() (starts, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

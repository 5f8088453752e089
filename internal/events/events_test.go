package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBroadcasterFanOut(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster[int]()
	defer b.Close()

	a, cancelA := b.Subscribe(4)
	defer cancelA()
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	assert.Equal(t, 2, b.Publish(7))
	assert.Equal(t, 7, <-a)
	assert.Equal(t, 7, <-c)

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(2), stats.Delivered)
	assert.Equal(t, 2, stats.Subscribers)
}

func TestBroadcasterDropsForFullSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster[string]()
	defer b.Close()

	slow, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish("first")
	b.Publish("second")

	assert.Equal(t, "first", <-slow)
	assert.Equal(t, uint64(1), b.Stats().Dropped)
}

func TestBroadcasterCancelClosesChannel(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster[int]()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Publish(1))
	assert.Equal(t, 0, b.Stats().Subscribers)
}

func TestBroadcasterClose(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster[int]()
	ch, cancel := b.Subscribe(1)

	b.Close()
	b.Close()
	cancel()

	_, ok := <-ch
	require.False(t, ok)

	late, _ := b.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
	assert.Equal(t, 0, b.Publish(1))
}

func TestBroadcasterConcurrentPublish(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster[int]()
	defer b.Close()

	ch, cancel := b.Subscribe(1000)
	defer cancel()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			for j := range 50 {
				b.Publish(i*50 + j)
			}
		})
	}
	wg.Wait()

	assert.Len(t, ch, 500)
	assert.Equal(t, uint64(500), b.Stats().Published)
}

func TestSendLatestKeepsNewest(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 1)
	assert.True(t, SendLatest(ch, 1))
	assert.True(t, SendLatest(ch, 2))
	assert.True(t, SendLatest(ch, 3))

	require.Len(t, ch, 1)
	assert.Equal(t, 3, <-ch)
}

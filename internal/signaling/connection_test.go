package signaling

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection() *connection {
	return &connection{
		log:    slog.Default(),
		send:   make(chan []byte, sendQueueCapacity),
		closed: make(chan struct{}),
	}
}

func TestEnqueueResetsDropCounterOnSuccess(t *testing.T) {
	c := newTestConnection()
	c.consecutiveDrops.Store(5)

	ok := c.enqueue(Frame{Type: TypeTierChange, Tier: "HIGH"})

	require.True(t, ok)
	assert.Equal(t, int32(0), c.consecutiveDrops.Load())
}

func TestEnqueueClosesSessionAfterMaxConsecutiveDrops(t *testing.T) {
	c := newTestConnection()
	// Fill the queue so every subsequent enqueue falls into the drop path.
	for i := 0; i < sendQueueCapacity; i++ {
		c.send <- []byte("x")
	}

	for i := 0; i < maxConsecutiveDrops-1; i++ {
		ok := c.enqueue(Frame{Type: TypeTierChange, Tier: "LOW"})
		require.False(t, ok)
	}
	select {
	case <-c.closed:
		t.Fatal("session closed before reaching the drop threshold")
	default:
	}

	c.enqueue(Frame{Type: TypeTierChange, Tier: "LOW"})

	select {
	case <-c.closed:
	default:
		t.Fatal("session was not closed after maxConsecutiveDrops")
	}
}

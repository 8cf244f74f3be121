package callqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collector struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (c *collector) add(a Announcement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, a.AnnouncementID)
}

func (c *collector) snapshot() []uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uuid.UUID(nil), c.ids...)
}

func (c *collector) contains(id uuid.UUID) bool {
	for _, got := range c.snapshot() {
		if got == id {
			return true
		}
	}
	return false
}

func TestDisplay_ReplaysThenStreamsWithoutDuplicates(t *testing.T) {
	t.Parallel()

	bus := NewMemoryBus()
	b, clock := newTestBroadcaster(t, bus)

	before1 := announcement(uuid.New(), "Room 1", "A")
	before2 := announcement(uuid.New(), "Room 2", "B")
	announceAndFlush(t, b, clock, before1)
	announceAndFlush(t, b, clock, before2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := &collector{}
	done := make(chan error, 1)
	go func() {
		done <- NewDisplay(bus, bus, zap.NewNop()).Watch(ctx, "loc-1", got.add)
	}()

	// replay happens after the subscription is in place
	require.Eventually(t, func() bool { return len(got.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uuid.UUID{before1.AnnouncementID, before2.AnnouncementID}, got.snapshot())

	live := announcement(uuid.New(), "Room 3", "")
	announceAndFlush(t, b, clock, live)
	marker := announcement(uuid.New(), "Room 4", "")
	announceAndFlush(t, b, clock, marker)

	require.Eventually(t, func() bool { return got.contains(marker.AnnouncementID) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []uuid.UUID{
		before1.AnnouncementID,
		before2.AnnouncementID,
		live.AnnouncementID,
		marker.AnnouncementID,
	}, got.snapshot())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestSeenSet_ForgetsOldest(t *testing.T) {
	t.Parallel()

	s := newSeenSet(2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	assert.True(t, s.add(a))
	assert.False(t, s.add(a))
	assert.True(t, s.add(b))
	assert.True(t, s.add(c))
	assert.True(t, s.add(a), "a was evicted")
}

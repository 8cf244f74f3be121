package redisclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alefm12/jAgendamento-sub001/internal/callqueue"
	"github.com/alefm12/jAgendamento-sub001/internal/config"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), config.Config{RedisAddr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), config.Config{RedisAddr: addr})
	assert.Error(t, err)
}

func TestSlotLocker_RunsAndReleases(t *testing.T) {
	rdb, mr := newTestClient(t)
	locker := NewRedisSlotLocker(rdb, time.Second)

	ran := false
	err := locker.WithSlotLock(context.Background(), "loc-1|2026-02-10|09:00", func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("lock:slot:loc-1|2026-02-10|09:00"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:slot:loc-1|2026-02-10|09:00"))
}

func TestSlotLocker_HeldLockIsNotAcquired(t *testing.T) {
	rdb, mr := newTestClient(t)
	locker := NewRedisSlotLocker(rdb, 100*time.Millisecond)

	require.NoError(t, mr.Set("lock:slot:busy", "someone-else"))

	err := locker.WithSlotLock(context.Background(), "busy", func(context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	got, err := mr.Get("lock:slot:busy")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got, "foreign lock is left alone")
}

func TestCallboard_KV(t *testing.T) {
	rdb, _ := newTestClient(t)
	cb := NewCallboard(rdb)
	ctx := context.Background()

	_, err := cb.Get(ctx, "callboard:loc-1:latest")
	assert.ErrorIs(t, err, callqueue.ErrKeyNotFound)

	require.NoError(t, cb.Set(ctx, "callboard:loc-1:latest", []byte(`{"room":"1"}`)))
	got, err := cb.Get(ctx, "callboard:loc-1:latest")
	require.NoError(t, err)
	assert.JSONEq(t, `{"room":"1"}`, string(got))
}

func TestCallboard_PublishSubscribe(t *testing.T) {
	rdb, _ := newTestClient(t)
	cb := NewCallboard(rdb)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := cb.Subscribe(ctx, "callboard:loc-1")
	require.NoError(t, err)

	require.NoError(t, cb.Publish(ctx, "callboard:loc-1", []byte("hello")))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "hello", string(msg))
	case <-ctx.Done():
		t.Fatal("no message received")
	}

	require.NoError(t, sub.Close())
	select {
	case _, open := <-sub.Messages():
		assert.False(t, open)
	case <-ctx.Done():
		t.Fatal("messages channel not closed")
	}
}

func TestCallboard_BroadcasterReplay(t *testing.T) {
	rdb, _ := newTestClient(t)
	cb := NewCallboard(rdb)
	clock := clockwork.NewFakeClock()
	b := callqueue.NewBroadcaster(cb, cb, clock, zap.NewNop(), callqueue.BroadcasterConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := callqueue.Announcement{
		AnnouncementID: uuid.New(),
		AppointmentID:  uuid.New(),
		Room:           "Room 1",
		LocationID:     "loc-1",
		LocationName:   "Central",
	}
	b.Announce(ctx, a)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(callqueue.DefaultResendDelay)
	b.Wait()

	snap, err := b.Replay(ctx, "loc-1")
	require.NoError(t, err)
	require.NotNil(t, snap.Latest)
	assert.Equal(t, a.AnnouncementID, snap.Latest.AnnouncementID)
	require.Len(t, snap.History, 1)

	raw, err := rdb.Get(ctx, "callboard:loc-1:history").Bytes()
	require.NoError(t, err)
	var history []callqueue.Announcement
	require.NoError(t, json.Unmarshal(raw, &history))
	assert.Equal(t, a.AnnouncementID, history[0].AnnouncementID)
}

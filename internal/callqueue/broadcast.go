package callqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrKeyNotFound = errors.New("key not found")

// Subscription delivers raw messages published on one channel.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// PubSub publishes to every current subscriber of a named channel. Delivery
// is best effort; nothing is retained for subscribers that join later.
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// KV is a last-write-wins store used for replay. Get returns ErrKeyNotFound
// for missing keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

const (
	DefaultHistoryCap  = 40
	DefaultResendDelay = 350 * time.Millisecond

	deliveryTimeout = 5 * time.Second
)

type BroadcasterConfig struct {
	HistoryCap  int
	ResendDelay time.Duration
}

// Broadcaster fans announcements out to displays. Announce never blocks the
// caller and never reports an error; failures are logged.
//
// Announcements are persisted and first published in the order Announce was
// called. Each resend fires on its own timer and never holds back later calls.
type Broadcaster struct {
	bus    PubSub
	kv     KV
	clock  clockwork.Clock
	logger *zap.Logger
	cfg    BroadcasterConfig

	mu       sync.Mutex
	pending  []delivery
	draining bool

	inflight sync.WaitGroup
}

type delivery struct {
	ctx context.Context
	a   Announcement
}

func NewBroadcaster(bus PubSub, kv KV, clock clockwork.Clock, logger *zap.Logger, cfg BroadcasterConfig) *Broadcaster {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.ResendDelay <= 0 {
		cfg.ResendDelay = DefaultResendDelay
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{bus: bus, kv: kv, clock: clock, logger: logger, cfg: cfg}
}

func (b *Broadcaster) Announce(ctx context.Context, a Announcement) {
	b.inflight.Add(1)

	b.mu.Lock()
	b.pending = append(b.pending, delivery{ctx: context.WithoutCancel(ctx), a: a})
	start := !b.draining
	b.draining = true
	b.mu.Unlock()

	if start {
		go b.drain()
	}
}

// Wait blocks until every announcement handed to Announce, including its
// delayed resend, has been delivered or dropped.
func (b *Broadcaster) Wait() {
	b.inflight.Wait()
}

// drain is the only goroutine touching the replay keys. It exits once the
// pending list is empty; the next Announce starts a new one.
func (b *Broadcaster) drain() {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		d := b.pending[0]
		b.pending[0] = delivery{}
		b.pending = b.pending[1:]
		b.mu.Unlock()

		b.deliver(d.ctx, d.a)
	}
}

func (b *Broadcaster) deliver(ctx context.Context, a Announcement) {
	log := b.logger.With(
		zap.String("announcement_id", a.AnnouncementID.String()),
		zap.String("appointment_id", a.AppointmentID.String()),
		zap.String("location_id", a.LocationID),
	)

	payload, err := json.Marshal(a)
	if err != nil {
		log.Error("encode announcement", zap.Error(err))
		b.inflight.Done()
		return
	}

	if err := b.persist(ctx, a, payload); err != nil {
		log.Warn("persist announcement for replay", zap.Error(err))
	}

	b.publish(ctx, log, a.LocationID, payload)

	b.clock.AfterFunc(b.cfg.ResendDelay, func() {
		defer b.inflight.Done()
		b.publish(ctx, log, a.LocationID, payload)
	})
}

func (b *Broadcaster) publish(ctx context.Context, log *zap.Logger, locationID string, payload []byte) {
	pctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	if err := b.bus.Publish(pctx, channelName(locationID), payload); err != nil {
		log.Warn("publish announcement", zap.Error(err))
	}
}

func (b *Broadcaster) persist(ctx context.Context, a Announcement, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	if err := b.kv.Set(ctx, latestKey(a.LocationID), payload); err != nil {
		return fmt.Errorf("set latest: %w", err)
	}

	history, err := b.history(ctx, a.LocationID)
	if err != nil {
		return err
	}
	history = MergeHistory(history, a, b.cfg.HistoryCap)

	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := b.kv.Set(ctx, historyKey(a.LocationID), raw); err != nil {
		return fmt.Errorf("set history: %w", err)
	}
	return nil
}

func (b *Broadcaster) history(ctx context.Context, locationID string) ([]Announcement, error) {
	raw, err := b.kv.Get(ctx, historyKey(locationID))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	var out []Announcement
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return out, nil
}

// MergeHistory puts a in front of history, drops older entries with the same
// announcement id or the same appointment, room and booth, and caps the result.
func MergeHistory(history []Announcement, a Announcement, limit int) []Announcement {
	out := make([]Announcement, 0, len(history)+1)
	out = append(out, a)
	for _, h := range history {
		if h.AnnouncementID == a.AnnouncementID || h.placement() == a.placement() {
			continue
		}
		out = append(out, h)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Snapshot is what a display needs to catch up on connect.
type Snapshot struct {
	Latest  *Announcement  `json:"latest,omitempty"`
	History []Announcement `json:"history"`
}

// Replay reads the durable latest value and history of a location.
func (b *Broadcaster) Replay(ctx context.Context, locationID string) (Snapshot, error) {
	return replay(ctx, b.kv, locationID)
}

func replay(ctx context.Context, kv KV, locationID string) (Snapshot, error) {
	var snap Snapshot

	raw, err := kv.Get(ctx, latestKey(locationID))
	switch {
	case errors.Is(err, ErrKeyNotFound):
	case err != nil:
		return Snapshot{}, fmt.Errorf("get latest: %w", err)
	default:
		var latest Announcement
		if err := json.Unmarshal(raw, &latest); err != nil {
			return Snapshot{}, fmt.Errorf("decode latest: %w", err)
		}
		snap.Latest = &latest
	}

	raw, err = kv.Get(ctx, historyKey(locationID))
	switch {
	case errors.Is(err, ErrKeyNotFound):
	case err != nil:
		return Snapshot{}, fmt.Errorf("get history: %w", err)
	default:
		if err := json.Unmarshal(raw, &snap.History); err != nil {
			return Snapshot{}, fmt.Errorf("decode history: %w", err)
		}
	}
	if snap.History == nil {
		snap.History = []Announcement{}
	}
	return snap, nil
}

package callqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const seenCap = 512

// Display is the consumer side of the broadcast: it replays what it missed
// and then follows live calls, handing each announcement over once.
type Display struct {
	bus    PubSub
	kv     KV
	logger *zap.Logger
}

func NewDisplay(bus PubSub, kv KV, logger *zap.Logger) *Display {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Display{bus: bus, kv: kv, logger: logger}
}

// Watch invokes fn for every announcement of locationID until ctx is done.
// Replayed history is handed over oldest first. Resends and replays of an
// already seen announcement id are skipped.
func (d *Display) Watch(ctx context.Context, locationID string, fn func(Announcement)) error {
	// subscribe before replaying so nothing falls between the two
	sub, err := d.bus.Subscribe(ctx, channelName(locationID))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", locationID, err)
	}
	defer sub.Close()

	seen := newSeenSet(seenCap)
	emit := func(a Announcement) {
		if seen.add(a.AnnouncementID) {
			fn(a)
		}
	}

	snap, err := replay(ctx, d.kv, locationID)
	if err != nil {
		d.logger.Warn("replay callboard", zap.String("location_id", locationID), zap.Error(err))
	}
	for i := len(snap.History) - 1; i >= 0; i-- {
		emit(snap.History[i])
	}
	if snap.Latest != nil {
		emit(*snap.Latest)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			var a Announcement
			if err := json.Unmarshal(raw, &a); err != nil {
				d.logger.Warn("decode announcement", zap.Error(err))
				continue
			}
			emit(a)
		}
	}
}

// seenSet remembers the most recent ids in insertion order.
type seenSet struct {
	ids   map[uuid.UUID]struct{}
	order []uuid.UUID
	limit int
}

func newSeenSet(limit int) *seenSet {
	return &seenSet{ids: make(map[uuid.UUID]struct{}, limit), limit: limit}
}

// add reports whether id was not seen before.
func (s *seenSet) add(id uuid.UUID) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.limit {
		delete(s.ids, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSweeper struct {
	mu    sync.Mutex
	dates []string
	calls chan struct{}
	err   error
}

func newFakeSweeper() *fakeSweeper {
	return &fakeSweeper{calls: make(chan struct{}, 16)}
}

func (f *fakeSweeper) SweepNoShows(_ context.Context, date string) (int, error) {
	f.mu.Lock()
	f.dates = append(f.dates, date)
	f.mu.Unlock()
	f.calls <- struct{}{}
	return 2, f.err
}

func (f *fakeSweeper) waitCall(t *testing.T) {
	t.Helper()
	select {
	case <-f.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not run")
	}
}

func TestNoShowWorker_SweepsAtStartupAndOnTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 2, 6, 0, 0, 0, time.UTC))
	sweeper := newFakeSweeper()
	today := func() string { return clock.Now().Format("2006-01-02") }
	w := NewNoShowWorker(sweeper, today, clock, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	sweeper.waitCall(t)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(24 * time.Hour)
	sweeper.waitCall(t)

	cancel()
	<-done

	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	// a large advance may deliver more than one tick
	require.GreaterOrEqual(t, len(sweeper.dates), 2)
	assert.Equal(t, "2026-02-02", sweeper.dates[0])
	for _, d := range sweeper.dates[1:] {
		assert.Equal(t, "2026-02-03", d)
	}
}

func TestNoShowWorker_LogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sweeper := newFakeSweeper()
	sweeper.err = errors.New("db down")
	w := NewNoShowWorker(sweeper, func() string { return "2026-02-02" }, clockwork.NewFakeClock(), time.Hour, zap.New(core))

	n := w.RunOnce(context.Background())

	assert.Equal(t, 2, n)
	entries := logs.FilterMessage("no-show sweep failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "2026-02-02", entries[0].ContextMap()["before"])
}

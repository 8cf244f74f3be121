// Package app assembles the scheduling service from configuration and live connections.
package app

import (
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
	"github.com/alefm12/jAgendamento-sub001/internal/callqueue"
	"github.com/alefm12/jAgendamento-sub001/internal/config"
	"github.com/alefm12/jAgendamento-sub001/internal/notify"
	redisclient "github.com/alefm12/jAgendamento-sub001/internal/redis"
	"github.com/alefm12/jAgendamento-sub001/internal/reschedule"
	"github.com/alefm12/jAgendamento-sub001/internal/scheduling"
	"github.com/alefm12/jAgendamento-sub001/internal/slots"
)

type App struct {
	Service     *scheduling.Service
	Broadcaster *callqueue.Broadcaster
	Calendar    *slots.Calendar
	Repo        *appointment.PgRepository
}

// New wires Postgres persistence, Redis slot locks and the Redis callboard
// into a scheduling service.
func New(cfg config.Config, pool appointment.DB, rdb *redis.Client, logger *zap.Logger) (*App, error) {
	cal, err := cfg.Calendar()
	if err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}

	clock := clockwork.NewRealClock()
	repo := appointment.NewPgRepository(pool)
	board := redisclient.NewCallboard(rdb)
	calendar := slots.NewCalendar(cal.Settings, cal.Locations, cal.Blocked, clock)

	broadcaster := callqueue.NewBroadcaster(board, board, clock, logger.Named("callboard"), callqueue.BroadcasterConfig{
		HistoryCap:  cfg.Callboard.HistoryCap,
		ResendDelay: cfg.Callboard.ResendDelay,
	})

	svc := scheduling.NewService(scheduling.Deps{
		Repo:     repo,
		Calendar: calendar,
		Guard:    reschedule.NewGuard(cfg.ReschedulePolicy()),
		Queue:    callqueue.NewQueue(cfg.Callboard.QueueMaxEntries, clock, broadcaster),
		Locker:   redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL),
		Notifier: notify.Multi{
			notify.NewEventLogNotifier(repo),
			notify.NewLogNotifier(logger.Named("events")),
		},
		Clock:             clock,
		Logger:            logger.Named("scheduling"),
		MaxCommitAttempts: cfg.Scheduling.MaxCommitAttempts,
	})

	return &App{Service: svc, Broadcaster: broadcaster, Calendar: calendar, Repo: repo}, nil
}

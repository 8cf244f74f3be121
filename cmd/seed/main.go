package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"

	"github.com/alefm12/jAgendamento-sub001/internal/app"
	"github.com/alefm12/jAgendamento-sub001/internal/appointment"
	"github.com/alefm12/jAgendamento-sub001/internal/config"
	"github.com/alefm12/jAgendamento-sub001/internal/db"
	"github.com/alefm12/jAgendamento-sub001/internal/logging"
	redisclient "github.com/alefm12/jAgendamento-sub001/internal/redis"
	"github.com/alefm12/jAgendamento-sub001/internal/scheduling"
	"github.com/alefm12/jAgendamento-sub001/internal/slots"
)

const seedActor = "system:seed"

type seedConfig struct {
	Appointments int `env:"SEED_APPOINTMENTS" env-default:"200"`
	Days         int `env:"SEED_DAYS"         env-default:"10"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}
	var sc seedConfig
	if err := cleanenv.ReadEnv(&sc); err != nil {
		_, _ = os.Stderr.WriteString("seed config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, sc, logger); err != nil {
		logger.Fatal("seed failed", zap.Error(err))
	}
}

func run(cfg config.Config, sc seedConfig, logger *zap.Logger) error {
	if err := cfg.RequirePostgres(); err != nil {
		return err
	}
	logger.Info("seed starting", zap.Int("appointments", sc.Appointments), zap.Int("days", sc.Days))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	rdb, err := redisclient.NewRedisClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	a, err := app.New(cfg, pool, rdb, logger)
	if err != nil {
		return err
	}
	cal, err := cfg.Calendar()
	if err != nil {
		return err
	}

	gofakeit.Seed(time.Now().UnixNano())

	dates := upcomingDates(a.Calendar.Today(), sc.Days)
	var booked, full int
	for i := 0; i < sc.Appointments; i++ {
		req, ok := pickSlot(ctx, a.Service, cal.Locations, dates)
		if !ok {
			full++
			continue
		}
		_, err := a.Service.Book(ctx, req, seedActor)
		switch {
		case err == nil:
			booked++
		case errors.Is(err, appointment.ErrSlotCapacityExceeded),
			errors.Is(err, appointment.ErrNoShowLimitExceeded):
			full++
		default:
			return err
		}
		if booked > 0 && booked%50 == 0 {
			logger.Info("appointments seeded", zap.Int("booked", booked), zap.Int("target", sc.Appointments))
		}
	}

	logger.Info("seed complete", zap.Int("booked", booked), zap.Int("skipped", full))
	return nil
}

func upcomingDates(today string, days int) []string {
	start, err := time.Parse(appointment.DateLayout, today)
	if err != nil {
		return nil
	}
	out := make([]string, 0, days)
	for d := 1; d <= days; d++ {
		out = append(out, start.AddDate(0, 0, d).Format(appointment.DateLayout))
	}
	return out
}

// pickSlot draws a random location and date and returns a booking for one of
// its free times, or false when nothing is free there.
func pickSlot(ctx context.Context, svc *scheduling.Service, locations []slots.Location, dates []string) (scheduling.BookRequest, bool) {
	if len(locations) == 0 || len(dates) == 0 {
		return scheduling.BookRequest{}, false
	}
	loc := locations[gofakeit.Number(0, len(locations)-1)]
	date := dates[gofakeit.Number(0, len(dates)-1)]

	free, err := svc.AvailableSlots(ctx, loc.ID, date)
	if err != nil || len(free) == 0 {
		return scheduling.BookRequest{}, false
	}
	slot := free[gofakeit.Number(0, len(free)-1)]

	priority := appointment.PriorityNormal
	if gofakeit.Number(1, 10) == 1 {
		priority = appointment.PriorityHigh
	}

	return scheduling.BookRequest{
		LocationID:   loc.ID,
		Date:         date,
		Time:         slot.Time,
		CitizenID:    gofakeit.Numerify("###########"),
		CitizenName:  gofakeit.Name(),
		CitizenPhone: gofakeit.Phone(),
		CitizenEmail: gofakeit.Email(),
		Priority:     priority,
	}, true
}

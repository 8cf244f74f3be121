package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/alefm12/jAgendamento-sub001/internal/app"
	"github.com/alefm12/jAgendamento-sub001/internal/config"
	"github.com/alefm12/jAgendamento-sub001/internal/db"
	"github.com/alefm12/jAgendamento-sub001/internal/logging"
	redisclient "github.com/alefm12/jAgendamento-sub001/internal/redis"
	"github.com/alefm12/jAgendamento-sub001/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config load error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("noshow-worker stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := cfg.RequirePostgres(); err != nil {
		return err
	}
	logger.Info("noshow-worker starting up", zap.String("env", cfg.Env), zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg)
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	a, err := app.New(cfg, pgPool, rdb, logger)
	if err != nil {
		return err
	}
	defer a.Broadcaster.Wait()

	worker.NewNoShowWorker(a.Service, a.Calendar.Today, clockwork.NewRealClock(), cfg.WorkerInterval, logger.Named("noshow")).Run(rootCtx)
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/alefm12/jAgendamento-sub001/internal/callqueue"
	"github.com/alefm12/jAgendamento-sub001/internal/config"
	"github.com/alefm12/jAgendamento-sub001/internal/logging"
	redisclient "github.com/alefm12/jAgendamento-sub001/internal/redis"
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
		logger.Fatal("display stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	location := cfg.Callboard.DisplayLocation
	if location == "" {
		return errors.New("DISPLAY_LOCATION is required")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()

	board := redisclient.NewCallboard(rdb)
	display := callqueue.NewDisplay(board, board, logger.Named("display"))

	logger.Info("display following calls", zap.String("location_id", location))
	err = display.Watch(rootCtx, location, func(a callqueue.Announcement) {
		fmt.Println(render(a))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func render(a callqueue.Announcement) string {
	place := a.Room
	if a.Booth != "" {
		place += " / " + a.Booth
	}
	line := fmt.Sprintf("%s  %-32s %-20s %s", a.EmittedAt.Local().Format("15:04:05"), a.CitizenName, place, a.Protocol)
	if a.Priority != "" && a.Priority != "normal" {
		line += "  [" + string(a.Priority) + "]"
	}
	if a.Repeated {
		line += "  (repeat)"
	}
	return line
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"crewtask/internal/clock"
	"crewtask/internal/config"
	"crewtask/internal/notify"
	"crewtask/internal/repository"
	"crewtask/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		errLog := zerolog.New(os.Stderr)
		errLog.Fatal().Err(err).Msg("config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	loc := cfg.Location()
	clk := clock.NewSystem(loc)

	taskRepo := repository.NewTaskRepository(db)
	templateRepo := repository.NewTemplateRepository(db)
	pointRepo := repository.NewPointRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	fileRepo := repository.NewFileRefRepository(db)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, memberRepo, log)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram notifier")
		}
		notifier = tg
	} else {
		log.Warn().Msg("no telegram token, notifications disabled")
	}

	scoringSvc := service.NewScoringService(db, pointRepo, taskRepo, cfg.Scoring, loc, log)
	lifecycleSvc := service.NewLifecycleService(db, taskRepo, fileRepo, scoringSvc, notifier, clk, cfg.ReviewWindow, log)
	reminderSvc := service.NewReminderService(taskRepo, notifier, log)
	boardSvc := service.NewLeaderboardService(pointRepo, loc, log)
	digestSvc := service.NewDigestService(boardSvc, memberRepo, notifier, log)
	schedulerSvc := service.NewSchedulerService(db, templateRepo, lifecycleSvc, scoringSvc, reminderSvc, digestSvc, clk, loc, log)

	if err := schedulerSvc.Start(cfg.TickInterval); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}
	defer schedulerSvc.Stop()

	log.Info().Str("timezone", cfg.Timezone).Msg("crewtask started")
	<-ctx.Done()
	log.Info().Msg("shutdown complete")
}

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/campus-events-api/internal/mailer"
	"github.com/noah-isme/campus-events-api/internal/repository"
	"github.com/noah-isme/campus-events-api/internal/worker"
	"github.com/noah-isme/campus-events-api/pkg/cache"
	"github.com/noah-isme/campus-events-api/pkg/config"
	"github.com/noah-isme/campus-events-api/pkg/database"
	"github.com/noah-isme/campus-events-api/pkg/jobs"
	"github.com/noah-isme/campus-events-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cache.Addr(cfg.Redis),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	enqueuer := jobs.NewClient(redisOpt)
	defer enqueuer.Close()

	registrationRepo := repository.NewRegistrationRepository(db)
	sender := mailer.NewSMTPMailer(cfg.SMTP, logr)
	handlers := worker.NewHandlers(sender, registrationRepo, enqueuer, logr)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Worker.Concurrency,
		ShutdownTimeout: cfg.Worker.ShutdownWait,
		Queues: map[string]int{
			jobs.QueueCritical: 6,
			jobs.QueueDefault:  3,
			jobs.QueueLow:      1,
		},
	})

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register(cfg.Worker.ReminderSpec,
		asynq.NewTask(jobs.TypeReminderSweep, nil), asynq.Queue(jobs.QueueLow)); err != nil {
		logr.Sugar().Fatalw("scheduler registration failed", "error", err)
	}

	if err := srv.Start(mux); err != nil {
		logr.Sugar().Fatalw("worker failed to start", "error", err)
	}
	if err := scheduler.Start(); err != nil {
		logr.Sugar().Fatalw("scheduler failed to start", "error", err)
	}
	logr.Sugar().Infow("worker started",
		"concurrency", cfg.Worker.Concurrency,
		"reminder_cron", cfg.Worker.ReminderSpec,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("worker shutting down", "grace", cfg.Worker.ShutdownWait)
	scheduler.Shutdown()
	srv.Stop()
	srv.Shutdown()
}

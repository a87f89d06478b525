package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sengine/drip-engine/internal/adapters/db/postgres"
	"github.com/sengine/drip-engine/internal/adapters/queue/rabbitmq"
	cfg "github.com/sengine/drip-engine/internal/config"
	"github.com/sengine/drip-engine/internal/scheduler"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))

	if err := run(log); err != nil {
		log.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	conf := cfg.FromEnv()

	pools, err := postgres.Open(conf.DatabaseURL)
	if err != nil {
		return errors.New("failed to connect to postgres: " + err.Error())
	}
	defer pools.Close()

	publisher, err := rabbitmq.NewPublisher(conf.AMQPURL)
	if err != nil {
		return errors.New("failed to connect to rabbitmq publisher: " + err.Error())
	}
	defer publisher.Close()

	repo := postgres.NewScheduledRepo(pools)
	sched := scheduler.New(repo, publisher, scheduler.Config{
		Interval:   conf.PreQueueWorkerInterval,
		LeadWindow: durationMinutes(conf.DripPreQueueMinutes),
		BatchSize:  conf.DripPreQueueBatch,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("prequeue-scheduler started", "interval", conf.PreQueueWorkerInterval)

	if err := sched.Run(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received")
			return nil
		}
		return errors.New("scheduler error: " + err.Error())
	}

	log.Info("prequeue-scheduler stopped gracefully")
	return nil
}

func durationMinutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

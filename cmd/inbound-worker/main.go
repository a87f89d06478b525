package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sengine/drip-engine/internal/adapters/db/postgres"
	"github.com/sengine/drip-engine/internal/adapters/queue/rabbitmq"
	cfg "github.com/sengine/drip-engine/internal/config"
	"github.com/sengine/drip-engine/internal/inbound"
	"github.com/sengine/drip-engine/internal/webhook"
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

	consumer, err := rabbitmq.NewConsumer(conf.AMQPURL, log)
	if err != nil {
		return errors.New("failed to connect to rabbitmq consumer: " + err.Error())
	}
	defer consumer.Close()

	webhookRepo := postgres.NewWebhookRepo(pools)
	webhookProducer := webhook.NewProducer(webhookRepo, publisher, log)

	ig := inbound.New(
		postgres.NewUserRepo(pools),
		postgres.NewContactRepo(pools),
		postgres.NewMessageRepo(pools),
		postgres.NewOptOutRepo(pools),
		consumer,
		publisher,
		webhookProducer,
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("inbound-worker started", "prefetch", conf.MessagePrefetch)

	if err := ig.Run(ctx, conf.MessagePrefetch); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received")
			return nil
		}
		return errors.New("ingestor error: " + err.Error())
	}

	log.Info("inbound-worker stopped gracefully")
	return nil
}

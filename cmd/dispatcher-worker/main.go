package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sengine/drip-engine/internal/adapters/db/postgres"
	"github.com/sengine/drip-engine/internal/adapters/gateway/mockhttp"
	"github.com/sengine/drip-engine/internal/adapters/gateway/twilio"
	"github.com/sengine/drip-engine/internal/adapters/queue/rabbitmq"
	cfg "github.com/sengine/drip-engine/internal/config"
	"github.com/sengine/drip-engine/internal/dispatcher"
	"github.com/sengine/drip-engine/internal/ports"
	"github.com/sengine/drip-engine/internal/ratelimit"
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

	var gateway ports.GatewayClient
	if conf.TwilioAccountSID != "" && conf.TwilioAuthToken != "" {
		gateway = twilio.New(conf.TwilioAccountSID, conf.TwilioAuthToken)
	} else {
		gateway = mockhttp.New(conf.ProviderURL)
	}

	limiter := ratelimit.New(conf.TwilioRateLimitPerSec, conf.TwilioRateLimitBurst)

	webhookRepo := postgres.NewWebhookRepo(pools)
	webhookProducer := webhook.NewProducer(webhookRepo, publisher, log)

	disp := dispatcher.New(
		postgres.NewScheduledRepo(pools),
		postgres.NewDripContactRepo(pools),
		postgres.NewMessageRepo(pools),
		postgres.NewContactRepo(pools),
		postgres.NewUserRepo(pools),
		postgres.NewCreditRepo(pools),
		gateway,
		limiter,
		consumer,
		webhookProducer,
		dispatcher.Config{
			StatusCallbackURL: conf.TwilioStatusCallback,
		},
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("dispatcher-worker started", "prefetch", conf.DripConsumerPrefetch)

	if err := disp.Run(ctx, conf.DripConsumerPrefetch); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received")
			return nil
		}
		return errors.New("dispatcher error: " + err.Error())
	}

	log.Info("dispatcher-worker stopped gracefully")
	return nil
}

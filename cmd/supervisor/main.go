// Command supervisor runs every worker component in a single process, for
// small deployments that don't need per-role horizontal scaling.
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
	"github.com/sengine/drip-engine/internal/adapters/gateway/mockhttp"
	"github.com/sengine/drip-engine/internal/adapters/gateway/twilio"
	"github.com/sengine/drip-engine/internal/adapters/queue/rabbitmq"
	cfg "github.com/sengine/drip-engine/internal/config"
	"github.com/sengine/drip-engine/internal/dispatcher"
	"github.com/sengine/drip-engine/internal/inbound"
	"github.com/sengine/drip-engine/internal/ports"
	"github.com/sengine/drip-engine/internal/ratelimit"
	"github.com/sengine/drip-engine/internal/reconciler"
	"github.com/sengine/drip-engine/internal/scheduler"
	"github.com/sengine/drip-engine/internal/supervisor"
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

	scheduledRepo := postgres.NewScheduledRepo(pools)
	dripContactRepo := postgres.NewDripContactRepo(pools)
	messageRepo := postgres.NewMessageRepo(pools)
	contactRepo := postgres.NewContactRepo(pools)
	userRepo := postgres.NewUserRepo(pools)

	sched := scheduler.New(scheduledRepo, publisher, scheduler.Config{
		Interval:   conf.PreQueueWorkerInterval,
		LeadWindow: durationMinutes(conf.DripPreQueueMinutes),
		BatchSize:  conf.DripPreQueueBatch,
	}, log)

	disp := dispatcher.New(
		scheduledRepo, dripContactRepo, messageRepo, contactRepo, userRepo,
		postgres.NewCreditRepo(pools), gateway, limiter, consumer,
		webhookProducer, dispatcher.Config{StatusCallbackURL: conf.TwilioStatusCallback}, log,
	)

	rec := reconciler.New(messageRepo, scheduledRepo, dripContactRepo, consumer, webhookProducer, log)

	ig := inbound.New(userRepo, contactRepo, messageRepo, postgres.NewOptOutRepo(pools), consumer, publisher, webhookProducer, log)

	whDisp := webhook.NewDispatcher(webhookRepo, consumer, log)

	sup := supervisor.New(log, conf.KillTimeout)

	// Registration order does not order shutdown: the supervisor cancels
	// every component at the same moment through one shared context, so the
	// pre-queue scheduler is not stopped before the consumers; shutdown is
	// bounded by the kill timeout.
	sup.Add("prequeue-scheduler", sched.Run)
	sup.Add("dispatcher", func(ctx context.Context) error { return disp.Run(ctx, conf.DripConsumerPrefetch) })
	sup.Add("reconciler", func(ctx context.Context) error { return rec.Run(ctx, conf.MessagePrefetch) })
	sup.Add("inbound-ingestor", func(ctx context.Context) error { return ig.Run(ctx, conf.MessagePrefetch) })
	sup.Add("webhook-dispatcher", func(ctx context.Context) error { return whDisp.Run(ctx, conf.MessagePrefetch) })
	sup.Add("queue-depth-monitor", func(ctx context.Context) error {
		return supervisor.MonitorQueueDepths(ctx, log, []string{
			rabbitmq.QueueInboxSend, rabbitmq.QueueInboxInbound, rabbitmq.QueueInboxStatus,
			rabbitmq.QueueInboxNotify, rabbitmq.QueueInboxWebhook, rabbitmq.QueueInboxFailed,
			rabbitmq.QueueDripMessages, rabbitmq.QueueDripDead,
		}, publisher.Inspect)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("supervisor started")

	if err := sup.Run(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("shutdown signal received")
			return nil
		}
		return errors.New("supervisor error: " + err.Error())
	}

	log.Info("supervisor stopped gracefully")
	return nil
}

func durationMinutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

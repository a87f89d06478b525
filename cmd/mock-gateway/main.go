package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sengine/drip-engine/internal/adapters/gateway/mockhttp"
	"github.com/sengine/drip-engine/internal/adapters/queue/rabbitmq"
	cfg "github.com/sengine/drip-engine/internal/config"
	"github.com/sengine/drip-engine/internal/ports"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	conf := cfg.FromEnv()

	var publisher *rabbitmq.Publisher
	if conf.RabbitMQEnabled {
		var err error
		publisher, err = rabbitmq.NewPublisher(conf.AMQPURL)
		if err != nil {
			log.Error("failed to connect to rabbitmq publisher", "err", err)
			os.Exit(1)
		}
		defer publisher.Close()
	}

	srv := mockhttp.NewServer(log, 0.05)
	if publisher != nil {
		srv.OnStatusCallback(func(providerMessageID, status string) {
			forwardStatus(publisher, log, providerMessageID, status)
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("mock-gateway listening", "addr", conf.HTTPAddr)
		if err := srv.Listen(conf.HTTPAddr); err != nil {
			log.Error("fiber listen", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down mock-gateway")
}

type statusPayload struct {
	Data struct {
		MessageSID string `json:"messageSid"`
		Status     string `json:"status"`
	} `json:"data"`
}

func forwardStatus(publisher *rabbitmq.Publisher, log *slog.Logger, providerMessageID, status string) {
	var payload statusPayload
	payload.Data.MessageSID = providerMessageID
	payload.Data.Status = status

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("marshal status callback", "err", err)
		return
	}

	if err := publisher.Publish(context.Background(), rabbitmq.ExchangeInbox, ports.Envelope{
		RoutingKey: "status", Body: body,
	}); err != nil {
		log.Error("publish status callback", "err", err)
	}
}

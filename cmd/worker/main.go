package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-paid-confirmations/internal/aws"
	"github.com/imrishuroy/go-paid-confirmations/internal/config"
	"github.com/imrishuroy/go-paid-confirmations/internal/idempotency"
	"github.com/imrishuroy/go-paid-confirmations/internal/logging"
	"github.com/imrishuroy/go-paid-confirmations/internal/notify"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(logging.Config{
		ServiceName: cfg.ServiceName + "-worker",
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}
	tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramAPIEndpoint, cfg.NotifyTimeout)
	if err != nil {
		logger.Fatal("failed to init telegram", zap.Error(err))
	}

	p := NewProcessor(
		idempotency.NewStore(clients.DynamoDB, cfg.DeliveryTable, cfg.DeliveryTTL),
		notify.NewDirect(tg),
		logger,
	)

	// If RUN_LOCAL=true, process a single job from LOCAL_SQS_BODY and exit.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			logger.Fatal("LOCAL_SQS_BODY is required when RUN_LOCAL=true")
		}
		if err := runLocal(ctx, p, body); err != nil {
			logger.Fatal("local job failed", zap.Error(err))
		}
		return
	}

	lambda.Start(p.Handle)
}

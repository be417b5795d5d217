package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-paid-confirmations/internal/aws"
	"github.com/imrishuroy/go-paid-confirmations/internal/config"
	"github.com/imrishuroy/go-paid-confirmations/internal/gateway"
	"github.com/imrishuroy/go-paid-confirmations/internal/handlers"
	"github.com/imrishuroy/go-paid-confirmations/internal/logging"
	"github.com/imrishuroy/go-paid-confirmations/internal/notify"
	"github.com/imrishuroy/go-paid-confirmations/internal/reconcile"
	"github.com/imrishuroy/go-paid-confirmations/internal/records"
)

func setupRouter(logger *zap.Logger, cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestLogger(logger))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

func openStore(cfg config.Config, clients *aws.AWSClients) (records.Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		if cfg.DBAutoMigrate {
			if err := records.MigratePostgres(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		db, err := records.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return records.NewGormStore(db), nil
	case config.StoreSQLite:
		db, err := records.OpenSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return records.NewGormStore(db), nil
	default:
		return records.NewDynamoStore(clients.DynamoDB, cfg.RecordsTable), nil
	}
}

func main() {
	cfg := config.Load()
	logger, err := logging.New(logging.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	store, err := openStore(cfg, clients)
	if err != nil {
		logger.Fatal("failed to open record store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}

	tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramAPIEndpoint, cfg.NotifyTimeout)
	if err != nil {
		logger.Fatal("failed to init telegram", zap.Error(err))
	}

	var dispatcher notify.Dispatcher = notify.NewDirect(tg)
	if cfg.NotifyMode == config.NotifyQueue {
		dispatcher = notify.NewQueued(clients.ConfirmationQueue(cfg.QueueURL))
	}

	var metrics reconcile.Metrics
	if cfg.MetricsEnabled {
		metrics = clients.ReconcileMetrics(cfg.MetricsNamespace, cfg.ServiceName, cfg.Environment)
	}

	stripeGateway := gateway.NewStripe(gateway.StripeConfig{
		SecretKey:      cfg.StripeSecretKey,
		PublishableKey: cfg.StripePublishableKey,
		WebhookSecret:  cfg.StripeWebhookSecret,
		PriceID:        cfg.StripePriceID,
		ReturnURL:      cfg.StripeReturnURL,
		Timeout:        cfg.GatewayTimeout,
	})

	reconciler := reconcile.New(store, stripeGateway, dispatcher, tg, metrics, logger, reconcile.Config{
		GatewayTimeout: cfg.GatewayTimeout,
		NotifyTimeout:  cfg.NotifyTimeout,
		FrontendURL:    cfg.FrontendURL,
	})

	r := setupRouter(logger, handlers.HandlerConfig{
		Service:               reconciler,
		Channel:               tg,
		Logger:                logger,
		PublishableKey:        stripeGateway.PublishableKey(),
		FrontendURL:           cfg.FrontendURL,
		AdminToken:            cfg.AdminToken,
		TelegramWebhookSecret: cfg.TelegramWebhookSecret,
	})

	// if RUN_LOCAL is set, run local HTTP server for development.
	if cfg.RunLocal {
		addr := ":" + cfg.Port
		logger.Info("running local server", zap.String("addr", addr), zap.String("store", cfg.StoreDriver))
		if err := r.Run(addr); err != nil {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

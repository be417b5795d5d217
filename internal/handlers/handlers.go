package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-paid-confirmations/internal/gateway"
	"github.com/imrishuroy/go-paid-confirmations/internal/notify"
	"github.com/imrishuroy/go-paid-confirmations/internal/reconcile"
	"github.com/imrishuroy/go-paid-confirmations/internal/records"
	"github.com/imrishuroy/go-paid-confirmations/internal/validation"
)

// PaymentService is the reconciliation surface the routes call. *reconcile.Reconciler implements it.
type PaymentService interface {
	HandleGatewayNotification(ctx context.Context, n reconcile.Notification) (*reconcile.Result, error)
	HandleClientStatusPoll(ctx context.Context, sessionID, userID string) (*reconcile.Result, error)
	StartCheckout(ctx context.Context, in reconcile.Intake) (*records.PaymentRecord, *gateway.Checkout, error)
	ResendConfirmation(ctx context.Context, userID string) (*reconcile.Result, error)
	PublishResult(ctx context.Context, userID, resultURL string) (*reconcile.Result, error)
}

// HandlerConfig groups dependencies for the payment routes.
type HandlerConfig struct {
	Service               PaymentService
	Channel               notify.Channel
	Logger                *zap.Logger
	PublishableKey        string
	FrontendURL           string
	AdminToken            string
	TelegramWebhookSecret string
}

type handler struct {
	cfg      HandlerConfig
	validate *validatorv10.Validate
}

// RegisterRoutes registers the payment, bot and admin routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &handler{cfg: cfg, validate: validation.New()}

	r.POST("/payment-webhook", h.paymentWebhook)
	r.POST("/process-payment", h.processPayment)
	r.POST("/create-checkout", h.createCheckout)
	r.POST("/telegram-webhook", h.telegramWebhook)

	admin := r.Group("/admin", h.requireAdmin)
	admin.POST("/upload-result", h.uploadResult)
	admin.POST("/resend-confirmation", h.resendConfirmation)
}

package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-paid-confirmations/internal/logging"
	"github.com/imrishuroy/go-paid-confirmations/internal/reconcile"
	"github.com/imrishuroy/go-paid-confirmations/internal/validation"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 64 << 10

func (h *handler) paymentWebhook(c *gin.Context) {
	log := logging.FromGin(c, h.cfg.Logger)

	// the raw body is needed for signature verification, so no binding here
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
		return
	}

	res, err := h.cfg.Service.HandleGatewayNotification(c.Request.Context(), reconcile.Notification{
		Payload:   payload,
		Signature: c.GetHeader("Stripe-Signature"),
	})
	switch {
	case errors.Is(err, reconcile.ErrAuthentication):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	case errors.Is(err, reconcile.ErrMalformedNotification):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	case errors.Is(err, reconcile.ErrUnresolvableUser), errors.Is(err, reconcile.ErrRecordNotFound):
		// retrying will not help; acknowledge so Stripe stops redelivering
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	case err != nil:
		log.Error("webhook reconciliation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation_failed"})
		return
	}

	body := gin.H{"received": true, "outcome": res.Outcome}
	if res.Warning != nil {
		body["notified"] = false
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) processPayment(c *gin.Context) {
	log := logging.FromGin(c, h.cfg.Logger)

	var req validation.PollRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}

	res, err := h.cfg.Service.HandleClientStatusPoll(c.Request.Context(), req.SessionID, string(req.TelegramID))
	switch {
	case errors.Is(err, reconcile.ErrPaymentNotComplete):
		c.JSON(http.StatusAccepted, gin.H{"success": false, "retry": true})
		return
	case errors.Is(err, reconcile.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "record_not_found"})
		return
	case errors.Is(err, reconcile.ErrAuthentication),
		errors.Is(err, reconcile.ErrUnresolvableUser),
		errors.Is(err, reconcile.ErrMalformedNotification):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_session"})
		return
	case err != nil:
		log.Error("payment poll failed", zap.String("session_id", req.SessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "processing_failed"})
		return
	}

	body := gin.H{"success": true, "status": res.Status, "outcome": res.Outcome}
	if res.Warning != nil {
		body["notified"] = false
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) createCheckout(c *gin.Context) {
	log := logging.FromGin(c, h.cfg.Logger)

	var req validation.IntakeRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	userID := strings.TrimSpace(c.Query("tgid"))
	if userID == "" {
		userID = string(req.TelegramID)
	}
	if userID == "" || h.validate.Var(userID, "numeric") != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "telegram id is required"})
		return
	}

	_, checkout, err := h.cfg.Service.StartCheckout(c.Request.Context(), reconcile.Intake{
		UserID:          userID,
		Age:             int(req.Age),
		Gender:          req.Gender,
		HeightCM:        int(req.Height + 0.5),
		WeightKG:        int(req.Weight + 0.5),
		UnitsPreference: req.UnitsPreference,
		WaiversAccepted: bool(req.WaiversAccepted),
	})
	if err != nil {
		log.Error("checkout creation failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "checkout_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client_secret":   checkout.ClientSecret,
		"publishable_key": h.cfg.PublishableKey,
	})
}

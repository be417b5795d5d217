package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-paid-confirmations/internal/logging"
	"github.com/imrishuroy/go-paid-confirmations/internal/reconcile"
	"github.com/imrishuroy/go-paid-confirmations/internal/validation"
)

const adminTokenHeader = "X-Admin-Token"

// requireAdmin rejects every admin call when no token is configured.
func (h *handler) requireAdmin(c *gin.Context) {
	if h.cfg.AdminToken == "" || !secureEqual(c.GetHeader(adminTokenHeader), h.cfg.AdminToken) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

func (h *handler) uploadResult(c *gin.Context) {
	log := logging.FromGin(c, h.cfg.Logger)

	var req validation.UploadResultRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	userID := string(req.TelegramID)

	res, err := h.cfg.Service.PublishResult(c.Request.Context(), userID, req.ResultURL)
	var deliveryErr *reconcile.NotificationDeliveryError
	switch {
	case errors.Is(err, reconcile.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case errors.As(err, &deliveryErr):
		log.Warn("result stored but user not notified", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusAccepted, gin.H{"stored": true, "notified": false, "record_id": res.RecordID})
		return
	case err != nil:
		log.Error("publish result failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": true, "notified": true, "record_id": res.RecordID})
}

func (h *handler) resendConfirmation(c *gin.Context) {
	log := logging.FromGin(c, h.cfg.Logger)

	var req validation.ResendRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	userID := string(req.TelegramID)

	res, err := h.cfg.Service.ResendConfirmation(c.Request.Context(), userID)
	var deliveryErr *reconcile.NotificationDeliveryError
	switch {
	case errors.Is(err, reconcile.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no paid record"})
		return
	case errors.As(err, &deliveryErr):
		log.Warn("resend failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "delivery_failed"})
		return
	case err != nil:
		log.Error("resend failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resend_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"record_id": res.RecordID, "token": res.Token})
}

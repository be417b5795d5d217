package handlers

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-paid-confirmations/internal/logging"
)

const (
	telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
	welcomeText          = "Welcome to the Cytokine Blood Test Mini-App!"
	openWebAppButton     = "Open WebApp"
)

func (h *handler) telegramWebhook(c *gin.Context) {
	log := logging.FromGin(c, h.cfg.Logger)

	if h.cfg.TelegramWebhookSecret != "" && !secureEqual(c.GetHeader(telegramSecretHeader), h.cfg.TelegramWebhookSecret) {
		c.Status(http.StatusUnauthorized)
		return
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_update"})
		return
	}

	msg := update.Message
	if msg != nil && msg.Chat != nil && msg.IsCommand() && msg.Command() == "start" {
		chatID := strconv.FormatInt(msg.Chat.ID, 10)
		url := h.cfg.FrontendURL + "/index.html?tgid=" + chatID
		if err := h.cfg.Channel.SendWebAppButton(c.Request.Context(), chatID, welcomeText, openWebAppButton, url); err != nil {
			// Telegram redelivers on non-2xx; a failed welcome is not worth a retry storm
			log.Warn("welcome message not sent", zap.String("user_id", chatID), zap.Error(err))
		}
	}
	c.Status(http.StatusOK)
}

func secureEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

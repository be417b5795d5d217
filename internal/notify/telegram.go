package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Channel delivers messages to a user's chat.
type Channel interface {
	SendImage(ctx context.Context, userID string, png []byte, caption string) error
	SendText(ctx context.Context, userID, text string) error
	SendWebAppButton(ctx context.Context, userID, text, buttonText, url string) error
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram is a Channel backed by the Bot API.
type Telegram struct {
	bot sender
}

var _ Channel = (*Telegram)(nil)

// NewTelegram connects to the Bot API. endpoint may be empty for api.telegram.org.
func NewTelegram(token, endpoint string, timeout time.Duration) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

func (t *Telegram) SendImage(ctx context.Context, userID string, png []byte, caption string) error {
	chatID, err := chatIDOf(userID)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "appointment.png", Bytes: png})
	photo.Caption = caption
	return t.send(ctx, photo)
}

func (t *Telegram) SendText(ctx context.Context, userID, text string) error {
	chatID, err := chatIDOf(userID)
	if err != nil {
		return err
	}
	return t.send(ctx, tgbotapi.NewMessage(chatID, text))
}

// SendWebAppButton sends text with a single inline button that opens url as a Telegram web app.
func (t *Telegram) SendWebAppButton(ctx context.Context, userID, text, buttonText, url string) error {
	chatID, err := chatIDOf(userID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = webAppKeyboard(buttonText, url)
	return t.send(ctx, msg)
}

// send runs the Bot API call under ctx. The HTTP client timeout bounds the call if ctx fires first.
func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(c)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	}
}

func chatIDOf(userID string) (int64, error) {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", userID, err)
	}
	return id, nil
}

// web_app buttons are serialized directly; reply_markup is passed through as JSON.
type inlineKeyboard struct {
	InlineKeyboard [][]webAppButton `json:"inline_keyboard"`
}

type webAppButton struct {
	Text   string     `json:"text"`
	WebApp webAppInfo `json:"web_app"`
}

type webAppInfo struct {
	URL string `json:"url"`
}

func webAppKeyboard(buttonText, url string) inlineKeyboard {
	return inlineKeyboard{InlineKeyboard: [][]webAppButton{{{Text: buttonText, WebApp: webAppInfo{URL: url}}}}}
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	QRCaption        = "Show this QR code at your appointment."
	ConfirmationText = "Payment received. Your blood test appointment is confirmed."
)

// Confirmation is one appointment confirmation for a paid record.
type Confirmation struct {
	RecordID string `json:"record_id"`
	UserID   string `json:"user_id"`
	Token    string `json:"token"`
}

// AppointmentToken builds the code encoded in the QR image.
func AppointmentToken(userID string, now time.Time) string {
	return fmt.Sprintf("appt-%d-tg-%s", now.UnixMilli(), userID)
}

// ClaimKey identifies one delivery of one confirmation in the delivery ledger.
func (c Confirmation) ClaimKey() string {
	return "confirmation:" + c.RecordID + ":" + c.Token
}

// Dispatcher hands a confirmation to the user.
type Dispatcher interface {
	Dispatch(ctx context.Context, c Confirmation) error
}

// Direct renders the QR code and sends it in-process.
type Direct struct {
	channel Channel
}

func NewDirect(channel Channel) *Direct {
	return &Direct{channel: channel}
}

func (d *Direct) Dispatch(ctx context.Context, c Confirmation) error {
	png, err := QR(c.Token)
	if err != nil {
		return err
	}
	if err := d.channel.SendImage(ctx, c.UserID, png, QRCaption); err != nil {
		return err
	}
	return d.channel.SendText(ctx, c.UserID, ConfirmationText)
}

// Publisher is the queue side of Queued; aws.Publisher satisfies it.
type Publisher interface {
	Send(ctx context.Context, messageBody string, attributes map[string]string) error
}

// Queued publishes confirmations for the worker to deliver.
type Queued struct {
	publisher Publisher
}

func NewQueued(p Publisher) *Queued {
	return &Queued{publisher: p}
}

func (q *Queued) Dispatch(ctx context.Context, c Confirmation) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal confirmation: %w", err)
	}
	return q.publisher.Send(ctx, string(body), map[string]string{
		"record_id": c.RecordID,
		"user_id":   c.UserID,
	})
}

var ErrInvalidJob = errors.New("invalid confirmation job")

// DecodeJob parses a queued confirmation.
func DecodeJob(body string) (Confirmation, error) {
	var c Confirmation
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		return Confirmation{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if strings.TrimSpace(c.RecordID) == "" || strings.TrimSpace(c.UserID) == "" || strings.TrimSpace(c.Token) == "" {
		return Confirmation{}, ErrInvalidJob
	}
	return c, nil
}

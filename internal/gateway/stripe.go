package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"github.com/stripe/stripe-go/v81/webhook"
)

const defaultTimeout = 12 * time.Second

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	PriceID        string
	ReturnURL      string
	Timeout        time.Duration
	// Backends overrides the API transport (tests point it at httptest).
	Backends *stripe.Backends
}

// Stripe implements the payment gateway on top of stripe-go.
type Stripe struct {
	api            *client.API
	webhookSecret  string
	publishableKey string
	priceID        string
	returnURL      string
}

func NewStripe(cfg StripeConfig) *Stripe {
	backends := cfg.Backends
	if backends == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		backends = stripe.NewBackends(&http.Client{Timeout: timeout})
	}
	return &Stripe{
		api:            client.New(cfg.SecretKey, backends),
		webhookSecret:  strings.TrimSpace(cfg.WebhookSecret),
		publishableKey: cfg.PublishableKey,
		priceID:        cfg.PriceID,
		returnURL:      cfg.ReturnURL,
	}
}

func (s *Stripe) PublishableKey() string {
	return s.publishableKey
}

// ParseWebhook verifies the Stripe-Signature header against the raw body and decodes a
// checkout completion. Nothing in the payload is read before the signature checks out.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*Completion, error) {
	if strings.TrimSpace(signature) == "" || s.webhookSecret == "" {
		return nil, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	switch eventType {
	case EventCheckoutCompleted, EventCheckoutAsyncPaymentSucceed:
	default:
		return nil, ErrEventIgnored
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, ErrInvalidPayload
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(cs.ID) == "" {
		return nil, ErrInvalidPayload
	}

	c := completionFromSession(&cs)
	c.EventID = event.ID
	c.EventType = eventType
	// async payment methods complete the session before the money moves
	if eventType == EventCheckoutCompleted && !c.Paid {
		return nil, ErrEventIgnored
	}
	if eventType == EventCheckoutAsyncPaymentSucceed {
		c.Paid = true
	}
	return c, nil
}

// GetSession fetches a checkout session straight from Stripe.
func (s *Stripe) GetSession(ctx context.Context, sessionID string) (*Completion, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
			return nil, fmt.Errorf("stripe get session %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("stripe get session %s: %w", sessionID, err)
	}
	return completionFromSession(cs), nil
}

// CreateCheckout opens an embedded checkout session for one intake record.
func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		UIMode: stripe.String(string(stripe.CheckoutSessionUIModeEmbedded)),
		Mode:   stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(s.priceID),
			Quantity: stripe.Int64(1),
		}},
		ReturnURL:         stripe.String(s.returnURL),
		ClientReferenceID: stripe.String(req.UserID),
	}
	params.Context = ctx
	params.AddMetadata(MetaTelegramID, req.UserID)
	params.AddMetadata(MetaRecordID, req.RecordID)

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create session: %w", err)
	}
	return &Checkout{SessionID: cs.ID, ClientSecret: cs.ClientSecret}, nil
}

func completionFromSession(cs *stripe.CheckoutSession) *Completion {
	c := &Completion{
		SessionID:         cs.ID,
		Paid:              cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		ClientReferenceID: strings.TrimSpace(cs.ClientReferenceID),
		TelegramID:        readMetadataValue(cs.Metadata, MetaTelegramID),
		RecordID:          readMetadataValue(cs.Metadata, MetaRecordID),
	}
	if cs.PaymentIntent != nil && cs.PaymentIntent.ID != "" {
		c.PaymentID = cs.PaymentIntent.ID
	} else {
		c.PaymentID = cs.ID
	}
	return c
}

func readMetadataValue(metadata map[string]string, key string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata[key])
}

package reconcile

import (
	"context"
	"time"

	"github.com/imrishuroy/go-paid-confirmations/internal/gateway"
	"github.com/imrishuroy/go-paid-confirmations/internal/records"
)

// Outcome of a reconciled notification.
type Outcome string

const (
	OutcomeTransitioned Outcome = "transitioned"
	OutcomeAlreadyPaid  Outcome = "already_paid"
	OutcomeIgnored      Outcome = "ignored"
)

// Notification is either a signed push (Payload + Signature) or a pull naming a session and the
// user who claims it (SessionID + UserID). Pulls are checked with the gateway before use.
type Notification struct {
	Payload   []byte
	Signature string

	SessionID string
	UserID    string
}

func (n Notification) isPush() bool { return len(n.Payload) > 0 || n.Signature != "" }

// Result describes what a reconciliation did.
type Result struct {
	Outcome   Outcome
	RecordID  string
	UserID    string
	SessionID string
	Status    records.Status
	Token     string
	// Warning is set (as *NotificationDeliveryError) when the record is paid but the
	// confirmation was not delivered.
	Warning error
}

// Gateway is the payment provider surface the reconciler depends on.
type Gateway interface {
	ParseWebhook(payload []byte, signature string) (*gateway.Completion, error)
	GetSession(ctx context.Context, sessionID string) (*gateway.Completion, error)
	CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.Checkout, error)
}

// Metrics counts reconciliation events. aws.Metrics satisfies it.
type Metrics interface {
	Count(ctx context.Context, name string) error
}

// Metric names.
const (
	MetricTransitioned   = "PaymentTransitioned"
	MetricDuplicate      = "DuplicateNotification"
	MetricDeliveryFailed = "ConfirmationDeliveryFailed"
	MetricRecordNotFound = "PaymentRecordNotFound"
	MetricUnresolvedUser = "UnresolvableUser"
	MetricAuthentication = "NotificationAuthFailed"
)

type Config struct {
	GatewayTimeout time.Duration
	NotifyTimeout  time.Duration
	FrontendURL    string
}

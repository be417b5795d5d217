package gateway

import "errors"

// Stripe event types that complete a checkout.
const (
	EventCheckoutCompleted           = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceed = "checkout.session.async_payment_succeeded"
)

// Metadata keys written on every checkout session.
const (
	MetaTelegramID = "telegram_id"
	MetaRecordID   = "record_id"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	ErrEventIgnored     = errors.New("event ignored")
	// ErrSessionNotFound is returned when the provider has no checkout session with the given id.
	ErrSessionNotFound = errors.New("checkout session not found")
)

// Completion is the provider-neutral view of a checkout session.
type Completion struct {
	EventID   string
	EventType string
	SessionID string
	PaymentID string
	Paid      bool

	// identity candidates, resolved by the caller
	TelegramID        string
	ClientReferenceID string
	RecordID          string
}

// CheckoutRequest describes an embedded checkout for one intake record.
type CheckoutRequest struct {
	UserID   string
	RecordID string
}

// Checkout is what the web app needs to mount embedded checkout.
type Checkout struct {
	SessionID    string
	ClientSecret string
}

package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication: the notification could not be proven to come from the gateway, or the
	// caller claimed a user the session does not belong to.
	ErrAuthentication = errors.New("notification authentication failed")
	// ErrUnresolvableUser: a verified completion carries no user identity. Not retryable.
	ErrUnresolvableUser = errors.New("cannot resolve user from payment")
	// ErrRecordNotFound: no intake record matches the payment. Records are never created here.
	ErrRecordNotFound = errors.New("no matching payment record")
	// ErrPaymentNotComplete: the gateway has not marked the session paid yet. Retryable.
	ErrPaymentNotComplete = errors.New("payment not complete")
	// ErrMalformedNotification: the input names no session or user, the signed body cannot be
	// decoded, or the session does not exist at the gateway.
	ErrMalformedNotification = errors.New("malformed notification")
)

// NotificationDeliveryError is reported when a confirmation could not be delivered after the
// record was committed as paid. The transition stands.
type NotificationDeliveryError struct {
	RecordID string
	UserID   string
	Err      error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("deliver confirmation for record %s to user %s: %v", e.RecordID, e.UserID, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }

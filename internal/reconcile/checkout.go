package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-paid-confirmations/internal/gateway"
	"github.com/imrishuroy/go-paid-confirmations/internal/records"
)

// Intake is the profile captured by the web app before payment.
type Intake struct {
	UserID          string
	Age             int
	Gender          string
	HeightCM        int
	WeightKG        int
	UnitsPreference string
	WaiversAccepted bool
}

// StartCheckout stores a pending record for the intake and opens a checkout session bound to it.
// The record exists before the session so a completion can always be matched.
func (r *Reconciler) StartCheckout(ctx context.Context, in Intake) (*records.PaymentRecord, *gateway.Checkout, error) {
	rec := &records.PaymentRecord{
		RecordID:        uuid.NewString(),
		UserID:          in.UserID,
		Status:          records.StatusPending,
		Age:             in.Age,
		Gender:          in.Gender,
		HeightCM:        in.HeightCM,
		WeightKG:        in.WeightKG,
		UnitsPreference: in.UnitsPreference,
		WaiversAccepted: in.WaiversAccepted,
	}
	if err := r.store.Create(ctx, rec); err != nil {
		return nil, nil, fmt.Errorf("create record: %w", err)
	}

	gctx, cancel := context.WithTimeout(ctx, r.cfg.GatewayTimeout)
	co, err := r.gateway.CreateCheckout(gctx, gateway.CheckoutRequest{UserID: in.UserID, RecordID: rec.RecordID})
	cancel()
	if err != nil {
		return rec, nil, fmt.Errorf("create checkout: %w", err)
	}

	// A crash here leaves the record without a session; the completion still finds it through
	// the record_id metadata or the latest-pending fallback.
	if err := r.store.AttachSession(ctx, rec.RecordID, co.SessionID); err != nil {
		return rec, nil, fmt.Errorf("attach session: %w", err)
	}
	rec.SessionID = co.SessionID

	r.logger.Info("checkout started",
		zap.String("user_id", in.UserID),
		zap.String("record_id", rec.RecordID),
		zap.String("session_id", co.SessionID))
	return rec, co, nil
}

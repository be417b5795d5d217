package records

import (
	"context"
	"errors"
	"time"
)

// Status is the payment state of a record. pending -> paid is the only transition.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

var (
	// ErrStatusMismatch is returned when a conditional transition found the record in another state.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrSessionAlreadyAttached is returned when a different checkout session is already bound to the record.
	ErrSessionAlreadyAttached = errors.New("checkout session already attached")
	// ErrNotFound is returned by mutations addressing a record that does not exist.
	ErrNotFound = errors.New("payment record not found")
)

// PaymentRecord is one checkout attempt of a user, created at intake.
type PaymentRecord struct {
	RecordID  string `gorm:"primaryKey;type:text" dynamodbav:"record_id"`
	UserID    string `gorm:"type:text;not null;index:idx_payment_records_user_created,priority:1" dynamodbav:"user_id"`
	Status    Status `gorm:"type:text;not null" dynamodbav:"status"`
	SessionID string `gorm:"type:text;not null;default:'';index" dynamodbav:"session_id,omitempty"`
	PaymentID string `gorm:"type:text;not null;default:''" dynamodbav:"payment_id,omitempty"`

	// Intake profile, immutable after creation.
	Age             int    `gorm:"not null;default:0" dynamodbav:"age,omitempty"`
	Gender          string `gorm:"type:text;not null;default:''" dynamodbav:"gender,omitempty"`
	HeightCM        int    `gorm:"column:height_cm;not null;default:0" dynamodbav:"height_cm,omitempty"`
	WeightKG        int    `gorm:"column:weight_kg;not null;default:0" dynamodbav:"weight_kg,omitempty"`
	UnitsPreference string `gorm:"type:text;not null;default:''" dynamodbav:"units_preference,omitempty"`
	WaiversAccepted bool   `gorm:"not null;default:false" dynamodbav:"waivers_accepted"`

	ResultURL string `gorm:"type:text;not null;default:''" dynamodbav:"result_url,omitempty"`

	CreatedAt time.Time  `gorm:"not null;index:idx_payment_records_user_created,priority:2" dynamodbav:"-"`
	UpdatedAt time.Time  `gorm:"not null" dynamodbav:"-"`
	PaidAt    *time.Time `dynamodbav:"-"`
}

func (PaymentRecord) TableName() string { return "payment_records" }

// IsPaid reports whether the record reached its terminal state.
func (r *PaymentRecord) IsPaid() bool { return r != nil && r.Status == StatusPaid }

// Store persists payment records. Lookups return (nil, nil) when nothing matches.
type Store interface {
	Create(ctx context.Context, rec *PaymentRecord) error
	AttachSession(ctx context.Context, recordID, sessionID string) error
	Get(ctx context.Context, recordID string) (*PaymentRecord, error)
	FindBySession(ctx context.Context, sessionID string) (*PaymentRecord, error)
	LatestPending(ctx context.Context, userID string) (*PaymentRecord, error)
	LatestPaid(ctx context.Context, userID string) (*PaymentRecord, error)
	// MarkPaid moves the record from pending to paid in a single conditional write and
	// attaches sessionID when none is set yet. ErrStatusMismatch means another writer won.
	MarkPaid(ctx context.Context, recordID, sessionID, paymentID string) error
	SetResult(ctx context.Context, recordID, resultURL string) error
}

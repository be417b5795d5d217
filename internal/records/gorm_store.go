package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// GormStore keeps payment records in a relational table (Supabase Postgres in production).
type GormStore struct {
	db      *gorm.DB
	nowFunc func() time.Time
}

// NewGormStore wraps an open gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, nowFunc: time.Now}
}

var _ Store = (*GormStore)(nil)

func (s *GormStore) Create(ctx context.Context, rec *PaymentRecord) error {
	now := s.nowFunc().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (s *GormStore) AttachSession(ctx context.Context, recordID, sessionID string) error {
	res := s.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("record_id = ? AND session_id = ''", recordID).
		Updates(map[string]any{
			"session_id": sessionID,
			"updated_at": s.nowFunc().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("attach session: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	if rec.SessionID == sessionID {
		return nil
	}
	return ErrSessionAlreadyAttached
}

func (s *GormStore) Get(ctx context.Context, recordID string) (*PaymentRecord, error) {
	return s.first(ctx, s.db.Where("record_id = ?", recordID))
}

func (s *GormStore) FindBySession(ctx context.Context, sessionID string) (*PaymentRecord, error) {
	if sessionID == "" {
		return nil, nil
	}
	return s.first(ctx, s.db.Where("session_id = ?", sessionID))
}

func (s *GormStore) LatestPending(ctx context.Context, userID string) (*PaymentRecord, error) {
	return s.first(ctx, s.db.Where("user_id = ? AND status = ?", userID, StatusPending).Order("created_at DESC"))
}

func (s *GormStore) LatestPaid(ctx context.Context, userID string) (*PaymentRecord, error) {
	return s.first(ctx, s.db.Where("user_id = ? AND status = ?", userID, StatusPaid).Order("created_at DESC"))
}

// MarkPaid issues UPDATE ... WHERE status = 'pending'; zero affected rows means another writer won.
func (s *GormStore) MarkPaid(ctx context.Context, recordID, sessionID, paymentID string) error {
	now := s.nowFunc().UTC()
	updates := map[string]any{
		"status":     StatusPaid,
		"payment_id": paymentID,
		"paid_at":    now,
		"updated_at": now,
	}
	q := s.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("record_id = ? AND status = ?", recordID, StatusPending)
	if sessionID != "" {
		q = q.Where("(session_id = '' OR session_id = ?)", sessionID)
		updates["session_id"] = sessionID
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("mark paid: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusMismatch
	}
	return nil
}

func (s *GormStore) SetResult(ctx context.Context, recordID, resultURL string) error {
	res := s.db.WithContext(ctx).
		Model(&PaymentRecord{}).
		Where("record_id = ? AND status = ?", recordID, StatusPaid).
		Updates(map[string]any{
			"result_url": resultURL,
			"updated_at": s.nowFunc().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("set result: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusMismatch
	}
	return nil
}

func (s *GormStore) first(ctx context.Context, q *gorm.DB) (*PaymentRecord, error) {
	var rec PaymentRecord
	err := q.WithContext(ctx).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}
	return &rec, nil
}

package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-paid-confirmations/internal/aws"
)

// GSI names expected on the records table.
const (
	SessionIndex     = "session_id-index"         // hash: session_id
	UserCreatedIndex = "user_id-created_at-index" // hash: user_id, range: created_at
)

// Condition expressions used by the store. Exported so test doubles can match on them.
const (
	CondCreate        = "attribute_not_exists(record_id)"
	CondAttachSession = "attribute_exists(record_id) AND attribute_not_exists(session_id)"
	CondMarkPaid      = "#s = :pending AND (attribute_not_exists(session_id) OR session_id = :sid)"
	CondMarkPaidAny   = "#s = :pending"
	CondSetResult     = "#s = :paid"
)

// dynamoItem is the table shape. created_at is a number (unix nanos) so the user index sorts by it.
type dynamoItem struct {
	PaymentRecord
	CreatedAt int64  `dynamodbav:"created_at"`
	UpdatedAt string `dynamodbav:"updated_at"`
	PaidAt    string `dynamodbav:"paid_at,omitempty"`
}

func toItem(rec *PaymentRecord) dynamoItem {
	it := dynamoItem{
		PaymentRecord: *rec,
		CreatedAt:     rec.CreatedAt.UnixNano(),
		UpdatedAt:     rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.PaidAt != nil {
		it.PaidAt = rec.PaidAt.UTC().Format(time.RFC3339Nano)
	}
	return it
}

func fromItem(it dynamoItem) *PaymentRecord {
	rec := it.PaymentRecord
	rec.CreatedAt = time.Unix(0, it.CreatedAt).UTC()
	if t, err := time.Parse(time.RFC3339Nano, it.UpdatedAt); err == nil {
		rec.UpdatedAt = t
	}
	if it.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, it.PaidAt); err == nil {
			rec.PaidAt = &t
		}
	}
	return &rec
}

// DynamoStore encapsulates operations on the payment records table.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore creates a new records store backed by DynamoDB.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

var _ Store = (*DynamoStore)(nil)

func (s *DynamoStore) Create(ctx context.Context, rec *PaymentRecord) error {
	now := s.nowFunc().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = StatusPending
	}

	item, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString(CondCreate),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("record %s already exists: %w", rec.RecordID, ErrStatusMismatch)
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// AttachSession binds a checkout session once. Re-attaching the same session is a no-op.
func (s *DynamoStore) AttachSession(ctx context.Context, recordID, sessionID string) error {
	now := s.nowFunc().UTC()
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &s.tableName,
		Key:              recordKey(recordID),
		UpdateExpression: awsString("SET session_id = :sid, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
			":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ConditionExpression: awsString(CondAttachSession),
	})
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return fmt.Errorf("update item (attach session): %w", err)
	}

	rec, getErr := s.Get(ctx, recordID)
	if getErr != nil {
		return getErr
	}
	if rec == nil {
		return ErrNotFound
	}
	if rec.SessionID == sessionID {
		return nil
	}
	return ErrSessionAlreadyAttached
}

// Get fetches a record by record_id. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, recordID string) (*PaymentRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            recordKey(recordID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return unmarshalRecord(out.Item)
}

func (s *DynamoStore) FindBySession(ctx context.Context, sessionID string) (*PaymentRecord, error) {
	out, err := s.client.Query(ctx, &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(SessionIndex),
		KeyConditionExpression: awsString("session_id = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: sessionID},
		},
		Limit: awsInt32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("query session index: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	// GSIs are eventually consistent; re-read the base item for the current status.
	rec, err := unmarshalRecord(out.Items[0])
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, rec.RecordID)
}

func (s *DynamoStore) LatestPending(ctx context.Context, userID string) (*PaymentRecord, error) {
	return s.latestWithStatus(ctx, userID, StatusPending)
}

func (s *DynamoStore) LatestPaid(ctx context.Context, userID string) (*PaymentRecord, error) {
	return s.latestWithStatus(ctx, userID, StatusPaid)
}

// latestWithStatus walks the user index newest-first. Limit is not set because DynamoDB applies
// it before the status filter.
func (s *DynamoStore) latestWithStatus(ctx context.Context, userID string, status Status) (*PaymentRecord, error) {
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tableName,
			IndexName:              awsString(UserCreatedIndex),
			KeyConditionExpression: awsString("user_id = :uid"),
			FilterExpression:       awsString("#s = :st"),
			ExpressionAttributeNames: map[string]string{
				"#s": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
				":st":  &types.AttributeValueMemberS{Value: string(status)},
			},
			ScanIndexForward:  awsBool(false),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query user index: %w", err)
		}
		if len(out.Items) > 0 {
			rec, err := unmarshalRecord(out.Items[0])
			if err != nil {
				return nil, err
			}
			return s.Get(ctx, rec.RecordID)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// MarkPaid conditionally updates the record status from pending -> paid.
// Returns nil on success, ErrStatusMismatch if the condition failed.
func (s *DynamoStore) MarkPaid(ctx context.Context, recordID, sessionID, paymentID string) error {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	values := map[string]types.AttributeValue{
		":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
		":paid":    &types.AttributeValueMemberS{Value: string(StatusPaid)},
		":pid":     &types.AttributeValueMemberS{Value: paymentID},
		":ua":      &types.AttributeValueMemberS{Value: now},
	}
	updateExpr := "SET #s = :paid, payment_id = :pid, paid_at = :ua, updated_at = :ua"
	cond := CondMarkPaidAny
	// empty strings are not valid GSI keys, so session_id is only touched when known
	if sessionID != "" {
		values[":sid"] = &types.AttributeValueMemberS{Value: sessionID}
		updateExpr += ", session_id = if_not_exists(session_id, :sid)"
		cond = CondMarkPaid
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       recordKey(recordID),
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       &cond,
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item (mark paid): %w", err)
	}
	return nil
}

// SetResult stores the lab result link on a paid record.
func (s *DynamoStore) SetResult(ctx context.Context, recordID, resultURL string) error {
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      recordKey(recordID),
		UpdateExpression:         awsString("SET result_url = :url, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":url":  &types.AttributeValueMemberS{Value: resultURL},
			":ua":   &types.AttributeValueMemberS{Value: now},
			":paid": &types.AttributeValueMemberS{Value: string(StatusPaid)},
		},
		ConditionExpression: awsString(CondSetResult),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item (set result): %w", err)
	}
	return nil
}

func unmarshalRecord(item map[string]types.AttributeValue) (*PaymentRecord, error) {
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return fromItem(it), nil
}

func recordKey(recordID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"record_id": &types.AttributeValueMemberS{Value: recordID},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
func awsInt32(n int32) *int32    { return &n }

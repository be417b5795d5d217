package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/imrishuroy/go-paid-confirmations/internal/idempotency"
	"github.com/imrishuroy/go-paid-confirmations/internal/notify"
)

// --- fakes ---

type memClaims struct {
	mu     sync.Mutex
	claims map[string]*idempotency.Claim
}

func newMemClaims() *memClaims {
	return &memClaims{claims: map[string]*idempotency.Claim{}}
}

func (m *memClaims) CreateIfNotExists(ctx context.Context, key, recordID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[key]; ok {
		return false, nil
	}
	m.claims[key] = &idempotency.Claim{IdempotencyKey: key, RecordID: recordID, Status: idempotency.StatusInProgress, Attempts: 1}
	return true, nil
}

func (m *memClaims) Get(ctx context.Context, key string) (*idempotency.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[key]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memClaims) Reclaim(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[key]
	if !ok || c.Status != idempotency.StatusFailed {
		return false, nil
	}
	c.Status = idempotency.StatusInProgress
	c.Attempts++
	return true, nil
}

func (m *memClaims) finalize(key, status, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[key]
	if !ok || c.Status != idempotency.StatusInProgress {
		return idempotency.ErrConditionFailed
	}
	c.Status = status
	c.Note = note
	return nil
}

func (m *memClaims) MarkDone(ctx context.Context, key, note string) error {
	return m.finalize(key, idempotency.StatusDone, note)
}

func (m *memClaims) MarkFailed(ctx context.Context, key, note string) error {
	return m.finalize(key, idempotency.StatusFailed, note)
}

type countingDispatcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *countingDispatcher) Dispatch(ctx context.Context, c notify.Confirmation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.err
}

func jobEvent(t *testing.T, ids ...string) events.SQSEvent {
	t.Helper()
	var ev events.SQSEvent
	for _, id := range ids {
		body, err := json.Marshal(notify.Confirmation{RecordID: "rec-1", UserID: "42", Token: "appt-1-tg-42"})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		ev.Records = append(ev.Records, events.SQSMessage{MessageId: id, Body: string(body)})
	}
	return ev
}

// --- test cases ---

func TestWorkerProcess_Success(t *testing.T) {
	claims := newMemClaims()
	d := &countingDispatcher{}
	p := NewProcessor(claims, d, nil)

	resp, err := p.Handle(context.Background(), jobEvent(t, "m1"))
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failure: resp=%+v err=%v", resp, err)
	}
	if d.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", d.calls)
	}
	c, _ := claims.Get(context.Background(), "confirmation:rec-1:appt-1-tg-42")
	if c == nil || c.Status != idempotency.StatusDone {
		t.Fatalf("expected DONE claim, got %+v", c)
	}
}

func TestWorkerProcess_DuplicateDeliverySkipped(t *testing.T) {
	d := &countingDispatcher{}
	p := NewProcessor(newMemClaims(), d, nil)

	// SQS at-least-once: the same job twice in one batch and again later
	if _, err := p.Handle(context.Background(), jobEvent(t, "m1", "m1-dup")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := p.Handle(context.Background(), jobEvent(t, "m1-redelivered")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d.calls != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", d.calls)
	}
}

func TestWorkerProcess_FailureThenRetry(t *testing.T) {
	claims := newMemClaims()
	d := &countingDispatcher{err: errors.New("telegram 502")}
	p := NewProcessor(claims, d, nil)

	resp, _ := p.Handle(context.Background(), jobEvent(t, "m1"))
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m1" {
		t.Fatalf("expected m1 reported as failed, got %+v", resp)
	}
	c, _ := claims.Get(context.Background(), "confirmation:rec-1:appt-1-tg-42")
	if c.Status != idempotency.StatusFailed {
		t.Fatalf("expected FAILED claim, got %s", c.Status)
	}

	// SQS redelivers; the failed claim is taken over
	d.err = nil
	resp, _ = p.Handle(context.Background(), jobEvent(t, "m1"))
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failure on retry: %+v", resp)
	}
	c, _ = claims.Get(context.Background(), "confirmation:rec-1:appt-1-tg-42")
	if c.Status != idempotency.StatusDone || c.Attempts != 2 {
		t.Fatalf("expected DONE after 2 attempts, got %+v", c)
	}
	if d.calls != 2 {
		t.Fatalf("expected two dispatch attempts, got %d", d.calls)
	}
}

func TestWorkerProcess_InProgressSkipped(t *testing.T) {
	claims := newMemClaims()
	_, _ = claims.CreateIfNotExists(context.Background(), "confirmation:rec-1:appt-1-tg-42", "rec-1")
	d := &countingDispatcher{}

	resp, _ := NewProcessor(claims, d, nil).Handle(context.Background(), jobEvent(t, "m1"))
	if len(resp.BatchItemFailures) != 0 || d.calls != 0 {
		t.Fatalf("expected skip, got resp=%+v calls=%d", resp, d.calls)
	}
}

func TestWorkerProcess_MalformedDropped(t *testing.T) {
	d := &countingDispatcher{}
	p := NewProcessor(newMemClaims(), d, nil)

	resp, _ := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{{MessageId: "bad", Body: "{"}}})
	if len(resp.BatchItemFailures) != 0 || d.calls != 0 {
		t.Fatalf("malformed job must be dropped, got resp=%+v calls=%d", resp, d.calls)
	}
}

func TestRunLocal(t *testing.T) {
	body := `{"record_id":"rec-9","user_id":"42","token":"appt-9-tg-42"}`

	d := &countingDispatcher{}
	if err := runLocal(context.Background(), NewProcessor(newMemClaims(), d, nil), body); err != nil {
		t.Fatalf("runLocal: %v", err)
	}
	if d.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", d.calls)
	}

	failing := &countingDispatcher{err: errors.New("telegram down")}
	if err := runLocal(context.Background(), NewProcessor(newMemClaims(), failing, nil), body); err == nil {
		t.Fatal("expected a failed local job to be reported")
	}
}

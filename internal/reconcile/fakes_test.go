package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/imrishuroy/go-paid-confirmations/internal/gateway"
	"github.com/imrishuroy/go-paid-confirmations/internal/notify"
	"github.com/imrishuroy/go-paid-confirmations/internal/records"
)

// memStore is an in-memory records.Store with the same conditional semantics as the real ones.
type memStore struct {
	mu      sync.Mutex
	recs    map[string]records.PaymentRecord
	creates int
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]records.PaymentRecord{}}
}

func (m *memStore) Create(ctx context.Context, rec *records.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.RecordID]; ok {
		return records.ErrStatusMismatch
	}
	if rec.Status == "" {
		rec.Status = records.StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.creates++
	m.recs[rec.RecordID] = *rec
	return nil
}

func (m *memStore) AttachSession(ctx context.Context, recordID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[recordID]
	if !ok {
		return records.ErrNotFound
	}
	if rec.SessionID != "" && rec.SessionID != sessionID {
		return records.ErrSessionAlreadyAttached
	}
	rec.SessionID = sessionID
	m.recs[recordID] = rec
	return nil
}

func (m *memStore) Get(ctx context.Context, recordID string) (*records.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[recordID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memStore) FindBySession(ctx context.Context, sessionID string) (*records.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID == "" {
		return nil, nil
	}
	for _, rec := range m.recs {
		if rec.SessionID == sessionID {
			r := rec
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memStore) latest(userID string, status records.Status) *records.PaymentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []records.PaymentRecord
	for _, rec := range m.recs {
		if rec.UserID == userID && rec.Status == status {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return nil
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return &out[0]
}

func (m *memStore) LatestPending(ctx context.Context, userID string) (*records.PaymentRecord, error) {
	return m.latest(userID, records.StatusPending), nil
}

func (m *memStore) LatestPaid(ctx context.Context, userID string) (*records.PaymentRecord, error) {
	return m.latest(userID, records.StatusPaid), nil
}

func (m *memStore) MarkPaid(ctx context.Context, recordID, sessionID, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[recordID]
	if !ok || rec.Status != records.StatusPending {
		return records.ErrStatusMismatch
	}
	if sessionID != "" && rec.SessionID != "" && rec.SessionID != sessionID {
		return records.ErrStatusMismatch
	}
	if rec.SessionID == "" {
		rec.SessionID = sessionID
	}
	now := time.Now()
	rec.Status = records.StatusPaid
	rec.PaymentID = paymentID
	rec.PaidAt = &now
	m.recs[recordID] = rec
	return nil
}

func (m *memStore) SetResult(ctx context.Context, recordID, resultURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[recordID]
	if !ok || rec.Status != records.StatusPaid {
		return records.ErrStatusMismatch
	}
	rec.ResultURL = resultURL
	m.recs[recordID] = rec
	return nil
}

// testGateway verifies webhooks with the real Stripe code and serves sessions from a map.
type testGateway struct {
	*gateway.Stripe
	mu       sync.Mutex
	sessions map[string]*gateway.Completion
	created  []gateway.CheckoutRequest
	getErr   error
}

func newTestGateway(secret string) *testGateway {
	return &testGateway{
		Stripe:   gateway.NewStripe(gateway.StripeConfig{SecretKey: "sk_test", WebhookSecret: secret}),
		sessions: map[string]*gateway.Completion{},
	}
}

func (g *testGateway) setSession(c *gateway.Completion) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[c.SessionID] = c
}

func (g *testGateway) GetSession(ctx context.Context, sessionID string) (*gateway.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	c, ok := g.sessions[sessionID]
	if !ok {
		return nil, gateway.ErrSessionNotFound
	}
	cp := *c
	return &cp, nil
}

func (g *testGateway) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	return &gateway.Checkout{SessionID: "cs_new_" + req.RecordID, ClientSecret: "secret_" + req.RecordID}, nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []notify.Confirmation
	err  error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, c notify.Confirmation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, c)
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type buttonCall struct {
	userID, text, button, url string
}

type fakeChannel struct {
	buttons []buttonCall
	err     error
}

func (f *fakeChannel) SendImage(ctx context.Context, userID string, png []byte, caption string) error {
	return f.err
}

func (f *fakeChannel) SendText(ctx context.Context, userID, text string) error { return f.err }

func (f *fakeChannel) SendWebAppButton(ctx context.Context, userID, text, buttonText, url string) error {
	if f.err != nil {
		return f.err
	}
	f.buttons = append(f.buttons, buttonCall{userID, text, buttonText, url})
	return nil
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakeMetrics) Count(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[name]++
	return nil
}

func (f *fakeMetrics) get(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[name]
}

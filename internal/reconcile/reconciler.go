package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-paid-confirmations/internal/gateway"
	"github.com/imrishuroy/go-paid-confirmations/internal/notify"
	"github.com/imrishuroy/go-paid-confirmations/internal/records"
)

const (
	defaultGatewayTimeout = 12 * time.Second
	defaultNotifyTimeout  = 10 * time.Second

	resultsText   = "Your results are ready. Tap below to view."
	resultsButton = "View Results"
)

// Reconciler turns payment notifications into exactly one pending -> paid transition and
// one confirmation per record. The conditional update in the store is the only coordination
// point; nothing is locked across gateway or channel calls.
type Reconciler struct {
	store      records.Store
	gateway    Gateway
	dispatcher notify.Dispatcher
	channel    notify.Channel
	metrics    Metrics
	logger     *zap.Logger
	cfg        Config
	nowFunc    func() time.Time
}

// New wires a Reconciler. metrics may be nil.
func New(store records.Store, gw Gateway, dispatcher notify.Dispatcher, channel notify.Channel, metrics Metrics, logger *zap.Logger, cfg Config) *Reconciler {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	cfg.FrontendURL = strings.TrimRight(cfg.FrontendURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:      store,
		gateway:    gw,
		dispatcher: dispatcher,
		channel:    channel,
		metrics:    metrics,
		logger:     logger,
		cfg:        cfg,
		nowFunc:    time.Now,
	}
}

// HandleGatewayNotification reconciles a push (signed webhook body) or a pull. A pull carries
// only the client's claim, so it is re-verified against the gateway like a status poll.
func (r *Reconciler) HandleGatewayNotification(ctx context.Context, n Notification) (*Result, error) {
	if !n.isPush() {
		if strings.TrimSpace(n.SessionID) == "" || strings.TrimSpace(n.UserID) == "" {
			return nil, ErrMalformedNotification
		}
		return r.HandleClientStatusPoll(ctx, n.SessionID, n.UserID)
	}

	c, err := r.gateway.ParseWebhook(n.Payload, n.Signature)
	switch {
	case errors.Is(err, gateway.ErrInvalidSignature):
		r.count(ctx, MetricAuthentication)
		r.logger.Warn("webhook rejected", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	case errors.Is(err, gateway.ErrEventIgnored):
		return &Result{Outcome: OutcomeIgnored}, nil
	case errors.Is(err, gateway.ErrInvalidPayload):
		r.logger.Warn("webhook payload unreadable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	case err != nil:
		return nil, err
	}

	r.logger.Info("payment completion received",
		zap.String("event_id", c.EventID),
		zap.String("event_type", c.EventType),
		zap.String("session_id", c.SessionID))
	return r.settle(ctx, c, "push")
}

// HandleClientStatusPoll re-verifies a client's claim that a session is paid. The client's
// word is never trusted; the session is fetched from the gateway.
func (r *Reconciler) HandleClientStatusPoll(ctx context.Context, sessionID, userID string) (*Result, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrMalformedNotification
	}

	gctx, cancel := context.WithTimeout(ctx, r.cfg.GatewayTimeout)
	c, err := r.gateway.GetSession(gctx, sessionID)
	cancel()
	if errors.Is(err, gateway.ErrSessionNotFound) {
		r.logger.Warn("poll for unknown session", zap.String("session_id", sessionID))
		return nil, fmt.Errorf("%w: unknown session %s", ErrMalformedNotification, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session %s: %w", sessionID, err)
	}
	if !c.Paid {
		return nil, ErrPaymentNotComplete
	}

	owner := resolveUser(c)
	if owner == "" {
		r.count(ctx, MetricUnresolvedUser)
		r.logger.Warn("paid session has no user", zap.String("session_id", sessionID))
		return nil, ErrUnresolvableUser
	}
	if claimed := strings.TrimSpace(userID); claimed != "" && claimed != owner {
		r.count(ctx, MetricAuthentication)
		r.logger.Warn("poll user does not own session",
			zap.String("session_id", sessionID),
			zap.String("claimed_user_id", claimed))
		return nil, ErrAuthentication
	}
	return r.settle(ctx, c, "pull")
}

// settle applies a verified completion. Only the caller whose conditional update succeeds
// dispatches the confirmation.
func (r *Reconciler) settle(ctx context.Context, c *gateway.Completion, source string) (*Result, error) {
	userID := resolveUser(c)
	log := r.logger.With(zap.String("source", source), zap.String("session_id", c.SessionID))
	if userID == "" {
		r.count(ctx, MetricUnresolvedUser)
		log.Warn("discarding completion without user identity")
		return nil, ErrUnresolvableUser
	}
	log = log.With(zap.String("user_id", userID))

	rec, err := r.findRecord(ctx, c, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		r.count(ctx, MetricRecordNotFound)
		log.Error("paid session matches no intake record")
		return nil, ErrRecordNotFound
	}
	log = log.With(zap.String("record_id", rec.RecordID))

	res := &Result{RecordID: rec.RecordID, UserID: userID, SessionID: c.SessionID, Status: rec.Status}
	if rec.IsPaid() {
		r.count(ctx, MetricDuplicate)
		log.Info("record already paid")
		res.Outcome = OutcomeAlreadyPaid
		return res, nil
	}

	err = r.store.MarkPaid(ctx, rec.RecordID, c.SessionID, c.PaymentID)
	if errors.Is(err, records.ErrStatusMismatch) {
		again, getErr := r.store.Get(ctx, rec.RecordID)
		if getErr != nil {
			return nil, fmt.Errorf("re-read record %s: %w", rec.RecordID, getErr)
		}
		if again.IsPaid() {
			r.count(ctx, MetricDuplicate)
			log.Info("lost transition race, record already paid")
			res.Outcome = OutcomeAlreadyPaid
			res.Status = records.StatusPaid
			return res, nil
		}
		// still pending: the record was bound to a different session meanwhile
		log.Error("record bound to another session")
		return nil, fmt.Errorf("record %s: %w", rec.RecordID, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("mark record %s paid: %w", rec.RecordID, err)
	}

	r.count(ctx, MetricTransitioned)
	log.Info("record marked paid", zap.String("payment_id", c.PaymentID))
	res.Outcome = OutcomeTransitioned
	res.Status = records.StatusPaid

	res.Token, res.Warning = r.deliver(ctx, rec.RecordID, userID)
	return res, nil
}

// findRecord resolves the record a completion pays for: by session first, then the record id
// written into the session metadata, then the user's newest pending record without a session.
func (r *Reconciler) findRecord(ctx context.Context, c *gateway.Completion, userID string) (*records.PaymentRecord, error) {
	rec, err := r.store.FindBySession(ctx, c.SessionID)
	if err != nil {
		return nil, fmt.Errorf("find record by session: %w", err)
	}
	if rec != nil {
		if rec.UserID != userID {
			r.logger.Error("session bound to another user",
				zap.String("session_id", c.SessionID),
				zap.String("record_id", rec.RecordID))
			return nil, nil
		}
		return rec, nil
	}

	if c.RecordID != "" {
		rec, err = r.store.Get(ctx, c.RecordID)
		if err != nil {
			return nil, fmt.Errorf("get record %s: %w", c.RecordID, err)
		}
		if rec != nil && rec.UserID == userID && (rec.SessionID == "" || rec.SessionID == c.SessionID) {
			return rec, nil
		}
	}

	rec, err = r.store.LatestPending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("latest pending record: %w", err)
	}
	if rec != nil && rec.SessionID == "" {
		return rec, nil
	}
	return nil, nil
}

// deliver sends a fresh confirmation. Failures are returned as a warning, never as an error.
func (r *Reconciler) deliver(ctx context.Context, recordID, userID string) (string, error) {
	token := notify.AppointmentToken(userID, r.nowFunc())
	nctx, cancel := context.WithTimeout(ctx, r.cfg.NotifyTimeout)
	defer cancel()

	err := r.dispatcher.Dispatch(nctx, notify.Confirmation{RecordID: recordID, UserID: userID, Token: token})
	if err != nil {
		r.count(ctx, MetricDeliveryFailed)
		r.logger.Warn("confirmation not delivered",
			zap.String("record_id", recordID),
			zap.String("user_id", userID),
			zap.Error(err))
		return token, &NotificationDeliveryError{RecordID: recordID, UserID: userID, Err: err}
	}
	return token, nil
}

// ResendConfirmation sends a new confirmation for the user's latest paid record.
func (r *Reconciler) ResendConfirmation(ctx context.Context, userID string) (*Result, error) {
	rec, err := r.store.LatestPaid(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("latest paid record: %w", err)
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	token, warn := r.deliver(ctx, rec.RecordID, userID)
	if warn != nil {
		return nil, warn
	}
	r.logger.Info("confirmation resent", zap.String("record_id", rec.RecordID), zap.String("user_id", userID))
	return &Result{
		Outcome:   OutcomeAlreadyPaid,
		RecordID:  rec.RecordID,
		UserID:    userID,
		SessionID: rec.SessionID,
		Status:    rec.Status,
		Token:     token,
	}, nil
}

// PublishResult stores a lab result link on the user's latest paid record and tells the user.
func (r *Reconciler) PublishResult(ctx context.Context, userID, resultURL string) (*Result, error) {
	rec, err := r.store.LatestPaid(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("latest paid record: %w", err)
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	if err := r.store.SetResult(ctx, rec.RecordID, resultURL); err != nil {
		return nil, fmt.Errorf("set result on %s: %w", rec.RecordID, err)
	}

	res := &Result{RecordID: rec.RecordID, UserID: userID, SessionID: rec.SessionID, Status: rec.Status}
	nctx, cancel := context.WithTimeout(ctx, r.cfg.NotifyTimeout)
	defer cancel()
	url := r.cfg.FrontendURL + "/results?tgid=" + userID
	if err := r.channel.SendWebAppButton(nctx, userID, resultsText, resultsButton, url); err != nil {
		r.count(ctx, MetricDeliveryFailed)
		return res, &NotificationDeliveryError{RecordID: rec.RecordID, UserID: userID, Err: err}
	}
	r.logger.Info("result published", zap.String("record_id", rec.RecordID), zap.String("user_id", userID))
	return res, nil
}

// resolveUser prefers the telegram_id metadata over client_reference_id.
func resolveUser(c *gateway.Completion) string {
	if c.TelegramID != "" {
		return c.TelegramID
	}
	return c.ClientReferenceID
}

func (r *Reconciler) count(ctx context.Context, name string) {
	if r.metrics == nil {
		return
	}
	if err := r.metrics.Count(ctx, name); err != nil {
		r.logger.Debug("metric not emitted", zap.String("metric", name), zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-paid-confirmations/internal/idempotency"
	"github.com/imrishuroy/go-paid-confirmations/internal/notify"
)

// ClaimStore is the delivery ledger. *idempotency.Store implements it.
type ClaimStore interface {
	CreateIfNotExists(ctx context.Context, key, recordID string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.Claim, error)
	Reclaim(ctx context.Context, key string) (bool, error)
	MarkDone(ctx context.Context, key, note string) error
	MarkFailed(ctx context.Context, key, note string) error
}

// Processor delivers queued confirmations at most once per successful attempt.
type Processor struct {
	claims     ClaimStore
	dispatcher notify.Dispatcher
	logger     *zap.Logger
}

// NewProcessor creates a new worker processor.
func NewProcessor(claims ClaimStore, dispatcher notify.Dispatcher, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{claims: claims, dispatcher: dispatcher, logger: logger}
}

// Handle processes an SQS batch. Failed messages are reported individually so SQS only
// redelivers those.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("confirmation job failed", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	job, err := notify.DecodeJob(rec.Body)
	if err != nil {
		// redelivery cannot fix a malformed body
		p.logger.Error("dropping malformed confirmation job", zap.String("message_id", rec.MessageId), zap.Error(err))
		return nil
	}

	key := job.ClaimKey()
	log := p.logger.With(
		zap.String("record_id", job.RecordID),
		zap.String("user_id", job.UserID),
		zap.String("claim", key))

	claimed, err := p.claim(ctx, key, job.RecordID, log)
	if err != nil || !claimed {
		return err
	}

	if err := p.dispatcher.Dispatch(ctx, job); err != nil {
		if markErr := p.claims.MarkFailed(ctx, key, err.Error()); markErr != nil {
			log.Warn("could not release claim", zap.Error(markErr))
		}
		return fmt.Errorf("dispatch confirmation: %w", err)
	}

	if err := p.claims.MarkDone(ctx, key, "delivered"); err != nil {
		// the user has the message; a redelivery would find the claim IN_PROGRESS and skip it
		log.Warn("confirmation sent but claim not finalized", zap.Error(err))
		return nil
	}
	log.Info("confirmation delivered")
	return nil
}

// claim takes ownership of a delivery. It returns false when the delivery is done or someone
// else holds it.
func (p *Processor) claim(ctx context.Context, key, recordID string, log *zap.Logger) (bool, error) {
	created, err := p.claims.CreateIfNotExists(ctx, key, recordID)
	if err != nil {
		return false, fmt.Errorf("create claim: %w", err)
	}
	if created {
		return true, nil
	}

	existing, err := p.claims.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get claim: %w", err)
	}
	if existing == nil {
		return false, errors.New("claim vanished after conditional create")
	}
	switch existing.Status {
	case idempotency.StatusDone:
		log.Info("duplicate job, confirmation already delivered")
		return false, nil
	case idempotency.StatusInProgress:
		log.Warn("duplicate job, delivery in progress elsewhere")
		return false, nil
	case idempotency.StatusFailed:
		ok, err := p.claims.Reclaim(ctx, key)
		if err != nil {
			return false, fmt.Errorf("reclaim: %w", err)
		}
		return ok, nil
	default:
		return false, fmt.Errorf("unknown claim status %q", existing.Status)
	}
}

// runLocal pushes a single message body through Handle, as RUN_LOCAL does.
func runLocal(ctx context.Context, p *Processor, body string) error {
	resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}})
	if err != nil {
		return fmt.Errorf("handle batch: %w", err)
	}
	if len(resp.BatchItemFailures) > 0 {
		return errors.New("message reported as batch item failure")
	}
	return nil
}

package stripewebhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	"github.com/cardvault/marketplace-backend/pkg/metrics"
)

type eventVerifier interface {
	Verify(payload []byte, header string) (stripe.Event, error)
}

type eventGuard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type eventQueue interface {
	Enqueue(ctx context.Context, source stripe.Event, ev Event) (bool, error)
}

type IntakeParams struct {
	Verifier eventVerifier
	Guard    eventGuard
	Decoder  Decoder
	Queue    eventQueue
	Metrics  *metrics.PaymentsMetrics
	Logger   *logger.Logger
}

// Intake is the webhook front door: verify, dedupe, decode once, persist,
// then let the caller acknowledge.
type Intake struct {
	verifier eventVerifier
	guard    eventGuard
	decoder  Decoder
	queue    eventQueue
	metrics  *metrics.PaymentsMetrics
	logg     *logger.Logger
}

func NewIntake(params IntakeParams) (*Intake, error) {
	if params.Verifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook verifier required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard required")
	}
	if params.Queue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event queue required")
	}
	if params.Decoder.CreditsPerUSD <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credits per usd must be positive")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Intake{
		verifier: params.Verifier,
		guard:    params.Guard,
		decoder:  params.Decoder,
		queue:    params.Queue,
		metrics:  params.Metrics,
		logg:     logg,
	}, nil
}

// Handle returns the intake outcome (see metrics.WebhookOutcome*). A nil
// error means the delivery may be acknowledged.
func (i *Intake) Handle(ctx context.Context, payload []byte, header string) (string, error) {
	event, err := i.verifier.Verify(payload, header)
	if err != nil {
		i.metrics.IncWebhook("unknown", metrics.WebhookOutcomeRejected)
		return metrics.WebhookOutcomeRejected, err
	}
	eventType := string(event.Type)
	ctx = i.logg.WithEventID(ctx, event.ID)
	ctx = i.logg.WithField(ctx, "event_type", eventType)

	seen, err := i.guard.Seen(ctx, event.ID)
	if err != nil {
		i.metrics.IncWebhook(eventType, metrics.WebhookOutcomeFailed)
		return metrics.WebhookOutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook idempotency")
	}
	if seen {
		i.metrics.IncWebhook(eventType, metrics.WebhookOutcomeDuplicate)
		i.logg.Info(ctx, "stripe event already received")
		return metrics.WebhookOutcomeDuplicate, nil
	}

	decoded, err := i.decoder.Decode(event)
	if err != nil {
		if errors.Is(err, ErrIncompleteMetadata) {
			i.logg.Warn(i.logg.WithField(ctx, "reason", err.Error()), "stripe event skipped")
		} else {
			i.logg.Error(ctx, "stripe event undecodable", err)
		}
		return i.settle(ctx, event.ID, eventType, metrics.WebhookOutcomeSkipped), nil
	}
	if unhandled, ok := decoded.(Unhandled); ok {
		i.logg.Debug(ctx, fmt.Sprintf("stripe event ignored: %s", unhandled.Reason))
		return i.settle(ctx, event.ID, eventType, metrics.WebhookOutcomeSkipped), nil
	}

	// Nothing is marked until the outbox row is committed, so a failure here
	// leaves the next delivery free to retry.
	queued, err := i.queue.Enqueue(ctx, event, decoded)
	if err != nil {
		i.metrics.IncWebhook(eventType, metrics.WebhookOutcomeFailed)
		i.logg.Error(ctx, "enqueue stripe event", err)
		return metrics.WebhookOutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue stripe event")
	}
	if !queued {
		return i.settle(ctx, event.ID, eventType, metrics.WebhookOutcomeDuplicate), nil
	}
	outcome := i.settle(ctx, event.ID, eventType, metrics.WebhookOutcomeQueued)
	i.logg.Info(ctx, "stripe event queued")
	return outcome, nil
}

// settle marks eventID handled and counts outcome. The mark outlives a
// cancelled request; losing it only costs an outbox lookup on redelivery.
func (i *Intake) settle(ctx context.Context, eventID, eventType, outcome string) string {
	if err := i.guard.Mark(context.WithoutCancel(ctx), eventID); err != nil {
		i.logg.Error(ctx, "mark stripe event handled", err)
	}
	i.metrics.IncWebhook(eventType, outcome)
	return outcome
}

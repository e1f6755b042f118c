package stripewebhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/pkg/enums"
	"github.com/cardvault/marketplace-backend/pkg/outbox"
)

// stripeEventNamespace derives stable aggregate ids from Stripe event ids.
var stripeEventNamespace = uuid.MustParse("6f1c2b7e-93a4-4d0c-8d8e-2b1f5a7c9e11")

// AggregateID is the outbox aggregate id for a Stripe event id.
func AggregateID(stripeEventID string) uuid.UUID {
	return uuid.NewSHA1(stripeEventNamespace, []byte(stripeEventID))
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// Inbox durably records decoded events in the outbox before the webhook is
// acknowledged.
type Inbox struct {
	db     txRunner
	outbox outboxEmitter
}

func NewInbox(db txRunner, emitter outboxEmitter) (*Inbox, error) {
	if db == nil {
		return nil, errors.New("transaction runner required")
	}
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	return &Inbox{db: db, outbox: emitter}, nil
}

// Enqueue writes ev keyed by the Stripe event id. It reports false when the
// event was already queued or needs no reconciliation.
func (i *Inbox) Enqueue(ctx context.Context, source stripe.Event, ev Event) (bool, error) {
	eventType, data, ok := outboxRecord(ev)
	if !ok {
		return false, nil
	}

	occurred := time.Now().UTC()
	if source.Created > 0 {
		occurred = time.Unix(source.Created, 0).UTC()
	}
	domainEvent := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateStripeEvent,
		AggregateID:   AggregateID(source.ID),
		Source: &outbox.SourceRef{
			Provider: "stripe",
			EventID:  source.ID,
			Type:     string(source.Type),
			Account:  source.Account,
			Livemode: source.Livemode,
		},
		Data:       data,
		OccurredAt: occurred,
	}

	var queued bool
	err := i.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		queued, err = i.outbox.EmitIfNotExists(ctx, tx, domainEvent)
		return err
	})
	return queued, err
}

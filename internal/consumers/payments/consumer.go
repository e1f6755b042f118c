// Package payments consumes reconciliation events from the payments Pub/Sub
// subscription.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	stripewebhook "github.com/cardvault/marketplace-backend/internal/webhooks/stripe"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	"github.com/cardvault/marketplace-backend/pkg/outbox"
)

// ConsumerName scopes this consumer's idempotency keys.
const ConsumerName = "payments-reconciler"

type reconciler interface {
	Apply(ctx context.Context, ev stripewebhook.Event) error
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error)
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type ConsumerParams struct {
	Subscription *pubsub.Subscriber
	Reconciler   reconciler
	Decoders     payloadDecoder
	Idempotency  idempotencyChecker
	Facts        tableInserter
	FactsTable   string
	Logger       *logger.Logger
}

// Consumer applies payment events and records marketplace sale facts.
type Consumer struct {
	subscription *pubsub.Subscriber
	reconciler   reconciler
	decoders     payloadDecoder
	idempotency  idempotencyChecker
	facts        tableInserter
	factsTable   string
	logg         *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	if params.Decoders == nil {
		return nil, fmt.Errorf("payload decoders required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Facts != nil && strings.TrimSpace(params.FactsTable) == "" {
		return nil, fmt.Errorf("sales facts table required")
	}
	return &Consumer{
		subscription: params.Subscription,
		reconciler:   params.Reconciler,
		decoders:     params.Decoders,
		idempotency:  params.Idempotency,
		facts:        params.Facts,
		factsTable:   strings.TrimSpace(params.FactsTable),
		logg:         params.Logger,
	}, nil
}

// Run receives from the payments subscription until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("payments subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.Process(ctx, msg.ID, msg.Attributes, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Process handles one delivery and reports whether it should be acked.
// Poison messages are acked; transient failures release the idempotency key
// and nack so Pub/Sub redelivers.
func (c *Consumer) Process(ctx context.Context, messageID string, attrs map[string]string, data []byte) bool {
	eventType := enums.OutboxEventType(attrs["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	if !eventType.IsValid() {
		c.logg.Warn(logCtx, "skipping unknown payments event")
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return true
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return true
	}
	logCtx = c.logg.WithEventID(logCtx, envelope.EventID)
	if envelope.Source != nil {
		logCtx = c.logg.WithField(logCtx, "stripe_event_id", envelope.Source.EventID)
	}

	payload, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode payload", err)
		return true
	}
	ev, err := stripewebhook.FromPayload(payload)
	if err != nil {
		c.logg.Error(logCtx, "unsupported payload", err)
		return true
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, ConsumerName, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return false
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return true
	}

	if err := c.reconciler.Apply(logCtx, ev); err != nil {
		sale, isSale := ev.(stripewebhook.MarketplaceSaleSucceeded)
		if isSale && !stripewebhook.NeedsRedelivery(err) {
			// Transaction and listing skew is left to the sweep job.
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "sale reconciled with step failures")
			c.recordSale(logCtx, envelope, sale)
			return true
		}
		c.logg.Error(logCtx, "reconciliation failed", err)
		if delErr := c.idempotency.Delete(context.WithoutCancel(ctx), ConsumerName, eventID); delErr != nil {
			c.logg.Error(logCtx, "failed to release idempotency key", delErr)
		}
		return false
	}

	if sale, ok := ev.(stripewebhook.MarketplaceSaleSucceeded); ok {
		c.recordSale(logCtx, envelope, sale)
	}
	c.logg.Info(logCtx, "payments event reconciled")
	return true
}

func (c *Consumer) recordSale(ctx context.Context, envelope outbox.PayloadEnvelope, sale stripewebhook.MarketplaceSaleSucceeded) {
	if c.facts == nil {
		return
	}
	row := newSaleFact(envelope, sale)
	if err := c.facts.InsertRows(ctx, c.factsTable, []any{row}); err != nil {
		c.logg.Error(ctx, "failed to record sale fact", err)
	}
}

// saleFact is one row of the marketplace sales table.
type saleFact struct {
	EventID         string
	PaymentIntentID string
	ListingID       string
	BuyerID         string
	SellerID        cbigquery.NullString
	SellerAccountID cbigquery.NullString
	GrossCents      int64
	FeeCents        int64
	NetCents        int64
	Currency        string
	OccurredAt      time.Time
	Payload         cbigquery.NullJSON
}

func newSaleFact(envelope outbox.PayloadEnvelope, sale stripewebhook.MarketplaceSaleSucceeded) *saleFact {
	row := &saleFact{
		EventID:         envelope.EventID,
		PaymentIntentID: sale.PaymentIntentID,
		ListingID:       sale.ListingID.String(),
		BuyerID:         sale.BuyerID.String(),
		GrossCents:      sale.GrossCents,
		FeeCents:        sale.FeeCents,
		NetCents:        sale.Net(),
		Currency:        sale.Currency,
		OccurredAt:      envelope.OccurredAt,
	}
	if sale.SellerID != nil {
		row.SellerID = cbigquery.NullString{StringVal: sale.SellerID.String(), Valid: true}
	}
	if sale.SellerAccountID != "" {
		row.SellerAccountID = cbigquery.NullString{StringVal: sale.SellerAccountID, Valid: true}
	}
	if len(envelope.Data) > 0 {
		row.Payload = cbigquery.NullJSON{JSONVal: string(envelope.Data), Valid: true}
	}
	return row
}

// Save implements bigquery.ValueSaver. The event id doubles as the insert id
// so streaming retries are deduplicated.
func (f *saleFact) Save() (map[string]cbigquery.Value, string, error) {
	if f == nil {
		return nil, "", errors.New("nil sale fact")
	}
	return map[string]cbigquery.Value{
		"event_id":          f.EventID,
		"payment_intent_id": f.PaymentIntentID,
		"listing_id":        f.ListingID,
		"buyer_id":          f.BuyerID,
		"seller_id":         f.SellerID,
		"seller_account_id": f.SellerAccountID,
		"gross_cents":       f.GrossCents,
		"fee_cents":         f.FeeCents,
		"net_cents":         f.NetCents,
		"currency":          f.Currency,
		"occurred_at":       f.OccurredAt,
		"payload":           f.Payload,
	}, f.EventID, nil
}

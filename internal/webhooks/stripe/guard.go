package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type guardStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	IdempotencyKey(scope, id string) string
}

// Guard short-circuits redeliveries of a Stripe event id at intake. An id is
// only marked once its event is safely in the outbox, so a failed or
// interrupted delivery never hides the next one. The outbox unique index
// remains the authority when two deliveries race past the guard.
type Guard struct {
	store guardStore
	ttl   time.Duration
	scope string
}

func NewGuard(store guardStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl, scope: "stripe-webhook"}, nil
}

// Seen reports whether eventID was already handled.
func (g *Guard) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	_, err := g.store.Get(ctx, g.store.IdempotencyKey(g.scope, eventID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, fmt.Errorf("check stripe event: %w", err)
	}
}

// Mark records eventID as handled.
func (g *Guard) Mark(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if err := g.store.Set(ctx, g.store.IdempotencyKey(g.scope, eventID), "1", g.ttl); err != nil {
		return fmt.Errorf("mark stripe event: %w", err)
	}
	return nil
}

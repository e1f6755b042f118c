package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/cardvault/marketplace-backend/api/responses"
	stripewebhook "github.com/cardvault/marketplace-backend/internal/webhooks/stripe"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 512 << 10

type webhookIntake interface {
	Handle(ctx context.Context, payload []byte, header string) (string, error)
}

// StripeWebhook verifies and durably queues Stripe events. Any non-2xx tells
// Stripe to redeliver.
func StripeWebhook(intake webhookIntake, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if intake == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook intake unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		outcome, err := intake.Handle(ctx, payload, r.Header.Get(stripewebhook.SignatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Debug(logg.WithField(ctx, "outcome", outcome), "stripe webhook accepted")
		}
		responses.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

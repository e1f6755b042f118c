package webhooks

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	"github.com/cardvault/marketplace-backend/pkg/metrics"
)

type fakeIntake struct {
	payload []byte
	header  string
	outcome string
	err     error
}

func (f *fakeIntake) Handle(_ context.Context, payload []byte, header string) (string, error) {
	f.payload = payload
	f.header = header
	return f.outcome, f.err
}

func postWebhook(t *testing.T, intake webhookIntake, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewBufferString(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	StripeWebhook(intake, logger.Nop()).ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookAcknowledgesQueuedEvent(t *testing.T) {
	intake := &fakeIntake{outcome: metrics.WebhookOutcomeQueued}
	rec := postWebhook(t, intake, `{"id":"evt_1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
	assert.Equal(t, `{"id":"evt_1"}`, string(intake.payload))
	assert.Equal(t, "t=1,v1=abc", intake.header)
}

func TestStripeWebhookAcknowledgesDuplicatesAndSkips(t *testing.T) {
	for _, outcome := range []string{metrics.WebhookOutcomeDuplicate, metrics.WebhookOutcomeSkipped} {
		rec := postWebhook(t, &fakeIntake{outcome: outcome}, `{}`)
		assert.Equal(t, http.StatusOK, rec.Code, outcome)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	intake := &fakeIntake{
		outcome: metrics.WebhookOutcomeRejected,
		err:     pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid stripe signature"),
	}
	rec := postWebhook(t, intake, `{}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), string(pkgerrors.CodeUnauthorized))
}

func TestStripeWebhookAsksForRedeliveryOnQueueFailure(t *testing.T) {
	intake := &fakeIntake{
		outcome: metrics.WebhookOutcomeFailed,
		err:     pkgerrors.New(pkgerrors.CodeDependency, "enqueue stripe event"),
	}
	rec := postWebhook(t, intake, `{}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStripeWebhookWithoutIntake(t *testing.T) {
	rec := postWebhook(t, nil, `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

package registry

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/marketplace-backend/pkg/enums"
	"github.com/cardvault/marketplace-backend/pkg/outbox/payloads"
)

func TestPaymentsDecoders(t *testing.T) {
	reg := NewPaymentsDecoders()
	userID := uuid.New()

	out, err := reg.Decode(enums.EventCreditsPurchaseSucceeded, 1, json.RawMessage(`{"payment_intent_id":"pi_1","user_id":"`+userID.String()+`","usd":20,"credits":200}`))
	require.NoError(t, err)
	credits, ok := out.(*payloads.CreditsPurchase)
	require.True(t, ok, "unexpected type %T", out)
	assert.Equal(t, userID, credits.UserID)
	assert.Equal(t, int64(200), credits.Credits)

	_, err = reg.Decode(enums.EventCreditsPurchaseSucceeded, 2, json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = reg.Decode(enums.EventMarketplaceSaleSucceeded, 1, json.RawMessage(`{not json`))
	assert.Error(t, err)
}

func TestDecoderRegistryCustomDecoder(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventAccountStatusChanged, 3, func(payload json.RawMessage) (any, error) {
		return string(payload), nil
	})

	out, err := reg.Decode(enums.EventAccountStatusChanged, 3, json.RawMessage(`"x"`))
	require.NoError(t, err)
	assert.Equal(t, `"x"`, out)
}

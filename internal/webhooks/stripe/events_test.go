package stripewebhook

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/cardvault/marketplace-backend/pkg/enums"
	"github.com/cardvault/marketplace-backend/pkg/outbox/payloads"
	stripepkg "github.com/cardvault/marketplace-backend/pkg/stripe"
)

var testDecoder = Decoder{CreditsPerUSD: 10}

func TestDecodeMarketplaceSale(t *testing.T) {
	listingID, buyerID, sellerID := uuid.New(), uuid.New(), uuid.New()
	event := buildEvent(t, stripe.EventTypePaymentIntentSucceeded, "acct_seller", paymentIntentObject("pi_sale", 900, 45, map[string]string{
		stripepkg.MetaKind:      stripepkg.KindMarketplaceSale,
		stripepkg.MetaListingID: listingID.String(),
		stripepkg.MetaBuyerID:   buyerID.String(),
		stripepkg.MetaSellerID:  sellerID.String(),
	}))

	ev, err := testDecoder.Decode(event)
	require.NoError(t, err)
	sale, ok := ev.(MarketplaceSaleSucceeded)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "pi_sale", sale.PaymentIntentID)
	assert.Equal(t, listingID, sale.ListingID)
	assert.Equal(t, buyerID, sale.BuyerID)
	require.NotNil(t, sale.SellerID)
	assert.Equal(t, sellerID, *sale.SellerID)
	assert.Equal(t, "acct_seller", sale.SellerAccountID)
	assert.Equal(t, int64(900), sale.GrossCents)
	assert.Equal(t, int64(45), sale.FeeCents)
	assert.Equal(t, int64(855), sale.Net())
	assert.Equal(t, "usd", sale.Currency)
}

func TestDecodeSaleFeeFallsBackToMetadata(t *testing.T) {
	event := buildEvent(t, stripe.EventTypePaymentIntentSucceeded, "", paymentIntentObject("pi_sale", 900, 0, map[string]string{
		stripepkg.MetaListingID:        uuid.NewString(),
		stripepkg.MetaBuyerID:          uuid.NewString(),
		stripepkg.MetaPlatformFeeCents: "90",
	}))

	ev, err := testDecoder.Decode(event)
	require.NoError(t, err)
	sale := ev.(MarketplaceSaleSucceeded)
	assert.Equal(t, int64(90), sale.FeeCents)
	assert.Empty(t, sale.SellerAccountID)
	assert.Nil(t, sale.SellerID)
}

func TestDecodeSaleIncompleteMetadata(t *testing.T) {
	cases := map[string]map[string]string{
		"missing buyer":   {stripepkg.MetaListingID: uuid.NewString()},
		"missing listing": {stripepkg.MetaBuyerID: uuid.NewString()},
		"bad listing":     {stripepkg.MetaListingID: "abc", stripepkg.MetaBuyerID: uuid.NewString()},
		"tagged, no ids":  {stripepkg.MetaKind: stripepkg.KindMarketplaceSale},
	}
	for name, meta := range cases {
		t.Run(name, func(t *testing.T) {
			event := buildEvent(t, stripe.EventTypePaymentIntentSucceeded, "", paymentIntentObject("pi_x", 900, 45, meta))
			_, err := testDecoder.Decode(event)
			assert.ErrorIs(t, err, ErrIncompleteMetadata)
		})
	}
}

func TestDecodeUnhandled(t *testing.T) {
	platform := buildEvent(t, stripe.EventTypePaymentIntentSucceeded, "", paymentIntentObject("pi_p", 500, 0, map[string]string{
		stripepkg.MetaKind: stripepkg.KindPlatformPurchase,
	}))
	bare := buildEvent(t, stripe.EventTypePaymentIntentSucceeded, "", paymentIntentObject("pi_b", 500, 0, nil))
	other := buildEvent(t, stripe.EventTypeChargeRefunded, "", map[string]any{"id": "ch_1", "object": "charge"})

	for _, event := range []stripe.Event{platform, bare, other} {
		ev, err := testDecoder.Decode(event)
		require.NoError(t, err)
		unhandled, ok := ev.(Unhandled)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, string(event.Type), unhandled.EventType)
		assert.NotEmpty(t, unhandled.Reason)
	}
}

func TestDecodeCreditsPurchaseFromPaymentIntent(t *testing.T) {
	userID := uuid.New()
	event := buildEvent(t, stripe.EventTypePaymentIntentSucceeded, "", paymentIntentObject("pi_credits", 2000, 0, map[string]string{
		stripepkg.MetaKind:   stripepkg.KindCreditsPurchase,
		stripepkg.MetaUserID: userID.String(),
		stripepkg.MetaUSD:    "20",
	}))

	ev, err := testDecoder.Decode(event)
	require.NoError(t, err)
	purchase := ev.(CreditsPurchaseSucceeded)
	assert.Equal(t, "pi_credits", purchase.PaymentIntentID)
	assert.Equal(t, userID, purchase.UserID)
	assert.Equal(t, int64(20), purchase.USD)
	assert.Equal(t, int64(200), purchase.Credits)
	assert.Equal(t, int64(2000), purchase.AmountCents)
}

func TestDecodeCheckoutSessionCompleted(t *testing.T) {
	userID := uuid.New()
	withIntent := buildEvent(t, stripe.EventTypeCheckoutSessionCompleted, "", map[string]any{
		"id":             "cs_1",
		"object":         "checkout.session",
		"payment_intent": "pi_from_session",
		"amount_total":   5000,
		"metadata": map[string]string{
			stripepkg.MetaUserID:  userID.String(),
			stripepkg.MetaUSD:     "50",
			stripepkg.MetaCredits: "550",
		},
	})
	ev, err := testDecoder.Decode(withIntent)
	require.NoError(t, err)
	purchase := ev.(CreditsPurchaseSucceeded)
	assert.Equal(t, "pi_from_session", purchase.PaymentIntentID)
	assert.Equal(t, int64(550), purchase.Credits, "credits recorded at checkout win")

	withoutIntent := buildEvent(t, stripe.EventTypeCheckoutSessionCompleted, "", map[string]any{
		"id":                  "cs_2",
		"object":              "checkout.session",
		"amount_total":        1000,
		"client_reference_id": userID.String(),
	})
	ev, err = testDecoder.Decode(withoutIntent)
	require.NoError(t, err)
	purchase = ev.(CreditsPurchaseSucceeded)
	assert.Equal(t, "cs_2", purchase.PaymentIntentID)
	assert.Equal(t, userID, purchase.UserID)
	assert.Equal(t, int64(10), purchase.USD)
	assert.Equal(t, int64(100), purchase.Credits)
}

func TestDecodeCheckoutWithoutUserIsIncomplete(t *testing.T) {
	event := buildEvent(t, stripe.EventTypeCheckoutSessionCompleted, "", map[string]any{
		"id": "cs_3", "object": "checkout.session", "amount_total": 1000,
	})
	_, err := testDecoder.Decode(event)
	assert.ErrorIs(t, err, ErrIncompleteMetadata)
}

func TestDecodeAccountEvents(t *testing.T) {
	userID := uuid.New()
	updated := buildEvent(t, stripe.EventTypeAccountUpdated, "acct_1", map[string]any{
		"id":              "acct_1",
		"object":          "account",
		"charges_enabled": true,
		"payouts_enabled": true,
		"requirements":    map[string]any{"currently_due": []string{"external_account"}},
		"metadata":        map[string]string{stripepkg.MetaUserID: userID.String()},
	})
	ev, err := testDecoder.Decode(updated)
	require.NoError(t, err)
	status := ev.(AccountStatusChanged)
	assert.Equal(t, "acct_1", status.AccountID)
	require.NotNil(t, status.UserID)
	assert.Equal(t, userID, *status.UserID)
	assert.Equal(t, []string{"external_account"}, status.CurrentlyDue)
	assert.False(t, status.Verified())
	assert.False(t, status.Refresh)

	capability := buildEvent(t, stripe.EventTypeCapabilityUpdated, "acct_2", map[string]any{
		"id": "card_payments", "object": "capability", "account": "acct_2", "status": "active",
	})
	ev, err = testDecoder.Decode(capability)
	require.NoError(t, err)
	status = ev.(AccountStatusChanged)
	assert.Equal(t, "acct_2", status.AccountID)
	assert.True(t, status.Refresh)
}

func TestOutboxRecordRoundTrip(t *testing.T) {
	sale := MarketplaceSaleSucceeded{PaymentIntentID: "pi_1", ListingID: uuid.New(), BuyerID: uuid.New(), GrossCents: 900, FeeCents: 45}
	eventType, data, ok := outboxRecord(sale)
	require.True(t, ok)
	assert.Equal(t, enums.EventMarketplaceSaleSucceeded, eventType)

	payload := data.(payloads.MarketplaceSale)
	back, err := FromPayload(&payload)
	require.NoError(t, err)
	assert.Equal(t, sale, back)

	_, _, ok = outboxRecord(Unhandled{EventType: "x"})
	assert.False(t, ok)

	_, err = FromPayload("nope")
	assert.Error(t, err)
}

func TestAccountStatusVerifiedAgreesWithFetchedAccount(t *testing.T) {
	accounts := []*stripe.Account{
		{ID: "acct_a"},
		{ID: "acct_b", ChargesEnabled: true, PayoutsEnabled: true},
		{ID: "acct_c", ChargesEnabled: true, PayoutsEnabled: true, Requirements: &stripe.AccountRequirements{CurrentlyDue: []string{"tos_acceptance.date"}}},
		{ID: "acct_d", ChargesEnabled: true, PayoutsEnabled: false},
	}
	for _, acct := range accounts {
		assert.Equal(t, stripepkg.AccountReady(acct), accountStatus(acct).Verified(), acct.ID)
	}
}

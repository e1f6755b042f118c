package stripewebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/cardvault/marketplace-backend/internal/assets"
	"github.com/cardvault/marketplace-backend/internal/ledger"
	"github.com/cardvault/marketplace-backend/internal/listings"
	"github.com/cardvault/marketplace-backend/internal/profiles"
	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/db/dbtest"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

const (
	directSecret  = "whsec_direct"
	connectSecret = "whsec_connect"
)

func buildEvent(t *testing.T, eventType stripe.EventType, account string, object map[string]any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Object:     "event",
		Type:       eventType,
		APIVersion: stripe.APIVersion,
		Created:    time.Now().Unix(),
		Account:    account,
		Data:       &stripe.EventData{Raw: raw},
	}
}

func signEvent(t *testing.T, event stripe.Event, secret string) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return payload, signatureHeader(payload, secret, time.Now().Unix())
}

func signatureHeader(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func paymentIntentObject(id string, amount, fee int64, meta map[string]string) map[string]any {
	obj := map[string]any{
		"id":              id,
		"object":          "payment_intent",
		"amount":          amount,
		"amount_received": amount,
		"currency":        "usd",
		"status":          "succeeded",
		"metadata":        meta,
	}
	if fee > 0 {
		obj["application_fee_amount"] = fee
	}
	return obj
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}}
}

// memStore honours ctx like the real client: a cancelled context fails.
func (s *memStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *memStore) Set(ctx context.Context, key string, value any, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fmt.Sprint(value)
	return nil
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *memStore) IdempotencyKey(scope, id string) string {
	return "cv:idempotency:" + scope + ":" + id
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

type stubAccounts struct {
	account *stripe.Account
	err     error
	calls   int
}

func (s *stubAccounts) GetAccount(_ context.Context, id string) (*stripe.Account, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	acct := *s.account
	acct.ID = id
	return &acct, nil
}

// fixture is a marketplace with one seller, one card listed for 900 cents
// and a pending purchase by buyer against a stale payment intent.
type fixture struct {
	client   *db.Client
	ledger   ledger.Repository
	listings listings.Repository
	assets   assets.Repository
	profiles profiles.Repository
	accounts *stubAccounts
	rec      *Reconciler
	now      time.Time

	seller  models.Profile
	buyer   models.Profile
	asset   models.Asset
	listing models.Listing
	txn     models.Transaction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	gdb := client.DB()
	ctx := context.Background()

	f := &fixture{
		client:   client,
		ledger:   ledger.NewRepository(gdb),
		listings: listings.NewRepository(gdb),
		assets:   assets.NewRepository(gdb),
		profiles: profiles.NewRepository(gdb),
		accounts: &stubAccounts{account: &stripe.Account{}},
		now:      time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}

	acct := "acct_seller"
	f.seller = models.Profile{ID: uuid.New(), StripeAccountID: &acct, StripeVerified: true, Role: enums.ProfileRoleUser}
	f.buyer = models.Profile{ID: uuid.New(), Role: enums.ProfileRoleUser}
	require.NoError(t, gdb.Create(&f.seller).Error)
	require.NoError(t, gdb.Create(&f.buyer).Error)

	f.asset = models.Asset{OwnerID: f.seller.ID, SourceType: enums.AssetSourceCard, Name: "Charizard"}
	require.NoError(t, f.assets.Create(ctx, &f.asset))

	f.listing = models.Listing{
		SellerID:   f.seller.ID,
		SourceType: enums.ListingSourceAsset,
		SourceID:   f.asset.ID,
		Title:      "Charizard",
		PriceCents: 900,
		Currency:   "usd",
		Status:     enums.ListingStatusListed,
		IsActive:   true,
	}
	require.NoError(t, f.listings.Create(ctx, &f.listing))

	stale := "pi_stale"
	f.txn = models.Transaction{
		ListingID:        f.listing.ID,
		BuyerID:          f.buyer.ID,
		AmountCents:      900,
		Currency:         "usd",
		StripePaymentID:  &stale,
		SellerAcct:       &acct,
		PlatformFeeCents: 45,
	}
	require.NoError(t, f.ledger.SavePendingTransaction(ctx, &f.txn))

	rec, err := NewReconciler(ReconcilerParams{
		DB:       client,
		Ledger:   f.ledger,
		Listings: f.listings,
		Assets:   f.assets,
		Profiles: f.profiles,
		Accounts: f.accounts,
		Logger:   logger.Nop(),
		Now:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.rec = rec
	return f
}

func (f *fixture) sale(paymentIntentID string) MarketplaceSaleSucceeded {
	return MarketplaceSaleSucceeded{
		PaymentIntentID: paymentIntentID,
		ListingID:       f.listing.ID,
		BuyerID:         f.buyer.ID,
		SellerID:        &f.seller.ID,
		SellerAccountID: "acct_seller",
		GrossCents:      900,
		FeeCents:        45,
		Currency:        "usd",
	}
}

func (f *fixture) reloadTxn(t *testing.T) models.Transaction {
	t.Helper()
	var txn models.Transaction
	require.NoError(t, f.client.DB().First(&txn, "id = ?", f.txn.ID).Error)
	return txn
}

func (f *fixture) reloadProfile(t *testing.T, id uuid.UUID) models.Profile {
	t.Helper()
	p, err := f.profiles.FindByID(context.Background(), id)
	require.NoError(t, err)
	return *p
}

func (f *fixture) payouts(t *testing.T) []models.Payout {
	t.Helper()
	var rows []models.Payout
	require.NoError(t, f.client.DB().Find(&rows).Error)
	return rows
}

package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/marketplace-backend/api/middleware"
	"github.com/cardvault/marketplace-backend/internal/credits"
	"github.com/cardvault/marketplace-backend/internal/listings"
	"github.com/cardvault/marketplace-backend/internal/payments"
	"github.com/cardvault/marketplace-backend/pkg/config"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	"github.com/cardvault/marketplace-backend/pkg/pagination"
)

type fakePayments struct {
	input  payments.CreateIntentInput
	lookup string
	err    error
}

func (f *fakePayments) CreateIntent(_ context.Context, input payments.CreateIntentInput) (*payments.IntentDTO, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return &payments.IntentDTO{ClientSecret: "pi_1_secret", PaymentIntentID: "pi_1", AmountCents: 900, FeeCents: 45, NetCents: 855}, nil
}

func (f *fakePayments) GetIntent(_ context.Context, _ uuid.UUID, id string) (*payments.IntentStatusDTO, error) {
	f.lookup = id
	if f.err != nil {
		return nil, f.err
	}
	return &payments.IntentStatusDTO{ID: id, Status: "succeeded", AmountCents: 900, Currency: "usd"}, nil
}

type fakeCredits struct {
	usd int64
}

func (f *fakeCredits) Checkout(_ context.Context, _ uuid.UUID, usd int64) (*credits.CheckoutDTO, error) {
	f.usd = usd
	return &credits.CheckoutDTO{URL: "https://checkout.stripe.test/c/1", SessionID: "cs_1", Credits: usd * 100}, nil
}

type fakeListings struct {
	filter listings.BrowseFilter
	params pagination.Params
}

func (f *fakeListings) Create(context.Context, uuid.UUID, listings.CreateInput) (*listings.ListingDTO, error) {
	return nil, errors.New("not used")
}

func (f *fakeListings) Cancel(context.Context, uuid.UUID, uuid.UUID) (*listings.ListingDTO, error) {
	return nil, errors.New("not used")
}

func (f *fakeListings) Get(_ context.Context, id uuid.UUID) (*listings.ListingDTO, error) {
	return &listings.ListingDTO{ID: id}, nil
}

func (f *fakeListings) Browse(_ context.Context, filter listings.BrowseFilter, params pagination.Params) (*listings.ListResult, error) {
	f.filter = filter
	f.params = params
	return &listings.ListResult{Items: []listings.ListingDTO{}}, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func authed(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func withParam(req *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestPaymentIntentCreateForListing(t *testing.T) {
	svc := &fakePayments{}
	buyer := uuid.New()
	listingID := uuid.New()
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments/intents", jsonBody(t, map[string]any{
		"listing_id":           listingID.String(),
		"platform_fee_percent": "7.5",
	})), buyer)
	rec := httptest.NewRecorder()

	PaymentIntentCreate(svc, logger.Nop()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, buyer, svc.input.BuyerID)
	require.NotNil(t, svc.input.ListingID)
	assert.Equal(t, listingID, *svc.input.ListingID)
	assert.Nil(t, svc.input.AmountCents)
	require.NotNil(t, svc.input.PlatformFeePercent)
	assert.Equal(t, "7.5", svc.input.PlatformFeePercent.String())

	var body struct {
		Data payments.IntentDTO `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(855), body.Data.NetCents)
}

func TestPaymentIntentCreateValidation(t *testing.T) {
	cases := map[string]map[string]any{
		"neither":      {},
		"both":         {"amount": 900, "listing_id": uuid.NewString()},
		"bad listing":  {"listing_id": "nope"},
		"zero amount":  {"amount": 0, "listing_id": nil},
		"unknown knob": {"amount": 900, "currency": "eur"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &fakePayments{}
			req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments/intents", jsonBody(t, payload)), uuid.New())
			rec := httptest.NewRecorder()
			PaymentIntentCreate(svc, logger.Nop()).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, uuid.Nil, svc.input.BuyerID)
		})
	}
}

func TestPaymentIntentCreateRequiresUser(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/intents", jsonBody(t, map[string]any{"amount": 500}))
	rec := httptest.NewRecorder()
	PaymentIntentCreate(&fakePayments{}, logger.Nop()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPaymentIntentGetMapsServiceErrors(t *testing.T) {
	svc := &fakePayments{err: pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")}
	req := withParam(httptest.NewRequest(http.MethodGet, "/api/v1/payments/intents/pi_9", nil), "intentID", "pi_9")
	req = authed(req, uuid.New())
	rec := httptest.NewRecorder()

	PaymentIntentGet(svc, logger.Nop()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "pi_9", svc.lookup)
}

func TestPaymentIntentGetRejectsForeignIDs(t *testing.T) {
	svc := &fakePayments{}
	req := withParam(httptest.NewRequest(http.MethodGet, "/x", nil), "intentID", "cs_123")
	rec := httptest.NewRecorder()
	PaymentIntentGet(svc, logger.Nop()).ServeHTTP(rec, authed(req, uuid.New()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.lookup)
}

func TestCreditsCheckoutPassesPack(t *testing.T) {
	svc := &fakeCredits{}
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/credits/checkout", jsonBody(t, map[string]any{"usd": 20})), uuid.New())
	rec := httptest.NewRecorder()

	CreditsCheckout(svc, logger.Nop()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(20), svc.usd)
	assert.Contains(t, rec.Body.String(), `"session_id":"cs_1"`)
}

func TestListingsBrowseParsesFilters(t *testing.T) {
	svc := &fakeListings{}
	seller := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/listings?seller_id="+seller.String()+"&q=%20pikachu%20&min_price=100&max_price=5000&limit=10&cursor=abc", nil)
	rec := httptest.NewRecorder()

	ListingsBrowse(svc, logger.Nop()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, svc.filter.SellerID)
	assert.Equal(t, seller, *svc.filter.SellerID)
	assert.Equal(t, "pikachu", svc.filter.Query)
	assert.Equal(t, int64(100), *svc.filter.MinPrice)
	assert.Equal(t, int64(5000), *svc.filter.MaxPrice)
	assert.Equal(t, pagination.Params{Limit: 10, Cursor: "abc"}, svc.params)
}

func TestListingsBrowseRejectsInvertedRange(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/listings?min_price=500&max_price=100", nil)
	rec := httptest.NewRecorder()
	ListingsBrowse(&fakeListings{}, logger.Nop()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSellerListingsScopesToProfile(t *testing.T) {
	svc := &fakeListings{}
	seller := uuid.New()
	req := withParam(httptest.NewRequest(http.MethodGet, "/x", nil), "profileID", seller.String())
	rec := httptest.NewRecorder()

	SellerListings(svc, logger.Nop()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.filter.SellerID)
	assert.Equal(t, seller, *svc.filter.SellerID)
	assert.Equal(t, pagination.DefaultLimit, svc.params.Limit)
}

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	cfg := &config.Config{}
	ok := HealthReady(cfg, map[string]Pinger{"db": pinger{}, "redis": pinger{}}, logger.Nop())
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := HealthReady(cfg, map[string]Pinger{"redis": pinger{err: errors.New("refused")}}, logger.Nop())
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"dependency":"redis"`)
}

// Package payments creates and looks up Stripe payment intents for card
// purchases and direct platform charges.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	stripepkg "github.com/cardvault/marketplace-backend/pkg/stripe"
)

var hundred = decimal.NewFromInt(100)

type intentGateway interface {
	CreatePaymentIntent(ctx context.Context, tenant stripepkg.Tenant, stripeAccount string, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, tenant stripepkg.Tenant, stripeAccount, id string) (*stripe.PaymentIntent, error)
}

type transactionStore interface {
	FindTransactionByPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error)
	FindPendingTransaction(ctx context.Context, listingID, buyerID uuid.UUID) (*models.Transaction, error)
	SavePendingTransaction(ctx context.Context, txn *models.Transaction) error
}

type listingLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
}

type profileLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// Service is the server half of checkout.
type Service interface {
	CreateIntent(ctx context.Context, input CreateIntentInput) (*IntentDTO, error)
	GetIntent(ctx context.Context, userID uuid.UUID, paymentIntentID string) (*IntentStatusDTO, error)
}

type ServiceParams struct {
	Gateway            intentGateway
	Transactions       transactionStore
	Listings           listingLookup
	Profiles           profileLookup
	PlatformFeePercent string
	Currency           string
	Logger             *logger.Logger
}

type service struct {
	gateway      intentGateway
	transactions transactionStore
	listings     listingLookup
	profiles     profileLookup
	feePercent   decimal.Decimal
	currency     string
	logg         *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("stripe gateway required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transaction store required")
	}
	if params.Listings == nil {
		return nil, fmt.Errorf("listings lookup required")
	}
	if params.Profiles == nil {
		return nil, fmt.Errorf("profiles lookup required")
	}
	pct, err := decimal.NewFromString(strings.TrimSpace(params.PlatformFeePercent))
	if err != nil {
		return nil, fmt.Errorf("platform fee percent: %w", err)
	}
	if err := validatePercent(pct); err != nil {
		return nil, err
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		gateway:      params.Gateway,
		transactions: params.Transactions,
		listings:     params.Listings,
		profiles:     params.Profiles,
		feePercent:   pct,
		currency:     currency,
		logg:         logg,
	}, nil
}

// CreateIntentInput carries either a listing to buy or a bare amount.
type CreateIntentInput struct {
	BuyerID            uuid.UUID
	ListingID          *uuid.UUID
	AmountCents        *int64
	PlatformFeePercent *decimal.Decimal
}

type IntentDTO struct {
	ClientSecret    string  `json:"client_secret"`
	PaymentIntentID string  `json:"payment_intent_id"`
	StripeAccount   *string `json:"stripe_account"`
	AmountCents     int64   `json:"amount_cents"`
	FeeCents        int64   `json:"fee_cents"`
	NetCents        int64   `json:"net_cents"`
}

type IntentStatusDTO struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	AmountCents   int64   `json:"amount_cents"`
	Currency      string  `json:"currency"`
	StripeAccount *string `json:"stripe_account"`
}

// PlatformFee returns amount × percent / 100 rounded half up to whole cents.
func PlatformFee(amountCents int64, percent decimal.Decimal) int64 {
	if amountCents <= 0 {
		return 0
	}
	return decimal.NewFromInt(amountCents).Mul(percent).Div(hundred).Round(0).IntPart()
}

func (s *service) CreateIntent(ctx context.Context, input CreateIntentInput) (*IntentDTO, error) {
	if input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if (input.ListingID == nil) == (input.AmountCents == nil) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of listing_id or amount is required")
	}

	buyer, err := s.loadProfile(ctx, input.BuyerID)
	if err != nil {
		return nil, err
	}
	pct, err := s.resolvePercent(buyer, input.PlatformFeePercent)
	if err != nil {
		return nil, err
	}

	if input.ListingID == nil {
		return s.createPlatformIntent(ctx, input.BuyerID, *input.AmountCents)
	}
	return s.createListingIntent(ctx, input.BuyerID, *input.ListingID, pct)
}

// resolvePercent honors a request override only for admin callers.
func (s *service) resolvePercent(buyer *models.Profile, override *decimal.Decimal) (decimal.Decimal, error) {
	if override == nil {
		return s.feePercent, nil
	}
	if buyer == nil || !buyer.IsAdmin() {
		return decimal.Decimal{}, pkgerrors.New(pkgerrors.CodeForbidden, "platform_fee_percent override requires admin")
	}
	if err := validatePercent(*override); err != nil {
		return decimal.Decimal{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid platform_fee_percent")
	}
	return *override, nil
}

func (s *service) createPlatformIntent(ctx context.Context, buyerID uuid.UUID, amount int64) (*IntentDTO, error) {
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			stripepkg.MetaKind:   stripepkg.KindPlatformPurchase,
			stripepkg.MetaUserID: buyerID.String(),
		},
	}
	intent, err := s.gateway.CreatePaymentIntent(ctx, stripepkg.TenantPlatform, "", params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}
	return &IntentDTO{
		ClientSecret:    intent.ClientSecret,
		PaymentIntentID: intent.ID,
		AmountCents:     amount,
		NetCents:        amount,
	}, nil
}

func (s *service) createListingIntent(ctx context.Context, buyerID, listingID uuid.UUID, pct decimal.Decimal) (*IntentDTO, error) {
	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	if listing.Status != enums.ListingStatusListed || !listing.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "listing is not available")
	}
	if listing.SellerID == buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cannot buy your own listing")
	}

	seller, err := s.loadProfile(ctx, listing.SellerID)
	if err != nil {
		return nil, err
	}
	var account string
	if seller != nil {
		account = seller.ConnectedAccount()
	}
	if account == "" && (seller == nil || !seller.IsAdmin()) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "seller cannot accept payments yet")
	}

	amount := listing.PriceCents
	fee := PlatformFee(amount, pct)
	tenant := stripepkg.TenantMarketplace
	if account == "" {
		tenant = stripepkg.TenantPlatform
	}

	if reused, err := s.reusePending(ctx, tenant, listingID, buyerID, amount); err != nil {
		return nil, err
	} else if reused != nil {
		return reused, nil
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(listing.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			stripepkg.MetaKind:             stripepkg.KindMarketplaceSale,
			stripepkg.MetaListingID:        listingID.String(),
			stripepkg.MetaBuyerID:          buyerID.String(),
			stripepkg.MetaSellerID:         listing.SellerID.String(),
			stripepkg.MetaPlatformFeeCents: strconv.FormatInt(fee, 10),
		},
	}
	if account != "" {
		params.Metadata[stripepkg.MetaSellerAccount] = account
		if fee > 0 {
			params.ApplicationFeeAmount = stripe.Int64(fee)
		}
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, tenant, account, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	txn := &models.Transaction{
		ListingID:        listingID,
		BuyerID:          buyerID,
		AmountCents:      amount,
		Currency:         listing.Currency,
		StripePaymentID:  stripe.String(intent.ID),
		PlatformFeeCents: fee,
	}
	if account != "" {
		txn.SellerAcct = stripe.String(account)
	}
	if err := s.transactions.SavePendingTransaction(ctx, txn); err != nil {
		if db.IsUniqueViolation(err, "ux_transactions_listing_buyer_pending") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a checkout for this listing is already in progress")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save pending transaction")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"listing_id":        listingID.String(),
		"payment_intent_id": intent.ID,
		"tenant":            string(tenant),
	})
	s.logg.Info(logCtx, "payment intent created")

	return newIntentDTO(intent.ClientSecret, intent.ID, account, amount, fee), nil
}

// reusePending returns the buyer's open intent for the listing when it can
// still be confirmed for the same amount.
func (s *service) reusePending(ctx context.Context, tenant stripepkg.Tenant, listingID, buyerID uuid.UUID, amount int64) (*IntentDTO, error) {
	txn, err := s.transactions.FindPendingTransaction(ctx, listingID, buyerID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending transaction")
	}
	if txn.StripePaymentID == nil || *txn.StripePaymentID == "" || txn.AmountCents != amount {
		return nil, nil
	}
	account := ""
	if txn.SellerAcct != nil {
		account = *txn.SellerAcct
	}
	if (account == "") != (tenant == stripepkg.TenantPlatform) {
		return nil, nil
	}

	intent, err := s.gateway.GetPaymentIntent(ctx, tenant, account, *txn.StripePaymentID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "payment_intent_id", *txn.StripePaymentID), "pending intent lookup failed, creating a new one")
		return nil, nil
	}
	if intent.Status != stripe.PaymentIntentStatusRequiresPaymentMethod || intent.Amount != amount {
		return nil, nil
	}
	return newIntentDTO(intent.ClientSecret, intent.ID, account, amount, txn.PlatformFeeCents), nil
}

// GetIntent reports the live status of one of the caller's intents.
func (s *service) GetIntent(ctx context.Context, userID uuid.UUID, paymentIntentID string) (*IntentStatusDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if paymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}

	tenant := stripepkg.TenantPlatform
	account := ""
	txn, err := s.transactions.FindTransactionByPaymentID(ctx, paymentIntentID)
	switch {
	case err == nil:
		if txn.BuyerID != userID {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		if txn.SellerAcct != nil && *txn.SellerAcct != "" {
			tenant, account = stripepkg.TenantMarketplace, *txn.SellerAcct
		}
	case !db.IsNotFound(err):
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}

	intent, err := s.gateway.GetPaymentIntent(ctx, tenant, account, paymentIntentID)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve payment intent")
	}
	if txn == nil && !ownedBy(intent.Metadata, userID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
	}

	dto := &IntentStatusDTO{
		ID:          intent.ID,
		Status:      string(intent.Status),
		AmountCents: intent.Amount,
		Currency:    string(intent.Currency),
	}
	if account != "" {
		dto.StripeAccount = &account
	}
	return dto, nil
}

func (s *service) loadProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	profile, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}
	return profile, nil
}

func newIntentDTO(clientSecret, id, account string, amount, fee int64) *IntentDTO {
	dto := &IntentDTO{
		ClientSecret:    clientSecret,
		PaymentIntentID: id,
		AmountCents:     amount,
		FeeCents:        fee,
		NetCents:        max(0, amount-fee),
	}
	if account != "" {
		dto.StripeAccount = &account
	}
	return dto
}

func ownedBy(meta map[string]string, userID uuid.UUID) bool {
	for _, key := range []string{stripepkg.MetaUserID, stripepkg.MetaBuyerID} {
		if meta[key] == userID.String() {
			return true
		}
	}
	return false
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == 404 || stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}

func validatePercent(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("platform fee percent must be between 0 and 100")
	}
	return nil
}

// Package credits sells credit packs through hosted Stripe Checkout.
package credits

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	stripepkg "github.com/cardvault/marketplace-backend/pkg/stripe"
)

type checkoutGateway interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
}

type Service interface {
	Checkout(ctx context.Context, userID uuid.UUID, usd int64) (*CheckoutDTO, error)
}

type ServiceParams struct {
	Gateway       checkoutGateway
	CreditsPerUSD int64
	PackSizesUSD  []int64
	Currency      string
	PublicURL     string
	SuccessPath   string
	CancelPath    string
	Logger        *logger.Logger
}

type service struct {
	gateway       checkoutGateway
	creditsPerUSD int64
	packs         []int64
	currency      string
	successURL    string
	cancelURL     string
	logg          *logger.Logger
}

type CheckoutDTO struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
	Credits   int64  `json:"credits"`
}

func NewService(params ServiceParams) (Service, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("stripe gateway required")
	}
	if params.CreditsPerUSD <= 0 {
		return nil, fmt.Errorf("credits per usd must be positive")
	}
	if len(params.PackSizesUSD) == 0 {
		return nil, fmt.Errorf("at least one credit pack required")
	}
	base := strings.TrimRight(strings.TrimSpace(params.PublicURL), "/")
	if base == "" {
		return nil, fmt.Errorf("public url required")
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
		gateway:       params.Gateway,
		creditsPerUSD: params.CreditsPerUSD,
		packs:         slices.Clone(params.PackSizesUSD),
		currency:      currency,
		successURL:    base + params.SuccessPath,
		cancelURL:     base + params.CancelPath,
		logg:          logg,
	}, nil
}

// Checkout opens a hosted session for one pack. The grant happens when the
// payment webhook arrives, keyed by the session's payment intent.
func (s *service) Checkout(ctx context.Context, userID uuid.UUID, usd int64) (*CheckoutDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !slices.Contains(s.packs, usd) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usd must be one of the offered packs").
			WithDetails(map[string]any{"packs": s.packs})
	}

	credits := usd * s.creditsPerUSD
	amountCents := decimal.NewFromInt(usd).Shift(2).IntPart()
	meta := map[string]string{
		stripepkg.MetaKind:    stripepkg.KindCreditsPurchase,
		stripepkg.MetaUserID:  userID.String(),
		stripepkg.MetaUSD:     strconv.FormatInt(usd, 10),
		stripepkg.MetaCredits: strconv.FormatInt(credits, 10),
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(userID.String()),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionCreateLineItemPriceDataParams{
				Currency:   stripe.String(s.currency),
				UnitAmount: stripe.Int64(amountCents),
				ProductData: &stripe.CheckoutSessionCreateLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("%d CardVault credits", credits)),
				},
			},
		}},
		Metadata: meta,
		PaymentIntentData: &stripe.CheckoutSessionCreatePaymentIntentDataParams{
			Metadata: meta,
		},
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"session_id": session.ID,
		"usd":        usd,
	}), "credits checkout created")

	return &CheckoutDTO{URL: session.URL, SessionID: session.ID, Credits: credits}, nil
}

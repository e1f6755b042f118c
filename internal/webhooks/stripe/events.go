package stripewebhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/cardvault/marketplace-backend/pkg/enums"
	"github.com/cardvault/marketplace-backend/pkg/outbox/payloads"
	stripepkg "github.com/cardvault/marketplace-backend/pkg/stripe"
)

// ErrIncompleteMetadata marks a payment whose metadata cannot identify what
// was bought. Such events are logged and skipped.
var ErrIncompleteMetadata = errors.New("incomplete payment metadata")

// Event is the closed set of webhook events the reconciler understands.
type Event interface {
	isEvent()
}

type MarketplaceSaleSucceeded payloads.MarketplaceSale

type CreditsPurchaseSucceeded payloads.CreditsPurchase

type AccountStatusChanged payloads.AccountStatus

// Unhandled is any delivery that needs no reconciliation.
type Unhandled struct {
	EventType string
	Reason    string
}

func (MarketplaceSaleSucceeded) isEvent() {}
func (CreditsPurchaseSucceeded) isEvent() {}
func (AccountStatusChanged) isEvent()     {}
func (Unhandled) isEvent()                {}

// Net is the seller's share, never negative.
func (e MarketplaceSaleSucceeded) Net() int64 {
	return max(0, e.GrossCents-e.FeeCents)
}

// Verified reports seller readiness: charges and payouts enabled with nothing due.
func (e AccountStatusChanged) Verified() bool {
	return stripepkg.SellerReady(e.ChargesEnabled, e.PayoutsEnabled, e.CurrentlyDue)
}

// outboxRecord maps a variant to its outbox event type and payload. Unhandled
// has no record.
func outboxRecord(ev Event) (enums.OutboxEventType, any, bool) {
	switch e := ev.(type) {
	case MarketplaceSaleSucceeded:
		return enums.EventMarketplaceSaleSucceeded, payloads.MarketplaceSale(e), true
	case CreditsPurchaseSucceeded:
		return enums.EventCreditsPurchaseSucceeded, payloads.CreditsPurchase(e), true
	case AccountStatusChanged:
		return enums.EventAccountStatusChanged, payloads.AccountStatus(e), true
	default:
		return "", nil, false
	}
}

// FromPayload rebuilds a variant from a payload decoded out of the outbox.
func FromPayload(payload any) (Event, error) {
	switch p := payload.(type) {
	case *payloads.MarketplaceSale:
		return MarketplaceSaleSucceeded(*p), nil
	case *payloads.CreditsPurchase:
		return CreditsPurchaseSucceeded(*p), nil
	case *payloads.AccountStatus:
		return AccountStatusChanged(*p), nil
	default:
		return nil, fmt.Errorf("unsupported payload %T", payload)
	}
}

// Decoder turns verified Stripe events into Event values.
type Decoder struct {
	CreditsPerUSD int64
}

func (d Decoder) Decode(event stripe.Event) (Event, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		return d.paymentSucceeded(event, &pi)

	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		paymentKey := session.ID
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			paymentKey = session.PaymentIntent.ID
		}
		meta := session.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		if meta[stripepkg.MetaUserID] == "" && session.ClientReferenceID != "" {
			meta[stripepkg.MetaUserID] = session.ClientReferenceID
		}
		return d.creditsPurchase(paymentKey, meta, session.AmountTotal)

	case stripe.EventTypeAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &acct); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		return accountStatus(&acct), nil

	case stripe.EventTypeCapabilityUpdated:
		var capability stripe.Capability
		if err := json.Unmarshal(event.Data.Raw, &capability); err != nil {
			return nil, fmt.Errorf("decode capability: %w", err)
		}
		accountID := event.Account
		if capability.Account != nil && capability.Account.ID != "" {
			accountID = capability.Account.ID
		}
		if accountID == "" {
			return Unhandled{EventType: string(event.Type), Reason: "capability without account"}, nil
		}
		return AccountStatusChanged{AccountID: accountID, Refresh: true}, nil

	default:
		return Unhandled{EventType: string(event.Type), Reason: "event type not reconciled"}, nil
	}
}

func (d Decoder) paymentSucceeded(event stripe.Event, pi *stripe.PaymentIntent) (Event, error) {
	meta := pi.Metadata
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}

	switch meta[stripepkg.MetaKind] {
	case stripepkg.KindCreditsPurchase:
		return d.creditsPurchase(pi.ID, meta, amount)
	case stripepkg.KindPlatformPurchase:
		return Unhandled{EventType: string(event.Type), Reason: "platform purchase"}, nil
	}

	rawListing, rawBuyer := meta[stripepkg.MetaListingID], meta[stripepkg.MetaBuyerID]
	if meta[stripepkg.MetaKind] == "" && rawListing == "" && rawBuyer == "" {
		return Unhandled{EventType: string(event.Type), Reason: "no marketplace metadata"}, nil
	}
	listingID, err := metaUUID(meta, stripepkg.MetaListingID)
	if err != nil {
		return nil, err
	}
	buyerID, err := metaUUID(meta, stripepkg.MetaBuyerID)
	if err != nil {
		return nil, err
	}

	sale := MarketplaceSaleSucceeded{
		PaymentIntentID: pi.ID,
		ListingID:       listingID,
		BuyerID:         buyerID,
		SellerAccountID: meta[stripepkg.MetaSellerAccount],
		GrossCents:      amount,
		FeeCents:        pi.ApplicationFeeAmount,
		Currency:        strings.ToLower(string(pi.Currency)),
	}
	if sale.SellerAccountID == "" {
		sale.SellerAccountID = event.Account
	}
	if sellerID, err := metaUUID(meta, stripepkg.MetaSellerID); err == nil {
		sale.SellerID = &sellerID
	}
	if sale.FeeCents == 0 {
		if raw := meta[stripepkg.MetaPlatformFeeCents]; raw != "" {
			fee, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || fee < 0 {
				return nil, fmt.Errorf("%w: %s %q", ErrIncompleteMetadata, stripepkg.MetaPlatformFeeCents, raw)
			}
			sale.FeeCents = fee
		}
	}
	return sale, nil
}

// creditsPurchase prefers the credits recorded at checkout and falls back to
// usd x CreditsPerUSD.
func (d Decoder) creditsPurchase(paymentKey string, meta map[string]string, amountCents int64) (Event, error) {
	if paymentKey == "" {
		return nil, fmt.Errorf("%w: payment id", ErrIncompleteMetadata)
	}
	userID, err := metaUUID(meta, stripepkg.MetaUserID)
	if err != nil {
		return nil, err
	}

	usd := amountCents / 100
	if raw := meta[stripepkg.MetaUSD]; raw != "" {
		usd, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q", ErrIncompleteMetadata, stripepkg.MetaUSD, raw)
		}
	}

	credits := usd * d.CreditsPerUSD
	if raw := meta[stripepkg.MetaCredits]; raw != "" {
		credits, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s %q", ErrIncompleteMetadata, stripepkg.MetaCredits, raw)
		}
	}
	if credits <= 0 {
		return nil, fmt.Errorf("%w: no credits to grant", ErrIncompleteMetadata)
	}

	if amountCents == 0 {
		amountCents = usd * 100
	}
	return CreditsPurchaseSucceeded{
		PaymentIntentID: paymentKey,
		UserID:          userID,
		USD:             usd,
		Credits:         credits,
		AmountCents:     amountCents,
	}, nil
}

func accountStatus(acct *stripe.Account) AccountStatusChanged {
	status := AccountStatusChanged{
		AccountID:      acct.ID,
		ChargesEnabled: acct.ChargesEnabled,
		PayoutsEnabled: acct.PayoutsEnabled,
		CurrentlyDue:   []string{},
	}
	if acct.Requirements != nil && len(acct.Requirements.CurrentlyDue) > 0 {
		status.CurrentlyDue = append(status.CurrentlyDue, acct.Requirements.CurrentlyDue...)
	}
	if raw := acct.Metadata[stripepkg.MetaUserID]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil && id != uuid.Nil {
			status.UserID = &id
		}
	}
	return status
}

func metaUUID(meta map[string]string, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(meta[key])
	if raw == "" {
		return uuid.Nil, fmt.Errorf("%w: %s missing", ErrIncompleteMetadata, key)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q", ErrIncompleteMetadata, key, raw)
	}
	return id, nil
}

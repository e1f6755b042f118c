package payloads

import "github.com/google/uuid"

// MarketplaceSale is a succeeded peer-to-peer card purchase.
type MarketplaceSale struct {
	PaymentIntentID string     `json:"payment_intent_id"`
	ListingID       uuid.UUID  `json:"listing_id"`
	BuyerID         uuid.UUID  `json:"buyer_id"`
	SellerID        *uuid.UUID `json:"seller_id,omitempty"`
	SellerAccountID string     `json:"seller_account_id,omitempty"`
	GrossCents      int64      `json:"gross_cents"`
	FeeCents        int64      `json:"fee_cents"`
	Currency        string     `json:"currency"`
}

// CreditsPurchase is a paid credits pack.
type CreditsPurchase struct {
	PaymentIntentID string    `json:"payment_intent_id"`
	UserID          uuid.UUID `json:"user_id"`
	USD             int64     `json:"usd"`
	Credits         int64     `json:"credits"`
	AmountCents     int64     `json:"amount_cents"`
}

// AccountStatus is a connected account's capability snapshot. Refresh means
// the snapshot is partial and the account must be re-fetched.
type AccountStatus struct {
	AccountID      string     `json:"account_id"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	ChargesEnabled bool       `json:"charges_enabled"`
	PayoutsEnabled bool       `json:"payouts_enabled"`
	CurrentlyDue   []string   `json:"currently_due"`
	Refresh        bool       `json:"refresh"`
}

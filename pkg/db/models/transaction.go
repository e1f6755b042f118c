package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/pkg/enums"
)

// Transaction is one buyer's attempt to purchase a listing.
type Transaction struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	ListingID        uuid.UUID               `gorm:"column:listing_id;type:uuid;not null"`
	BuyerID          uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null"`
	AmountCents      int64                   `gorm:"column:amount_cents;not null"`
	Currency         string                  `gorm:"column:currency;not null"`
	StripePaymentID  *string                 `gorm:"column:stripe_payment_id"`
	SellerAcct       *string                 `gorm:"column:seller_acct"`
	PlatformFeeCents int64                   `gorm:"column:platform_fee_cents;not null"`
	Status           enums.TransactionStatus `gorm:"column:status;type:text;not null"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

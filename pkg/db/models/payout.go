package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/pkg/enums"
)

// Payout is a queued transfer to a seller's connected account.
type Payout struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ListingID       uuid.UUID          `gorm:"column:listing_id;type:uuid;not null;uniqueIndex"`
	StripeAccountID string             `gorm:"column:stripe_account_id;not null"`
	AmountCents     int64              `gorm:"column:amount_cents;not null"`
	ScheduledAt     time.Time          `gorm:"column:scheduled_at;not null"`
	Status          enums.PayoutStatus `gorm:"column:status;type:text;not null"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (p *Payout) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// CreditsLedgerEntry is an append-only record of a credits grant.
type CreditsLedgerEntry struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	UserID        uuid.UUID           `gorm:"column:user_id;type:uuid;not null"`
	PaymentIntent string              `gorm:"column:payment_intent;not null;uniqueIndex"`
	AmountCents   int64               `gorm:"column:amount_cents;not null"`
	Credits       int64               `gorm:"column:credits;not null"`
	Reason        enums.CreditsReason `gorm:"column:reason;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (CreditsLedgerEntry) TableName() string { return "credits_ledger" }

func (c *CreditsLedgerEntry) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

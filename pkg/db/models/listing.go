package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/pkg/enums"
)

// Listing offers one asset or uploaded image for sale.
type Listing struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	SellerID   uuid.UUID               `gorm:"column:seller_id;type:uuid;not null"`
	SourceType enums.ListingSourceType `gorm:"column:source_type;type:text;not null"`
	SourceID   uuid.UUID               `gorm:"column:source_id;type:uuid;not null"`
	Title      string                  `gorm:"column:title;not null"`
	ImageURL   *string                 `gorm:"column:image_url"`
	PriceCents int64                   `gorm:"column:price_cents;not null"`
	Currency   string                  `gorm:"column:currency;not null"`
	Status     enums.ListingStatus     `gorm:"column:status;type:text;not null"`
	IsActive   bool                    `gorm:"column:is_active;not null"`
	BuyerID    *uuid.UUID              `gorm:"column:buyer_id;type:uuid"`
	SoldAt     *time.Time              `gorm:"column:sold_at"`
	CreatedAt  time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *Listing) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

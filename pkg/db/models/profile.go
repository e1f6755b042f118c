package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cardvault/marketplace-backend/pkg/enums"
)

// Profile mirrors the auth provider's user id; rows are created on first sign-in.
type Profile struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	DisplayName     *string           `gorm:"column:display_name"`
	AvatarURL       *string           `gorm:"column:avatar_url"`
	StripeAccountID *string           `gorm:"column:stripe_account_id"`
	StripeVerified  bool              `gorm:"column:stripe_verified;not null"`
	Credits         int64             `gorm:"column:credits;not null"`
	Role            enums.ProfileRole `gorm:"column:role;type:text;not null"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (p Profile) IsAdmin() bool {
	return p.Role == enums.ProfileRoleAdmin
}

// ConnectedAccount returns the seller's Stripe account id, or "" when unset.
func (p Profile) ConnectedAccount() string {
	if p.StripeAccountID == nil {
		return ""
	}
	return *p.StripeAccountID
}

package profiles

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardvault/marketplace-backend/internal/repo"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
)

// Repository persists profile rows keyed by the auth provider's user id.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	Ensure(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	IncrementCredits(ctx context.Context, id uuid.UUID, delta int64) (int64, error)
	SetStripeAccount(ctx context.Context, id uuid.UUID, accountID string) error
	UpdateVerificationByUser(ctx context.Context, id uuid.UUID, accountID string, verified bool) (int64, error)
	UpdateVerificationByAccount(ctx context.Context, accountID string, verified bool) (int64, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	if err := r.DB(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

// Ensure returns the profile for id, creating a default row on first sight.
func (r *repository) Ensure(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	profile := models.Profile{ID: id, Role: enums.ProfileRoleUser}
	if err := r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&profile).Error; err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

// IncrementCredits adds delta server-side; zero rows means the profile is missing.
func (r *repository) IncrementCredits(ctx context.Context, id uuid.UUID, delta int64) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Profile{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"credits":    gorm.Expr("credits + ?", delta),
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) SetStripeAccount(ctx context.Context, id uuid.UUID, accountID string) error {
	return r.DB(ctx).
		Model(&models.Profile{}).
		Where("id = ?", id).
		Updates(map[string]any{"stripe_account_id": accountID, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) UpdateVerificationByUser(ctx context.Context, id uuid.UUID, accountID string, verified bool) (int64, error) {
	updates := map[string]any{"stripe_verified": verified, "updated_at": time.Now().UTC()}
	if accountID != "" {
		updates["stripe_account_id"] = accountID
	}
	res := r.DB(ctx).Model(&models.Profile{}).Where("id = ?", id).Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *repository) UpdateVerificationByAccount(ctx context.Context, accountID string, verified bool) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Profile{}).
		Where("stripe_account_id = ?", accountID).
		Updates(map[string]any{"stripe_verified": verified, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

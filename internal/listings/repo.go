package listings

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/internal/repo"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	"github.com/cardvault/marketplace-backend/pkg/pagination"
)

// BrowseFilter narrows the public catalogue. Zero values are ignored.
type BrowseFilter struct {
	SellerID *uuid.UUID
	Query    string
	MinPrice *int64
	MaxPrice *int64
}

// Repository persists listings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, listing *models.Listing) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	Browse(ctx context.Context, filter BrowseFilter, cursor *pagination.Cursor, limit int) ([]models.Listing, error)
	Cancel(ctx context.Context, listingID, sellerID uuid.UUID, at time.Time) (int64, error)
	MarkSold(ctx context.Context, listingID, buyerID uuid.UUID, at time.Time) (int64, error)
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

func (r *repository) Create(ctx context.Context, listing *models.Listing) error {
	return r.DB(ctx).Create(listing).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := r.DB(ctx).Where("id = ?", id).First(&listing).Error; err != nil {
		return nil, err
	}
	return &listing, nil
}

// Browse returns active listings newest first.
func (r *repository) Browse(ctx context.Context, filter BrowseFilter, cursor *pagination.Cursor, limit int) ([]models.Listing, error) {
	q := r.DB(ctx).
		Model(&models.Listing{}).
		Where("status = ? AND is_active = ?", enums.ListingStatusListed, true)

	if filter.SellerID != nil {
		q = q.Where("seller_id = ?", *filter.SellerID)
	}
	if term := strings.TrimSpace(filter.Query); term != "" {
		q = q.Where(`LOWER(title) LIKE ? ESCAPE '\'`, "%"+escapeLike(strings.ToLower(term))+"%")
	}
	if filter.MinPrice != nil {
		q = q.Where("price_cents >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		q = q.Where("price_cents <= ?", *filter.MaxPrice)
	}
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Listing
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Cancel moves a listed row owned by sellerID to inactive.
func (r *repository) Cancel(ctx context.Context, listingID, sellerID uuid.UUID, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND seller_id = ? AND status = ?", listingID, sellerID, enums.ListingStatusListed).
		Updates(map[string]any{
			"status":     enums.ListingStatusInactive,
			"is_active":  false,
			"updated_at": at,
		})
	return res.RowsAffected, res.Error
}

// MarkSold closes a listing for buyerID. A captured payment wins over a
// seller cancel, so inactive rows move too; replays report zero rows.
func (r *repository) MarkSold(ctx context.Context, listingID, buyerID uuid.UUID, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Listing{}).
		Where("id = ? AND status <> ?", listingID, enums.ListingStatusSold).
		Updates(map[string]any{
			"status":     enums.ListingStatusSold,
			"is_active":  false,
			"buyer_id":   buyerID,
			"sold_at":    at,
			"updated_at": at,
		})
	return res.RowsAffected, res.Error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

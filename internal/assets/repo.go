package assets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/internal/repo"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	"github.com/cardvault/marketplace-backend/pkg/pagination"
)

// Repository persists assets and the uploaded images that back some of them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, asset *models.Asset) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	FindByUploadedImage(ctx context.Context, imageID uuid.UUID) (*models.Asset, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Asset, error)
	TransferByID(ctx context.Context, assetID, ownerID uuid.UUID) (int64, error)
	TransferByUploadedImage(ctx context.Context, imageID, ownerID uuid.UUID) (int64, error)

	CreateUpload(ctx context.Context, upload *models.UploadedImage) error
	FindUpload(ctx context.Context, id uuid.UUID) (*models.UploadedImage, error)
	MarkUploaded(ctx context.Context, id uuid.UUID) (int64, error)
	DeleteUpload(ctx context.Context, id uuid.UUID) error
	ListPendingUploadsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadedImage, error)
	DeletePendingUpload(ctx context.Context, id uuid.UUID) (int64, error)
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

func (r *repository) Create(ctx context.Context, asset *models.Asset) error {
	return r.DB(ctx).Create(asset).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	if err := r.DB(ctx).Where("id = ?", id).First(&asset).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *repository) FindByUploadedImage(ctx context.Context, imageID uuid.UUID) (*models.Asset, error) {
	var asset models.Asset
	err := r.DB(ctx).
		Where("source_type = ? AND source_id = ?", enums.AssetSourceUploadedImage, imageID).
		First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *repository) ListByOwner(ctx context.Context, ownerID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Asset, error) {
	q := r.DB(ctx).Where("owner_id = ?", ownerID)
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.Asset
	err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *repository) TransferByID(ctx context.Context, assetID, ownerID uuid.UUID) (int64, error) {
	return r.transfer(ctx, ownerID, "id = ?", assetID)
}

// TransferByUploadedImage reassigns the asset minted from a legacy uploaded image.
func (r *repository) TransferByUploadedImage(ctx context.Context, imageID, ownerID uuid.UUID) (int64, error) {
	return r.transfer(ctx, ownerID, "source_type = ? AND source_id = ?", enums.AssetSourceUploadedImage, imageID)
}

func (r *repository) transfer(ctx context.Context, ownerID uuid.UUID, query string, args ...any) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Asset{}).
		Where(query, args...).
		Updates(map[string]any{"owner_id": ownerID, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

func (r *repository) CreateUpload(ctx context.Context, upload *models.UploadedImage) error {
	return r.DB(ctx).Create(upload).Error
}

func (r *repository) FindUpload(ctx context.Context, id uuid.UUID) (*models.UploadedImage, error) {
	var upload models.UploadedImage
	if err := r.DB(ctx).Where("id = ?", id).First(&upload).Error; err != nil {
		return nil, err
	}
	return &upload, nil
}

func (r *repository) MarkUploaded(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.DB(ctx).
		Model(&models.UploadedImage{}).
		Where("id = ? AND status = ?", id, enums.UploadStatusPending).
		Update("status", enums.UploadStatusUploaded)
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteUpload(ctx context.Context, id uuid.UUID) error {
	return r.DB(ctx).Where("id = ?", id).Delete(&models.UploadedImage{}).Error
}

// ListPendingUploadsBefore returns presigned uploads that were never finalized.
func (r *repository) ListPendingUploadsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadedImage, error) {
	var rows []models.UploadedImage
	err := r.DB(ctx).
		Where("status = ? AND created_at < ?", enums.UploadStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeletePendingUpload removes the row only while it is still pending, so an
// upload finalized in the meantime survives.
func (r *repository) DeletePendingUpload(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.DB(ctx).
		Where("id = ? AND status = ?", id, enums.UploadStatusPending).
		Delete(&models.UploadedImage{})
	return res.RowsAffected, res.Error
}

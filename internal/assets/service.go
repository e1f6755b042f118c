package assets

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	"github.com/cardvault/marketplace-backend/pkg/pagination"
)

var allowedMimeTypes = map[string]struct{}{
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
	"image/gif":  {},
}

type objectStore interface {
	SignedURL(bucket, object, contentType string, expires time.Duration) (string, error)
	ObjectExists(ctx context.Context, bucket, object string) (bool, error)
	PublicURL(bucket, object string) string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service covers card image uploads and the caller's asset collection.
type Service interface {
	PresignUpload(ctx context.Context, userID uuid.UUID, input PresignInput) (*PresignOutput, error)
	FinalizeUpload(ctx context.Context, userID, uploadID uuid.UUID) (*AssetDTO, error)
	ListOwned(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (*ListResult, error)
}

type ServiceParams struct {
	Repo      Repository
	Tx        txRunner
	Store     objectStore
	Bucket    string
	UploadTTL time.Duration
	MaxBytes  int64
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	tx        txRunner
	store     objectStore
	bucket    string
	uploadTTL time.Duration
	maxBytes  int64
	logg      *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("assets repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("object store required")
	}
	if params.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket required")
	}
	if params.UploadTTL <= 0 {
		return nil, fmt.Errorf("upload ttl must be positive")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		store:     params.Store,
		bucket:    params.Bucket,
		uploadTTL: params.UploadTTL,
		maxBytes:  params.MaxBytes,
		logg:      logg,
	}, nil
}

type PresignInput struct {
	FileName  string
	MimeType  string
	SizeBytes int64
}

type PresignOutput struct {
	UploadID     uuid.UUID `json:"upload_id"`
	GCSKey       string    `json:"gcs_key"`
	SignedPUTURL string    `json:"signed_put_url"`
	ContentType  string    `json:"content_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type AssetDTO struct {
	ID         uuid.UUID             `json:"id"`
	OwnerID    uuid.UUID             `json:"owner_id"`
	SourceType enums.AssetSourceType `json:"source_type"`
	SourceID   *uuid.UUID            `json:"source_id"`
	Name       string                `json:"name"`
	ImageURL   *string               `json:"image_url"`
	CreatedAt  time.Time             `json:"created_at"`
}

type ListResult struct {
	Items  []AssetDTO `json:"items"`
	Cursor string     `json:"cursor"`
}

func (s *service) PresignUpload(ctx context.Context, userID uuid.UUID, input PresignInput) (*PresignOutput, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	fileName := sanitizeFileName(input.FileName)
	if fileName == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "file_name is required")
	}
	mimeType := strings.ToLower(strings.TrimSpace(input.MimeType))
	if _, ok := allowedMimeTypes[mimeType]; !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mime_type must be png, jpeg, webp or gif")
	}
	if input.SizeBytes <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "size_bytes must be positive")
	}
	if s.maxBytes > 0 && input.SizeBytes > s.maxBytes {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "size_bytes must be at most %d", s.maxBytes)
	}

	uploadID := uuid.New()
	upload := &models.UploadedImage{
		ID:       uploadID,
		UserID:   userID,
		GCSKey:   fmt.Sprintf("uploads/%s/%s/%s", userID, uploadID, fileName),
		MimeType: mimeType,
		FileName: fileName,
		Status:   enums.UploadStatusPending,
	}
	if err := s.repo.CreateUpload(ctx, upload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist upload row")
	}

	signed, err := s.store.SignedURL(s.bucket, upload.GCSKey, mimeType, s.uploadTTL)
	if err != nil {
		if delErr := s.repo.DeleteUpload(context.WithoutCancel(ctx), uploadID); delErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "upload_id", uploadID.String()), "release upload row", delErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign upload url")
	}

	return &PresignOutput{
		UploadID:     uploadID,
		GCSKey:       upload.GCSKey,
		SignedPUTURL: signed,
		ContentType:  mimeType,
		ExpiresAt:    time.Now().UTC().Add(s.uploadTTL),
	}, nil
}

// FinalizeUpload confirms the object landed in the bucket and mints the
// caller's asset for it. Finalizing twice returns the same asset.
func (s *service) FinalizeUpload(ctx context.Context, userID, uploadID uuid.UUID) (*AssetDTO, error) {
	upload, err := s.repo.FindUpload(ctx, uploadID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "upload not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load upload")
	}
	if upload.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "upload not found")
	}

	if upload.Status == enums.UploadStatusUploaded {
		existing, err := s.repo.FindByUploadedImage(ctx, uploadID)
		if err == nil {
			return toDTO(*existing), nil
		}
		if !db.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load asset")
		}
	}

	exists, err := s.store.ObjectExists(ctx, s.bucket, upload.GCSKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check uploaded object")
	}
	if !exists {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "object has not been uploaded yet")
	}

	imageURL := s.store.PublicURL(s.bucket, upload.GCSKey)
	sourceID := upload.ID
	asset := &models.Asset{
		OwnerID:    userID,
		SourceType: enums.AssetSourceUploadedImage,
		SourceID:   &sourceID,
		Name:       strings.TrimSuffix(upload.FileName, path.Ext(upload.FileName)),
		ImageURL:   &imageURL,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.MarkUploaded(ctx, upload.ID); err != nil {
			return err
		}
		return repo.Create(ctx, asset)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "upload already finalized")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize upload")
	}
	return toDTO(*asset), nil
}

func (s *service) ListOwned(ctx context.Context, ownerID uuid.UUID, params pagination.Params) (*ListResult, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListByOwner(ctx, ownerID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assets")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(a models.Asset) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})

	items := make([]AssetDTO, len(rows))
	for i, row := range rows {
		items[i] = *toDTO(row)
	}
	return &ListResult{Items: items, Cursor: next}, nil
}

func toDTO(a models.Asset) *AssetDTO {
	return &AssetDTO{
		ID:         a.ID,
		OwnerID:    a.OwnerID,
		SourceType: a.SourceType,
		SourceID:   a.SourceID,
		Name:       a.Name,
		ImageURL:   a.ImageURL,
		CreatedAt:  a.CreatedAt,
	}
}

func sanitizeFileName(name string) string {
	clean := path.Base(strings.TrimSpace(name))
	if clean == "." || clean == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range clean {
		switch {
		case r == '\\' || unicode.IsControl(r):
		case unicode.IsSpace(r):
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-_.")
}

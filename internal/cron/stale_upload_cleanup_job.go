package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

const (
	StaleUploadCleanupJobName = "stale-upload-cleanup"
	defaultStaleUploadAge     = 72 * time.Hour
	defaultStaleUploadBatch   = 200
)

type staleUploadRepo interface {
	ListPendingUploadsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.UploadedImage, error)
	DeletePendingUpload(ctx context.Context, id uuid.UUID) (int64, error)
}

type objectRemover interface {
	DeleteObject(ctx context.Context, bucket, object string) error
}

type StaleUploadCleanupParams struct {
	Logger    *logger.Logger
	Uploads   staleUploadRepo
	Objects   objectRemover
	Bucket    string
	MaxAge    time.Duration
	BatchSize int
	Now       func() time.Time
}

// StaleUploadCleanupJob drops presigned uploads that were never finalized,
// along with whatever bytes the client managed to PUT.
type StaleUploadCleanupJob struct {
	logg      *logger.Logger
	uploads   staleUploadRepo
	objects   objectRemover
	bucket    string
	maxAge    time.Duration
	batchSize int
	now       func() time.Time
}

func NewStaleUploadCleanupJob(params StaleUploadCleanupParams) (*StaleUploadCleanupJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Uploads == nil {
		return nil, fmt.Errorf("upload repository required")
	}
	if params.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultStaleUploadAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultStaleUploadBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &StaleUploadCleanupJob{
		logg:      params.Logger,
		uploads:   params.Uploads,
		objects:   params.Objects,
		bucket:    params.Bucket,
		maxAge:    maxAge,
		batchSize: batch,
		now:       now,
	}, nil
}

func (j *StaleUploadCleanupJob) Name() string { return StaleUploadCleanupJobName }

// Run deletes the row before the object: a row finalized concurrently is
// kept, and a failed object delete only leaves an orphaned blob behind.
func (j *StaleUploadCleanupJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	rows, err := j.uploads.ListPendingUploadsBefore(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale uploads: %w", err)
	}

	var (
		errs    error
		removed int
	)
	for _, upload := range rows {
		n, err := j.uploads.DeletePendingUpload(ctx, upload.ID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete upload %s: %w", upload.ID, err))
			continue
		}
		if n == 0 {
			continue
		}
		removed++
		if err := j.objects.DeleteObject(ctx, j.bucket, upload.GCSKey); err != nil {
			j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
				"upload_id": upload.ID.String(),
				"gcs_key":   upload.GCSKey,
				"error":     err.Error(),
			}), "stale upload object not deleted")
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(rows),
		"removed":    removed,
	}), "stale uploads cleaned")
	return errs
}

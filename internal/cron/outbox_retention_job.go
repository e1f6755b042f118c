package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/pkg/logger"
)

const OutboxRetentionJobName = "outbox-retention"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type OutboxRetentionParams struct {
	Logger *logger.Logger
	DB     txRunner
	Outbox outboxPruner
	// Retention is how long published and parked rows are kept.
	Retention time.Duration
	// ParkedAttempts is the attempt count at which the publisher parks a row.
	ParkedAttempts int
	Now            func() time.Time
}

// OutboxRetentionJob prunes delivered webhook events and rows already copied
// to the DLQ.
type OutboxRetentionJob struct {
	logg           *logger.Logger
	db             txRunner
	outbox         outboxPruner
	retention      time.Duration
	parkedAttempts int
	now            func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionParams) (*OutboxRetentionJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if params.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	if params.ParkedAttempts <= 0 {
		return nil, fmt.Errorf("parked attempts must be positive")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &OutboxRetentionJob{
		logg:           params.Logger,
		db:             params.DB,
		outbox:         params.Outbox,
		retention:      params.Retention,
		parkedAttempts: params.ParkedAttempts,
		now:            now,
	}, nil
}

func (j *OutboxRetentionJob) Name() string { return OutboxRetentionJobName }

func (j *OutboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := j.outbox.DeletePublishedBefore(ctx, tx, cutoff, j.parkedAttempts)
		deleted = n
		return err
	})
	if err != nil {
		return fmt.Errorf("prune outbox: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"deleted": deleted,
	}), "outbox pruned")
	return nil
}

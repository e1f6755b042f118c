package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/cardvault/marketplace-backend/internal/ledger"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

const ReconciliationSweepJobName = "reconciliation-sweep"

type sweepLedger interface {
	ListSoldWithoutCompletion(ctx context.Context, before time.Time, limit int) ([]ledger.SweepCandidate, error)
	ListCompletedWithUnsoldListing(ctx context.Context, before time.Time, limit int) ([]ledger.SweepCandidate, error)
	CompleteTransaction(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)
}

type sweepListings interface {
	MarkSold(ctx context.Context, listingID, buyerID uuid.UUID, at time.Time) (int64, error)
}

type ReconciliationSweepParams struct {
	Logger    *logger.Logger
	Ledger    sweepLedger
	Listings  sweepListings
	BatchSize int
	// MinAge leaves recent rows to the webhook consumer.
	MinAge time.Duration
	Now    func() time.Time
}

// ReconciliationSweepJob repairs listing/transaction skew left behind when a
// best-effort sale step failed: sold listings whose buyer's transaction is
// still pending, and completed transactions whose listing never closed.
type ReconciliationSweepJob struct {
	logg      *logger.Logger
	ledger    sweepLedger
	listings  sweepListings
	batchSize int
	minAge    time.Duration
	now       func() time.Time
}

// SweepResult counts rows repaired in one run.
type SweepResult struct {
	TransactionsCompleted int
	ListingsClosed        int
}

func NewReconciliationSweepJob(params ReconciliationSweepParams) (*ReconciliationSweepJob, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Listings == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	if params.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if params.MinAge < 0 {
		return nil, fmt.Errorf("min age must not be negative")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &ReconciliationSweepJob{
		logg:      params.Logger,
		ledger:    params.Ledger,
		listings:  params.Listings,
		batchSize: params.BatchSize,
		minAge:    params.MinAge,
		now:       now,
	}, nil
}

func (j *ReconciliationSweepJob) Name() string { return ReconciliationSweepJobName }

func (j *ReconciliationSweepJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep runs both repairs. A failing row does not stop the rest of the batch.
func (j *ReconciliationSweepJob) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		result SweepResult
		errs   error
	)
	now := j.now().UTC()
	before := now.Add(-j.minAge)

	pending, err := j.ledger.ListSoldWithoutCompletion(ctx, before, j.batchSize)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list sold listings with pending transactions: %w", err))
	}
	for _, c := range pending {
		rows, err := j.ledger.CompleteTransaction(ctx, c.TransactionID, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("complete transaction %s: %w", c.TransactionID, err))
			continue
		}
		if rows > 0 {
			result.TransactionsCompleted++
			j.logRepair(ctx, "transaction completed for sold listing", c)
		}
	}

	unsold, err := j.ledger.ListCompletedWithUnsoldListing(ctx, before, j.batchSize)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list completed transactions with open listings: %w", err))
	}
	for _, c := range unsold {
		rows, err := j.listings.MarkSold(ctx, c.ListingID, c.BuyerID, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("mark listing %s sold: %w", c.ListingID, err))
			continue
		}
		if rows > 0 {
			result.ListingsClosed++
			j.logRepair(ctx, "listing marked sold for completed transaction", c)
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"transactions_completed": result.TransactionsCompleted,
		"listings_closed":        result.ListingsClosed,
	}), "reconciliation sweep finished")
	return result, errs
}

func (j *ReconciliationSweepJob) logRepair(ctx context.Context, msg string, c ledger.SweepCandidate) {
	j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
		"listing_id":     c.ListingID.String(),
		"transaction_id": c.TransactionID.String(),
		"buyer_id":       c.BuyerID.String(),
	}), msg)
}

package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardvault/marketplace-backend/internal/repo"
	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
)

// Repository persists the money side of the marketplace: purchase
// transactions, queued payouts and the credits ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindTransactionByPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error)
	FindPendingTransaction(ctx context.Context, listingID, buyerID uuid.UUID) (*models.Transaction, error)
	SavePendingTransaction(ctx context.Context, txn *models.Transaction) error
	CompleteByPaymentID(ctx context.Context, paymentID string, at time.Time) (int64, error)
	CompletePending(ctx context.Context, listingID, buyerID uuid.UUID, paymentID string, at time.Time) (int64, error)
	CompleteTransaction(ctx context.Context, id uuid.UUID, at time.Time) (int64, error)

	InsertPayout(ctx context.Context, payout *models.Payout) (bool, error)
	InsertCreditsEntry(ctx context.Context, entry *models.CreditsLedgerEntry) (bool, error)

	ListSoldWithoutCompletion(ctx context.Context, before time.Time, limit int) ([]SweepCandidate, error)
	ListCompletedWithUnsoldListing(ctx context.Context, before time.Time, limit int) ([]SweepCandidate, error)
}

// SweepCandidate pairs a listing with the transaction that should agree with it.
type SweepCandidate struct {
	ListingID     uuid.UUID
	TransactionID uuid.UUID
	BuyerID       uuid.UUID
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

func (r *repository) FindTransactionByPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.DB(ctx).Where("stripe_payment_id = ?", paymentID).Order("created_at DESC").First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindPendingTransaction(ctx context.Context, listingID, buyerID uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.DB(ctx).
		Where("listing_id = ? AND buyer_id = ? AND status = ?", listingID, buyerID, enums.TransactionStatusPending).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// SavePendingTransaction inserts the pending row for (listing, buyer) or, when
// one exists, rewrites its amount, fee, account and payment id in place.
func (r *repository) SavePendingTransaction(ctx context.Context, txn *models.Transaction) error {
	txn.Status = enums.TransactionStatusPending
	existing, err := r.FindPendingTransaction(ctx, txn.ListingID, txn.BuyerID)
	if err != nil && !db.IsNotFound(err) {
		return err
	}
	if existing == nil {
		return r.DB(ctx).Create(txn).Error
	}

	txn.ID = existing.ID
	txn.CreatedAt = existing.CreatedAt
	return r.DB(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", existing.ID, enums.TransactionStatusPending).
		Updates(map[string]any{
			"amount_cents":       txn.AmountCents,
			"currency":           txn.Currency,
			"stripe_payment_id":  txn.StripePaymentID,
			"seller_acct":        txn.SellerAcct,
			"platform_fee_cents": txn.PlatformFeeCents,
			"updated_at":         time.Now().UTC(),
		}).Error
}

func (r *repository) CompleteByPaymentID(ctx context.Context, paymentID string, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Transaction{}).
		Where("stripe_payment_id = ? AND status = ?", paymentID, enums.TransactionStatusPending).
		Updates(map[string]any{"status": enums.TransactionStatusCompleted, "updated_at": at})
	return res.RowsAffected, res.Error
}

func (r *repository) CompletePending(ctx context.Context, listingID, buyerID uuid.UUID, paymentID string, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Transaction{}).
		Where("listing_id = ? AND buyer_id = ? AND status = ?", listingID, buyerID, enums.TransactionStatusPending).
		Updates(map[string]any{
			"status":            enums.TransactionStatusCompleted,
			"stripe_payment_id": paymentID,
			"updated_at":        at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CompleteTransaction(ctx context.Context, id uuid.UUID, at time.Time) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(map[string]any{"status": enums.TransactionStatusCompleted, "updated_at": at})
	return res.RowsAffected, res.Error
}

// InsertPayout queues a payout; false means one already exists for the listing.
func (r *repository) InsertPayout(ctx context.Context, payout *models.Payout) (bool, error) {
	return r.insertOnce(ctx, payout)
}

// InsertCreditsEntry appends a grant; false means the payment was already granted.
func (r *repository) InsertCreditsEntry(ctx context.Context, entry *models.CreditsLedgerEntry) (bool, error) {
	return r.insertOnce(ctx, entry)
}

func (r *repository) insertOnce(ctx context.Context, row any) (bool, error) {
	res := r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, "") {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListSoldWithoutCompletion finds sold listings whose buyer still only has a
// pending transaction.
func (r *repository) ListSoldWithoutCompletion(ctx context.Context, before time.Time, limit int) ([]SweepCandidate, error) {
	var rows []SweepCandidate
	err := r.DB(ctx).
		Table("listings AS l").
		Select("l.id AS listing_id, t.id AS transaction_id, t.buyer_id AS buyer_id").
		Joins("JOIN transactions t ON t.listing_id = l.id AND t.buyer_id = l.buyer_id AND t.status = ?", enums.TransactionStatusPending).
		Where("l.status = ? AND l.sold_at < ?", enums.ListingStatusSold, before).
		Where("NOT EXISTS (SELECT 1 FROM transactions c WHERE c.listing_id = l.id AND c.status = ?)", enums.TransactionStatusCompleted).
		Order("l.sold_at ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

// ListCompletedWithUnsoldListing finds completed transactions whose listing
// never transitioned to sold.
func (r *repository) ListCompletedWithUnsoldListing(ctx context.Context, before time.Time, limit int) ([]SweepCandidate, error) {
	var rows []SweepCandidate
	err := r.DB(ctx).
		Table("transactions AS t").
		Select("t.listing_id AS listing_id, t.id AS transaction_id, t.buyer_id AS buyer_id").
		Joins("JOIN listings l ON l.id = t.listing_id").
		Where("t.status = ? AND t.updated_at < ? AND l.status <> ?", enums.TransactionStatusCompleted, before, enums.ListingStatusSold).
		Order("t.updated_at ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

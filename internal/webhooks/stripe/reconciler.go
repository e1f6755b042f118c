package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/internal/assets"
	"github.com/cardvault/marketplace-backend/internal/ledger"
	"github.com/cardvault/marketplace-backend/internal/listings"
	"github.com/cardvault/marketplace-backend/internal/profiles"
	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	"github.com/cardvault/marketplace-backend/pkg/metrics"
)

// Sale reconciliation step names, used in logs and the step failure metric.
const (
	StepCompleteTransaction = "complete_transaction"
	StepMarkListingSold     = "mark_listing_sold"
	StepTransferAsset       = "transfer_asset"
	StepQueuePayout         = "queue_payout"
	StepGrantCredits        = "grant_credits"
	StepSellerReadiness     = "seller_readiness"
)

const defaultPayoutDelay = 10 * time.Minute

// StepError is one failed sale step inside the error ApplySale returns.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// NeedsRedelivery reports whether err contains a failed step that nothing
// else repairs. The sweep job reconciles transaction and listing state, but
// only a replay of the event moves the asset or queues the payout.
func NeedsRedelivery(err error) bool {
	for _, e := range multierr.Errors(err) {
		var stepErr *StepError
		if !errors.As(e, &stepErr) {
			return true
		}
		if stepErr.Step == StepTransferAsset || stepErr.Step == StepQueuePayout {
			return true
		}
	}
	return false
}

type accountFetcher interface {
	GetAccount(ctx context.Context, id string) (*stripe.Account, error)
}

type ReconcilerParams struct {
	DB          txRunner
	Ledger      ledger.Repository
	Listings    listings.Repository
	Assets      assets.Repository
	Profiles    profiles.Repository
	Accounts    accountFetcher
	Metrics     *metrics.PaymentsMetrics
	Logger      *logger.Logger
	PayoutDelay time.Duration
	Now         func() time.Time
}

// Reconciler applies verified payment events to the marketplace tables. Every
// step is a conditional update or a unique insert, so replays are no-ops.
type Reconciler struct {
	db          txRunner
	ledger      ledger.Repository
	listings    listings.Repository
	assets      assets.Repository
	profiles    profiles.Repository
	accounts    accountFetcher
	metrics     *metrics.PaymentsMetrics
	logg        *logger.Logger
	payoutDelay time.Duration
	now         func() time.Time
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}
	if params.Listings == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "listings repository required")
	}
	if params.Assets == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "assets repository required")
	}
	if params.Profiles == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profiles repository required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	delay := params.PayoutDelay
	if delay <= 0 {
		delay = defaultPayoutDelay
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		db:          params.DB,
		ledger:      params.Ledger,
		listings:    params.Listings,
		assets:      params.Assets,
		profiles:    params.Profiles,
		accounts:    params.Accounts,
		metrics:     params.Metrics,
		logg:        logg,
		payoutDelay: delay,
		now:         now,
	}, nil
}

// Apply dispatches ev to its reconciliation.
func (r *Reconciler) Apply(ctx context.Context, ev Event) error {
	switch e := ev.(type) {
	case MarketplaceSaleSucceeded:
		return r.ApplySale(ctx, e)
	case CreditsPurchaseSucceeded:
		return r.ApplyCredits(ctx, e)
	case AccountStatusChanged:
		return r.ApplyAccountStatus(ctx, e)
	case Unhandled:
		r.logg.Debug(ctx, fmt.Sprintf("stripe event %s ignored: %s", e.EventType, e.Reason))
		return nil
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
}

// ApplySale completes the purchase, closes the listing, hands the asset to the
// buyer and queues the seller payout. Steps run independently; the returned
// error aggregates every failed step.
func (r *Reconciler) ApplySale(ctx context.Context, sale MarketplaceSaleSucceeded) error {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"payment_intent_id": sale.PaymentIntentID,
		"listing_id":        sale.ListingID.String(),
		"buyer_id":          sale.BuyerID.String(),
	})
	now := r.now().UTC()

	var errs error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			r.metrics.IncStepFailure(name)
			r.logg.Error(r.logg.WithField(ctx, "step", name), "reconcile step failed", err)
			errs = multierr.Append(errs, &StepError{Step: name, Err: err})
		}
	}

	step(StepCompleteTransaction, func() error { return r.completeTransaction(ctx, sale, now) })
	step(StepMarkListingSold, func() error {
		rows, err := r.listings.MarkSold(ctx, sale.ListingID, sale.BuyerID, now)
		if err == nil && rows == 0 {
			r.logg.Info(ctx, "listing already sold")
		}
		return err
	})

	listing, loadErr := r.listings.FindByID(ctx, sale.ListingID)
	if loadErr == nil && listing.BuyerID != nil && *listing.BuyerID != sale.BuyerID {
		// Another buyer's payment closed the listing first; the asset and
		// payout stay with that sale.
		r.logg.Warn(r.logg.WithField(ctx, "winning_buyer_id", listing.BuyerID.String()), "losing concurrent payment; asset and payout not moved")
		return errs
	}
	step(StepTransferAsset, func() error {
		if loadErr != nil {
			return fmt.Errorf("load listing: %w", loadErr)
		}
		return r.transferAsset(ctx, listing, sale)
	})
	step(StepQueuePayout, func() error { return r.queuePayout(ctx, listing, sale, now) })
	return errs
}

func (r *Reconciler) completeTransaction(ctx context.Context, sale MarketplaceSaleSucceeded, now time.Time) error {
	rows, err := r.ledger.CompleteByPaymentID(ctx, sale.PaymentIntentID, now)
	if err != nil {
		return r.completionConflict(ctx, err)
	}
	if rows > 0 {
		return nil
	}
	rows, err = r.ledger.CompletePending(ctx, sale.ListingID, sale.BuyerID, sale.PaymentIntentID, now)
	if err != nil {
		return r.completionConflict(ctx, err)
	}
	if rows == 0 {
		r.logg.Info(ctx, "no matching transaction")
	}
	return nil
}

// completionConflict swallows the one-completed-per-listing violation: a
// different payment already bought the listing.
func (r *Reconciler) completionConflict(ctx context.Context, err error) error {
	if db.IsUniqueViolation(err, "ux_transactions_listing_completed") {
		r.logg.Warn(ctx, "listing already has a completed transaction")
		return nil
	}
	return err
}

func (r *Reconciler) transferAsset(ctx context.Context, listing *models.Listing, sale MarketplaceSaleSucceeded) error {
	var (
		rows int64
		err  error
	)
	switch listing.SourceType {
	case enums.ListingSourceAsset:
		rows, err = r.assets.TransferByID(ctx, listing.SourceID, sale.BuyerID)
	case enums.ListingSourceUploadedImage:
		rows, err = r.assets.TransferByUploadedImage(ctx, listing.SourceID, sale.BuyerID)
	default:
		return fmt.Errorf("unknown listing source %q", listing.SourceType)
	}
	if err != nil {
		return err
	}
	if rows == 0 {
		r.logg.Warn(ctx, "no asset row for listing source")
	}
	return nil
}

// queuePayout prefers the account recorded on the payment and falls back to
// the seller's current profile.
func (r *Reconciler) queuePayout(ctx context.Context, listing *models.Listing, sale MarketplaceSaleSucceeded, now time.Time) error {
	account := sale.SellerAccountID
	if account == "" && listing == nil {
		return errors.New("seller unknown: listing not loaded")
	}
	if account == "" {
		seller, err := r.profiles.FindByID(ctx, listing.SellerID)
		if err != nil && !db.IsNotFound(err) {
			return fmt.Errorf("load seller: %w", err)
		}
		if seller != nil {
			account = seller.ConnectedAccount()
		}
	}
	if account == "" {
		r.logg.Info(ctx, "seller has no connected account; payout not queued")
		return nil
	}

	inserted, err := r.ledger.InsertPayout(ctx, &models.Payout{
		ListingID:       sale.ListingID,
		StripeAccountID: account,
		AmountCents:     sale.Net(),
		ScheduledAt:     now.Add(r.payoutDelay),
		Status:          enums.PayoutStatusPending,
	})
	if err != nil {
		return err
	}
	if inserted {
		r.metrics.IncPayoutQueued()
	}
	return nil
}

// ApplyCredits appends the ledger row and bumps the balance in one database
// transaction. A duplicate ledger row means the grant already happened.
func (r *Reconciler) ApplyCredits(ctx context.Context, purchase CreditsPurchaseSucceeded) error {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"payment_intent_id": purchase.PaymentIntentID,
		"user_id":           purchase.UserID.String(),
	})
	if purchase.Credits <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "credits must be positive")
	}

	var granted bool
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		inserted, err := r.ledger.WithTx(tx).InsertCreditsEntry(ctx, &models.CreditsLedgerEntry{
			UserID:        purchase.UserID,
			PaymentIntent: purchase.PaymentIntentID,
			AmountCents:   purchase.AmountCents,
			Credits:       purchase.Credits,
			Reason:        enums.CreditsReasonPurchase,
		})
		if err != nil {
			return fmt.Errorf("insert credits ledger: %w", err)
		}
		if !inserted {
			return nil
		}
		rows, err := r.profiles.WithTx(tx).IncrementCredits(ctx, purchase.UserID, purchase.Credits)
		if err != nil {
			return fmt.Errorf("increment credits: %w", err)
		}
		if rows == 0 {
			return errors.New("increment credits: profile not found")
		}
		granted = true
		return nil
	})
	if err != nil {
		r.metrics.IncStepFailure(StepGrantCredits)
		r.logg.Error(r.logg.WithField(ctx, "step", StepGrantCredits), "reconcile step failed", err)
		return err
	}
	if granted {
		r.metrics.AddCreditsGranted(purchase.Credits)
		r.logg.Info(ctx, fmt.Sprintf("granted %d credits", purchase.Credits))
	} else {
		r.logg.Info(ctx, "credits already granted")
	}
	return nil
}

// ApplyAccountStatus records seller readiness on the linked profile and on
// any profile already holding the account id.
func (r *Reconciler) ApplyAccountStatus(ctx context.Context, status AccountStatusChanged) error {
	ctx = r.logg.WithField(ctx, "stripe_account_id", status.AccountID)
	if status.AccountID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}

	if status.Refresh {
		if r.accounts == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "account fetcher required for refresh")
		}
		acct, err := r.accounts.GetAccount(ctx, status.AccountID)
		if err != nil {
			r.metrics.IncStepFailure(StepSellerReadiness)
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe account")
		}
		status = accountStatus(acct)
	}

	verified := status.Verified()
	var errs error
	if status.UserID != nil {
		if _, err := r.profiles.UpdateVerificationByUser(ctx, *status.UserID, status.AccountID, verified); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("update profile by user: %w", err))
		}
	}
	if _, err := r.profiles.UpdateVerificationByAccount(ctx, status.AccountID, verified); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("update profile by account: %w", err))
	}
	if errs != nil {
		r.metrics.IncStepFailure(StepSellerReadiness)
		r.logg.Error(r.logg.WithField(ctx, "step", StepSellerReadiness), "reconcile step failed", errs)
		return errs
	}
	r.logg.Info(r.logg.WithField(ctx, "stripe_verified", verified), "seller readiness updated")
	return nil
}

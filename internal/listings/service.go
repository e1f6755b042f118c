package listings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/pagination"
)

const maxTitleLength = 200

type assetLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	FindByUploadedImage(ctx context.Context, imageID uuid.UUID) (*models.Asset, error)
}

type profileLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// Service covers listing creation, cancellation and catalogue reads.
type Service interface {
	Create(ctx context.Context, sellerID uuid.UUID, input CreateInput) (*ListingDTO, error)
	Cancel(ctx context.Context, sellerID, listingID uuid.UUID) (*ListingDTO, error)
	Get(ctx context.Context, listingID uuid.UUID) (*ListingDTO, error)
	Browse(ctx context.Context, filter BrowseFilter, params pagination.Params) (*ListResult, error)
}

type ServiceParams struct {
	Repo     Repository
	Assets   assetLookup
	Profiles profileLookup
	Currency string
	Now      func() time.Time
}

type service struct {
	repo     Repository
	assets   assetLookup
	profiles profileLookup
	currency string
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("listings repository required")
	}
	if params.Assets == nil {
		return nil, fmt.Errorf("assets lookup required")
	}
	if params.Profiles == nil {
		return nil, fmt.Errorf("profiles lookup required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:     params.Repo,
		assets:   params.Assets,
		profiles: params.Profiles,
		currency: currency,
		now:      now,
	}, nil
}

type CreateInput struct {
	SourceType enums.ListingSourceType
	SourceID   uuid.UUID
	Title      string
	PriceCents int64
}

type ListingDTO struct {
	ID         uuid.UUID               `json:"id"`
	SellerID   uuid.UUID               `json:"seller_id"`
	SourceType enums.ListingSourceType `json:"source_type"`
	SourceID   uuid.UUID               `json:"source_id"`
	Title      string                  `json:"title"`
	ImageURL   *string                 `json:"image_url"`
	PriceCents int64                   `json:"price_cents"`
	Currency   string                  `json:"currency"`
	Status     enums.ListingStatus     `json:"status"`
	IsActive   bool                    `json:"is_active"`
	BuyerID    *uuid.UUID              `json:"buyer_id,omitempty"`
	SoldAt     *time.Time              `json:"sold_at,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
}

type ListResult struct {
	Items  []ListingDTO `json:"items"`
	Cursor string       `json:"cursor"`
}

// Create lists a card the seller owns. Sellers need a connected Stripe
// account unless they are admins, whose sales settle on the platform.
func (s *service) Create(ctx context.Context, sellerID uuid.UUID, input CreateInput) (*ListingDTO, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !input.SourceType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source_type must be asset or uploaded_image")
	}
	if input.SourceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "source_id is required")
	}
	if input.PriceCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price_cents must be positive")
	}
	title := strings.TrimSpace(input.Title)
	if len(title) > maxTitleLength {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "title must be at most %d characters", maxTitleLength)
	}

	profile, err := s.profiles.FindByID(ctx, sellerID)
	if err != nil && !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller profile")
	}
	if profile == nil || (!profile.IsAdmin() && profile.ConnectedAccount() == "") {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "connect a payout account before listing")
	}

	asset, err := s.lookupSource(ctx, input.SourceType, input.SourceID)
	if err != nil {
		return nil, err
	}
	if asset.OwnerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the owner can list this card")
	}
	if title == "" {
		title = asset.Name
	}

	listing := &models.Listing{
		SellerID:   sellerID,
		SourceType: input.SourceType,
		SourceID:   input.SourceID,
		Title:      title,
		ImageURL:   asset.ImageURL,
		PriceCents: input.PriceCents,
		Currency:   s.currency,
		Status:     enums.ListingStatusListed,
		IsActive:   true,
	}
	if err := s.repo.Create(ctx, listing); err != nil {
		if db.IsUniqueViolation(err, "ux_listings_source_listed") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "card is already listed")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create listing")
	}
	return toDTO(listing), nil
}

func (s *service) lookupSource(ctx context.Context, sourceType enums.ListingSourceType, sourceID uuid.UUID) (*models.Asset, error) {
	var (
		asset *models.Asset
		err   error
	)
	switch sourceType {
	case enums.ListingSourceAsset:
		asset, err = s.assets.FindByID(ctx, sourceID)
	case enums.ListingSourceUploadedImage:
		asset, err = s.assets.FindByUploadedImage(ctx, sourceID)
	}
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "card not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load card")
	}
	return asset, nil
}

func (s *service) Cancel(ctx context.Context, sellerID, listingID uuid.UUID) (*ListingDTO, error) {
	listing, err := s.load(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID != sellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can cancel this listing")
	}
	if listing.Status != enums.ListingStatusListed {
		return nil, pkgerrors.Newf(pkgerrors.CodeStateConflict, "listing is %s", listing.Status)
	}

	rows, err := s.repo.Cancel(ctx, listingID, sellerID, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel listing")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "listing is no longer listed")
	}
	return s.Get(ctx, listingID)
}

func (s *service) Get(ctx context.Context, listingID uuid.UUID) (*ListingDTO, error) {
	listing, err := s.load(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return toDTO(listing), nil
}

func (s *service) Browse(ctx context.Context, filter BrowseFilter, params pagination.Params) (*ListResult, error) {
	if filter.MinPrice != nil && filter.MaxPrice != nil && *filter.MinPrice > *filter.MaxPrice {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "min_price must not exceed max_price")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.Browse(ctx, filter, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "browse listings")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(l models.Listing) pagination.Cursor {
		return pagination.Cursor{CreatedAt: l.CreatedAt, ID: l.ID}
	})

	items := make([]ListingDTO, len(rows))
	for i := range rows {
		items[i] = *toDTO(&rows[i])
	}
	return &ListResult{Items: items, Cursor: next}, nil
}

func (s *service) load(ctx context.Context, listingID uuid.UUID) (*models.Listing, error) {
	listing, err := s.repo.FindByID(ctx, listingID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	return listing, nil
}

func toDTO(l *models.Listing) *ListingDTO {
	return &ListingDTO{
		ID:         l.ID,
		SellerID:   l.SellerID,
		SourceType: l.SourceType,
		SourceID:   l.SourceID,
		Title:      l.Title,
		ImageURL:   l.ImageURL,
		PriceCents: l.PriceCents,
		Currency:   l.Currency,
		Status:     l.Status,
		IsActive:   l.IsActive,
		BuyerID:    l.BuyerID,
		SoldAt:     l.SoldAt,
		CreatedAt:  l.CreatedAt,
	}
}

package listings

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardvault/marketplace-backend/internal/assets"
	"github.com/cardvault/marketplace-backend/internal/profiles"
	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/db/dbtest"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/pagination"
)

type fixture struct {
	client *db.Client
	svc    Service
	repo   Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Assets:   assets.NewRepository(client.DB()),
		Profiles: profiles.NewRepository(client.DB()),
		Currency: "USD",
	})
	require.NoError(t, err)
	return fixture{client: client, svc: svc, repo: repo}
}

func (f fixture) seller(t *testing.T, account string, role enums.ProfileRole) uuid.UUID {
	t.Helper()
	profile := models.Profile{ID: uuid.New(), Role: role}
	if account != "" {
		profile.StripeAccountID = &account
	}
	require.NoError(t, f.client.DB().Create(&profile).Error)
	return profile.ID
}

func (f fixture) asset(t *testing.T, owner uuid.UUID, name string) models.Asset {
	t.Helper()
	asset := models.Asset{OwnerID: owner, SourceType: enums.AssetSourceCard, Name: name}
	require.NoError(t, f.client.DB().Create(&asset).Error)
	return asset
}

func TestCreateListingRequiresConnectedAccountOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plain := f.seller(t, "", enums.ProfileRoleUser)
	card := f.asset(t, plain, "Charizard")
	_, err := f.svc.Create(ctx, plain, CreateInput{SourceType: enums.ListingSourceAsset, SourceID: card.ID, PriceCents: 900})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	admin := f.seller(t, "", enums.ProfileRoleAdmin)
	adminCard := f.asset(t, admin, "Pikachu")
	listing, err := f.svc.Create(ctx, admin, CreateInput{SourceType: enums.ListingSourceAsset, SourceID: adminCard.ID, PriceCents: 900})
	require.NoError(t, err)
	assert.Equal(t, "Pikachu", listing.Title)
	assert.Equal(t, "usd", listing.Currency)
	assert.Equal(t, enums.ListingStatusListed, listing.Status)
	assert.True(t, listing.IsActive)
}

func TestCreateListingRejectsForeignAndDuplicateCards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller := f.seller(t, "acct_seller", enums.ProfileRoleUser)
	other := f.seller(t, "acct_other", enums.ProfileRoleUser)
	card := f.asset(t, seller, "Blastoise")

	_, err := f.svc.Create(ctx, other, CreateInput{SourceType: enums.ListingSourceAsset, SourceID: card.ID, PriceCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Create(ctx, seller, CreateInput{SourceType: enums.ListingSourceAsset, SourceID: card.ID, Title: "Blastoise 1st ed", PriceCents: 100})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, seller, CreateInput{SourceType: enums.ListingSourceAsset, SourceID: card.ID, PriceCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = f.svc.Create(ctx, seller, CreateInput{SourceType: enums.ListingSourceAsset, SourceID: uuid.New(), PriceCents: 100})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Create(ctx, seller, CreateInput{SourceType: enums.ListingSourceAsset, SourceID: card.ID, PriceCents: 0})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateListingFromUploadedImage(t *testing.T) {
	f := newFixture(t)
	seller := f.seller(t, "acct_seller", enums.ProfileRoleUser)
	imageID := uuid.New()
	url := "https://storage.googleapis.com/cards/scan.png"
	asset := models.Asset{OwnerID: seller, SourceType: enums.AssetSourceUploadedImage, SourceID: &imageID, Name: "scan", ImageURL: &url}
	require.NoError(t, f.client.DB().Create(&asset).Error)

	listing, err := f.svc.Create(context.Background(), seller, CreateInput{SourceType: enums.ListingSourceUploadedImage, SourceID: imageID, PriceCents: 2500})
	require.NoError(t, err)
	assert.Equal(t, imageID, listing.SourceID)
	require.NotNil(t, listing.ImageURL)
	assert.Equal(t, url, *listing.ImageURL)
}

func TestCancelListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller := f.seller(t, "acct_seller", enums.ProfileRoleUser)
	card := f.asset(t, seller, "Mew")
	listing, err := f.svc.Create(ctx, seller, CreateInput{SourceType: enums.ListingSourceAsset, SourceID: card.ID, PriceCents: 500})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, uuid.New(), listing.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	cancelled, err := f.svc.Cancel(ctx, seller, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ListingStatusInactive, cancelled.Status)
	assert.False(t, cancelled.IsActive)

	_, err = f.svc.Cancel(ctx, seller, listing.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	// the card can be relisted once the old listing is inactive
	_, err = f.svc.Create(ctx, seller, CreateInput{SourceType: enums.ListingSourceAsset, SourceID: card.ID, PriceCents: 600})
	require.NoError(t, err)
}

func TestMarkSoldIsOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller := f.seller(t, "acct_seller", enums.ProfileRoleUser)
	card := f.asset(t, seller, "Snorlax")
	listing, err := f.svc.Create(ctx, seller, CreateInput{SourceType: enums.ListingSourceAsset, SourceID: card.ID, PriceCents: 500})
	require.NoError(t, err)

	buyer := uuid.New()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rows, err := f.repo.MarkSold(ctx, listing.ID, buyer, at)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = f.repo.MarkSold(ctx, listing.ID, uuid.New(), at.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, rows)

	got, err := f.svc.Get(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ListingStatusSold, got.Status)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.BuyerID)
	assert.Equal(t, buyer, *got.BuyerID)
	require.NotNil(t, got.SoldAt)
	assert.True(t, got.SoldAt.Equal(at))
}

func TestBrowseFiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sellerA := uuid.New()
	sellerB := uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	seed := []models.Listing{
		{SellerID: sellerA, Title: "Charizard Holo", PriceCents: 90000},
		{SellerID: sellerA, Title: "Charmander", PriceCents: 500},
		{SellerID: sellerB, Title: "Bulbasaur", PriceCents: 700},
		{SellerID: sellerB, Title: "100% Mint Squirtle", PriceCents: 1200},
	}
	for i := range seed {
		seed[i].SourceType = enums.ListingSourceAsset
		seed[i].SourceID = uuid.New()
		seed[i].Currency = "usd"
		seed[i].Status = enums.ListingStatusListed
		seed[i].IsActive = true
		seed[i].CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, f.client.DB().Create(&seed[i]).Error)
	}
	inactive := models.Listing{SellerID: sellerA, SourceType: enums.ListingSourceAsset, SourceID: uuid.New(), Title: "Charizard Old", PriceCents: 1, Currency: "usd", Status: enums.ListingStatusInactive}
	require.NoError(t, f.client.DB().Create(&inactive).Error)

	page, err := f.svc.Browse(ctx, BrowseFilter{Query: "CHAR"}, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Charmander", page.Items[0].Title)

	page, err = f.svc.Browse(ctx, BrowseFilter{Query: "100%"}, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	lo, hi := int64(600), int64(2000)
	page, err = f.svc.Browse(ctx, BrowseFilter{MinPrice: &lo, MaxPrice: &hi}, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = f.svc.Browse(ctx, BrowseFilter{SellerID: &sellerB}, pagination.Params{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "100% Mint Squirtle", page.Items[0].Title)
	require.NotEmpty(t, page.Cursor)

	next, err := f.svc.Browse(ctx, BrowseFilter{SellerID: &sellerB}, pagination.Params{Limit: 1, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, "Bulbasaur", next.Items[0].Title)
	assert.Empty(t, next.Cursor)

	_, err = f.svc.Browse(ctx, BrowseFilter{MinPrice: &hi, MaxPrice: &lo}, pagination.Params{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

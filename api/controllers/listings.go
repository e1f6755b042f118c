package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/cardvault/marketplace-backend/api/responses"
	"github.com/cardvault/marketplace-backend/api/validators"
	"github.com/cardvault/marketplace-backend/internal/listings"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	"github.com/cardvault/marketplace-backend/pkg/pagination"
)

type listingCreateRequest struct {
	SourceType string `json:"source_type" validate:"required"`
	SourceID   string `json:"source_id" validate:"required,uuid"`
	Title      string `json:"title" validate:"required,max=200"`
	PriceCents int64  `json:"price_cents" validate:"required,gt=0"`
}

func (r listingCreateRequest) toInput() (listings.CreateInput, error) {
	sourceType, err := enums.ParseListingSourceType(strings.TrimSpace(r.SourceType))
	if err != nil {
		return listings.CreateInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid source_type")
	}
	sourceID, err := uuid.Parse(strings.TrimSpace(r.SourceID))
	if err != nil {
		return listings.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid source_id")
	}
	return listings.CreateInput{
		SourceType: sourceType,
		SourceID:   sourceID,
		Title:      validators.SanitizeString(r.Title, 200),
		PriceCents: r.PriceCents,
	}, nil
}

func ListingCreate(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body listingCreateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := body.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		listing, err := svc.Create(r.Context(), sellerID, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, listing)
	}
}

func ListingCancel(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		listingID, err := validators.ParseUUIDParam(r, "listingID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		listing, err := svc.Cancel(r.Context(), sellerID, listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, listing)
	}
}

func ListingGet(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		listingID, err := validators.ParseUUIDParam(r, "listingID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		listing, err := svc.Get(r.Context(), listingID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, listing)
	}
}

// ListingsBrowse serves the public catalogue.
func ListingsBrowse(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseBrowseFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		serveBrowse(w, r, svc, filter, logg)
	}
}

// SellerListings serves one seller's gallery.
func SellerListings(svc listings.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sellerID, err := validators.ParseUUIDParam(r, "profileID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		serveBrowse(w, r, svc, listings.BrowseFilter{SellerID: &sellerID}, logg)
	}
}

func serveBrowse(w http.ResponseWriter, r *http.Request, svc listings.Service, filter listings.BrowseFilter, logg *logger.Logger) {
	params, err := pageParams(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	result, err := svc.Browse(r.Context(), filter, params)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, result)
}

func parseBrowseFilter(r *http.Request) (listings.BrowseFilter, error) {
	var filter listings.BrowseFilter
	sellerID, err := validators.ParseOptionalQueryUUID(r, "seller_id")
	if err != nil {
		return filter, err
	}
	minPrice, err := validators.ParseOptionalQueryInt64(r, "min_price", 0)
	if err != nil {
		return filter, err
	}
	maxPrice, err := validators.ParseOptionalQueryInt64(r, "max_price", 0)
	if err != nil {
		return filter, err
	}
	if minPrice != nil && maxPrice != nil && *minPrice > *maxPrice {
		return filter, pkgerrors.New(pkgerrors.CodeValidation, "min_price exceeds max_price")
	}
	filter.SellerID = sellerID
	filter.Query = validators.SanitizeString(r.URL.Query().Get("q"), 100)
	filter.MinPrice = minPrice
	filter.MaxPrice = maxPrice
	return filter, nil
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}

package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cardvault/marketplace-backend/api/responses"
	"github.com/cardvault/marketplace-backend/api/validators"
	"github.com/cardvault/marketplace-backend/internal/payments"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

type paymentIntentRequest struct {
	Amount             *int64           `json:"amount" validate:"omitempty,gt=0,excluded_with=ListingID"`
	ListingID          *string          `json:"listing_id" validate:"required_without=Amount,omitempty,uuid"`
	PlatformFeePercent *decimal.Decimal `json:"platform_fee_percent"`
}

func (r paymentIntentRequest) toInput(buyerID uuid.UUID) (payments.CreateIntentInput, error) {
	input := payments.CreateIntentInput{
		BuyerID:            buyerID,
		AmountCents:        r.Amount,
		PlatformFeePercent: r.PlatformFeePercent,
	}
	if r.ListingID != nil {
		id, err := uuid.Parse(strings.TrimSpace(*r.ListingID))
		if err != nil {
			return payments.CreateIntentInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid listing_id")
		}
		input.ListingID = &id
	}
	return input, nil
}

// PaymentIntentCreate returns a payment handle for a listing purchase or a
// direct platform charge.
func PaymentIntentCreate(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		buyerID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body paymentIntentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := body.toInput(buyerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intent, err := svc.CreateIntent(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, intent)
	}
}

// PaymentIntentGet reports the processor's current status for the caller's
// intent. Clients poll this from the success page.
func PaymentIntentGet(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		intentID := strings.TrimSpace(chi.URLParam(r, "intentID"))
		if !strings.HasPrefix(intentID, "pi_") {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment intent id"))
			return
		}

		status, err := svc.GetIntent(r.Context(), userID, intentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

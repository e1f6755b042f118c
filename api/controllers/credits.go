package controllers

import (
	"net/http"

	"github.com/cardvault/marketplace-backend/api/responses"
	"github.com/cardvault/marketplace-backend/api/validators"
	"github.com/cardvault/marketplace-backend/internal/credits"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

type creditsCheckoutRequest struct {
	USD int64 `json:"usd" validate:"required,gt=0"`
}

func CreditsCheckout(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credits service unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body creditsCheckoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		session, err := svc.Checkout(r.Context(), userID, body.USD)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, session)
	}
}

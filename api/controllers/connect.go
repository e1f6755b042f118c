package controllers

import (
	"net/http"

	"github.com/cardvault/marketplace-backend/api/responses"
	"github.com/cardvault/marketplace-backend/internal/connect"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
)

// ConnectOnboarding hands the seller an onboarding link, or a dashboard link
// once the connected account is verified.
func ConnectOnboarding(svc connect.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "connect service unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		link, err := svc.Onboard(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, link)
	}
}

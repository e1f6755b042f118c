package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/cardvault/marketplace-backend/api/middleware"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
)

func requireUser(r *http.Request) (uuid.UUID, error) {
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, nil
}

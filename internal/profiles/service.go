package profiles

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cardvault/marketplace-backend/pkg/db"
	"github.com/cardvault/marketplace-backend/pkg/db/models"
	"github.com/cardvault/marketplace-backend/pkg/enums"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
)

// Service exposes profile reads for the API.
type Service interface {
	Me(ctx context.Context, userID uuid.UUID) (*ProfileDTO, error)
}

type ProfileDTO struct {
	ID              uuid.UUID         `json:"id"`
	DisplayName     *string           `json:"display_name"`
	AvatarURL       *string           `json:"avatar_url"`
	StripeAccountID *string           `json:"stripe_account_id"`
	StripeVerified  bool              `json:"stripe_verified"`
	Credits         int64             `json:"credits"`
	Role            enums.ProfileRole `json:"role"`
	CreatedAt       time.Time         `json:"created_at"`
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("profiles repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Me(ctx context.Context, userID uuid.UUID) (*ProfileDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	profile, err := s.repo.Ensure(ctx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "profile not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}
	return toDTO(profile), nil
}

func toDTO(p *models.Profile) *ProfileDTO {
	return &ProfileDTO{
		ID:              p.ID,
		DisplayName:     p.DisplayName,
		AvatarURL:       p.AvatarURL,
		StripeAccountID: p.StripeAccountID,
		StripeVerified:  p.StripeVerified,
		Credits:         p.Credits,
		Role:            p.Role,
		CreatedAt:       p.CreatedAt,
	}
}

// Package connect onboards sellers onto Stripe Connect Express accounts.
package connect

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/cardvault/marketplace-backend/pkg/db/models"
	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
	"github.com/cardvault/marketplace-backend/pkg/logger"
	stripepkg "github.com/cardvault/marketplace-backend/pkg/stripe"
)

const (
	LinkOnboarding = "onboarding"
	LinkDashboard  = "dashboard"
)

type accountGateway interface {
	CreateAccount(ctx context.Context, params *stripe.AccountCreateParams) (*stripe.Account, error)
	GetAccount(ctx context.Context, id string) (*stripe.Account, error)
	CreateAccountLink(ctx context.Context, params *stripe.AccountLinkCreateParams) (*stripe.AccountLink, error)
	CreateLoginLink(ctx context.Context, accountID string) (*stripe.LoginLink, error)
}

type profileStore interface {
	Ensure(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	SetStripeAccount(ctx context.Context, id uuid.UUID, accountID string) error
	UpdateVerificationByUser(ctx context.Context, id uuid.UUID, accountID string, verified bool) (int64, error)
}

type Service interface {
	Onboard(ctx context.Context, userID uuid.UUID) (*OnboardingDTO, error)
}

type ServiceParams struct {
	Gateway    accountGateway
	Profiles   profileStore
	PublicURL  string
	ReturnPath string
	RetryPath  string
	Logger     *logger.Logger
}

type service struct {
	gateway    accountGateway
	profiles   profileStore
	returnURL  string
	refreshURL string
	logg       *logger.Logger
}

type OnboardingDTO struct {
	URL       string `json:"url"`
	AccountID string `json:"account_id"`
	Kind      string `json:"kind"`
	Verified  bool   `json:"verified"`
}

func NewService(params ServiceParams) (Service, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("stripe gateway required")
	}
	if params.Profiles == nil {
		return nil, fmt.Errorf("profiles store required")
	}
	base := strings.TrimRight(strings.TrimSpace(params.PublicURL), "/")
	if base == "" {
		return nil, fmt.Errorf("public url required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		gateway:    params.Gateway,
		profiles:   params.Profiles,
		returnURL:  base + params.ReturnPath,
		refreshURL: base + params.RetryPath,
		logg:       logg,
	}, nil
}

// Onboard creates the caller's Express account on first use and returns an
// onboarding link, or a dashboard login link once the account is verified.
func (s *service) Onboard(ctx context.Context, userID uuid.UUID) (*OnboardingDTO, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	profile, err := s.profiles.Ensure(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load profile")
	}
	ctx = s.logg.WithUserID(ctx, userID.String())

	accountID := profile.ConnectedAccount()
	verified := profile.StripeVerified
	if accountID == "" {
		accountID, err = s.createAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		verified = false
	} else if !verified {
		verified = s.refreshVerification(ctx, userID, accountID)
	}

	if verified {
		link, err := s.gateway.CreateLoginLink(ctx, accountID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dashboard link")
		}
		return &OnboardingDTO{URL: link.URL, AccountID: accountID, Kind: LinkDashboard, Verified: true}, nil
	}

	link, err := s.gateway.CreateAccountLink(ctx, &stripe.AccountLinkCreateParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(s.refreshURL),
		ReturnURL:  stripe.String(s.returnURL),
		Type:       stripe.String("account_onboarding"),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create onboarding link")
	}
	return &OnboardingDTO{URL: link.URL, AccountID: accountID, Kind: LinkOnboarding}, nil
}

func (s *service) createAccount(ctx context.Context, userID uuid.UUID) (string, error) {
	acct, err := s.gateway.CreateAccount(ctx, &stripe.AccountCreateParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCreateCapabilitiesParams{
			CardPayments: &stripe.AccountCreateCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCreateCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
		Metadata: map[string]string{stripepkg.MetaUserID: userID.String()},
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create connected account")
	}
	if err := s.profiles.SetStripeAccount(ctx, userID, acct.ID); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store connected account")
	}
	s.logg.Info(s.logg.WithField(ctx, "stripe_account_id", acct.ID), "connected account created")
	return acct.ID, nil
}

// refreshVerification re-reads the account in case its webhook has not
// arrived yet. Lookup failures leave the stored flag alone.
func (s *service) refreshVerification(ctx context.Context, userID uuid.UUID, accountID string) bool {
	acct, err := s.gateway.GetAccount(ctx, accountID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "stripe_account_id", accountID), "connected account lookup failed")
		return false
	}
	if !IsVerified(acct) {
		return false
	}
	if _, err := s.profiles.UpdateVerificationByUser(ctx, userID, accountID, true); err != nil {
		s.logg.Error(ctx, "failed to store seller verification", err)
	}
	return true
}

// IsVerified reports whether acct can both charge and receive payouts with
// nothing currently due.
func IsVerified(acct *stripe.Account) bool {
	return stripepkg.AccountReady(acct)
}

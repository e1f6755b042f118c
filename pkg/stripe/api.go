package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
)

var errGatewayNotInitialized = errors.New("stripe gateway not initialized")

// CreatePaymentIntent creates an intent as tenant. A non-empty stripeAccount
// makes it a direct charge on that connected account.
func (g *Gateway) CreatePaymentIntent(ctx context.Context, tenant Tenant, stripeAccount string, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	client := g.Client(tenant)
	if client == nil {
		return nil, errGatewayNotInitialized
	}
	if acct := strings.TrimSpace(stripeAccount); acct != "" {
		params.SetStripeAccount(acct)
	}
	return client.V1PaymentIntents.Create(ctx, params)
}

func (g *Gateway) GetPaymentIntent(ctx context.Context, tenant Tenant, stripeAccount, id string) (*stripe.PaymentIntent, error) {
	client := g.Client(tenant)
	if client == nil {
		return nil, errGatewayNotInitialized
	}
	params := &stripe.PaymentIntentRetrieveParams{}
	if acct := strings.TrimSpace(stripeAccount); acct != "" {
		params.SetStripeAccount(acct)
	}
	return client.V1PaymentIntents.Retrieve(ctx, id, params)
}

// CreateCheckoutSession always runs on the platform tenant.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	client := g.Client(TenantPlatform)
	if client == nil {
		return nil, errGatewayNotInitialized
	}
	return client.V1CheckoutSessions.Create(ctx, params)
}

// Connect accounts live under the marketplace tenant.

func (g *Gateway) CreateAccount(ctx context.Context, params *stripe.AccountCreateParams) (*stripe.Account, error) {
	client := g.Client(TenantMarketplace)
	if client == nil {
		return nil, errGatewayNotInitialized
	}
	return client.V1Accounts.Create(ctx, params)
}

func (g *Gateway) GetAccount(ctx context.Context, id string) (*stripe.Account, error) {
	client := g.Client(TenantMarketplace)
	if client == nil {
		return nil, errGatewayNotInitialized
	}
	return client.V1Accounts.GetByID(ctx, id, &stripe.AccountRetrieveParams{})
}

func (g *Gateway) CreateAccountLink(ctx context.Context, params *stripe.AccountLinkCreateParams) (*stripe.AccountLink, error) {
	client := g.Client(TenantMarketplace)
	if client == nil {
		return nil, errGatewayNotInitialized
	}
	return client.V1AccountLinks.Create(ctx, params)
}

func (g *Gateway) CreateLoginLink(ctx context.Context, accountID string) (*stripe.LoginLink, error) {
	client := g.Client(TenantMarketplace)
	if client == nil {
		return nil, errGatewayNotInitialized
	}
	return client.V1LoginLinks.Create(ctx, &stripe.LoginLinkCreateParams{Account: stripe.String(accountID)})
}

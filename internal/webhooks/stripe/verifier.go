package stripewebhook

import (
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/cardvault/marketplace-backend/pkg/errors"
)

// SignatureHeader carries Stripe's webhook signature.
const SignatureHeader = "Stripe-Signature"

// Verifier checks webhook signatures against an ordered list of signing
// secrets: the direct-charge endpoint first, then the Connect endpoint.
type Verifier struct {
	secrets   []string
	tolerance time.Duration
}

func NewVerifier(secrets []string) (*Verifier, error) {
	cleaned := make([]string, 0, len(secrets))
	for _, secret := range secrets {
		if s := strings.TrimSpace(secret); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("at least one webhook signing secret is required")
	}
	return &Verifier{secrets: cleaned, tolerance: webhook.DefaultTolerance}, nil
}

// Verify returns the event signed by the first matching secret. Failures are
// UNAUTHORIZED; a correctly signed but unparseable body is a VALIDATION error.
func (v *Verifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing")
	}

	opts := webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	}
	var lastErr error
	for _, secret := range v.secrets {
		event, err := webhook.ConstructEventWithOptions(payload, header, secret, opts)
		if err == nil {
			return event, nil
		}
		if !isSignatureError(err) {
			return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
		}
		lastErr = err
	}
	return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, lastErr, "invalid stripe signature")
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

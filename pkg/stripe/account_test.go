package stripe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v84"
)

func TestAccountReadyMatchesSellerReady(t *testing.T) {
	cases := []struct {
		name string
		acct *stripe.Account
		want bool
	}{
		{"nil", nil, false},
		{"charges only", &stripe.Account{ChargesEnabled: true}, false},
		{"requirements due", &stripe.Account{
			ChargesEnabled: true,
			PayoutsEnabled: true,
			Requirements:   &stripe.AccountRequirements{CurrentlyDue: []string{"external_account"}},
		}, false},
		{"no requirements block", &stripe.Account{ChargesEnabled: true, PayoutsEnabled: true}, true},
		{"empty requirements", &stripe.Account{
			ChargesEnabled: true,
			PayoutsEnabled: true,
			Requirements:   &stripe.AccountRequirements{},
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AccountReady(tc.acct))
			if tc.acct != nil {
				var due []string
				if tc.acct.Requirements != nil {
					due = tc.acct.Requirements.CurrentlyDue
				}
				assert.Equal(t, tc.want, SellerReady(tc.acct.ChargesEnabled, tc.acct.PayoutsEnabled, due))
			}
		})
	}
}

package stripe

import "github.com/stripe/stripe-go/v84"

// SellerReady is the single definition of a verified seller: the account can
// charge and receive payouts and has no requirements currently due.
func SellerReady(chargesEnabled, payoutsEnabled bool, currentlyDue []string) bool {
	return chargesEnabled && payoutsEnabled && len(currentlyDue) == 0
}

// AccountReady applies SellerReady to a fetched account.
func AccountReady(acct *stripe.Account) bool {
	if acct == nil {
		return false
	}
	var due []string
	if acct.Requirements != nil {
		due = acct.Requirements.CurrentlyDue
	}
	return SellerReady(acct.ChargesEnabled, acct.PayoutsEnabled, due)
}

package stripe

// Metadata keys written onto payment intents and checkout sessions at
// creation and read back by the webhook decoder.
const (
	MetaKind             = "kind"
	MetaListingID        = "listing_id"
	MetaBuyerID          = "buyer_id"
	MetaSellerID         = "seller_id"
	MetaSellerAccount    = "seller_account"
	MetaPlatformFeeCents = "platform_fee_cents"
	MetaUserID           = "user_id"
	MetaUSD              = "usd"
	MetaCredits          = "credits"
)

// Values of MetaKind.
const (
	KindMarketplaceSale  = "marketplace_sale"
	KindCreditsPurchase  = "credits_purchase"
	KindPlatformPurchase = "platform_purchase"
)

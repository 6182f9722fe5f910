package safeauth

const (
	SafeTransactionsEndpoint = "/v1/safes/%s/transactions/"
	TransactionEndpoint      = "/v1/transactions/%s/"
	BalancesEndpoint         = "/v1/safes/%s/balances/"
	TokenInfoEndpoint        = "/v1/tokens/%s/"
	InstantTransferEndpoint  = "/v1/safes/%s/delegates/%s/tokens/%s/submit_instant_transfer"
)

package billing

const (
	operationDraw           = "draw"
	operationWalletMutation = "wallet_mutation"
	operationOpenWallet     = "open_wallet"
	operationUsageScope     = "usage_scope"
	operationAdmit          = "admit"
	operationFreeDaily      = "free_daily_grant"
	operationGrant          = "grant"
	operationDeallocate     = "deallocate"
	operationRenew          = "renew"
	operationAnnualRefresh  = "annual_refresh"
	operationSubscription   = "record_subscription"
	operationDowngrade      = "downgrade"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	grantKeyDelimiter    = ":"
	grantKeyFreeDaily    = "free_daily"
	grantKeyInvoice      = "invoice"
	grantKeyAnnualPeriod = "annual"
	grantKeyRestore      = "restore"

	// StatusOK is recorded for scopes that exit cleanly without setting a status.
	StatusOK = 200
	// StatusServerError is recorded for scopes whose operation failed.
	StatusServerError = 500
)

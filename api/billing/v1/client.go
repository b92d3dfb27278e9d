package billingv1

import (
	"context"

	"google.golang.org/grpc"
)

// BillingServiceClient calls the billing service over a gRPC connection using
// the JSON codec.
type BillingServiceClient struct {
	conn grpc.ClientConnInterface
}

// NewBillingServiceClient wraps conn.
func NewBillingServiceClient(conn grpc.ClientConnInterface) *BillingServiceClient {
	return &BillingServiceClient{conn: conn}
}

func invoke[Response any](ctx context.Context, conn grpc.ClientConnInterface, method string, request any, options []grpc.CallOption) (*Response, error) {
	response := new(Response)
	callOptions := append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, options...)
	if err := conn.Invoke(ctx, fullMethod(method), request, response, callOptions...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *BillingServiceClient) Admit(ctx context.Context, request *AdmitRequest, options ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, client.conn, methodAdmit, request, options)
}

func (client *BillingServiceClient) RecordUsage(ctx context.Context, request *RecordUsageRequest, options ...grpc.CallOption) (*RecordUsageResponse, error) {
	return invoke[RecordUsageResponse](ctx, client.conn, methodRecordUsage, request, options)
}

func (client *BillingServiceClient) GetTokenUsage(ctx context.Context, request *UserRequest, options ...grpc.CallOption) (*TokenUsageResponse, error) {
	return invoke[TokenUsageResponse](ctx, client.conn, methodGetTokenUsage, request, options)
}

func (client *BillingServiceClient) GrantAllocation(ctx context.Context, request *GrantAllocationRequest, options ...grpc.CallOption) (*AllocationResponse, error) {
	return invoke[AllocationResponse](ctx, client.conn, methodGrantAllocation, request, options)
}

func (client *BillingServiceClient) EnsureFreeDaily(ctx context.Context, request *UserRequest, options ...grpc.CallOption) (*AllocationResponse, error) {
	return invoke[AllocationResponse](ctx, client.conn, methodEnsureFreeDaily, request, options)
}

func (client *BillingServiceClient) DeallocateAllocations(ctx context.Context, request *UserRequest, options ...grpc.CallOption) (*CountResponse, error) {
	return invoke[CountResponse](ctx, client.conn, methodDeallocateAllocations, request, options)
}

func (client *BillingServiceClient) RenewSubscription(ctx context.Context, request *RenewSubscriptionRequest, options ...grpc.CallOption) (*AllocationResponse, error) {
	return invoke[AllocationResponse](ctx, client.conn, methodRenewSubscription, request, options)
}

func (client *BillingServiceClient) ApplyInvoice(ctx context.Context, request *ApplyInvoiceRequest, options ...grpc.CallOption) (*AllocationResponse, error) {
	return invoke[AllocationResponse](ctx, client.conn, methodApplyInvoice, request, options)
}

func (client *BillingServiceClient) RecordSubscription(ctx context.Context, request *Subscription, options ...grpc.CallOption) (*RecordSubscriptionResponse, error) {
	return invoke[RecordSubscriptionResponse](ctx, client.conn, methodRecordSubscription, request, options)
}

func (client *BillingServiceClient) RegisterAccount(ctx context.Context, request *RegisterAccountRequest, options ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, client.conn, methodRegisterAccount, request, options)
}

func (client *BillingServiceClient) RecordOrganization(ctx context.Context, request *OrganizationRequest, options ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, client.conn, methodRecordOrganization, request, options)
}

func (client *BillingServiceClient) OpenWallet(ctx context.Context, request *WalletRequest, options ...grpc.CallOption) (*Wallet, error) {
	return invoke[Wallet](ctx, client.conn, methodOpenWallet, request, options)
}

func (client *BillingServiceClient) GetWallet(ctx context.Context, request *WalletRequest, options ...grpc.CallOption) (*Wallet, error) {
	return invoke[Wallet](ctx, client.conn, methodGetWallet, request, options)
}

func (client *BillingServiceClient) Deposit(ctx context.Context, request *DepositRequest, options ...grpc.CallOption) (*WalletTransaction, error) {
	return invoke[WalletTransaction](ctx, client.conn, methodDeposit, request, options)
}

func (client *BillingServiceClient) ListWalletTransactions(ctx context.Context, request *ListWalletTransactionsRequest, options ...grpc.CallOption) (*ListWalletTransactionsResponse, error) {
	return invoke[ListWalletTransactionsResponse](ctx, client.conn, methodListWalletTransactions, request, options)
}

func (client *BillingServiceClient) SavePricingPlan(ctx context.Context, request *PricingPlan, options ...grpc.CallOption) (*PricingPlan, error) {
	return invoke[PricingPlan](ctx, client.conn, methodSavePricingPlan, request, options)
}

func (client *BillingServiceClient) AssignUserPricing(ctx context.Context, request *AssignUserPricingRequest, options ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, client.conn, methodAssignUserPricing, request, options)
}

func (client *BillingServiceClient) RunDailyFreeGrants(ctx context.Context, request *Empty, options ...grpc.CallOption) (*CountResponse, error) {
	return invoke[CountResponse](ctx, client.conn, methodRunDailyFreeGrants, request, options)
}

func (client *BillingServiceClient) RefreshAnnualAllocations(ctx context.Context, request *Empty, options ...grpc.CallOption) (*CountResponse, error) {
	return invoke[CountResponse](ctx, client.conn, methodRefreshAnnualAllocations, request, options)
}

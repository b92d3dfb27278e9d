package billingv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "billing.v1.BillingService"

const (
	methodAdmit                    = "Admit"
	methodRecordUsage              = "RecordUsage"
	methodGetTokenUsage            = "GetTokenUsage"
	methodGrantAllocation          = "GrantAllocation"
	methodEnsureFreeDaily          = "EnsureFreeDaily"
	methodDeallocateAllocations    = "DeallocateAllocations"
	methodRenewSubscription        = "RenewSubscription"
	methodApplyInvoice             = "ApplyInvoice"
	methodRecordSubscription       = "RecordSubscription"
	methodRegisterAccount          = "RegisterAccount"
	methodRecordOrganization       = "RecordOrganization"
	methodOpenWallet               = "OpenWallet"
	methodGetWallet                = "GetWallet"
	methodDeposit                  = "Deposit"
	methodListWalletTransactions   = "ListWalletTransactions"
	methodSavePricingPlan          = "SavePricingPlan"
	methodAssignUserPricing        = "AssignUserPricing"
	methodRunDailyFreeGrants       = "RunDailyFreeGrants"
	methodRefreshAnnualAllocations = "RefreshAnnualAllocations"
)

// BillingServiceServer is the server API for the billing service.
type BillingServiceServer interface {
	Admit(context.Context, *AdmitRequest) (*Empty, error)
	RecordUsage(context.Context, *RecordUsageRequest) (*RecordUsageResponse, error)
	GetTokenUsage(context.Context, *UserRequest) (*TokenUsageResponse, error)
	GrantAllocation(context.Context, *GrantAllocationRequest) (*AllocationResponse, error)
	EnsureFreeDaily(context.Context, *UserRequest) (*AllocationResponse, error)
	DeallocateAllocations(context.Context, *UserRequest) (*CountResponse, error)
	RenewSubscription(context.Context, *RenewSubscriptionRequest) (*AllocationResponse, error)
	ApplyInvoice(context.Context, *ApplyInvoiceRequest) (*AllocationResponse, error)
	RecordSubscription(context.Context, *Subscription) (*RecordSubscriptionResponse, error)
	RegisterAccount(context.Context, *RegisterAccountRequest) (*Empty, error)
	RecordOrganization(context.Context, *OrganizationRequest) (*Empty, error)
	OpenWallet(context.Context, *WalletRequest) (*Wallet, error)
	GetWallet(context.Context, *WalletRequest) (*Wallet, error)
	Deposit(context.Context, *DepositRequest) (*WalletTransaction, error)
	ListWalletTransactions(context.Context, *ListWalletTransactionsRequest) (*ListWalletTransactionsResponse, error)
	SavePricingPlan(context.Context, *PricingPlan) (*PricingPlan, error)
	AssignUserPricing(context.Context, *AssignUserPricingRequest) (*Empty, error)
	RunDailyFreeGrants(context.Context, *Empty) (*CountResponse, error)
	RefreshAnnualAllocations(context.Context, *Empty) (*CountResponse, error)
}

// UnimplementedBillingServiceServer answers every RPC with codes.Unimplemented.
type UnimplementedBillingServiceServer struct{}

func unimplemented(method string) error {
	return status.Errorf(codes.Unimplemented, "method %s not implemented", method)
}

func (UnimplementedBillingServiceServer) Admit(context.Context, *AdmitRequest) (*Empty, error) {
	return nil, unimplemented(methodAdmit)
}

func (UnimplementedBillingServiceServer) RecordUsage(context.Context, *RecordUsageRequest) (*RecordUsageResponse, error) {
	return nil, unimplemented(methodRecordUsage)
}

func (UnimplementedBillingServiceServer) GetTokenUsage(context.Context, *UserRequest) (*TokenUsageResponse, error) {
	return nil, unimplemented(methodGetTokenUsage)
}

func (UnimplementedBillingServiceServer) GrantAllocation(context.Context, *GrantAllocationRequest) (*AllocationResponse, error) {
	return nil, unimplemented(methodGrantAllocation)
}

func (UnimplementedBillingServiceServer) EnsureFreeDaily(context.Context, *UserRequest) (*AllocationResponse, error) {
	return nil, unimplemented(methodEnsureFreeDaily)
}

func (UnimplementedBillingServiceServer) DeallocateAllocations(context.Context, *UserRequest) (*CountResponse, error) {
	return nil, unimplemented(methodDeallocateAllocations)
}

func (UnimplementedBillingServiceServer) RenewSubscription(context.Context, *RenewSubscriptionRequest) (*AllocationResponse, error) {
	return nil, unimplemented(methodRenewSubscription)
}

func (UnimplementedBillingServiceServer) ApplyInvoice(context.Context, *ApplyInvoiceRequest) (*AllocationResponse, error) {
	return nil, unimplemented(methodApplyInvoice)
}

func (UnimplementedBillingServiceServer) RecordSubscription(context.Context, *Subscription) (*RecordSubscriptionResponse, error) {
	return nil, unimplemented(methodRecordSubscription)
}

func (UnimplementedBillingServiceServer) RegisterAccount(context.Context, *RegisterAccountRequest) (*Empty, error) {
	return nil, unimplemented(methodRegisterAccount)
}

func (UnimplementedBillingServiceServer) RecordOrganization(context.Context, *OrganizationRequest) (*Empty, error) {
	return nil, unimplemented(methodRecordOrganization)
}

func (UnimplementedBillingServiceServer) OpenWallet(context.Context, *WalletRequest) (*Wallet, error) {
	return nil, unimplemented(methodOpenWallet)
}

func (UnimplementedBillingServiceServer) GetWallet(context.Context, *WalletRequest) (*Wallet, error) {
	return nil, unimplemented(methodGetWallet)
}

func (UnimplementedBillingServiceServer) Deposit(context.Context, *DepositRequest) (*WalletTransaction, error) {
	return nil, unimplemented(methodDeposit)
}

func (UnimplementedBillingServiceServer) ListWalletTransactions(context.Context, *ListWalletTransactionsRequest) (*ListWalletTransactionsResponse, error) {
	return nil, unimplemented(methodListWalletTransactions)
}

func (UnimplementedBillingServiceServer) SavePricingPlan(context.Context, *PricingPlan) (*PricingPlan, error) {
	return nil, unimplemented(methodSavePricingPlan)
}

func (UnimplementedBillingServiceServer) AssignUserPricing(context.Context, *AssignUserPricingRequest) (*Empty, error) {
	return nil, unimplemented(methodAssignUserPricing)
}

func (UnimplementedBillingServiceServer) RunDailyFreeGrants(context.Context, *Empty) (*CountResponse, error) {
	return nil, unimplemented(methodRunDailyFreeGrants)
}

func (UnimplementedBillingServiceServer) RefreshAnnualAllocations(context.Context, *Empty) (*CountResponse, error) {
	return nil, unimplemented(methodRefreshAnnualAllocations)
}

// BillingService_ServiceDesc describes the billing service for grpc.Server.
var BillingService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BillingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(methodAdmit, BillingServiceServer.Admit),
		unaryMethod(methodRecordUsage, BillingServiceServer.RecordUsage),
		unaryMethod(methodGetTokenUsage, BillingServiceServer.GetTokenUsage),
		unaryMethod(methodGrantAllocation, BillingServiceServer.GrantAllocation),
		unaryMethod(methodEnsureFreeDaily, BillingServiceServer.EnsureFreeDaily),
		unaryMethod(methodDeallocateAllocations, BillingServiceServer.DeallocateAllocations),
		unaryMethod(methodRenewSubscription, BillingServiceServer.RenewSubscription),
		unaryMethod(methodApplyInvoice, BillingServiceServer.ApplyInvoice),
		unaryMethod(methodRecordSubscription, BillingServiceServer.RecordSubscription),
		unaryMethod(methodRegisterAccount, BillingServiceServer.RegisterAccount),
		unaryMethod(methodRecordOrganization, BillingServiceServer.RecordOrganization),
		unaryMethod(methodOpenWallet, BillingServiceServer.OpenWallet),
		unaryMethod(methodGetWallet, BillingServiceServer.GetWallet),
		unaryMethod(methodDeposit, BillingServiceServer.Deposit),
		unaryMethod(methodListWalletTransactions, BillingServiceServer.ListWalletTransactions),
		unaryMethod(methodSavePricingPlan, BillingServiceServer.SavePricingPlan),
		unaryMethod(methodAssignUserPricing, BillingServiceServer.AssignUserPricing),
		unaryMethod(methodRunDailyFreeGrants, BillingServiceServer.RunDailyFreeGrants),
		unaryMethod(methodRefreshAnnualAllocations, BillingServiceServer.RefreshAnnualAllocations),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "billing/v1/billing.json",
}

// RegisterBillingServiceServer registers server with registrar.
func RegisterBillingServiceServer(registrar grpc.ServiceRegistrar, server BillingServiceServer) {
	registrar.RegisterService(&BillingService_ServiceDesc, server)
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

func unaryMethod[Request any, Response any](method string, call func(BillingServiceServer, context.Context, *Request) (*Response, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			request := new(Request)
			if err := decode(request); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(server.(BillingServiceServer), ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, request any) (any, error) {
				return call(server.(BillingServiceServer), ctx, request.(*Request))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}

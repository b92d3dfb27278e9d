package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/billing/api/billing/v1"
	"github.com/MarkoPoloResearchLab/billing/pkg/billing"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInsufficientTokens        = "insufficient_tokens"
	errorInsufficientBalance       = "insufficient_balance"
	errorMonthlyLimitExceeded      = "monthly_limit_exceeded"
	errorInsufficientWalletBalance = "insufficient_wallet_balance"
	errorAuthenticationRequired    = "authentication_required"
	errorWalletNotFound            = "wallet_not_found"
	errorPricingNotFound           = "pricing_not_found"
	errorPricingPlanNotFound       = "pricing_plan_not_found"
	errorSubscriptionNotFound      = "subscription_not_found"
	errorOrganizationNotFound      = "organization_not_found"
	errorAllocationNotFound        = "allocation_not_found"
	errorLockTimeout               = "lock_timeout"
	errorConcurrentUpdate          = "concurrent_update"
	errorInvalidUserID             = "invalid_user_id"
	errorInvalidOrganizationID     = "invalid_organization_id"
	errorInvalidRecordID           = "invalid_record_id"
	errorInvalidTokenCount         = "invalid_token_count"
	errorInvalidAmount             = "invalid_amount"
	errorInvalidSource             = "invalid_source"
	errorInvalidTransactionType    = "invalid_transaction_type"
	errorInvalidChannel            = "invalid_channel"
	errorInvalidEndpoint           = "invalid_endpoint"
	errorInvalidDate               = "invalid_date"
	errorInvalidSubscription       = "invalid_subscription"
	errorInvalidUsagePayload       = "invalid_usage_payload"
	errorInvalidListLimit          = "invalid_list_limit"

	maxListLimit = 500
)

// BillingServiceServer exposes the billing service over gRPC to trusted callers.
type BillingServiceServer struct {
	billingv1.UnimplementedBillingServiceServer
	billingService *billing.Service
}

// NewBillingServiceServer constructs a gRPC server for the billing service.
func NewBillingServiceServer(billingService *billing.Service) *BillingServiceServer {
	return &BillingServiceServer{billingService: billingService}
}

func (server *BillingServiceServer) Admit(ctx context.Context, request *billingv1.AdmitRequest) (*billingv1.Empty, error) {
	admission, err := admissionRequest(request.UserID, request.OrganizationID, request.MinTokens)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if err := server.billingService.Admit(ctx, admission); err != nil {
		return nil, mapToGRPCError(err)
	}
	return &billingv1.Empty{}, nil
}

func (server *BillingServiceServer) RecordUsage(ctx context.Context, request *billingv1.RecordUsageRequest) (*billingv1.RecordUsageResponse, error) {
	userID, err := billing.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	organizationID, err := optionalOrganizationID(request.OrganizationID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	channel, err := billing.ParseChannel(request.Channel)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	inputTokens, err := billing.NewTokenCount(request.InputTokens)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	outputTokens, err := billing.NewTokenCount(request.OutputTokens)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	requestData, err := billing.NewPayload(request.RequestData)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	responseData, err := billing.NewPayload(request.ResponseData)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	errorData, err := billing.NewPayload(request.ErrorData)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if request.Admit {
		admission, err := admissionRequest(request.UserID, request.OrganizationID, request.MinTokens)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		if err := server.billingService.Admit(ctx, admission); err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	result, err := server.billingService.WithUsageScope(ctx, billing.UsageScopeRequest{
		UserID:         userID,
		OrganizationID: organizationID,
		Endpoint:       request.Endpoint,
		Channel:        channel,
	}, func(ctx context.Context, usage *billing.Usage) error {
		usage.InputTokens = inputTokens
		usage.OutputTokens = outputTokens
		usage.Status = int(request.Status)
		usage.RequestData = requestData
		usage.ResponseData = responseData
		usage.ErrorData = errorData
		return nil
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &billingv1.RecordUsageResponse{
		LogID:               result.LogID.String(),
		Channel:             result.Channel.String(),
		Status:              int32(result.Status),
		InputTokens:         result.InputTokens.Int64(),
		OutputTokens:        result.OutputTokens.Int64(),
		WalletTransactionID: result.WalletTransactionID.String(),
	}
	for _, transaction := range result.Transactions {
		response.AllocationIDs = append(response.AllocationIDs, transaction.AllocationID.String())
	}
	if result.Channel == billing.ChannelPlatform {
		response.InputCost = result.InputCost.String()
		response.OutputCost = result.OutputCost.String()
		response.TotalCost = result.TotalCost.String()
	}
	return response, nil
}

func (server *BillingServiceServer) GetTokenUsage(ctx context.Context, request *billingv1.UserRequest) (*billingv1.TokenUsageResponse, error) {
	userID, err := billing.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	usage, err := server.billingService.TokenUsage(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &billingv1.TokenUsageResponse{
		Total:     usage.Total.Int64(),
		Used:      usage.Used.Int64(),
		Remaining: usage.Remaining.Int64(),
	}
	if usage.ExpiresOn != nil {
		response.ExpiresOn = usage.ExpiresOn.String()
	}
	return response, nil
}

func (server *BillingServiceServer) GrantAllocation(ctx context.Context, request *billingv1.GrantAllocationRequest) (*billingv1.AllocationResponse, error) {
	userID, err := billing.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	source, err := billing.ParseAllocationSource(request.Source)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	tokens, err := billing.NewTokenCount(request.Tokens)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	expiresOn, err := optionalDate(request.ExpiresOn)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	allocation, created, err := server.billingService.GrantAllocation(ctx, billing.GrantRequest{
		UserID:    userID,
		Source:    source,
		Tokens:    tokens,
		ExpiresOn: expiresOn,
		GrantKey:  request.GrantKey,
		InvoiceID: request.InvoiceID,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return allocationResponse(allocation, created), nil
}

func (server *BillingServiceServer) EnsureFreeDaily(ctx context.Context, request *billingv1.UserRequest) (*billingv1.AllocationResponse, error) {
	userID, err := billing.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	allocation, created, err := server.billingService.EnsureFreeDailyAllocation(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return allocationResponse(allocation, created), nil
}

func (server *BillingServiceServer) DeallocateAllocations(ctx context.Context, request *billingv1.UserRequest) (*billingv1.CountResponse, error) {
	userID, err := billing.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	count, err := server.billingService.DeallocateActiveAllocations(ctx, userID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &billingv1.CountResponse{Count: count}, nil
}

func (server *BillingServiceServer) RenewSubscription(ctx context.Context, request *billingv1.RenewSubscriptionRequest) (*billingv1.AllocationResponse, error) {
	userID, err := billing.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	tokens, err := billing.NewTokenCount(request.Tokens)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	expiresOn, err := optionalDate(request.ExpiresOn)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	allocation, created, err := server.billingService.RenewSubscriptionAllocation(ctx, billing.RenewalRequest{
		UserID:    userID,
		Tokens:    tokens,
		ExpiresOn: expiresOn,
		InvoiceID: request.InvoiceID,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return allocationResponse(allocation, created), nil
}

func (server *BillingServiceServer) ApplyInvoice(ctx context.Context, request *billingv1.ApplyInvoiceRequest) (*billingv1.AllocationResponse, error) {
	userID, err := billing.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	allocation, created, err := server.billingService.ApplyInvoice(ctx, billing.InvoiceRequest{UserID: userID, InvoiceID: request.InvoiceID})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return allocationResponse(allocation, created), nil
}

func (server *BillingServiceServer) RecordSubscription(ctx context.Context, request *billingv1.Subscription) (*billingv1.RecordSubscriptionResponse, error) {
	userID, err := billing.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	subscriptionStatus, err := billing.ParseSubscriptionStatus(request.Status)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	interval, err := billing.ParsePlanInterval(request.Interval)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	planTokens, err := billing.NewTokenCount(request.PlanTokens)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	currentStart, err := optionalDate(request.CurrentStart)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	currentEnd, err := optionalDate(request.CurrentEnd)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	change, err := server.billingService.RecordSubscription(ctx, billing.Subscription{
		UserID:       userID,
		ExternalID:   request.ExternalID,
		Status:       subscriptionStatus,
		Interval:     interval,
		PlanTokens:   planTokens,
		CurrentStart: currentStart,
		CurrentEnd:   currentEnd,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &billingv1.RecordSubscriptionResponse{Downgraded: change.Downgraded}, nil
}

func (server *BillingServiceServer) RegisterAccount(ctx context.Context, request *billingv1.RegisterAccountRequest) (*billingv1.Empty, error) {
	userID, err := billing.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if _, err := server.billingService.RegisterAccount(ctx, userID, request.IsActive); err != nil {
		return nil, mapToGRPCError(err)
	}
	return &billingv1.Empty{}, nil
}

func (server *BillingServiceServer) RecordOrganization(ctx context.Context, request *billingv1.OrganizationRequest) (*billingv1.Empty, error) {
	organizationID, err := billing.NewOrganizationID(request.OrganizationID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if err := server.billingService.RecordOrganization(ctx, billing.Organization{ID: organizationID, Metadata: request.Metadata}); err != nil {
		return nil, mapToGRPCError(err)
	}
	return &billingv1.Empty{}, nil
}

func (server *BillingServiceServer) OpenWallet(ctx context.Context, request *billingv1.WalletRequest) (*billingv1.Wallet, error) {
	userID, organizationID, err := walletOwner(request.UserID, request.OrganizationID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	wallet, err := server.billingService.OpenWallet(ctx, userID, organizationID, request.Currency)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return walletMessage(wallet), nil
}

func (server *BillingServiceServer) GetWallet(ctx context.Context, request *billingv1.WalletRequest) (*billingv1.Wallet, error) {
	userID, organizationID, err := walletOwner(request.UserID, request.OrganizationID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	wallet, err := server.billingService.Wallet(ctx, userID, organizationID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return walletMessage(wallet), nil
}

func (server *BillingServiceServer) Deposit(ctx context.Context, request *billingv1.DepositRequest) (*billingv1.WalletTransaction, error) {
	userID, organizationID, err := walletOwner(request.UserID, request.OrganizationID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := parseDecimal(request.Amount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	transaction, err := server.billingService.Deposit(ctx, userID, organizationID, amount, request.Description)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return walletTransactionMessage(transaction), nil
}

func (server *BillingServiceServer) ListWalletTransactions(ctx context.Context, request *billingv1.ListWalletTransactionsRequest) (*billingv1.ListWalletTransactionsResponse, error) {
	walletID, err := billing.NewRecordID(request.WalletID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	page, err := listPage(request.BeforeID, request.Limit)
	if err != nil {
		return nil, err
	}
	transactions, err := server.billingService.ListWalletTransactions(ctx, walletID, page)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &billingv1.ListWalletTransactionsResponse{Transactions: make([]billingv1.WalletTransaction, 0, len(transactions))}
	for _, transaction := range transactions {
		response.Transactions = append(response.Transactions, *walletTransactionMessage(transaction))
	}
	return response, nil
}

func (server *BillingServiceServer) SavePricingPlan(ctx context.Context, request *billingv1.PricingPlan) (*billingv1.PricingPlan, error) {
	var planID billing.RecordID
	if strings.TrimSpace(request.PlanID) != "" {
		parsed, err := billing.NewRecordID(request.PlanID)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
		planID = parsed
	}
	inputPrice, err := parseDecimal(request.DefaultInputPrice)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	outputPrice, err := parseDecimal(request.DefaultOutputPrice)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	plan, err := server.billingService.SavePricingPlan(ctx, billing.PricingPlan{
		ID:                 planID,
		Name:               request.Name,
		DefaultInputPrice:  inputPrice,
		DefaultOutputPrice: outputPrice,
		IsActive:           request.IsActive,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &billingv1.PricingPlan{
		PlanID:             plan.ID.String(),
		Name:               plan.Name,
		DefaultInputPrice:  plan.DefaultInputPrice.String(),
		DefaultOutputPrice: plan.DefaultOutputPrice.String(),
		IsActive:           plan.IsActive,
	}, nil
}

func (server *BillingServiceServer) AssignUserPricing(ctx context.Context, request *billingv1.AssignUserPricingRequest) (*billingv1.Empty, error) {
	userID, err := billing.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	planID, err := billing.NewRecordID(request.PlanID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	customInput, err := optionalDecimal(request.CustomInputPrice)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	customOutput, err := optionalDecimal(request.CustomOutputPrice)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	err = server.billingService.AssignUserPricing(ctx, billing.UserPricing{
		UserID:            userID,
		Plan:              billing.PricingPlan{ID: planID},
		CustomInputPrice:  customInput,
		CustomOutputPrice: customOutput,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &billingv1.Empty{}, nil
}

func (server *BillingServiceServer) RunDailyFreeGrants(ctx context.Context, _ *billingv1.Empty) (*billingv1.CountResponse, error) {
	created, err := server.billingService.RunDailyFreeGrants(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &billingv1.CountResponse{Count: int64(created)}, nil
}

func (server *BillingServiceServer) RefreshAnnualAllocations(ctx context.Context, _ *billingv1.Empty) (*billingv1.CountResponse, error) {
	created, err := server.billingService.RefreshAnnualAllocations(ctx)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &billingv1.CountResponse{Count: int64(created)}, nil
}

func admissionRequest(rawUserID string, rawOrganizationID string, minTokens int64) (billing.AdmissionRequest, error) {
	var userID billing.UserID
	if strings.TrimSpace(rawUserID) != "" {
		parsed, err := billing.NewUserID(rawUserID)
		if err != nil {
			return billing.AdmissionRequest{}, err
		}
		userID = parsed
	}
	organizationID, err := optionalOrganizationID(rawOrganizationID)
	if err != nil {
		return billing.AdmissionRequest{}, err
	}
	required, err := billing.NewTokenCount(minTokens)
	if err != nil {
		return billing.AdmissionRequest{}, err
	}
	if required == 0 {
		required = billing.DefaultAdmissionMinTokens
	}
	return billing.AdmissionRequest{UserID: userID, OrganizationID: organizationID, MinTokens: required}, nil
}

func optionalOrganizationID(raw string) (billing.OrganizationID, error) {
	if strings.TrimSpace(raw) == "" {
		return billing.OrganizationID{}, nil
	}
	return billing.NewOrganizationID(raw)
}

func walletOwner(rawUserID string, rawOrganizationID string) (billing.UserID, billing.OrganizationID, error) {
	userID, err := billing.NewUserID(rawUserID)
	if err != nil {
		return billing.UserID{}, billing.OrganizationID{}, err
	}
	organizationID, err := billing.NewOrganizationID(rawOrganizationID)
	if err != nil {
		return billing.UserID{}, billing.OrganizationID{}, err
	}
	return userID, organizationID, nil
}

func optionalDate(raw string) (*billing.Date, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	date, err := billing.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &date, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", billing.ErrInvalidAmount, err)
	}
	return value, nil
}

func optionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	value, err := parseDecimal(*raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func listPage(rawBeforeID string, limit int32) (billing.Page, error) {
	if limit < 0 || limit > maxListLimit {
		return billing.Page{}, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	page := billing.Page{Limit: int(limit)}
	if strings.TrimSpace(rawBeforeID) != "" {
		beforeID, err := billing.NewRecordID(rawBeforeID)
		if err != nil {
			return billing.Page{}, mapToGRPCError(err)
		}
		page.BeforeID = beforeID
	}
	return page, nil
}

func allocationResponse(allocation billing.Allocation, created bool) *billingv1.AllocationResponse {
	message := billingv1.Allocation{
		AllocationID:  allocation.ID.String(),
		UserID:        allocation.UserID.String(),
		Source:        allocation.Source.String(),
		TokensGranted: allocation.TokensGranted.Int64(),
		TokensUsed:    allocation.TokensUsed.Int64(),
		IsDeallocated: allocation.IsDeallocated,
		InvoiceID:     allocation.InvoiceID,
		GrantKey:      allocation.GrantKey,
	}
	if allocation.ExpiresOn != nil {
		message.ExpiresOn = allocation.ExpiresOn.String()
	}
	return &billingv1.AllocationResponse{Allocation: message, Created: created}
}

func walletMessage(wallet billing.Wallet) *billingv1.Wallet {
	return &billingv1.Wallet{
		WalletID:       wallet.ID.String(),
		UserID:         wallet.UserID.String(),
		OrganizationID: wallet.OrganizationID.String(),
		Balance:        wallet.Balance.String(),
		Currency:       wallet.Currency,
	}
}

func walletTransactionMessage(transaction billing.WalletTransaction) *billingv1.WalletTransaction {
	return &billingv1.WalletTransaction{
		TransactionID:  transaction.ID.String(),
		WalletID:       transaction.WalletID.String(),
		Amount:         transaction.Amount.String(),
		Type:           transaction.Type.String(),
		Description:    transaction.Description,
		CreatedUnixUTC: transaction.CreatedAt.Unix(),
	}
}

var errorCodes = []struct {
	sentinel error
	code     codes.Code
	message  string
}{
	{billing.ErrInsufficientTokens, codes.FailedPrecondition, errorInsufficientTokens},
	{billing.ErrInsufficientBalance, codes.FailedPrecondition, errorInsufficientBalance},
	{billing.ErrMonthlyLimitExceeded, codes.FailedPrecondition, errorMonthlyLimitExceeded},
	{billing.ErrInsufficientWalletBalance, codes.FailedPrecondition, errorInsufficientWalletBalance},
	{billing.ErrAuthenticationRequired, codes.Unauthenticated, errorAuthenticationRequired},
	{billing.ErrWalletNotFound, codes.NotFound, errorWalletNotFound},
	{billing.ErrPricingNotFound, codes.NotFound, errorPricingNotFound},
	{billing.ErrPricingPlanNotFound, codes.NotFound, errorPricingPlanNotFound},
	{billing.ErrSubscriptionNotFound, codes.NotFound, errorSubscriptionNotFound},
	{billing.ErrOrganizationNotFound, codes.NotFound, errorOrganizationNotFound},
	{billing.ErrAllocationNotFound, codes.NotFound, errorAllocationNotFound},
	{billing.ErrLockTimeout, codes.Unavailable, errorLockTimeout},
	{billing.ErrConcurrentUpdate, codes.Unavailable, errorConcurrentUpdate},
	{billing.ErrInvalidUserID, codes.InvalidArgument, errorInvalidUserID},
	{billing.ErrInvalidOrganizationID, codes.InvalidArgument, errorInvalidOrganizationID},
	{billing.ErrInvalidRecordID, codes.InvalidArgument, errorInvalidRecordID},
	{billing.ErrInvalidTokenCount, codes.InvalidArgument, errorInvalidTokenCount},
	{billing.ErrInvalidAmount, codes.InvalidArgument, errorInvalidAmount},
	{billing.ErrInvalidSource, codes.InvalidArgument, errorInvalidSource},
	{billing.ErrInvalidTransactionType, codes.InvalidArgument, errorInvalidTransactionType},
	{billing.ErrInvalidChannel, codes.InvalidArgument, errorInvalidChannel},
	{billing.ErrInvalidEndpoint, codes.InvalidArgument, errorInvalidEndpoint},
	{billing.ErrInvalidDate, codes.InvalidArgument, errorInvalidDate},
	{billing.ErrInvalidSubscription, codes.InvalidArgument, errorInvalidSubscription},
	{billing.ErrInvalidUsagePayload, codes.InvalidArgument, errorInvalidUsagePayload},
}

func mapToGRPCError(source error) error {
	for _, mapping := range errorCodes {
		if errors.Is(source, mapping.sentinel) {
			return status.Error(mapping.code, mapping.message)
		}
	}
	if errors.Is(source, context.Canceled) {
		return status.Error(codes.Canceled, source.Error())
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, source.Error())
	}
	return status.Error(codes.Internal, source.Error())
}

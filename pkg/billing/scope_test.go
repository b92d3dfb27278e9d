package billing

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

var errOperationFailed = errors.New("model call failed")

func subscriptionRequest(test *testing.T) UsageScopeRequest {
	test.Helper()
	return UsageScopeRequest{UserID: mustUserID(test, userIDValue), Endpoint: endpointValue, Channel: ChannelSubscription}
}

func platformRequest(test *testing.T) UsageScopeRequest {
	test.Helper()
	return UsageScopeRequest{
		UserID:         mustUserID(test, userIDValue),
		OrganizationID: mustOrganizationID(test, organizationIDValue),
		Endpoint:       endpointValue,
		Channel:        ChannelPlatform,
	}
}

func withPlatformPricing(test *testing.T) Config {
	test.Helper()
	config := DefaultConfig()
	config.DefaultPricing = &Pricing{InputPerToken: mustDecimal(test, "0.001"), OutputPerToken: mustDecimal(test, "0.002")}
	return config
}

func TestSubscriptionScopeDrawsAndLogs(test *testing.T) {
	test.Parallel()
	store := newMemoryStore(test)
	request := subscriptionRequest(test)
	allocation := store.seedAllocation(test, Allocation{UserID: request.UserID, Source: SourceFreeDaily, TokensGranted: 1000, ExpiresOn: datePointer(test, "2026-03-15")})
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	result, err := service.WithUsageScope(context.Background(), request, func(ctx context.Context, usage *Usage) error {
		usage.InputTokens = 120
		usage.OutputTokens = 80
		usage.RequestData = Payload(`{"prompt":"hi"}`)
		return nil
	})
	if err != nil {
		test.Fatalf("scope: %v", err)
	}
	if result.Status != StatusOK || len(result.Transactions) != 1 || result.Transactions[0].Tokens != 200 {
		test.Fatalf("unexpected result %+v", result)
	}
	if got := store.allocation(test, allocation.ID).TokensUsed; got != 200 {
		test.Fatalf("expected 200 tokens used, got %d", got)
	}
	state := store.snapshot()
	if len(state.usageLogs) != 1 {
		test.Fatalf("expected one usage log, got %d", len(state.usageLogs))
	}
	usageLog := state.usageLogs[0]
	if usageLog.ID != result.LogID || usageLog.InputTokens != 120 || usageLog.OutputTokens != 80 || usageLog.Status != StatusOK {
		test.Fatalf("unexpected usage log %+v", usageLog)
	}
	if state.allocationTransactions[0].UsageLogID != usageLog.ID || state.allocationTransactions[0].Description != "API call to "+endpointValue {
		test.Fatalf("expected transaction linked to usage log, got %+v", state.allocationTransactions[0])
	}
	if entries := logger.operations(operationUsageScope); len(entries) != 1 || entries[0].Status != operationStatusOK || entries[0].Tokens != 200 {
		test.Fatalf("unexpected scope logs %+v", entries)
	}
}

func TestSubscriptionScopeWithZeroTokensOnlyLogs(test *testing.T) {
	test.Parallel()
	store := newMemoryStore(test)
	service := mustNewService(test, store)

	result, err := service.WithUsageScope(context.Background(), subscriptionRequest(test), func(ctx context.Context, usage *Usage) error {
		return nil
	})
	if err != nil {
		test.Fatalf("scope: %v", err)
	}
	state := store.snapshot()
	if len(state.usageLogs) != 1 || len(state.allocationTransactions) != 0 || len(result.Transactions) != 0 {
		test.Fatalf("expected log without transactions, got %d logs and %d transactions", len(state.usageLogs), len(state.allocationTransactions))
	}
}

func TestSubscriptionScopeInsufficientTokensPersistsNothing(test *testing.T) {
	test.Parallel()
	store := newMemoryStore(test)
	request := subscriptionRequest(test)
	allocation := store.seedAllocation(test, Allocation{UserID: request.UserID, Source: SourceFreeDaily, TokensGranted: 100, ExpiresOn: datePointer(test, "2026-03-15")})
	service := mustNewService(test, store)

	_, err := service.WithUsageScope(context.Background(), request, func(ctx context.Context, usage *Usage) error {
		usage.InputTokens = 90
		usage.OutputTokens = 20
		return nil
	})
	var insufficient InsufficientTokensError
	if !errors.As(err, &insufficient) || insufficient.ShortBy != 10 {
		test.Fatalf("expected insufficient tokens short by 10, got %v", err)
	}
	state := store.snapshot()
	if len(state.usageLogs) != 0 || len(state.allocationTransactions) != 0 {
		test.Fatalf("expected nothing persisted, got %d logs and %d transactions", len(state.usageLogs), len(state.allocationTransactions))
	}
	if store.allocation(test, allocation.ID).TokensUsed != 0 {
		test.Fatalf("expected allocation unchanged")
	}
}

func TestSubscriptionScopeRejectsOverflowingTokenTotal(test *testing.T) {
	test.Parallel()
	store := newMemoryStore(test)
	request := subscriptionRequest(test)
	allocation := store.seedAllocation(test, Allocation{UserID: request.UserID, Source: SourceAdminGrant, TokensGranted: 10})
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	_, err := service.WithUsageScope(context.Background(), request, func(ctx context.Context, usage *Usage) error {
		usage.InputTokens = math.MaxInt64
		usage.OutputTokens = 1
		return nil
	})
	if !errors.Is(err, ErrInvalidTokenCount) {
		test.Fatalf("expected invalid token count, got %v", err)
	}
	state := store.snapshot()
	if len(state.usageLogs) != 0 || len(state.allocationTransactions) != 0 {
		test.Fatalf("expected nothing persisted, got %d logs and %d transactions", len(state.usageLogs), len(state.allocationTransactions))
	}
	if store.allocation(test, allocation.ID).TokensUsed != 0 {
		test.Fatalf("expected allocation unchanged")
	}
	if entries := logger.operations(operationUsageScope); len(entries) != 1 || entries[0].Tokens != math.MaxInt64 {
		test.Fatalf("expected saturated token count in log, got %+v", entries)
	}
}

func TestScopeFinalizesOnOperationError(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		request func(test *testing.T) UsageScopeRequest
		config  func(test *testing.T) Config
		check   func(test *testing.T, store *memoryStore)
	}{
		{
			name:    "subscription",
			request: subscriptionRequest,
			config:  func(test *testing.T) Config { return DefaultConfig() },
			check: func(test *testing.T, store *memoryStore) {
				state := store.snapshot()
				if len(state.usageLogs) != 1 {
					test.Fatalf("expected usage log, got %d", len(state.usageLogs))
				}
				usageLog := state.usageLogs[0]
				if usageLog.InputTokens != 100 || usageLog.OutputTokens != 50 || usageLog.Status != StatusServerError {
					test.Fatalf("unexpected usage log %+v", usageLog)
				}
				assertErrorPayload(test, usageLog.ErrorData)
				if len(state.allocationTransactions) != 1 || state.allocationTransactions[0].Tokens != 150 {
					test.Fatalf("expected partial usage to be charged, got %+v", state.allocationTransactions)
				}
			},
		},
		{
			name:    "platform",
			request: platformRequest,
			config:  withPlatformPricing,
			check: func(test *testing.T, store *memoryStore) {
				state := store.snapshot()
				if len(state.apiLogs) != 1 {
					test.Fatalf("expected api log, got %d", len(state.apiLogs))
				}
				apiLog := state.apiLogs[0]
				if apiLog.InputTokens != 100 || apiLog.OutputTokens != 50 || apiLog.Status != StatusServerError {
					test.Fatalf("unexpected api log %+v", apiLog)
				}
				assertErrorPayload(test, apiLog.ErrorData)
				if !apiLog.TotalCost.Equal(mustDecimal(test, "0.2")) || apiLog.WalletTransactionID.IsZero() {
					test.Fatalf("expected charged api log, got %+v", apiLog)
				}
			},
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newMemoryStore(test)
			request := testCase.request(test)
			service := mustNewServiceWithConfig(test, store, testCase.config(test))
			store.seedAllocation(test, Allocation{UserID: request.UserID, Source: SourceAdminGrant, TokensGranted: 1000})
			seedWallet(test, service, store, "10")

			_, err := service.WithUsageScope(context.Background(), request, func(ctx context.Context, usage *Usage) error {
				usage.InputTokens = 100
				usage.OutputTokens = 50
				return errOperationFailed
			})
			if err != errOperationFailed {
				test.Fatalf("expected the operation error unchanged, got %v", err)
			}
			testCase.check(test, store)
		})
	}
}

func TestScopeRecordsPanicAndReraises(test *testing.T) {
	test.Parallel()
	store := newMemoryStore(test)
	service := mustNewService(test, store)
	request := subscriptionRequest(test)

	defer func() {
		recovered := recover()
		if recovered != "boom" {
			test.Fatalf("expected re-raised panic, got %v", recovered)
		}
		state := store.snapshot()
		if len(state.usageLogs) != 1 || state.usageLogs[0].Status != StatusServerError {
			test.Fatalf("expected failed usage log, got %+v", state.usageLogs)
		}
	}()
	_, _ = service.WithUsageScope(context.Background(), request, func(ctx context.Context, usage *Usage) error {
		panic("boom")
	})
	test.Fatalf("expected panic")
}

func TestScopeJoinsOperationAndBillingErrors(test *testing.T) {
	test.Parallel()
	store := newMemoryStore(test)
	service := mustNewService(test, store)

	_, err := service.WithUsageScope(context.Background(), subscriptionRequest(test), func(ctx context.Context, usage *Usage) error {
		usage.OutputTokens = 10
		return errOperationFailed
	})
	if !errors.Is(err, errOperationFailed) || !errors.Is(err, ErrInsufficientTokens) {
		test.Fatalf("expected both errors, got %v", err)
	}
}

func TestScopeFinalizesAfterCallerCancellation(test *testing.T) {
	test.Parallel()
	store := newMemoryStore(test)
	request := subscriptionRequest(test)
	store.seedAllocation(test, Allocation{UserID: request.UserID, Source: SourceAdminGrant, TokensGranted: 100})
	service := mustNewService(test, store)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := service.WithUsageScope(ctx, request, func(ctx context.Context, usage *Usage) error {
		usage.InputTokens = 5
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		test.Fatalf(errorMismatch, context.Canceled, err)
	}
	if count := len(store.snapshot().usageLogs); count != 1 {
		test.Fatalf("expected usage log after cancellation, got %d", count)
	}
}

func TestPlatformScopeChargesWallet(test *testing.T) {
	test.Parallel()
	store := newMemoryStore(test)
	service := mustNewService(test, store)
	request := platformRequest(test)
	wallet := seedWallet(test, service, store, "5")
	plan, err := service.SavePricingPlan(context.Background(), PricingPlan{Name: "standard", DefaultInputPrice: mustDecimal(test, "0.01"), DefaultOutputPrice: mustDecimal(test, "0.02"), IsActive: true})
	if err != nil {
		test.Fatalf("save plan: %v", err)
	}
	custom := mustDecimal(test, "0.005")
	if err := service.AssignUserPricing(context.Background(), UserPricing{UserID: request.UserID, Plan: plan, CustomInputPrice: &custom}); err != nil {
		test.Fatalf("assign pricing: %v", err)
	}

	result, err := service.WithUsageScope(context.Background(), request, func(ctx context.Context, usage *Usage) error {
		usage.InputTokens = 100
		usage.OutputTokens = 10
		usage.Status = 201
		return nil
	})
	if err != nil {
		test.Fatalf("scope: %v", err)
	}
	if !result.InputCost.Equal(mustDecimal(test, "0.5")) || !result.OutputCost.Equal(mustDecimal(test, "0.2")) || !result.TotalCost.Equal(mustDecimal(test, "0.7")) {
		test.Fatalf("unexpected costs %+v", result)
	}
	state := store.snapshot()
	if !state.wallets[0].Balance.Equal(mustDecimal(test, "4.3")) {
		test.Fatalf("expected balance 4.3, got %s", state.wallets[0].Balance)
	}
	if len(state.walletTransactions) != 1 || state.walletTransactions[0].WalletID != wallet.ID {
		test.Fatalf("unexpected wallet transactions %+v", state.walletTransactions)
	}
	if state.apiLogs[0].WalletTransactionID != state.walletTransactions[0].ID || state.apiLogs[0].Status != 201 {
		test.Fatalf("expected api log linked to charge, got %+v", state.apiLogs[0])
	}
}

func TestPlatformScopeZeroCostSkipsCharge(test *testing.T) {
	test.Parallel()
	store := newMemoryStore(test)
	service := mustNewServiceWithConfig(test, store, withPlatformPricing(test))
	seedWallet(test, service, store, "5")

	result, err := service.WithUsageScope(context.Background(), platformRequest(test), func(ctx context.Context, usage *Usage) error {
		return nil
	})
	if err != nil {
		test.Fatalf("scope: %v", err)
	}
	state := store.snapshot()
	if len(state.apiLogs) != 1 || len(state.walletTransactions) != 0 || !result.WalletTransactionID.IsZero() {
		test.Fatalf("expected log without charge, got %d logs and %d transactions", len(state.apiLogs), len(state.walletTransactions))
	}
	if !state.wallets[0].Balance.Equal(decimal.NewFromInt(5)) {
		test.Fatalf("expected balance unchanged, got %s", state.wallets[0].Balance)
	}
}

func TestPlatformScopeRequiresWalletAndPricing(test *testing.T) {
	test.Parallel()
	store := newMemoryStore(test)
	service := mustNewService(test, store)
	_, err := service.WithUsageScope(context.Background(), platformRequest(test), func(ctx context.Context, usage *Usage) error {
		usage.InputTokens = 1
		return nil
	})
	if !errors.Is(err, ErrPricingNotFound) {
		test.Fatalf(errorMismatch, ErrPricingNotFound, err)
	}

	priced := mustNewServiceWithConfig(test, store, withPlatformPricing(test))
	_, err = priced.WithUsageScope(context.Background(), platformRequest(test), func(ctx context.Context, usage *Usage) error {
		usage.InputTokens = 1
		return nil
	})
	if !errors.Is(err, ErrWalletNotFound) {
		test.Fatalf(errorMismatch, ErrWalletNotFound, err)
	}
	if count := len(store.snapshot().apiLogs); count != 0 {
		test.Fatalf("expected no api logs, got %d", count)
	}
}

func TestScopeRejectsInvalidRequests(test *testing.T) {
	test.Parallel()
	service := mustNewService(test, newMemoryStore(test))
	noop := func(ctx context.Context, usage *Usage) error { return nil }
	testCases := []struct {
		name    string
		request UsageScopeRequest
		wantErr error
	}{
		{name: "missing user", request: UsageScopeRequest{Endpoint: endpointValue, Channel: ChannelSubscription}, wantErr: ErrInvalidUserID},
		{name: "missing endpoint", request: UsageScopeRequest{UserID: mustUserID(test, userIDValue), Channel: ChannelSubscription}, wantErr: ErrInvalidEndpoint},
		{name: "unknown channel", request: UsageScopeRequest{UserID: mustUserID(test, userIDValue), Endpoint: endpointValue, Channel: "batch"}, wantErr: ErrInvalidChannel},
		{name: "platform without organization", request: UsageScopeRequest{UserID: mustUserID(test, userIDValue), Endpoint: endpointValue, Channel: ChannelPlatform}, wantErr: ErrInvalidOrganizationID},
	}
	for _, testCase := range testCases {
		if _, err := service.WithUsageScope(context.Background(), testCase.request, noop); !errors.Is(err, testCase.wantErr) {
			test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.wantErr, err)
		}
	}
}

func assertErrorPayload(test *testing.T, payload Payload) {
	test.Helper()
	var decoded map[string]string
	if err := json.Unmarshal(payload.Bytes(), &decoded); err != nil {
		test.Fatalf("decode error payload: %v", err)
	}
	if decoded["error"] != errOperationFailed.Error() {
		test.Fatalf("unexpected error payload %v", decoded)
	}
}

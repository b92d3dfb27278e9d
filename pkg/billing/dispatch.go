package billing

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const chargeDescriptionPrefix = "API call to "

// finalizeUsage charges the ledger selected by the channel and persists the log
// row. It runs once per scope.
func (service *Service) finalizeUsage(ctx context.Context, request UsageScopeRequest, usage *Usage) (UsageResult, error) {
	result := UsageResult{
		LogID:        usage.logID,
		Channel:      request.Channel,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Status:       usage.Status,
		InputCost:    decimal.Zero,
		OutputCost:   decimal.Zero,
		TotalCost:    decimal.Zero,
	}
	var finalizeError error
	if usage.InputTokens < 0 || usage.OutputTokens < 0 {
		finalizeError = fmt.Errorf("%w: usage token counts must not be negative", ErrInvalidTokenCount)
	} else if usage.InputTokens > math.MaxInt64-usage.OutputTokens {
		finalizeError = fmt.Errorf("%w: usage token total overflows", ErrInvalidTokenCount)
	} else {
		switch request.Channel {
		case ChannelPlatform:
			finalizeError = service.finalizePlatformUsage(ctx, request, usage, &result)
		default:
			finalizeError = service.finalizeSubscriptionUsage(ctx, request, usage, &result)
		}
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationUsageScope,
		UserID:         request.UserID,
		OrganizationID: request.OrganizationID,
		Channel:        request.Channel,
		Endpoint:       request.Endpoint,
		Tokens:         usage.totalTokens(),
		Amount:         result.TotalCost,
		Error:          finalizeError,
	})
	if finalizeError != nil {
		return result, finalizeError
	}
	return result, nil
}

func (service *Service) finalizeSubscriptionUsage(ctx context.Context, request UsageScopeRequest, usage *Usage, result *UsageResult) error {
	usageLog := UsageLog{
		ID:           usage.logID,
		UserID:       request.UserID,
		Endpoint:     request.Endpoint,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Status:       usage.Status,
		RequestData:  usage.RequestData,
		ResponseData: usage.ResponseData,
		ErrorData:    usage.ErrorData,
		CreatedAt:    service.now(),
	}
	return service.withTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.InsertUsageLog(ctx, usageLog); err != nil {
			return err
		}
		transactions, err := service.draw(ctx, transactionStore, DrawRequest{
			UserID:      request.UserID,
			Tokens:      usage.totalTokens(),
			UsageLogID:  usage.logID,
			Description: chargeDescriptionPrefix + request.Endpoint,
		})
		if err != nil {
			return err
		}
		result.Transactions = transactions
		return nil
	})
}

func (service *Service) finalizePlatformUsage(ctx context.Context, request UsageScopeRequest, usage *Usage, result *UsageResult) error {
	pricing, err := service.ResolvePricing(ctx, request.UserID)
	if err != nil {
		return err
	}
	inputCost, outputCost, totalCost := pricing.Cost(usage.InputTokens, usage.OutputTokens)
	result.InputCost = inputCost
	result.OutputCost = outputCost
	result.TotalCost = totalCost
	apiLog := APILog{
		ID:             usage.logID,
		UserID:         request.UserID,
		OrganizationID: request.OrganizationID,
		Endpoint:       request.Endpoint,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		InputCost:      inputCost,
		OutputCost:     outputCost,
		TotalCost:      totalCost,
		Status:         usage.Status,
		RequestData:    usage.RequestData,
		ResponseData:   usage.ResponseData,
		ErrorData:      usage.ErrorData,
		CreatedAt:      service.now(),
	}
	return service.withTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if !totalCost.IsZero() {
			_, transaction, err := service.applyWalletMutation(ctx, transactionStore, WalletMutation{
				UserID:         request.UserID,
				OrganizationID: request.OrganizationID,
				Type:           TransactionAPICharge,
				Amount:         totalCost,
				Description:    chargeDescriptionPrefix + request.Endpoint,
			})
			if err != nil {
				return err
			}
			apiLog.WalletTransactionID = transaction.ID
		}
		if err := transactionStore.InsertAPILog(ctx, apiLog); err != nil {
			return err
		}
		result.WalletTransactionID = apiLog.WalletTransactionID
		return nil
	})
}

// totalTokens saturates at math.MaxInt64 so logging never reports a wrapped sum.
func (usage *Usage) totalTokens() TokenCount {
	if usage.InputTokens > math.MaxInt64-usage.OutputTokens {
		return math.MaxInt64
	}
	return usage.InputTokens + usage.OutputTokens
}

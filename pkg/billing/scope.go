package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// UsageScopeRequest identifies the caller and the ledger that funds the call.
type UsageScopeRequest struct {
	UserID UserID
	// OrganizationID selects the wallet on the platform channel.
	OrganizationID OrganizationID
	Endpoint       string
	Channel        Channel
}

func (request UsageScopeRequest) validate() (UsageScopeRequest, error) {
	if request.UserID.IsZero() {
		return request, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	request.Endpoint = strings.TrimSpace(request.Endpoint)
	if request.Endpoint == "" {
		return request, fmt.Errorf("%w: empty value", ErrInvalidEndpoint)
	}
	channel, err := ParseChannel(request.Channel.String())
	if err != nil {
		return request, err
	}
	if channel == ChannelPlatform && request.OrganizationID.IsZero() {
		return request, fmt.Errorf("%w: platform usage requires an organization", ErrInvalidOrganizationID)
	}
	return request, nil
}

// Usage is the handle a billable operation fills in while it runs.
type Usage struct {
	InputTokens  TokenCount
	OutputTokens TokenCount
	RequestData  Payload
	ResponseData Payload
	ErrorData    Payload
	// Status is an HTTP-style outcome code; zero means 200 on success.
	Status int

	logID RecordID
}

// LogID returns the id the usage or API log row will be stored under.
func (usage *Usage) LogID() RecordID {
	return usage.logID
}

// UsageOperation is the billable work wrapped by a usage scope.
type UsageOperation func(ctx context.Context, usage *Usage) error

// UsageResult summarizes what a finalized scope recorded.
type UsageResult struct {
	LogID        RecordID
	Channel      Channel
	InputTokens  TokenCount
	OutputTokens TokenCount
	Status       int
	// Transactions lists the allocation draws of a subscription call.
	Transactions []AllocationTransaction
	InputCost    decimal.Decimal
	OutputCost   decimal.Decimal
	TotalCost    decimal.Decimal
	// WalletTransactionID is set when a platform call was charged.
	WalletTransactionID RecordID
}

type scopePanic struct {
	value any
}

// WithUsageScope opens a usage record, runs operation against it and then
// finalizes exactly once: the ledger is charged and the log row persisted in one
// transaction. Operation failures are recorded and returned unchanged; a panic is
// recorded and re-raised after finalization. Billing failures are returned too,
// joined with the operation error when both occur.
func (service *Service) WithUsageScope(ctx context.Context, request UsageScopeRequest, operation UsageOperation) (UsageResult, error) {
	validated, err := request.validate()
	if err != nil {
		return UsageResult{}, err
	}
	if operation == nil {
		return UsageResult{}, fmt.Errorf("%w: usage operation is nil", ErrInvalidServiceConfig)
	}
	logID, err := GenerateRecordID()
	if err != nil {
		return UsageResult{}, err
	}
	usage := &Usage{logID: logID}

	operationError, panicked := invokeUsageOperation(ctx, operation, usage)
	switch {
	case panicked != nil:
		recordFailure(usage, fmt.Sprint(panicked.value))
	case operationError != nil:
		recordFailure(usage, operationError.Error())
	case usage.Status == 0:
		usage.Status = StatusOK
	}

	result, finalizeError := service.finalizeUsage(context.WithoutCancel(ctx), validated, usage)
	if panicked != nil {
		panic(panicked.value)
	}
	switch {
	case operationError == nil:
		return result, finalizeError
	case finalizeError == nil:
		return result, operationError
	default:
		return result, errors.Join(operationError, finalizeError)
	}
}

func invokeUsageOperation(ctx context.Context, operation UsageOperation, usage *Usage) (operationError error, panicked *scopePanic) {
	defer func() {
		if recovered := recover(); recovered != nil {
			panicked = &scopePanic{value: recovered}
		}
	}()
	return operation(ctx, usage), nil
}

func recordFailure(usage *Usage, message string) {
	usage.Status = StatusServerError
	payload, err := PayloadOf(map[string]string{"error": message})
	if err != nil {
		return
	}
	usage.ErrorData = payload
	if len(usage.ResponseData) == 0 {
		usage.ResponseData = payload
	}
}

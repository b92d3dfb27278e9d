package billing

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// DrawRequest asks for tokens to be consumed from a user's allocations on behalf
// of one usage event.
type DrawRequest struct {
	UserID      UserID
	Tokens      TokenCount
	UsageLogID  RecordID
	Description string
}

type drawStep struct {
	allocation Allocation
	tokens     TokenCount
}

// Draw consumes request.Tokens from the user's spendable allocations, soonest
// expiring first. Either the full amount is drawn or nothing changes.
func (service *Service) Draw(ctx context.Context, request DrawRequest) ([]AllocationTransaction, error) {
	if request.UserID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if request.Tokens < 0 {
		return nil, fmt.Errorf("%w: must not be negative", ErrInvalidTokenCount)
	}
	if request.Tokens == 0 {
		return nil, nil
	}
	if request.UsageLogID.IsZero() {
		generated, err := GenerateRecordID()
		if err != nil {
			return nil, err
		}
		request.UsageLogID = generated
	}
	var transactions []AllocationTransaction
	operationError := service.withTx(ctx, func(ctx context.Context, transactionStore Store) error {
		drawn, err := service.draw(ctx, transactionStore, request)
		if err != nil {
			return err
		}
		transactions = drawn
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDraw,
		UserID:    request.UserID,
		Channel:   ChannelSubscription,
		Tokens:    request.Tokens,
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return transactions, nil
}

// draw runs the drawdown inside an open transaction. The caller owns rollback.
func (service *Service) draw(ctx context.Context, transactionStore Store, request DrawRequest) ([]AllocationTransaction, error) {
	if request.Tokens < 0 {
		return nil, fmt.Errorf("%w: must not be negative", ErrInvalidTokenCount)
	}
	if request.Tokens == 0 {
		return nil, nil
	}
	allocations, err := transactionStore.LockSpendableAllocations(ctx, request.UserID, service.today())
	if err != nil {
		return nil, err
	}
	steps, shortBy, err := planDrawdown(allocations, request.Tokens)
	if err != nil {
		return nil, err
	}
	if shortBy > 0 {
		return nil, InsufficientTokensError{Required: request.Tokens, ShortBy: shortBy}
	}
	createdAt := service.now()
	transactions := make([]AllocationTransaction, 0, len(steps))
	for _, step := range steps {
		if err := transactionStore.IncrementAllocationUsage(ctx, step.allocation.ID, step.allocation.TokensUsed, step.tokens); err != nil {
			return nil, err
		}
		transactionID, err := GenerateRecordID()
		if err != nil {
			return nil, err
		}
		transaction := AllocationTransaction{
			ID:           transactionID,
			AllocationID: step.allocation.ID,
			UsageLogID:   request.UsageLogID,
			Tokens:       step.tokens,
			Type:         TransactionAPICharge,
			Description:  request.Description,
			CreatedAt:    createdAt,
		}
		if err := transactionStore.InsertAllocationTransaction(ctx, transaction); err != nil {
			return nil, err
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// planDrawdown decides how many tokens to take from each allocation. It returns
// the steps in lock order and the amount that could not be funded. Every locked
// allocation must still have tokens left; the store query filters exhausted rows.
func planDrawdown(allocations []Allocation, required TokenCount) ([]drawStep, TokenCount, error) {
	ordered := slices.Clone(allocations)
	slices.SortStableFunc(ordered, compareDrawOrder)
	remaining := required
	var steps []drawStep
	for _, allocation := range ordered {
		if remaining <= 0 {
			break
		}
		if allocation.TokensRemaining() <= 0 {
			return nil, 0, fmt.Errorf("%w: allocation %s has no tokens left", ErrStoreInvariant, allocation.ID)
		}
		deduct := min(allocation.TokensRemaining(), remaining)
		steps = append(steps, drawStep{allocation: allocation, tokens: deduct})
		remaining -= deduct
	}
	if remaining < 0 {
		remaining = 0
	}
	return steps, remaining, nil
}

// compareDrawOrder sorts by expiry ascending with never-expiring allocations
// last, then by id.
func compareDrawOrder(left Allocation, right Allocation) int {
	switch {
	case left.ExpiresOn == nil && right.ExpiresOn != nil:
		return 1
	case left.ExpiresOn != nil && right.ExpiresOn == nil:
		return -1
	case left.ExpiresOn != nil && right.ExpiresOn != nil && !left.ExpiresOn.Equal(*right.ExpiresOn):
		return left.ExpiresOn.Time().Compare(right.ExpiresOn.Time())
	}
	return strings.Compare(left.ID.String(), right.ID.String())
}

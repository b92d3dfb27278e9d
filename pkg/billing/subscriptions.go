package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SubscriptionChange reports what RecordSubscription did.
type SubscriptionChange struct {
	Previous   *Subscription
	Current    Subscription
	Downgraded bool
}

// RecordSubscription stores the mirrored gateway state of a user's subscription.
// A transition from active to an inactive status downgrades the user.
func (service *Service) RecordSubscription(ctx context.Context, subscription Subscription) (SubscriptionChange, error) {
	change, operationError := service.recordSubscription(ctx, subscription)
	service.logOperation(ctx, OperationLog{
		Operation: operationSubscription,
		UserID:    subscription.UserID,
		Tokens:    subscription.PlanTokens,
		Error:     operationError,
	})
	return change, operationError
}

func (service *Service) recordSubscription(ctx context.Context, subscription Subscription) (SubscriptionChange, error) {
	if subscription.UserID.IsZero() {
		return SubscriptionChange{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	status, err := ParseSubscriptionStatus(subscription.Status.String())
	if err != nil {
		return SubscriptionChange{}, err
	}
	interval, err := ParsePlanInterval(subscription.Interval.String())
	if err != nil {
		return SubscriptionChange{}, err
	}
	if subscription.PlanTokens < 0 {
		return SubscriptionChange{}, fmt.Errorf("%w: must not be negative", ErrInvalidTokenCount)
	}
	if subscription.CurrentStart != nil && subscription.CurrentEnd != nil && subscription.CurrentEnd.Before(*subscription.CurrentStart) {
		return SubscriptionChange{}, fmt.Errorf("%w: period ends before it starts", ErrInvalidSubscription)
	}
	subscription.Status = status
	subscription.Interval = interval
	subscription.ExternalID = strings.TrimSpace(subscription.ExternalID)
	subscription.UpdatedAt = service.now()

	change := SubscriptionChange{Current: subscription}
	previous, err := service.store.GetSubscription(ctx, subscription.UserID)
	switch {
	case err == nil:
		change.Previous = &previous
	case !errors.Is(err, ErrSubscriptionNotFound):
		return SubscriptionChange{}, err
	}
	if err := service.store.UpsertSubscription(ctx, subscription); err != nil {
		return SubscriptionChange{}, err
	}
	if change.Previous != nil && status.IsDowngradeFrom(change.Previous.Status) {
		if err := service.Downgrade(ctx, subscription.UserID); err != nil {
			return change, err
		}
		change.Downgraded = true
	}
	return change, nil
}

// Subscription returns the mirrored subscription or ErrSubscriptionNotFound.
func (service *Service) Subscription(ctx context.Context, userID UserID) (Subscription, error) {
	return service.store.GetSubscription(ctx, userID)
}

// Downgrade drops a user back to the free tier: active allocations are
// deallocated and today's free allocation is ensured, atomically.
func (service *Service) Downgrade(ctx context.Context, userID UserID) error {
	operationError := func() error {
		if userID.IsZero() {
			return fmt.Errorf("%w: empty value", ErrInvalidUserID)
		}
		return service.withTx(ctx, func(ctx context.Context, transactionStore Store) error {
			if _, err := transactionStore.DeallocateActiveAllocations(ctx, userID, service.today()); err != nil {
				return err
			}
			return service.restoreFreeDaily(ctx, transactionStore, userID)
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationDowngrade,
		UserID:    userID,
		Tokens:    service.config.FreeDailyTokens,
		Error:     operationError,
	})
	return operationError
}

// restoreFreeDaily ensures today's free allocation after a deallocation sweep.
// When today's grant existed it was just deallocated, so its unused remainder is
// granted again under a restore key.
func (service *Service) restoreFreeDaily(ctx context.Context, transactionStore Store, userID UserID) error {
	today := service.today()
	dailyKey := joinGrantKey(grantKeyFreeDaily, userID.String(), today.String())
	existing, err := transactionStore.FindAllocationByGrantKey(ctx, dailyKey)
	switch {
	case errors.Is(err, ErrAllocationNotFound):
		_, _, err = service.ensureFreeDaily(ctx, transactionStore, userID)
		return err
	case err != nil:
		return err
	}
	remaining := existing.TokensRemaining()
	if remaining == 0 {
		return nil
	}
	_, _, err = service.grant(ctx, transactionStore, GrantRequest{
		UserID:    userID,
		Source:    SourceFreeDaily,
		Tokens:    remaining,
		ExpiresOn: &today,
		GrantKey:  joinGrantKey(dailyKey, grantKeyRestore),
	})
	return err
}

// InvoiceRequest reports a paid subscription invoice.
type InvoiceRequest struct {
	UserID    UserID
	InvoiceID string
}

// ApplyInvoice renews the user's allocation from their mirrored subscription.
// Yearly plans receive one month of tokens from the period start; other plans
// are funded until the period end.
func (service *Service) ApplyInvoice(ctx context.Context, request InvoiceRequest) (Allocation, bool, error) {
	subscription, err := service.store.GetSubscription(ctx, request.UserID)
	if err != nil {
		return Allocation{}, false, err
	}
	var expiresOn *Date
	switch {
	case subscription.Interval == IntervalYearly && subscription.CurrentStart != nil:
		monthLater := subscription.CurrentStart.AddMonths(1)
		expiresOn = &monthLater
	case subscription.CurrentEnd != nil:
		periodEnd := *subscription.CurrentEnd
		expiresOn = &periodEnd
	default:
		return Allocation{}, false, fmt.Errorf("%w: subscription has no current period", ErrInvalidSubscription)
	}
	return service.RenewSubscriptionAllocation(ctx, RenewalRequest{
		UserID:    request.UserID,
		Tokens:    subscription.PlanTokens,
		ExpiresOn: expiresOn,
		InvoiceID: request.InvoiceID,
	})
}

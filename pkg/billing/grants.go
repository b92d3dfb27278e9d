package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const accountPageSize = 200

// GrantRequest describes a new allocation.
type GrantRequest struct {
	UserID    UserID
	Source    AllocationSource
	Tokens    TokenCount
	ExpiresOn *Date
	// GrantKey makes the grant idempotent when set.
	GrantKey  string
	InvoiceID string
}

// RenewalRequest replaces a user's active allocations with a purchased one.
type RenewalRequest struct {
	UserID    UserID
	Tokens    TokenCount
	ExpiresOn *Date
	InvoiceID string
}

// TokenUsage aggregates the user's active allocations.
func (service *Service) TokenUsage(ctx context.Context, userID UserID) (TokenUsage, error) {
	if userID.IsZero() {
		return TokenUsage{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	allocations, err := service.store.ListActiveAllocations(ctx, userID, service.today())
	if err != nil {
		return TokenUsage{}, err
	}
	return summarizeAllocations(allocations), nil
}

func summarizeAllocations(allocations []Allocation) TokenUsage {
	var usage TokenUsage
	for _, allocation := range allocations {
		usage.Total += allocation.TokensGranted
		usage.Used += allocation.TokensUsed
		if allocation.ExpiresOn != nil && (usage.ExpiresOn == nil || usage.ExpiresOn.Before(*allocation.ExpiresOn)) {
			expiresOn := *allocation.ExpiresOn
			usage.ExpiresOn = &expiresOn
		}
	}
	usage.Remaining = max(usage.Total-usage.Used, 0)
	return usage
}

// GrantAllocation creates an allocation. The boolean is false when the grant key
// was already used, in which case the existing allocation is returned.
func (service *Service) GrantAllocation(ctx context.Context, request GrantRequest) (Allocation, bool, error) {
	allocation, created, operationError := service.grant(ctx, service.store, request)
	service.logOperation(ctx, OperationLog{
		Operation: operationGrant,
		UserID:    request.UserID,
		Tokens:    request.Tokens,
		Error:     operationError,
	})
	return allocation, created, operationError
}

func (service *Service) grant(ctx context.Context, store Store, request GrantRequest) (Allocation, bool, error) {
	allocation, err := service.newAllocation(request)
	if err != nil {
		return Allocation{}, false, err
	}
	created, err := store.CreateAllocation(ctx, allocation)
	if err != nil {
		return Allocation{}, false, err
	}
	if created {
		return allocation, true, nil
	}
	existing, err := store.FindAllocationByGrantKey(ctx, allocation.GrantKey)
	if err != nil {
		return Allocation{}, false, err
	}
	return existing, false, nil
}

func (service *Service) newAllocation(request GrantRequest) (Allocation, error) {
	if request.UserID.IsZero() {
		return Allocation{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	source, err := ParseAllocationSource(request.Source.String())
	if err != nil {
		return Allocation{}, err
	}
	if request.Tokens < 0 {
		return Allocation{}, fmt.Errorf("%w: must not be negative", ErrInvalidTokenCount)
	}
	allocationID, err := GenerateRecordID()
	if err != nil {
		return Allocation{}, err
	}
	return Allocation{
		ID:            allocationID,
		UserID:        request.UserID,
		Source:        source,
		TokensGranted: request.Tokens,
		ExpiresOn:     request.ExpiresOn,
		InvoiceID:     strings.TrimSpace(request.InvoiceID),
		GrantKey:      strings.TrimSpace(request.GrantKey),
		CreatedAt:     service.now(),
	}, nil
}

// EnsureFreeDailyAllocation creates today's free allocation unless it exists.
func (service *Service) EnsureFreeDailyAllocation(ctx context.Context, userID UserID) (Allocation, bool, error) {
	allocation, created, operationError := service.ensureFreeDaily(ctx, service.store, userID)
	service.logOperation(ctx, OperationLog{
		Operation: operationFreeDaily,
		UserID:    userID,
		Tokens:    service.config.FreeDailyTokens,
		Error:     operationError,
	})
	return allocation, created, operationError
}

func (service *Service) ensureFreeDaily(ctx context.Context, store Store, userID UserID) (Allocation, bool, error) {
	today := service.today()
	return service.grant(ctx, store, GrantRequest{
		UserID:    userID,
		Source:    SourceFreeDaily,
		Tokens:    service.config.FreeDailyTokens,
		ExpiresOn: &today,
		GrantKey:  joinGrantKey(grantKeyFreeDaily, userID.String(), today.String()),
	})
}

// RunDailyFreeGrants ensures today's free allocation for every active account
// without an active subscription. It returns how many allocations were created
// and keeps going past per-user failures.
func (service *Service) RunDailyFreeGrants(ctx context.Context) (int, error) {
	created := 0
	var failures []error
	after := ""
	for {
		accounts, err := service.store.ListAccounts(ctx, after, accountPageSize)
		if err != nil {
			return created, errors.Join(append(failures, err)...)
		}
		for _, account := range accounts {
			if err := ctx.Err(); err != nil {
				return created, errors.Join(append(failures, err)...)
			}
			granted, err := service.grantFreeDailyIfUnsubscribed(ctx, account.UserID)
			if err != nil {
				failures = append(failures, fmt.Errorf("user %s: %w", account.UserID, err))
				continue
			}
			if granted {
				created++
			}
		}
		if len(accounts) < accountPageSize {
			return created, errors.Join(failures...)
		}
		after = accounts[len(accounts)-1].UserID.String()
	}
}

func (service *Service) grantFreeDailyIfUnsubscribed(ctx context.Context, userID UserID) (bool, error) {
	subscription, err := service.store.GetSubscription(ctx, userID)
	switch {
	case err == nil && subscription.IsActive():
		return false, nil
	case err != nil && !errors.Is(err, ErrSubscriptionNotFound):
		return false, err
	}
	_, created, err := service.EnsureFreeDailyAllocation(ctx, userID)
	return created, err
}

// DeallocateActiveAllocations flags every non-expired allocation of the user as
// deallocated and returns how many rows changed.
func (service *Service) DeallocateActiveAllocations(ctx context.Context, userID UserID) (int64, error) {
	var affected int64
	operationError := func() error {
		if userID.IsZero() {
			return fmt.Errorf("%w: empty value", ErrInvalidUserID)
		}
		count, err := service.store.DeallocateActiveAllocations(ctx, userID, service.today())
		affected = count
		return err
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationDeallocate,
		UserID:    userID,
		Error:     operationError,
	})
	return affected, operationError
}

// RenewSubscriptionAllocation deallocates the user's active allocations and
// creates a subscription_purchase allocation in one transaction. Repeating it for
// the same invoice returns the existing allocation and changes nothing.
func (service *Service) RenewSubscriptionAllocation(ctx context.Context, request RenewalRequest) (Allocation, bool, error) {
	var (
		allocation Allocation
		created    bool
	)
	operationError := func() error {
		request.InvoiceID = strings.TrimSpace(request.InvoiceID)
		if request.InvoiceID == "" {
			return fmt.Errorf("%w: invoice id is empty", ErrInvalidSubscription)
		}
		grantKey := joinGrantKey(grantKeyInvoice, request.InvoiceID)
		return service.withTx(ctx, func(ctx context.Context, transactionStore Store) error {
			renewed, isNew, err := service.replaceAllocations(ctx, transactionStore, GrantRequest{
				UserID:    request.UserID,
				Source:    SourceSubscriptionPurchase,
				Tokens:    request.Tokens,
				ExpiresOn: request.ExpiresOn,
				GrantKey:  grantKey,
				InvoiceID: request.InvoiceID,
			})
			allocation, created = renewed, isNew
			return err
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationRenew,
		UserID:    request.UserID,
		Tokens:    request.Tokens,
		Error:     operationError,
	})
	if operationError != nil {
		return Allocation{}, false, operationError
	}
	return allocation, created, nil
}

// replaceAllocations runs deallocate-then-create inside an open transaction,
// skipping both when the grant key was already used.
func (service *Service) replaceAllocations(ctx context.Context, transactionStore Store, request GrantRequest) (Allocation, bool, error) {
	existing, err := transactionStore.FindAllocationByGrantKey(ctx, request.GrantKey)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrAllocationNotFound):
		return Allocation{}, false, err
	}
	allocation, err := service.newAllocation(request)
	if err != nil {
		return Allocation{}, false, err
	}
	if _, err := transactionStore.DeallocateActiveAllocations(ctx, request.UserID, service.today()); err != nil {
		return Allocation{}, false, err
	}
	created, err := transactionStore.CreateAllocation(ctx, allocation)
	if err != nil {
		return Allocation{}, false, err
	}
	if !created {
		existing, err := transactionStore.FindAllocationByGrantKey(ctx, allocation.GrantKey)
		return existing, false, err
	}
	return allocation, true, nil
}

// RefreshAnnualAllocations grants the monthly token allocation of yearly plans on
// their monthly anniversary. It returns how many allocations were created.
func (service *Service) RefreshAnnualAllocations(ctx context.Context) (int, error) {
	subscriptions, err := service.store.ListActiveSubscriptions(ctx, IntervalYearly)
	if err != nil {
		return 0, err
	}
	today := service.today()
	monthStart := service.monthStart()
	created := 0
	var failures []error
	for _, subscription := range subscriptions {
		if !subscription.IsActive() || !subscription.InPeriod(today) || !isMonthlyAnniversary(*subscription.CurrentStart, today) {
			continue
		}
		alreadyGranted, err := service.store.HasAllocationSince(ctx, subscription.UserID, SourceSubscriptionPurchase, monthStart)
		if err != nil {
			failures = append(failures, fmt.Errorf("user %s: %w", subscription.UserID, err))
			continue
		}
		if alreadyGranted {
			continue
		}
		expiresOn := today.AddMonths(1)
		grantKey := joinGrantKey(grantKeyAnnualPeriod, subscription.UserID.String(), today.Time().Format("2006-01"))
		var isNew bool
		operationError := service.withTx(ctx, func(ctx context.Context, transactionStore Store) error {
			_, created, err := service.replaceAllocations(ctx, transactionStore, GrantRequest{
				UserID:    subscription.UserID,
				Source:    SourceSubscriptionPurchase,
				Tokens:    subscription.PlanTokens,
				ExpiresOn: &expiresOn,
				GrantKey:  grantKey,
			})
			isNew = created
			return err
		})
		service.logOperation(ctx, OperationLog{
			Operation: operationAnnualRefresh,
			UserID:    subscription.UserID,
			Tokens:    subscription.PlanTokens,
			Error:     operationError,
		})
		if operationError != nil {
			failures = append(failures, fmt.Errorf("user %s: %w", subscription.UserID, operationError))
			continue
		}
		if isNew {
			created++
		}
	}
	return created, errors.Join(failures...)
}

// isMonthlyAnniversary matches the period start day, or the last day of a month
// too short to contain it.
func isMonthlyAnniversary(periodStart Date, today Date) bool {
	startDay := periodStart.Time().Day()
	todayDay := today.Time().Day()
	if startDay == todayDay {
		return true
	}
	return today.IsLastDayOfMonth() && startDay > todayDay
}

func joinGrantKey(parts ...string) string {
	return strings.Join(parts, grantKeyDelimiter)
}

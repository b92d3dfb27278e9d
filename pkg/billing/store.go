package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists billing state. Implementations must run WithTx callbacks in a
// single database transaction and honor the row locks requested by the Lock*
// methods until that transaction ends.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	// CreateAllocation inserts a grant. It returns false without error when an
	// allocation with the same non-empty grant key already exists.
	CreateAllocation(ctx context.Context, allocation Allocation) (bool, error)
	// FindAllocationByGrantKey returns ErrAllocationNotFound when no allocation holds key.
	FindAllocationByGrantKey(ctx context.Context, grantKey string) (Allocation, error)
	// LockSpendableAllocations returns the user's non-deallocated, non-expired
	// allocations with remaining capacity, locked for update, ordered by expiry
	// ascending (never-expiring last) then by id.
	LockSpendableAllocations(ctx context.Context, userID UserID, today Date) ([]Allocation, error)
	// IncrementAllocationUsage adds delta to tokens_used if the row still holds
	// expectedUsed and the result stays within tokens_granted. Otherwise it
	// returns ErrConcurrentUpdate.
	IncrementAllocationUsage(ctx context.Context, allocationID RecordID, expectedUsed TokenCount, delta TokenCount) error
	InsertAllocationTransaction(ctx context.Context, transaction AllocationTransaction) error
	ListActiveAllocations(ctx context.Context, userID UserID, today Date) ([]Allocation, error)
	DeallocateActiveAllocations(ctx context.Context, userID UserID, today Date) (int64, error)
	// SumChargedTokensSince totals api_charge allocation transactions drawn from
	// allocations of source, created at or after since.
	SumChargedTokensSince(ctx context.Context, userID UserID, source AllocationSource, since time.Time) (TokenCount, error)
	HasAllocationSince(ctx context.Context, userID UserID, source AllocationSource, since time.Time) (bool, error)

	InsertUsageLog(ctx context.Context, usageLog UsageLog) error
	ListUsageLogs(ctx context.Context, userID UserID, page Page) ([]UsageLog, error)
	InsertAPILog(ctx context.Context, apiLog APILog) error
	ListAPILogs(ctx context.Context, userID UserID, page Page) ([]APILog, error)

	GetOrCreateWallet(ctx context.Context, wallet Wallet) (Wallet, error)
	// GetWallet and LockWallet return ErrWalletNotFound when the pair has no wallet.
	GetWallet(ctx context.Context, userID UserID, organizationID OrganizationID) (Wallet, error)
	GetWalletByID(ctx context.Context, walletID RecordID) (Wallet, error)
	LockWallet(ctx context.Context, userID UserID, organizationID OrganizationID) (Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID RecordID, balance decimal.Decimal, updatedAt time.Time) error
	InsertWalletTransaction(ctx context.Context, transaction WalletTransaction) error
	ListWalletTransactions(ctx context.Context, walletID RecordID, page Page) ([]WalletTransaction, error)

	// GetUserPricing returns ErrPricingNotFound when the user has no pricing record.
	GetUserPricing(ctx context.Context, userID UserID) (UserPricing, error)
	SavePricingPlan(ctx context.Context, plan PricingPlan) error
	SaveUserPricing(ctx context.Context, userPricing UserPricing) error

	// GetSubscription returns ErrSubscriptionNotFound when none is mirrored.
	GetSubscription(ctx context.Context, userID UserID) (Subscription, error)
	UpsertSubscription(ctx context.Context, subscription Subscription) error
	ListActiveSubscriptions(ctx context.Context, interval PlanInterval) ([]Subscription, error)

	RegisterAccount(ctx context.Context, account Account) error
	// ListAccounts pages active accounts in user id order, starting after afterUserID.
	ListAccounts(ctx context.Context, afterUserID string, limit int) ([]Account, error)

	// GetOrganization returns ErrOrganizationNotFound for unknown ids.
	GetOrganization(ctx context.Context, organizationID OrganizationID) (Organization, error)
	UpsertOrganization(ctx context.Context, organization Organization) error
}

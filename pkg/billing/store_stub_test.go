package billing

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// memoryStore is an in-memory Store. WithTx serializes transactions behind one
// mutex and restores a snapshot when the callback fails.
type memoryStore struct {
	mu    *sync.Mutex
	state *memoryState
	inTx  bool
}

type memoryState struct {
	allocations            []Allocation
	allocationTransactions []AllocationTransaction
	usageLogs              []UsageLog
	apiLogs                []APILog
	wallets                []Wallet
	walletTransactions     []WalletTransaction
	plans                  map[RecordID]PricingPlan
	pricing                map[UserID]UserPricing
	subscriptions          map[UserID]Subscription
	accounts               map[UserID]Account
	organizations          map[OrganizationID]Organization
	failures               map[string]error
	calls                  int
}

func newMemoryStore(test *testing.T) *memoryStore {
	test.Helper()
	return &memoryStore{
		mu: &sync.Mutex{},
		state: &memoryState{
			plans:         map[RecordID]PricingPlan{},
			pricing:       map[UserID]UserPricing{},
			subscriptions: map[UserID]Subscription{},
			accounts:      map[UserID]Account{},
			organizations: map[OrganizationID]Organization{},
			failures:      map[string]error{},
		},
	}
}

func (state *memoryState) clone() *memoryState {
	cloned := *state
	cloned.allocations = slices.Clone(state.allocations)
	cloned.allocationTransactions = slices.Clone(state.allocationTransactions)
	cloned.usageLogs = slices.Clone(state.usageLogs)
	cloned.apiLogs = slices.Clone(state.apiLogs)
	cloned.wallets = slices.Clone(state.wallets)
	cloned.walletTransactions = slices.Clone(state.walletTransactions)
	cloned.plans = cloneMap(state.plans)
	cloned.pricing = cloneMap(state.pricing)
	cloned.subscriptions = cloneMap(state.subscriptions)
	cloned.accounts = cloneMap(state.accounts)
	cloned.organizations = cloneMap(state.organizations)
	return &cloned
}

func cloneMap[K comparable, V any](source map[K]V) map[K]V {
	cloned := make(map[K]V, len(source))
	for key, value := range source {
		cloned[key] = value
	}
	return cloned
}

// enter locks the store for a single call outside a transaction and records
// the call. The returned function releases the lock.
func (store *memoryStore) enter(method string) (func(), error) {
	release := func() {}
	if !store.inTx {
		store.mu.Lock()
		release = store.mu.Unlock
	}
	store.state.calls++
	if err := store.state.failures[method]; err != nil {
		release()
		return func() {}, err
	}
	return release, nil
}

func (store *memoryStore) failOn(method string, err error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.state.failures[method] = err
}

func (store *memoryStore) callCount() int {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.calls
}

func (store *memoryStore) snapshot() *memoryState {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.clone()
}

func (store *memoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.state.calls++
	if err := store.state.failures["WithTx"]; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	saved := store.state.clone()
	transactionStore := &memoryStore{mu: store.mu, state: store.state, inTx: true}
	if err := fn(ctx, transactionStore); err != nil {
		failures := store.state.failures
		calls := store.state.calls
		*store.state = *saved
		store.state.failures = failures
		store.state.calls = calls
		return err
	}
	return nil
}

func (store *memoryStore) CreateAllocation(ctx context.Context, allocation Allocation) (bool, error) {
	release, err := store.enter("CreateAllocation")
	defer release()
	if err != nil {
		return false, err
	}
	if allocation.GrantKey != "" {
		for _, existing := range store.state.allocations {
			if existing.GrantKey == allocation.GrantKey {
				return false, nil
			}
		}
	}
	store.state.allocations = append(store.state.allocations, allocation)
	return true, nil
}

func (store *memoryStore) FindAllocationByGrantKey(ctx context.Context, grantKey string) (Allocation, error) {
	release, err := store.enter("FindAllocationByGrantKey")
	defer release()
	if err != nil {
		return Allocation{}, err
	}
	for _, existing := range store.state.allocations {
		if grantKey != "" && existing.GrantKey == grantKey {
			return existing, nil
		}
	}
	return Allocation{}, ErrAllocationNotFound
}

func (store *memoryStore) LockSpendableAllocations(ctx context.Context, userID UserID, today Date) ([]Allocation, error) {
	release, err := store.enter("LockSpendableAllocations")
	defer release()
	if err != nil {
		return nil, err
	}
	var spendable []Allocation
	for _, allocation := range store.state.allocations {
		if allocation.UserID == userID && allocation.IsSpendable(today) {
			spendable = append(spendable, allocation)
		}
	}
	slices.SortStableFunc(spendable, compareDrawOrder)
	return spendable, nil
}

func (store *memoryStore) IncrementAllocationUsage(ctx context.Context, allocationID RecordID, expectedUsed TokenCount, delta TokenCount) error {
	release, err := store.enter("IncrementAllocationUsage")
	defer release()
	if err != nil {
		return err
	}
	for index, allocation := range store.state.allocations {
		if allocation.ID != allocationID {
			continue
		}
		if allocation.TokensUsed != expectedUsed || allocation.TokensUsed+delta > allocation.TokensGranted {
			return ErrConcurrentUpdate
		}
		store.state.allocations[index].TokensUsed += delta
		return nil
	}
	return ErrConcurrentUpdate
}

func (store *memoryStore) InsertAllocationTransaction(ctx context.Context, transaction AllocationTransaction) error {
	release, err := store.enter("InsertAllocationTransaction")
	defer release()
	if err != nil {
		return err
	}
	store.state.allocationTransactions = append(store.state.allocationTransactions, transaction)
	return nil
}

func (store *memoryStore) ListActiveAllocations(ctx context.Context, userID UserID, today Date) ([]Allocation, error) {
	release, err := store.enter("ListActiveAllocations")
	defer release()
	if err != nil {
		return nil, err
	}
	var active []Allocation
	for _, allocation := range store.state.allocations {
		if allocation.UserID == userID && allocation.IsActive(today) {
			active = append(active, allocation)
		}
	}
	return active, nil
}

func (store *memoryStore) DeallocateActiveAllocations(ctx context.Context, userID UserID, today Date) (int64, error) {
	release, err := store.enter("DeallocateActiveAllocations")
	defer release()
	if err != nil {
		return 0, err
	}
	var affected int64
	for index, allocation := range store.state.allocations {
		if allocation.UserID == userID && allocation.IsActive(today) {
			store.state.allocations[index].IsDeallocated = true
			affected++
		}
	}
	return affected, nil
}

func (store *memoryStore) SumChargedTokensSince(ctx context.Context, userID UserID, source AllocationSource, since time.Time) (TokenCount, error) {
	release, err := store.enter("SumChargedTokensSince")
	defer release()
	if err != nil {
		return 0, err
	}
	owners := map[RecordID]bool{}
	for _, allocation := range store.state.allocations {
		if allocation.UserID == userID && allocation.Source == source {
			owners[allocation.ID] = true
		}
	}
	var total TokenCount
	for _, transaction := range store.state.allocationTransactions {
		if owners[transaction.AllocationID] && transaction.Type == TransactionAPICharge && !transaction.CreatedAt.Before(since) {
			total += transaction.Tokens
		}
	}
	return total, nil
}

func (store *memoryStore) HasAllocationSince(ctx context.Context, userID UserID, source AllocationSource, since time.Time) (bool, error) {
	release, err := store.enter("HasAllocationSince")
	defer release()
	if err != nil {
		return false, err
	}
	for _, allocation := range store.state.allocations {
		if allocation.UserID == userID && allocation.Source == source && !allocation.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (store *memoryStore) InsertUsageLog(ctx context.Context, usageLog UsageLog) error {
	release, err := store.enter("InsertUsageLog")
	defer release()
	if err != nil {
		return err
	}
	store.state.usageLogs = append(store.state.usageLogs, usageLog)
	return nil
}

func (store *memoryStore) ListUsageLogs(ctx context.Context, userID UserID, page Page) ([]UsageLog, error) {
	release, err := store.enter("ListUsageLogs")
	defer release()
	if err != nil {
		return nil, err
	}
	var logs []UsageLog
	for _, usageLog := range store.state.usageLogs {
		if usageLog.UserID == userID {
			logs = append(logs, usageLog)
		}
	}
	return pageByID(logs, page, func(usageLog UsageLog) RecordID { return usageLog.ID }), nil
}

func (store *memoryStore) InsertAPILog(ctx context.Context, apiLog APILog) error {
	release, err := store.enter("InsertAPILog")
	defer release()
	if err != nil {
		return err
	}
	store.state.apiLogs = append(store.state.apiLogs, apiLog)
	return nil
}

func (store *memoryStore) ListAPILogs(ctx context.Context, userID UserID, page Page) ([]APILog, error) {
	release, err := store.enter("ListAPILogs")
	defer release()
	if err != nil {
		return nil, err
	}
	var logs []APILog
	for _, apiLog := range store.state.apiLogs {
		if apiLog.UserID == userID {
			logs = append(logs, apiLog)
		}
	}
	return pageByID(logs, page, func(apiLog APILog) RecordID { return apiLog.ID }), nil
}

func (store *memoryStore) GetOrCreateWallet(ctx context.Context, wallet Wallet) (Wallet, error) {
	release, err := store.enter("GetOrCreateWallet")
	defer release()
	if err != nil {
		return Wallet{}, err
	}
	for _, existing := range store.state.wallets {
		if existing.UserID == wallet.UserID && existing.OrganizationID == wallet.OrganizationID {
			return existing, nil
		}
	}
	store.state.wallets = append(store.state.wallets, wallet)
	return wallet, nil
}

func (store *memoryStore) GetWallet(ctx context.Context, userID UserID, organizationID OrganizationID) (Wallet, error) {
	release, err := store.enter("GetWallet")
	defer release()
	if err != nil {
		return Wallet{}, err
	}
	return store.findWallet(userID, organizationID)
}

func (store *memoryStore) GetWalletByID(ctx context.Context, walletID RecordID) (Wallet, error) {
	release, err := store.enter("GetWalletByID")
	defer release()
	if err != nil {
		return Wallet{}, err
	}
	for _, wallet := range store.state.wallets {
		if wallet.ID == walletID {
			return wallet, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (store *memoryStore) LockWallet(ctx context.Context, userID UserID, organizationID OrganizationID) (Wallet, error) {
	release, err := store.enter("LockWallet")
	defer release()
	if err != nil {
		return Wallet{}, err
	}
	return store.findWallet(userID, organizationID)
}

func (store *memoryStore) findWallet(userID UserID, organizationID OrganizationID) (Wallet, error) {
	for _, wallet := range store.state.wallets {
		if wallet.UserID == userID && wallet.OrganizationID == organizationID {
			return wallet, nil
		}
	}
	return Wallet{}, ErrWalletNotFound
}

func (store *memoryStore) UpdateWalletBalance(ctx context.Context, walletID RecordID, balance decimal.Decimal, updatedAt time.Time) error {
	release, err := store.enter("UpdateWalletBalance")
	defer release()
	if err != nil {
		return err
	}
	for index, wallet := range store.state.wallets {
		if wallet.ID == walletID {
			store.state.wallets[index].Balance = balance
			store.state.wallets[index].UpdatedAt = updatedAt
			return nil
		}
	}
	return ErrWalletNotFound
}

func (store *memoryStore) InsertWalletTransaction(ctx context.Context, transaction WalletTransaction) error {
	release, err := store.enter("InsertWalletTransaction")
	defer release()
	if err != nil {
		return err
	}
	store.state.walletTransactions = append(store.state.walletTransactions, transaction)
	return nil
}

func (store *memoryStore) ListWalletTransactions(ctx context.Context, walletID RecordID, page Page) ([]WalletTransaction, error) {
	release, err := store.enter("ListWalletTransactions")
	defer release()
	if err != nil {
		return nil, err
	}
	var transactions []WalletTransaction
	for _, transaction := range store.state.walletTransactions {
		if transaction.WalletID == walletID {
			transactions = append(transactions, transaction)
		}
	}
	return pageByID(transactions, page, func(transaction WalletTransaction) RecordID { return transaction.ID }), nil
}

func (store *memoryStore) GetUserPricing(ctx context.Context, userID UserID) (UserPricing, error) {
	release, err := store.enter("GetUserPricing")
	defer release()
	if err != nil {
		return UserPricing{}, err
	}
	userPricing, ok := store.state.pricing[userID]
	if !ok {
		return UserPricing{}, ErrPricingNotFound
	}
	userPricing.Plan = store.state.plans[userPricing.Plan.ID]
	return userPricing, nil
}

func (store *memoryStore) SavePricingPlan(ctx context.Context, plan PricingPlan) error {
	release, err := store.enter("SavePricingPlan")
	defer release()
	if err != nil {
		return err
	}
	store.state.plans[plan.ID] = plan
	return nil
}

func (store *memoryStore) SaveUserPricing(ctx context.Context, userPricing UserPricing) error {
	release, err := store.enter("SaveUserPricing")
	defer release()
	if err != nil {
		return err
	}
	if _, ok := store.state.plans[userPricing.Plan.ID]; !ok {
		return ErrPricingPlanNotFound
	}
	store.state.pricing[userPricing.UserID] = userPricing
	return nil
}

func (store *memoryStore) GetSubscription(ctx context.Context, userID UserID) (Subscription, error) {
	release, err := store.enter("GetSubscription")
	defer release()
	if err != nil {
		return Subscription{}, err
	}
	subscription, ok := store.state.subscriptions[userID]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (store *memoryStore) UpsertSubscription(ctx context.Context, subscription Subscription) error {
	release, err := store.enter("UpsertSubscription")
	defer release()
	if err != nil {
		return err
	}
	store.state.subscriptions[subscription.UserID] = subscription
	return nil
}

func (store *memoryStore) ListActiveSubscriptions(ctx context.Context, interval PlanInterval) ([]Subscription, error) {
	release, err := store.enter("ListActiveSubscriptions")
	defer release()
	if err != nil {
		return nil, err
	}
	var subscriptions []Subscription
	for _, subscription := range store.state.subscriptions {
		if subscription.IsActive() && subscription.Interval == interval {
			subscriptions = append(subscriptions, subscription)
		}
	}
	slices.SortFunc(subscriptions, func(left Subscription, right Subscription) int {
		return strings.Compare(left.UserID.String(), right.UserID.String())
	})
	return subscriptions, nil
}

func (store *memoryStore) RegisterAccount(ctx context.Context, account Account) error {
	release, err := store.enter("RegisterAccount")
	defer release()
	if err != nil {
		return err
	}
	if existing, ok := store.state.accounts[account.UserID]; ok {
		account.CreatedAt = existing.CreatedAt
	}
	store.state.accounts[account.UserID] = account
	return nil
}

func (store *memoryStore) ListAccounts(ctx context.Context, afterUserID string, limit int) ([]Account, error) {
	release, err := store.enter("ListAccounts")
	defer release()
	if err != nil {
		return nil, err
	}
	var accounts []Account
	for _, account := range store.state.accounts {
		if account.IsActive && account.UserID.String() > afterUserID {
			accounts = append(accounts, account)
		}
	}
	slices.SortFunc(accounts, func(left Account, right Account) int {
		return strings.Compare(left.UserID.String(), right.UserID.String())
	})
	if len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

func (store *memoryStore) GetOrganization(ctx context.Context, organizationID OrganizationID) (Organization, error) {
	release, err := store.enter("GetOrganization")
	defer release()
	if err != nil {
		return Organization{}, err
	}
	organization, ok := store.state.organizations[organizationID]
	if !ok {
		return Organization{}, ErrOrganizationNotFound
	}
	return organization, nil
}

func (store *memoryStore) UpsertOrganization(ctx context.Context, organization Organization) error {
	release, err := store.enter("UpsertOrganization")
	defer release()
	if err != nil {
		return err
	}
	store.state.organizations[organization.ID] = organization
	return nil
}

func pageByID[T any](records []T, page Page, idOf func(T) RecordID) []T {
	slices.SortFunc(records, func(left T, right T) int {
		return strings.Compare(idOf(right).String(), idOf(left).String())
	})
	var paged []T
	for _, record := range records {
		if !page.BeforeID.IsZero() && idOf(record).String() >= page.BeforeID.String() {
			continue
		}
		paged = append(paged, record)
		if len(paged) == page.Limit {
			break
		}
	}
	return paged
}

// seedAllocation stores an allocation directly, bypassing the service.
func (store *memoryStore) seedAllocation(test *testing.T, allocation Allocation) Allocation {
	test.Helper()
	if allocation.ID.IsZero() {
		allocation.ID = mustGenerateID(test)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.state.allocations = append(store.state.allocations, allocation)
	return allocation
}

func (store *memoryStore) allocation(test *testing.T, allocationID RecordID) Allocation {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, allocation := range store.state.allocations {
		if allocation.ID == allocationID {
			return allocation
		}
	}
	test.Fatalf("allocation %s not found", allocationID)
	return Allocation{}
}

package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/billing/pkg/billing"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON       = "{}"
	pgUniqueViolationCode     = "23505"
	pgLockNotAvailableCode    = "55P03"
	pgSerializationFailure    = "40001"
	pgDeadlockDetectedCode    = "40P01"
	sqliteConstraintCode      = 19
	sqliteBusyCode            = 5
	errorOperationStore       = "store"
	errorSubjectAccount       = "account"
	errorSubjectAllocation    = "allocation"
	errorSubjectAPILog        = "api_log"
	errorSubjectOrganization  = "organization"
	errorSubjectPricing       = "pricing"
	errorSubjectSchema        = "schema"
	errorSubjectSubscription  = "subscription"
	errorSubjectTransaction   = "transaction"
	errorSubjectUsageLog      = "usage_log"
	errorSubjectWallet        = "wallet"
	errorCodeCreate           = "create"
	errorCodeDeallocate       = "deallocate"
	errorCodeDecode           = "decode"
	errorCodeEncode           = "encode"
	errorCodeGet              = "get"
	errorCodeIncrement        = "increment"
	errorCodeInsert           = "insert"
	errorCodeInvalid          = "invalid"
	errorCodeList             = "list"
	errorCodeLock             = "lock"
	errorCodeMigrate          = "migrate"
	errorCodeSave             = "save"
	errorCodeSum              = "sum"
	errorCodeUpdate           = "update"
	lockStrengthUpdate        = "UPDATE"
	orderDrawdown             = "expires_on IS NULL, expires_on ASC, allocation_id ASC"
	whereActiveOn             = "is_deallocated = ? AND (expires_on IS NULL OR expires_on >= ?)"
	whereSpendableCapacity    = "tokens_used < tokens_granted"
	whereIncrementUsage       = "allocation_id = ? AND tokens_used = ? AND tokens_used + ? <= tokens_granted"
	sqlSumChargedTokensSince  = "coalesce(sum(allocation_transactions.tokens),0) as total"
	sqlJoinChargedAllocations = "JOIN token_allocations ON token_allocations.allocation_id = allocation_transactions.allocation_id"
)

// Store implements billing.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore billing.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAllocation(ctx context.Context, allocation billing.Allocation) (bool, error) {
	model := Allocation{
		AllocationID:  allocation.ID.String(),
		UserID:        allocation.UserID.String(),
		Source:        allocation.Source.String(),
		TokensGranted: allocation.TokensGranted.Int64(),
		TokensUsed:    allocation.TokensUsed.Int64(),
		ExpiresOn:     dateColumn(allocation.ExpiresOn),
		IsDeallocated: allocation.IsDeallocated,
		InvoiceID:     allocation.InvoiceID,
		GrantKey:      optionalString(allocation.GrantKey),
		CreatedAt:     createdAt(allocation.CreatedAt),
	}
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "grant_key"}}, DoNothing: true}).
		Create(&model)
	if isUniqueViolation(result.Error) {
		return false, nil
	}
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectAllocation, errorCodeCreate, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (store *Store) FindAllocationByGrantKey(ctx context.Context, grantKey string) (billing.Allocation, error) {
	var model Allocation
	err := store.db.WithContext(ctx).Where("grant_key = ?", grantKey).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Allocation{}, wrapStoreError(errorSubjectAllocation, errorCodeGet, billing.ErrAllocationNotFound)
	}
	if err != nil {
		return billing.Allocation{}, wrapStoreError(errorSubjectAllocation, errorCodeGet, err)
	}
	allocation, err := mapAllocation(model)
	if err != nil {
		return billing.Allocation{}, wrapStoreError(errorSubjectAllocation, errorCodeInvalid, err)
	}
	return allocation, nil
}

func (store *Store) LockSpendableAllocations(ctx context.Context, userID billing.UserID, today billing.Date) ([]billing.Allocation, error) {
	var rows []Allocation
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: lockStrengthUpdate}).
		Where("user_id = ?", userID.String()).
		Where(whereActiveOn, false, today.Time()).
		Where(whereSpendableCapacity).
		Order(orderDrawdown).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAllocation, errorCodeLock, translateError(err))
	}
	return mapAllocations(rows)
}

func (store *Store) IncrementAllocationUsage(ctx context.Context, allocationID billing.RecordID, expectedUsed billing.TokenCount, delta billing.TokenCount) error {
	result := store.db.WithContext(ctx).
		Model(&Allocation{}).
		Where(whereIncrementUsage, allocationID.String(), expectedUsed.Int64(), delta.Int64()).
		Update("tokens_used", gorm.Expr("tokens_used + ?", delta.Int64()))
	if result.Error != nil {
		return wrapStoreError(errorSubjectAllocation, errorCodeIncrement, translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAllocation, errorCodeIncrement, billing.ErrConcurrentUpdate)
	}
	return nil
}

func (store *Store) InsertAllocationTransaction(ctx context.Context, transaction billing.AllocationTransaction) error {
	model := AllocationTransaction{
		TransactionID: transaction.ID.String(),
		AllocationID:  transaction.AllocationID.String(),
		UsageLogID:    optionalString(transaction.UsageLogID.String()),
		Tokens:        transaction.Tokens.Int64(),
		Type:          transaction.Type.String(),
		Description:   transaction.Description,
		CreatedAt:     createdAt(transaction.CreatedAt),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, translateError(err))
	}
	return nil
}

func (store *Store) ListActiveAllocations(ctx context.Context, userID billing.UserID, today billing.Date) ([]billing.Allocation, error) {
	var rows []Allocation
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Where(whereActiveOn, false, today.Time()).
		Order("allocation_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAllocation, errorCodeList, err)
	}
	return mapAllocations(rows)
}

func (store *Store) DeallocateActiveAllocations(ctx context.Context, userID billing.UserID, today billing.Date) (int64, error) {
	result := store.db.WithContext(ctx).
		Model(&Allocation{}).
		Where("user_id = ?", userID.String()).
		Where(whereActiveOn, false, today.Time()).
		Update("is_deallocated", true)
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectAllocation, errorCodeDeallocate, translateError(result.Error))
	}
	return result.RowsAffected, nil
}

func (store *Store) SumChargedTokensSince(ctx context.Context, userID billing.UserID, source billing.AllocationSource, since time.Time) (billing.TokenCount, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&AllocationTransaction{}).
		Select(sqlSumChargedTokensSince).
		Joins(sqlJoinChargedAllocations).
		Where("token_allocations.user_id = ? AND token_allocations.source = ?", userID.String(), source.String()).
		Where("allocation_transactions.type = ? AND allocation_transactions.created_at >= ?", billing.TransactionAPICharge.String(), since.UTC()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeSum, err)
	}
	total, err := billing.NewTokenCount(sum.Total)
	if err != nil {
		return 0, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return total, nil
}

func (store *Store) HasAllocationSince(ctx context.Context, userID billing.UserID, source billing.AllocationSource, since time.Time) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Allocation{}).
		Where("user_id = ? AND source = ? AND created_at >= ?", userID.String(), source.String(), since.UTC()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectAllocation, errorCodeGet, err)
	}
	return count > 0, nil
}

func (store *Store) InsertUsageLog(ctx context.Context, usageLog billing.UsageLog) error {
	model := UsageLog{
		LogID:        usageLog.ID.String(),
		UserID:       usageLog.UserID.String(),
		Endpoint:     usageLog.Endpoint,
		InputTokens:  usageLog.InputTokens.Int64(),
		OutputTokens: usageLog.OutputTokens.Int64(),
		Status:       usageLog.Status,
		RequestData:  payloadColumn(usageLog.RequestData),
		ResponseData: payloadColumn(usageLog.ResponseData),
		ErrorData:    payloadColumn(usageLog.ErrorData),
		CreatedAt:    createdAt(usageLog.CreatedAt),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectUsageLog, errorCodeInsert, translateError(err))
	}
	return nil
}

func (store *Store) ListUsageLogs(ctx context.Context, userID billing.UserID, page billing.Page) ([]billing.UsageLog, error) {
	var rows []UsageLog
	err := pageQuery(store.db.WithContext(ctx), "log_id", page).
		Where("user_id = ?", userID.String()).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectUsageLog, errorCodeList, err)
	}
	logs := make([]billing.UsageLog, 0, len(rows))
	for _, row := range rows {
		usageLog, err := mapUsageLog(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectUsageLog, errorCodeInvalid, err)
		}
		logs = append(logs, usageLog)
	}
	return logs, nil
}

func (store *Store) InsertAPILog(ctx context.Context, apiLog billing.APILog) error {
	model := APILog{
		LogID:               apiLog.ID.String(),
		UserID:              apiLog.UserID.String(),
		OrganizationID:      apiLog.OrganizationID.String(),
		Endpoint:            apiLog.Endpoint,
		InputTokens:         apiLog.InputTokens.Int64(),
		OutputTokens:        apiLog.OutputTokens.Int64(),
		InputCost:           apiLog.InputCost,
		OutputCost:          apiLog.OutputCost,
		TotalCost:           apiLog.TotalCost,
		WalletTransactionID: optionalString(apiLog.WalletTransactionID.String()),
		Status:              apiLog.Status,
		RequestData:         payloadColumn(apiLog.RequestData),
		ResponseData:        payloadColumn(apiLog.ResponseData),
		ErrorData:           payloadColumn(apiLog.ErrorData),
		CreatedAt:           createdAt(apiLog.CreatedAt),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAPILog, errorCodeInsert, translateError(err))
	}
	return nil
}

func (store *Store) ListAPILogs(ctx context.Context, userID billing.UserID, page billing.Page) ([]billing.APILog, error) {
	var rows []APILog
	err := pageQuery(store.db.WithContext(ctx), "log_id", page).
		Where("user_id = ?", userID.String()).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAPILog, errorCodeList, err)
	}
	logs := make([]billing.APILog, 0, len(rows))
	for _, row := range rows {
		apiLog, err := mapAPILog(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAPILog, errorCodeInvalid, err)
		}
		logs = append(logs, apiLog)
	}
	return logs, nil
}

func (store *Store) GetOrCreateWallet(ctx context.Context, wallet billing.Wallet) (billing.Wallet, error) {
	model := Wallet{
		WalletID:       wallet.ID.String(),
		UserID:         wallet.UserID.String(),
		OrganizationID: wallet.OrganizationID.String(),
		Balance:        wallet.Balance,
		Currency:       wallet.Currency,
		CreatedAt:      createdAt(wallet.CreatedAt),
		UpdatedAt:      createdAt(wallet.UpdatedAt),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "organization_id"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil && !isUniqueViolation(err) {
		return billing.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, translateError(err))
	}
	return store.GetWallet(ctx, wallet.UserID, wallet.OrganizationID)
}

func (store *Store) GetWallet(ctx context.Context, userID billing.UserID, organizationID billing.OrganizationID) (billing.Wallet, error) {
	return store.takeWallet(store.db.WithContext(ctx), errorCodeGet, "user_id = ? AND organization_id = ?", userID.String(), organizationID.String())
}

func (store *Store) GetWalletByID(ctx context.Context, walletID billing.RecordID) (billing.Wallet, error) {
	return store.takeWallet(store.db.WithContext(ctx), errorCodeGet, "wallet_id = ?", walletID.String())
}

func (store *Store) LockWallet(ctx context.Context, userID billing.UserID, organizationID billing.OrganizationID) (billing.Wallet, error) {
	query := store.db.WithContext(ctx).Clauses(clause.Locking{Strength: lockStrengthUpdate})
	return store.takeWallet(query, errorCodeLock, "user_id = ? AND organization_id = ?", userID.String(), organizationID.String())
}

func (store *Store) takeWallet(query *gorm.DB, code string, condition string, args ...any) (billing.Wallet, error) {
	var model Wallet
	err := query.Where(condition, args...).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Wallet{}, wrapStoreError(errorSubjectWallet, code, billing.ErrWalletNotFound)
	}
	if err != nil {
		return billing.Wallet{}, wrapStoreError(errorSubjectWallet, code, translateError(err))
	}
	wallet, err := mapWallet(model)
	if err != nil {
		return billing.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeInvalid, err)
	}
	return wallet, nil
}

func (store *Store) UpdateWalletBalance(ctx context.Context, walletID billing.RecordID, balance decimal.Decimal, updatedAt time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("wallet_id = ?", walletID.String()).
		Updates(map[string]any{"balance": balance, "updated_at": createdAt(updatedAt)})
	if result.Error != nil {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, billing.ErrWalletNotFound)
	}
	return nil
}

func (store *Store) InsertWalletTransaction(ctx context.Context, transaction billing.WalletTransaction) error {
	model := WalletTransaction{
		TransactionID: transaction.ID.String(),
		WalletID:      transaction.WalletID.String(),
		Amount:        transaction.Amount,
		Type:          transaction.Type.String(),
		Description:   transaction.Description,
		CreatedAt:     createdAt(transaction.CreatedAt),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, translateError(err))
	}
	return nil
}

func (store *Store) ListWalletTransactions(ctx context.Context, walletID billing.RecordID, page billing.Page) ([]billing.WalletTransaction, error) {
	var rows []WalletTransaction
	err := pageQuery(store.db.WithContext(ctx), "transaction_id", page).
		Where("wallet_id = ?", walletID.String()).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]billing.WalletTransaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapWalletTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func (store *Store) GetUserPricing(ctx context.Context, userID billing.UserID) (billing.UserPricing, error) {
	var model UserPricing
	err := store.db.WithContext(ctx).Preload("Plan").Where("user_id = ?", userID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.UserPricing{}, wrapStoreError(errorSubjectPricing, errorCodeGet, billing.ErrPricingNotFound)
	}
	if err != nil {
		return billing.UserPricing{}, wrapStoreError(errorSubjectPricing, errorCodeGet, err)
	}
	userPricing, err := mapUserPricing(model)
	if err != nil {
		return billing.UserPricing{}, wrapStoreError(errorSubjectPricing, errorCodeInvalid, err)
	}
	return userPricing, nil
}

func (store *Store) SavePricingPlan(ctx context.Context, plan billing.PricingPlan) error {
	model := PricingPlan{
		PlanID:             plan.ID.String(),
		Name:               plan.Name,
		DefaultInputPrice:  plan.DefaultInputPrice,
		DefaultOutputPrice: plan.DefaultOutputPrice,
		IsActive:           plan.IsActive,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "plan_id"}}, UpdateAll: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectPricing, errorCodeSave, translateError(err))
	}
	return nil
}

func (store *Store) SaveUserPricing(ctx context.Context, userPricing billing.UserPricing) error {
	var count int64
	if err := store.db.WithContext(ctx).Model(&PricingPlan{}).Where("plan_id = ?", userPricing.Plan.ID.String()).Count(&count).Error; err != nil {
		return wrapStoreError(errorSubjectPricing, errorCodeSave, err)
	}
	if count == 0 {
		return wrapStoreError(errorSubjectPricing, errorCodeSave, billing.ErrPricingPlanNotFound)
	}
	model := UserPricing{
		UserID:            userPricing.UserID.String(),
		PlanID:            userPricing.Plan.ID.String(),
		CustomInputPrice:  nullDecimal(userPricing.CustomInputPrice),
		CustomOutputPrice: nullDecimal(userPricing.CustomOutputPrice),
	}
	err := store.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, UpdateAll: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectPricing, errorCodeSave, translateError(err))
	}
	return nil
}

func (store *Store) GetSubscription(ctx context.Context, userID billing.UserID) (billing.Subscription, error) {
	var model Subscription
	err := store.db.WithContext(ctx).Where("user_id = ?", userID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Subscription{}, wrapStoreError(errorSubjectSubscription, errorCodeGet, billing.ErrSubscriptionNotFound)
	}
	if err != nil {
		return billing.Subscription{}, wrapStoreError(errorSubjectSubscription, errorCodeGet, err)
	}
	subscription, err := mapSubscription(model)
	if err != nil {
		return billing.Subscription{}, wrapStoreError(errorSubjectSubscription, errorCodeInvalid, err)
	}
	return subscription, nil
}

func (store *Store) UpsertSubscription(ctx context.Context, subscription billing.Subscription) error {
	model := Subscription{
		UserID:       subscription.UserID.String(),
		ExternalID:   subscription.ExternalID,
		Status:       subscription.Status.String(),
		PlanInterval: subscription.Interval.String(),
		PlanTokens:   subscription.PlanTokens.Int64(),
		CurrentStart: dateColumn(subscription.CurrentStart),
		CurrentEnd:   dateColumn(subscription.CurrentEnd),
		UpdatedAt:    createdAt(subscription.UpdatedAt),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, UpdateAll: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectSubscription, errorCodeSave, translateError(err))
	}
	return nil
}

func (store *Store) ListActiveSubscriptions(ctx context.Context, interval billing.PlanInterval) ([]billing.Subscription, error) {
	var rows []Subscription
	err := store.db.WithContext(ctx).
		Where("status = ? AND plan_interval = ?", billing.SubscriptionActive.String(), interval.String()).
		Order("user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSubscription, errorCodeList, err)
	}
	subscriptions := make([]billing.Subscription, 0, len(rows))
	for _, row := range rows {
		subscription, err := mapSubscription(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSubscription, errorCodeInvalid, err)
		}
		subscriptions = append(subscriptions, subscription)
	}
	return subscriptions, nil
}

func (store *Store) RegisterAccount(ctx context.Context, account billing.Account) error {
	model := Account{
		UserID:    account.UserID.String(),
		IsActive:  account.IsActive,
		CreatedAt: createdAt(account.CreatedAt),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_active"}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, translateError(err))
	}
	return nil
}

func (store *Store) ListAccounts(ctx context.Context, afterUserID string, limit int) ([]billing.Account, error) {
	var rows []Account
	err := store.db.WithContext(ctx).
		Where("is_active = ? AND user_id > ?", true, afterUserID).
		Order("user_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	accounts := make([]billing.Account, 0, len(rows))
	for _, row := range rows {
		userID, err := billing.NewUserID(row.UserID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		accounts = append(accounts, billing.Account{UserID: userID, IsActive: row.IsActive, CreatedAt: row.CreatedAt.UTC()})
	}
	return accounts, nil
}

func (store *Store) GetOrganization(ctx context.Context, organizationID billing.OrganizationID) (billing.Organization, error) {
	var model Organization
	err := store.db.WithContext(ctx).Where("organization_id = ?", organizationID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return billing.Organization{}, wrapStoreError(errorSubjectOrganization, errorCodeGet, billing.ErrOrganizationNotFound)
	}
	if err != nil {
		return billing.Organization{}, wrapStoreError(errorSubjectOrganization, errorCodeGet, err)
	}
	metadata := map[string]any{}
	if len(model.Metadata) > 0 {
		if err := json.Unmarshal(model.Metadata, &metadata); err != nil {
			return billing.Organization{}, wrapStoreError(errorSubjectOrganization, errorCodeDecode, err)
		}
	}
	return billing.Organization{ID: organizationID, Metadata: metadata}, nil
}

func (store *Store) UpsertOrganization(ctx context.Context, organization billing.Organization) error {
	metadata := datatypes.JSON([]byte(defaultMetadataJSON))
	if len(organization.Metadata) > 0 {
		encoded, err := json.Marshal(organization.Metadata)
		if err != nil {
			return wrapStoreError(errorSubjectOrganization, errorCodeEncode, err)
		}
		metadata = datatypes.JSON(encoded)
	}
	model := Organization{OrganizationID: organization.ID.String(), Metadata: metadata}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "organization_id"}}, UpdateAll: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectOrganization, errorCodeSave, translateError(err))
	}
	return nil
}

func pageQuery(query *gorm.DB, idColumn string, page billing.Page) *gorm.DB {
	if !page.BeforeID.IsZero() {
		query = query.Where(fmt.Sprintf("%s < ?", idColumn), page.BeforeID.String())
	}
	if page.Limit > 0 {
		query = query.Limit(page.Limit)
	}
	return query.Order(fmt.Sprintf("%s DESC", idColumn))
}

func wrapStoreError(subject string, code string, err error) error {
	return billing.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func createdAt(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now().UTC()
	}
	return value.UTC()
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func dateColumn(date *billing.Date) *time.Time {
	if date == nil {
		return nil
	}
	value := date.Time()
	return &value
}

func datePointer(value *time.Time) *billing.Date {
	if value == nil {
		return nil
	}
	date := billing.DateOf(*value, time.UTC)
	return &date
}

func payloadColumn(payload billing.Payload) *datatypes.JSON {
	if len(payload) == 0 {
		return nil
	}
	value := datatypes.JSON(payload.Bytes())
	return &value
}

func payloadValue(column *datatypes.JSON) (billing.Payload, error) {
	if column == nil {
		return nil, nil
	}
	return billing.NewPayload([]byte(*column))
}

func nullDecimal(value *decimal.Decimal) decimal.NullDecimal {
	if value == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *value, Valid: true}
}

func decimalPointer(value decimal.NullDecimal) *decimal.Decimal {
	if !value.Valid {
		return nil
	}
	result := value.Decimal
	return &result
}

func optionalRecordID(value *string) (billing.RecordID, error) {
	if value == nil {
		return billing.RecordID{}, nil
	}
	return billing.NewRecordID(*value)
}

func mapAllocations(rows []Allocation) ([]billing.Allocation, error) {
	allocations := make([]billing.Allocation, 0, len(rows))
	for _, row := range rows {
		allocation, err := mapAllocation(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAllocation, errorCodeInvalid, err)
		}
		allocations = append(allocations, allocation)
	}
	return allocations, nil
}

func mapAllocation(row Allocation) (billing.Allocation, error) {
	allocationID, err := billing.NewRecordID(row.AllocationID)
	if err != nil {
		return billing.Allocation{}, err
	}
	userID, err := billing.NewUserID(row.UserID)
	if err != nil {
		return billing.Allocation{}, err
	}
	source, err := billing.ParseAllocationSource(row.Source)
	if err != nil {
		return billing.Allocation{}, err
	}
	granted, err := billing.NewTokenCount(row.TokensGranted)
	if err != nil {
		return billing.Allocation{}, err
	}
	used, err := billing.NewTokenCount(row.TokensUsed)
	if err != nil {
		return billing.Allocation{}, err
	}
	var grantKey string
	if row.GrantKey != nil {
		grantKey = *row.GrantKey
	}
	return billing.Allocation{
		ID:            allocationID,
		UserID:        userID,
		Source:        source,
		TokensGranted: granted,
		TokensUsed:    used,
		ExpiresOn:     datePointer(row.ExpiresOn),
		IsDeallocated: row.IsDeallocated,
		InvoiceID:     row.InvoiceID,
		GrantKey:      grantKey,
		CreatedAt:     row.CreatedAt.UTC(),
	}, nil
}

func mapUsageLog(row UsageLog) (billing.UsageLog, error) {
	logID, err := billing.NewRecordID(row.LogID)
	if err != nil {
		return billing.UsageLog{}, err
	}
	userID, err := billing.NewUserID(row.UserID)
	if err != nil {
		return billing.UsageLog{}, err
	}
	payloads, err := mapPayloads(row.RequestData, row.ResponseData, row.ErrorData)
	if err != nil {
		return billing.UsageLog{}, err
	}
	return billing.UsageLog{
		ID:           logID,
		UserID:       userID,
		Endpoint:     row.Endpoint,
		InputTokens:  billing.TokenCount(row.InputTokens),
		OutputTokens: billing.TokenCount(row.OutputTokens),
		Status:       row.Status,
		RequestData:  payloads[0],
		ResponseData: payloads[1],
		ErrorData:    payloads[2],
		CreatedAt:    row.CreatedAt.UTC(),
	}, nil
}

func mapAPILog(row APILog) (billing.APILog, error) {
	logID, err := billing.NewRecordID(row.LogID)
	if err != nil {
		return billing.APILog{}, err
	}
	userID, err := billing.NewUserID(row.UserID)
	if err != nil {
		return billing.APILog{}, err
	}
	organizationID, err := billing.NewOrganizationID(row.OrganizationID)
	if err != nil {
		return billing.APILog{}, err
	}
	walletTransactionID, err := optionalRecordID(row.WalletTransactionID)
	if err != nil {
		return billing.APILog{}, err
	}
	payloads, err := mapPayloads(row.RequestData, row.ResponseData, row.ErrorData)
	if err != nil {
		return billing.APILog{}, err
	}
	return billing.APILog{
		ID:                  logID,
		UserID:              userID,
		OrganizationID:      organizationID,
		Endpoint:            row.Endpoint,
		InputTokens:         billing.TokenCount(row.InputTokens),
		OutputTokens:        billing.TokenCount(row.OutputTokens),
		InputCost:           row.InputCost,
		OutputCost:          row.OutputCost,
		TotalCost:           row.TotalCost,
		WalletTransactionID: walletTransactionID,
		Status:              row.Status,
		RequestData:         payloads[0],
		ResponseData:        payloads[1],
		ErrorData:           payloads[2],
		CreatedAt:           row.CreatedAt.UTC(),
	}, nil
}

func mapPayloads(columns ...*datatypes.JSON) ([]billing.Payload, error) {
	payloads := make([]billing.Payload, 0, len(columns))
	for _, column := range columns {
		payload, err := payloadValue(column)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

func mapWallet(row Wallet) (billing.Wallet, error) {
	walletID, err := billing.NewRecordID(row.WalletID)
	if err != nil {
		return billing.Wallet{}, err
	}
	userID, err := billing.NewUserID(row.UserID)
	if err != nil {
		return billing.Wallet{}, err
	}
	organizationID, err := billing.NewOrganizationID(row.OrganizationID)
	if err != nil {
		return billing.Wallet{}, err
	}
	return billing.Wallet{
		ID:             walletID,
		UserID:         userID,
		OrganizationID: organizationID,
		Balance:        row.Balance,
		Currency:       row.Currency,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
	}, nil
}

func mapWalletTransaction(row WalletTransaction) (billing.WalletTransaction, error) {
	transactionID, err := billing.NewRecordID(row.TransactionID)
	if err != nil {
		return billing.WalletTransaction{}, err
	}
	walletID, err := billing.NewRecordID(row.WalletID)
	if err != nil {
		return billing.WalletTransaction{}, err
	}
	transactionType, err := billing.ParseTransactionType(row.Type)
	if err != nil {
		return billing.WalletTransaction{}, err
	}
	return billing.WalletTransaction{
		ID:          transactionID,
		WalletID:    walletID,
		Amount:      row.Amount,
		Type:        transactionType,
		Description: row.Description,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

func mapUserPricing(row UserPricing) (billing.UserPricing, error) {
	userID, err := billing.NewUserID(row.UserID)
	if err != nil {
		return billing.UserPricing{}, err
	}
	planID, err := billing.NewRecordID(row.Plan.PlanID)
	if err != nil {
		return billing.UserPricing{}, err
	}
	return billing.UserPricing{
		UserID: userID,
		Plan: billing.PricingPlan{
			ID:                 planID,
			Name:               row.Plan.Name,
			DefaultInputPrice:  row.Plan.DefaultInputPrice,
			DefaultOutputPrice: row.Plan.DefaultOutputPrice,
			IsActive:           row.Plan.IsActive,
		},
		CustomInputPrice:  decimalPointer(row.CustomInputPrice),
		CustomOutputPrice: decimalPointer(row.CustomOutputPrice),
	}, nil
}

func mapSubscription(row Subscription) (billing.Subscription, error) {
	userID, err := billing.NewUserID(row.UserID)
	if err != nil {
		return billing.Subscription{}, err
	}
	status, err := billing.ParseSubscriptionStatus(row.Status)
	if err != nil {
		return billing.Subscription{}, err
	}
	interval, err := billing.ParsePlanInterval(row.PlanInterval)
	if err != nil {
		return billing.Subscription{}, err
	}
	planTokens, err := billing.NewTokenCount(row.PlanTokens)
	if err != nil {
		return billing.Subscription{}, err
	}
	return billing.Subscription{
		UserID:       userID,
		ExternalID:   row.ExternalID,
		Status:       status,
		Interval:     interval,
		PlanTokens:   planTokens,
		CurrentStart: datePointer(row.CurrentStart),
		CurrentEnd:   datePointer(row.CurrentEnd),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}, nil
}

// translateError maps driver lock and serialization failures onto the
// retryable billing sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailableCode:
			return fmt.Errorf("%w: %v", billing.ErrLockTimeout, err)
		case pgSerializationFailure, pgDeadlockDetectedCode:
			return fmt.Errorf("%w: %v", billing.ErrConcurrentUpdate, err)
		}
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xFF == sqliteBusyCode {
		return fmt.Errorf("%w: %v", billing.ErrLockTimeout, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

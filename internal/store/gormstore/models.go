package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Allocation mirrors the token_allocations table.
type Allocation struct {
	AllocationID  string     `gorm:"type:uuid;primaryKey"`
	UserID        string     `gorm:"not null;index:idx_allocations_user_expiry,priority:1"`
	Source        string     `gorm:"not null"`
	TokensGranted int64      `gorm:"not null"`
	TokensUsed    int64      `gorm:"not null;default:0"`
	ExpiresOn     *time.Time `gorm:"type:date;index:idx_allocations_user_expiry,priority:2"`
	IsDeallocated bool       `gorm:"not null;default:false"`
	InvoiceID     string     `gorm:"not null;default:''"`
	GrantKey      *string    `gorm:"uniqueIndex:uniq_allocations_grant_key"`
	CreatedAt     time.Time  `gorm:"not null"`
}

func (Allocation) TableName() string { return "token_allocations" }

// AllocationTransaction mirrors the allocation_transactions table.
type AllocationTransaction struct {
	TransactionID string    `gorm:"type:uuid;primaryKey"`
	AllocationID  string    `gorm:"type:uuid;not null;index:idx_allocation_transactions_allocation,priority:1"`
	UsageLogID    *string   `gorm:"type:uuid;index"`
	Tokens        int64     `gorm:"not null"`
	Type          string    `gorm:"not null"`
	Description   string    `gorm:"not null;default:''"`
	CreatedAt     time.Time `gorm:"not null;index:idx_allocation_transactions_allocation,priority:2"`
}

func (AllocationTransaction) TableName() string { return "allocation_transactions" }

// UsageLog mirrors the usage_logs table.
type UsageLog struct {
	LogID        string          `gorm:"type:uuid;primaryKey"`
	UserID       string          `gorm:"not null;index:idx_usage_logs_user,priority:1"`
	Endpoint     string          `gorm:"not null"`
	InputTokens  int64           `gorm:"not null"`
	OutputTokens int64           `gorm:"not null"`
	Status       int             `gorm:"not null"`
	RequestData  *datatypes.JSON `gorm:"type:jsonb"`
	ResponseData *datatypes.JSON `gorm:"type:jsonb"`
	ErrorData    *datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time       `gorm:"not null"`
}

func (UsageLog) TableName() string { return "usage_logs" }

// APILog mirrors the api_logs table.
type APILog struct {
	LogID               string          `gorm:"type:uuid;primaryKey"`
	UserID              string          `gorm:"not null;index:idx_api_logs_user,priority:1"`
	OrganizationID      string          `gorm:"not null;index"`
	Endpoint            string          `gorm:"not null"`
	InputTokens         int64           `gorm:"not null"`
	OutputTokens        int64           `gorm:"not null"`
	InputCost           decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	OutputCost          decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	TotalCost           decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	WalletTransactionID *string         `gorm:"type:uuid"`
	Status              int             `gorm:"not null"`
	RequestData         *datatypes.JSON `gorm:"type:jsonb"`
	ResponseData        *datatypes.JSON `gorm:"type:jsonb"`
	ErrorData           *datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt           time.Time       `gorm:"not null"`
}

func (APILog) TableName() string { return "api_logs" }

// Wallet mirrors the wallets table. One row per user and organization.
type Wallet struct {
	WalletID       string          `gorm:"type:uuid;primaryKey"`
	UserID         string          `gorm:"not null;uniqueIndex:uniq_wallets_user_organization,priority:1"`
	OrganizationID string          `gorm:"not null;uniqueIndex:uniq_wallets_user_organization,priority:2"`
	Balance        decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Currency       string          `gorm:"type:varchar(3);not null"`
	CreatedAt      time.Time       `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null"`
}

func (Wallet) TableName() string { return "wallets" }

// WalletTransaction mirrors the wallet_transactions table.
type WalletTransaction struct {
	TransactionID string          `gorm:"type:uuid;primaryKey"`
	WalletID      string          `gorm:"type:uuid;not null;index"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Type          string          `gorm:"not null"`
	Description   string          `gorm:"not null;default:''"`
	CreatedAt     time.Time       `gorm:"not null"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

// PricingPlan mirrors the pricing_plans table.
type PricingPlan struct {
	PlanID             string          `gorm:"type:uuid;primaryKey"`
	Name               string          `gorm:"not null"`
	DefaultInputPrice  decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	DefaultOutputPrice decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	IsActive           bool            `gorm:"not null"`
}

func (PricingPlan) TableName() string { return "pricing_plans" }

// UserPricing mirrors the user_pricings table.
type UserPricing struct {
	UserID            string              `gorm:"primaryKey"`
	PlanID            string              `gorm:"type:uuid;not null"`
	Plan              PricingPlan         `gorm:"foreignKey:PlanID;references:PlanID"`
	CustomInputPrice  decimal.NullDecimal `gorm:"type:numeric(20,8)"`
	CustomOutputPrice decimal.NullDecimal `gorm:"type:numeric(20,8)"`
}

func (UserPricing) TableName() string { return "user_pricings" }

// Subscription mirrors the subscriptions table.
type Subscription struct {
	UserID       string     `gorm:"primaryKey"`
	ExternalID   string     `gorm:"not null;default:''"`
	Status       string     `gorm:"not null;index:idx_subscriptions_status_interval,priority:1"`
	PlanInterval string     `gorm:"not null;index:idx_subscriptions_status_interval,priority:2"`
	PlanTokens   int64      `gorm:"not null"`
	CurrentStart *time.Time `gorm:"type:date"`
	CurrentEnd   *time.Time `gorm:"type:date"`
	UpdatedAt    time.Time  `gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Account mirrors the accounts table.
type Account struct {
	UserID    string    `gorm:"primaryKey"`
	IsActive  bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Organization mirrors the organizations table.
type Organization struct {
	OrganizationID string         `gorm:"primaryKey"`
	Metadata       datatypes.JSON `gorm:"type:jsonb;not null"`
}

func (Organization) TableName() string { return "organizations" }

// Models lists every table managed by the store in migration order.
func Models() []any {
	return []any{
		&Allocation{},
		&AllocationTransaction{},
		&UsageLog{},
		&APILog{},
		&Wallet{},
		&WalletTransaction{},
		&PricingPlan{},
		&UserPricing{},
		&Subscription{},
		&Account{},
		&Organization{},
	}
}

// Migrate creates or updates the billing schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

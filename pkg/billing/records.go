package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Payload is an opaque JSON document attached to usage records for audit.
type Payload json.RawMessage

// NewPayload validates raw JSON. Empty input yields a nil payload.
func NewPayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: not valid json", ErrInvalidUsagePayload)
	}
	return Payload(append([]byte(nil), raw...)), nil
}

// PayloadOf marshals value into a Payload.
func PayloadOf(value any) (Payload, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUsagePayload, err)
	}
	return Payload(encoded), nil
}

// Bytes returns the raw JSON bytes.
func (payload Payload) Bytes() []byte {
	return []byte(payload)
}

// Allocation is a grant of tokens to one user.
type Allocation struct {
	ID            RecordID
	UserID        UserID
	Source        AllocationSource
	TokensGranted TokenCount
	TokensUsed    TokenCount
	// ExpiresOn is nil for grants that never expire.
	ExpiresOn     *Date
	IsDeallocated bool
	InvoiceID     string
	// GrantKey is unique across allocations when set.
	GrantKey  string
	CreatedAt time.Time
}

// TokensRemaining returns max(0, granted - used).
func (allocation Allocation) TokensRemaining() TokenCount {
	if allocation.TokensUsed >= allocation.TokensGranted {
		return 0
	}
	return allocation.TokensGranted - allocation.TokensUsed
}

// IsActive reports whether the allocation is neither deallocated nor expired on today.
func (allocation Allocation) IsActive(today Date) bool {
	if allocation.IsDeallocated {
		return false
	}
	return allocation.ExpiresOn == nil || !allocation.ExpiresOn.Before(today)
}

// IsSpendable reports whether a drawdown on today may consume from the allocation.
func (allocation Allocation) IsSpendable(today Date) bool {
	return allocation.IsActive(today) && allocation.TokensUsed < allocation.TokensGranted
}

// AllocationTransaction is the append-only audit row of one drawdown step.
type AllocationTransaction struct {
	ID           RecordID
	AllocationID RecordID
	UsageLogID   RecordID
	Tokens       TokenCount
	Type         TransactionType
	Description  string
	CreatedAt    time.Time
}

// UsageLog records one billable call on the subscription channel.
type UsageLog struct {
	ID           RecordID
	UserID       UserID
	Endpoint     string
	InputTokens  TokenCount
	OutputTokens TokenCount
	Status       int
	RequestData  Payload
	ResponseData Payload
	ErrorData    Payload
	CreatedAt    time.Time
}

// APILog records one billable call on the platform channel.
type APILog struct {
	ID                  RecordID
	UserID              UserID
	OrganizationID      OrganizationID
	Endpoint            string
	InputTokens         TokenCount
	OutputTokens        TokenCount
	InputCost           decimal.Decimal
	OutputCost          decimal.Decimal
	TotalCost           decimal.Decimal
	// WalletTransactionID is zero when the call cost nothing.
	WalletTransactionID RecordID
	Status              int
	RequestData         Payload
	ResponseData        Payload
	ErrorData           Payload
	CreatedAt           time.Time
}

// Wallet is the pay-as-you-go balance of one user within one organization.
type Wallet struct {
	ID             RecordID
	UserID         UserID
	OrganizationID OrganizationID
	Balance        decimal.Decimal
	Currency       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WalletTransaction is an append-only wallet ledger row. Amount is always positive;
// Type carries the direction.
type WalletTransaction struct {
	ID          RecordID
	WalletID    RecordID
	Amount      decimal.Decimal
	Type        TransactionType
	Description string
	CreatedAt   time.Time
}

// Pricing is the per-token price pair applied on the platform channel.
type Pricing struct {
	InputPerToken  decimal.Decimal
	OutputPerToken decimal.Decimal
}

// Cost returns input, output and total cost for the given token counts.
func (pricing Pricing) Cost(inputTokens TokenCount, outputTokens TokenCount) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
	inputCost := pricing.InputPerToken.Mul(decimal.NewFromInt(inputTokens.Int64()))
	outputCost := pricing.OutputPerToken.Mul(decimal.NewFromInt(outputTokens.Int64()))
	return inputCost, outputCost, inputCost.Add(outputCost)
}

// PricingPlan carries default per-token prices.
type PricingPlan struct {
	ID                 RecordID
	Name               string
	DefaultInputPrice  decimal.Decimal
	DefaultOutputPrice decimal.Decimal
	IsActive           bool
}

// UserPricing binds a user to a plan with optional custom overrides.
type UserPricing struct {
	UserID            UserID
	Plan              PricingPlan
	CustomInputPrice  *decimal.Decimal
	CustomOutputPrice *decimal.Decimal
}

// Resolve applies the custom overrides over the plan defaults.
func (userPricing UserPricing) Resolve() Pricing {
	pricing := Pricing{
		InputPerToken:  userPricing.Plan.DefaultInputPrice,
		OutputPerToken: userPricing.Plan.DefaultOutputPrice,
	}
	if userPricing.CustomInputPrice != nil {
		pricing.InputPerToken = *userPricing.CustomInputPrice
	}
	if userPricing.CustomOutputPrice != nil {
		pricing.OutputPerToken = *userPricing.CustomOutputPrice
	}
	return pricing
}

// Subscription mirrors the payment gateway state of a user's plan.
type Subscription struct {
	UserID       UserID
	ExternalID   string
	Status       SubscriptionStatus
	Interval     PlanInterval
	PlanTokens   TokenCount
	CurrentStart *Date
	CurrentEnd   *Date
	UpdatedAt    time.Time
}

// IsActive reports whether the subscription currently grants paid access.
func (subscription Subscription) IsActive() bool {
	return subscription.Status == SubscriptionActive
}

// InPeriod reports whether today lies inside [CurrentStart, CurrentEnd].
func (subscription Subscription) InPeriod(today Date) bool {
	if subscription.CurrentStart == nil || subscription.CurrentEnd == nil {
		return false
	}
	return !today.Before(*subscription.CurrentStart) && !subscription.CurrentEnd.Before(today)
}

// Organization is the mirrored tenant record read by the admission gate.
type Organization struct {
	ID       OrganizationID
	Metadata map[string]any
}

const ignoreTokenLimitKey = "ignore_token_limit"

// IgnoresTokenLimit reports the tenant-level admission override.
func (organization Organization) IgnoresTokenLimit() bool {
	value, ok := organization.Metadata[ignoreTokenLimitKey].(string)
	return ok && value == "yes"
}

// Account is a registered billable user.
type Account struct {
	UserID    UserID
	IsActive  bool
	CreatedAt time.Time
}

// TokenUsage aggregates a user's active allocations.
type TokenUsage struct {
	Total     TokenCount
	Used      TokenCount
	Remaining TokenCount
	// ExpiresOn is the latest expiry across active allocations, nil when none expire.
	ExpiresOn *Date
}

// Page bounds list queries. Results are ordered newest first; BeforeID is an
// exclusive cursor.
type Page struct {
	BeforeID RecordID
	Limit    int
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func (page Page) normalized() Page {
	if page.Limit <= 0 {
		page.Limit = defaultPageLimit
	}
	if page.Limit > maxPageLimit {
		page.Limit = maxPageLimit
	}
	return page
}

package billingv1

import "encoding/json"

// Empty is the response of RPCs that only report success.
type Empty struct{}

type UserRequest struct {
	UserID string `json:"user_id"`
}

type AdmitRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	MinTokens      int64  `json:"min_tokens"`
}

// RecordUsageRequest records a billable call whose token counts are already known.
// When Admit is set the admission gate runs first with MinTokens.
type RecordUsageRequest struct {
	UserID         string          `json:"user_id"`
	OrganizationID string          `json:"organization_id,omitempty"`
	Endpoint       string          `json:"endpoint"`
	Channel        string          `json:"channel"`
	InputTokens    int64           `json:"input_tokens"`
	OutputTokens   int64           `json:"output_tokens"`
	Status         int32           `json:"status,omitempty"`
	RequestData    json.RawMessage `json:"request_data,omitempty"`
	ResponseData   json.RawMessage `json:"response_data,omitempty"`
	ErrorData      json.RawMessage `json:"error_data,omitempty"`
	Admit          bool            `json:"admit,omitempty"`
	MinTokens      int64           `json:"min_tokens,omitempty"`
}

type RecordUsageResponse struct {
	LogID               string   `json:"log_id"`
	Channel             string   `json:"channel"`
	Status              int32    `json:"status"`
	InputTokens         int64    `json:"input_tokens"`
	OutputTokens        int64    `json:"output_tokens"`
	AllocationIDs       []string `json:"allocation_ids,omitempty"`
	InputCost           string   `json:"input_cost,omitempty"`
	OutputCost          string   `json:"output_cost,omitempty"`
	TotalCost           string   `json:"total_cost,omitempty"`
	WalletTransactionID string   `json:"wallet_transaction_id,omitempty"`
}

type TokenUsageResponse struct {
	Total     int64  `json:"total"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	ExpiresOn string `json:"expires_on,omitempty"`
}

type Allocation struct {
	AllocationID  string `json:"allocation_id"`
	UserID        string `json:"user_id"`
	Source        string `json:"source"`
	TokensGranted int64  `json:"tokens_granted"`
	TokensUsed    int64  `json:"tokens_used"`
	ExpiresOn     string `json:"expires_on,omitempty"`
	IsDeallocated bool   `json:"is_deallocated"`
	InvoiceID     string `json:"invoice_id,omitempty"`
	GrantKey      string `json:"grant_key,omitempty"`
}

type AllocationResponse struct {
	Allocation Allocation `json:"allocation"`
	Created    bool       `json:"created"`
}

type GrantAllocationRequest struct {
	UserID    string `json:"user_id"`
	Source    string `json:"source"`
	Tokens    int64  `json:"tokens"`
	ExpiresOn string `json:"expires_on,omitempty"`
	GrantKey  string `json:"grant_key,omitempty"`
	InvoiceID string `json:"invoice_id,omitempty"`
}

type RenewSubscriptionRequest struct {
	UserID    string `json:"user_id"`
	Tokens    int64  `json:"tokens"`
	ExpiresOn string `json:"expires_on,omitempty"`
	InvoiceID string `json:"invoice_id"`
}

type ApplyInvoiceRequest struct {
	UserID    string `json:"user_id"`
	InvoiceID string `json:"invoice_id"`
}

type Subscription struct {
	UserID       string `json:"user_id"`
	ExternalID   string `json:"external_id,omitempty"`
	Status       string `json:"status"`
	Interval     string `json:"interval"`
	PlanTokens   int64  `json:"plan_tokens"`
	CurrentStart string `json:"current_start,omitempty"`
	CurrentEnd   string `json:"current_end,omitempty"`
}

type RecordSubscriptionResponse struct {
	Downgraded bool `json:"downgraded"`
}

type RegisterAccountRequest struct {
	UserID   string `json:"user_id"`
	IsActive bool   `json:"is_active"`
}

type OrganizationRequest struct {
	OrganizationID string         `json:"organization_id"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type WalletRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Currency       string `json:"currency,omitempty"`
}

type Wallet struct {
	WalletID       string `json:"wallet_id"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Balance        string `json:"balance"`
	Currency       string `json:"currency"`
}

type DepositRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Amount         string `json:"amount"`
	Description    string `json:"description,omitempty"`
}

type WalletTransaction struct {
	TransactionID  string `json:"transaction_id"`
	WalletID       string `json:"wallet_id"`
	Amount         string `json:"amount"`
	Type           string `json:"type"`
	Description    string `json:"description,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type ListWalletTransactionsRequest struct {
	WalletID string `json:"wallet_id"`
	BeforeID string `json:"before_id,omitempty"`
	Limit    int32  `json:"limit,omitempty"`
}

type ListWalletTransactionsResponse struct {
	Transactions []WalletTransaction `json:"transactions"`
}

type PricingPlan struct {
	PlanID             string `json:"plan_id,omitempty"`
	Name               string `json:"name"`
	DefaultInputPrice  string `json:"default_input_price"`
	DefaultOutputPrice string `json:"default_output_price"`
	IsActive           bool   `json:"is_active"`
}

// AssignUserPricingRequest binds a user to a plan. Nil custom prices fall back
// to the plan defaults.
type AssignUserPricingRequest struct {
	UserID            string  `json:"user_id"`
	PlanID            string  `json:"plan_id"`
	CustomInputPrice  *string `json:"custom_input_price,omitempty"`
	CustomOutputPrice *string `json:"custom_output_price,omitempty"`
}

type CountResponse struct {
	Count int64 `json:"count"`
}

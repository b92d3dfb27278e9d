package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserID identifies a billable user.
type UserID struct {
	value string
}

// OrganizationID identifies the tenant a wallet belongs to.
type OrganizationID struct {
	value string
}

// RecordID identifies a stored ledger row.
type RecordID struct {
	value string
}

// TokenCount is a non-negative number of LLM tokens.
type TokenCount int64

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// NewOrganizationID validates and normalizes an organization id.
func NewOrganizationID(raw string) (OrganizationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrganizationID{}, fmt.Errorf("%w: empty value", ErrInvalidOrganizationID)
	}
	return OrganizationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OrganizationID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id OrganizationID) IsZero() bool {
	return id.value == ""
}

// NewRecordID validates a stored record id.
func NewRecordID(raw string) (RecordID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RecordID{}, fmt.Errorf("%w: empty value", ErrInvalidRecordID)
	}
	return RecordID{value: trimmed}, nil
}

// GenerateRecordID returns a time-ordered (UUIDv7) record id, so ascending id
// order follows creation order.
func GenerateRecordID() (RecordID, error) {
	generated, err := uuid.NewV7()
	if err != nil {
		return RecordID{}, fmt.Errorf("%w: %v", ErrInvalidRecordID, err)
	}
	return RecordID{value: generated.String()}, nil
}

// String returns the identifier.
func (id RecordID) String() string {
	return id.value
}

// IsZero reports whether the id is unset.
func (id RecordID) IsZero() bool {
	return id.value == ""
}

// NewTokenCount validates a token amount.
func NewTokenCount(raw int64) (TokenCount, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidTokenCount)
	}
	return TokenCount(raw), nil
}

// Int64 returns the raw value.
func (count TokenCount) Int64() int64 {
	return int64(count)
}

// Date is a calendar day, stored as midnight UTC.
type Date struct {
	value time.Time
}

const dateLayout = "2006-01-02"

// DateOf returns the calendar day of instant as observed in location.
func DateOf(instant time.Time, location *time.Location) Date {
	if location == nil {
		location = time.UTC
	}
	local := instant.In(location)
	return Date{value: time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)}
}

// NewDate builds a Date from its components.
func NewDate(year int, month time.Month, day int) (Date, error) {
	value := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if value.Year() != year || value.Month() != month || value.Day() != day {
		return Date{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, year, month, day)
	}
	return Date{value: value}, nil
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(raw string) (Date, error) {
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %v", ErrInvalidDate, err)
	}
	return Date{value: parsed}, nil
}

// Time returns midnight UTC of the day.
func (date Date) Time() time.Time {
	return date.value
}

// String formats the day as YYYY-MM-DD.
func (date Date) String() string {
	return date.value.Format(dateLayout)
}

// IsZero reports whether the date is unset.
func (date Date) IsZero() bool {
	return date.value.IsZero()
}

// Before reports whether date is strictly earlier than other.
func (date Date) Before(other Date) bool {
	return date.value.Before(other.value)
}

// Equal reports whether both dates name the same day.
func (date Date) Equal(other Date) bool {
	return date.value.Equal(other.value)
}

// AddMonths moves the date by whole calendar months, clamping the day to the
// end of the target month (Jan 31 + 1 month = Feb 28/29).
func (date Date) AddMonths(months int) Date {
	firstOfTarget := time.Date(date.value.Year(), date.value.Month()+time.Month(months), 1, 0, 0, 0, 0, time.UTC)
	day := date.value.Day()
	if last := daysIn(firstOfTarget.Year(), firstOfTarget.Month()); day > last {
		day = last
	}
	return Date{value: time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, 0, 0, 0, 0, time.UTC)}
}

// StartOfMonth returns the first day of the date's month.
func (date Date) StartOfMonth() Date {
	return Date{value: time.Date(date.value.Year(), date.value.Month(), 1, 0, 0, 0, 0, time.UTC)}
}

// IsLastDayOfMonth reports whether date is the final day of its month.
func (date Date) IsLastDayOfMonth() bool {
	return date.value.Day() == daysIn(date.value.Year(), date.value.Month())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AllocationSource names where a token grant came from.
type AllocationSource string

const (
	SourceFreeDaily            AllocationSource = "free_daily"
	SourceSubscriptionPurchase AllocationSource = "subscription_purchase"
	SourceAdminGrant           AllocationSource = "admin_grant"
)

// ParseAllocationSource validates a stored or requested source.
func ParseAllocationSource(raw string) (AllocationSource, error) {
	switch source := AllocationSource(strings.TrimSpace(raw)); source {
	case SourceFreeDaily, SourceSubscriptionPurchase, SourceAdminGrant:
		return source, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
}

// String returns the stored representation.
func (source AllocationSource) String() string {
	return string(source)
}

// TransactionType enumerates ledger transaction kinds.
type TransactionType string

const (
	TransactionDeposit   TransactionType = "deposit"
	TransactionAPICharge TransactionType = "api_charge"
)

// ParseTransactionType validates a transaction kind.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch transactionType := TransactionType(strings.TrimSpace(raw)); transactionType {
	case TransactionDeposit, TransactionAPICharge:
		return transactionType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
	}
}

// String returns the stored representation.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// Channel selects which ledger funds a request.
type Channel string

const (
	// ChannelPlatform bills the pay-as-you-go wallet (API key callers).
	ChannelPlatform Channel = "platform"
	// ChannelSubscription draws down token allocations (consumer sessions).
	ChannelSubscription Channel = "subscription"
)

// ParseChannel validates a channel name.
func ParseChannel(raw string) (Channel, error) {
	switch channel := Channel(strings.TrimSpace(raw)); channel {
	case ChannelPlatform, ChannelSubscription:
		return channel, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, raw)
	}
}

// String returns the channel name.
func (channel Channel) String() string {
	return string(channel)
}

// SubscriptionStatus mirrors the payment gateway subscription state.
type SubscriptionStatus string

const (
	SubscriptionCreated       SubscriptionStatus = "created"
	SubscriptionAuthenticated SubscriptionStatus = "authenticated"
	SubscriptionActive        SubscriptionStatus = "active"
	SubscriptionPending       SubscriptionStatus = "pending"
	SubscriptionHalted        SubscriptionStatus = "halted"
	SubscriptionPaused        SubscriptionStatus = "paused"
	SubscriptionCancelled     SubscriptionStatus = "cancelled"
	SubscriptionCompleted     SubscriptionStatus = "completed"
	SubscriptionExpired       SubscriptionStatus = "expired"
)

// ParseSubscriptionStatus validates a subscription status.
func ParseSubscriptionStatus(raw string) (SubscriptionStatus, error) {
	switch status := SubscriptionStatus(strings.TrimSpace(raw)); status {
	case SubscriptionCreated, SubscriptionAuthenticated, SubscriptionActive, SubscriptionPending,
		SubscriptionHalted, SubscriptionPaused, SubscriptionCancelled, SubscriptionCompleted, SubscriptionExpired:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidSubscription, raw)
	}
}

// String returns the stored representation.
func (status SubscriptionStatus) String() string {
	return string(status)
}

// IsDowngradeFrom reports whether moving from previous to status ends paid access.
func (status SubscriptionStatus) IsDowngradeFrom(previous SubscriptionStatus) bool {
	if previous != SubscriptionActive {
		return false
	}
	switch status {
	case SubscriptionPending, SubscriptionHalted, SubscriptionPaused, SubscriptionCancelled, SubscriptionCompleted, SubscriptionExpired:
		return true
	default:
		return false
	}
}

// PlanInterval is the billing period of a subscription plan.
type PlanInterval string

const (
	IntervalDaily   PlanInterval = "daily"
	IntervalWeekly  PlanInterval = "weekly"
	IntervalMonthly PlanInterval = "monthly"
	IntervalYearly  PlanInterval = "yearly"
)

// ParsePlanInterval validates a plan interval.
func ParsePlanInterval(raw string) (PlanInterval, error) {
	switch interval := PlanInterval(strings.TrimSpace(raw)); interval {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return interval, nil
	default:
		return "", fmt.Errorf("%w: unknown interval %q", ErrInvalidSubscription, raw)
	}
}

// String returns the stored representation.
func (interval PlanInterval) String() string {
	return string(interval)
}

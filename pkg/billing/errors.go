package billing

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the billing service.
var (
	ErrInsufficientTokens        = errors.New("insufficient tokens")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrMonthlyLimitExceeded      = errors.New("monthly limit exceeded")
	ErrInsufficientWalletBalance = errors.New("insufficient wallet balance")
	ErrAuthenticationRequired    = errors.New("authentication required")
	ErrWalletNotFound            = errors.New("wallet not found")
	ErrPricingNotFound           = errors.New("pricing not found")
	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrAllocationNotFound        = errors.New("allocation not found")
	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrPricingPlanNotFound       = errors.New("pricing plan not found")
	ErrConcurrentUpdate          = errors.New("concurrent update")
	ErrLockTimeout               = errors.New("lock wait timeout")
	ErrInvalidUserID             = errors.New("invalid user id")
	ErrInvalidOrganizationID     = errors.New("invalid organization id")
	ErrInvalidRecordID           = errors.New("invalid record id")
	ErrInvalidTokenCount         = errors.New("invalid token count")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInvalidSource             = errors.New("invalid allocation source")
	ErrInvalidTransactionType    = errors.New("invalid transaction type")
	ErrInvalidChannel            = errors.New("invalid channel")
	ErrInvalidEndpoint           = errors.New("invalid endpoint")
	ErrInvalidDate               = errors.New("invalid date")
	ErrInvalidSubscription       = errors.New("invalid subscription")
	ErrInvalidUsagePayload       = errors.New("invalid usage payload")
	ErrInvalidServiceConfig      = errors.New("invalid service config")
	ErrStoreInvariant            = errors.New("store invariant violated")
)

// InsufficientTokensError reports a drawdown that could not be fully funded.
type InsufficientTokensError struct {
	Required TokenCount
	ShortBy  TokenCount
}

func (insufficient InsufficientTokensError) Error() string {
	return fmt.Sprintf("%v: required %d, short by %d", ErrInsufficientTokens, insufficient.Required, insufficient.ShortBy)
}

// Unwrap exposes ErrInsufficientTokens to errors.Is.
func (insufficient InsufficientTokensError) Unwrap() error {
	return ErrInsufficientTokens
}

// AdmissionError is returned by the admission gate when a request is rejected
// before any billable work starts.
type AdmissionError struct {
	Reason    error
	Required  TokenCount
	Remaining TokenCount
}

func (admission AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected: %v (required %d, remaining %d)", admission.Reason, admission.Required, admission.Remaining)
}

// Unwrap returns the rejection reason sentinel.
func (admission AdmissionError) Unwrap() error {
	return admission.Reason
}

// IsPaymentRequired reports whether err belongs to the payment-required class.
func IsPaymentRequired(err error) bool {
	return errors.Is(err, ErrInsufficientTokens) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrMonthlyLimitExceeded) ||
		errors.Is(err, ErrInsufficientWalletBalance)
}

// IsRetryable reports whether the caller may retry the operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrConcurrentUpdate)
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

package billing

import (
	"context"
	"errors"
)

// DefaultAdmissionMinTokens is the remaining-token floor applied by request gates.
const DefaultAdmissionMinTokens TokenCount = 1000

// AdmissionRequest describes a caller about to start billable work.
type AdmissionRequest struct {
	// UserID is zero for unauthenticated callers.
	UserID UserID
	// OrganizationID is optional; its metadata may bypass the gate.
	OrganizationID OrganizationID
	MinTokens      TokenCount
}

// Admit decides whether a request may start. Rejections are AdmissionError values
// unwrapping to ErrAuthenticationRequired, ErrInsufficientBalance or
// ErrMonthlyLimitExceeded. Admission never mutates the ledger.
func (service *Service) Admit(ctx context.Context, request AdmissionRequest) error {
	operationError := service.admit(ctx, request)
	service.logOperation(ctx, OperationLog{
		Operation:      operationAdmit,
		UserID:         request.UserID,
		OrganizationID: request.OrganizationID,
		Tokens:         request.MinTokens,
		Error:          operationError,
	})
	return operationError
}

func (service *Service) admit(ctx context.Context, request AdmissionRequest) error {
	if !request.OrganizationID.IsZero() {
		organization, err := service.store.GetOrganization(ctx, request.OrganizationID)
		switch {
		case err == nil:
			if organization.IgnoresTokenLimit() {
				return nil
			}
		case !errors.Is(err, ErrOrganizationNotFound):
			return err
		}
	}
	if request.UserID.IsZero() {
		return AdmissionError{Reason: ErrAuthenticationRequired, Required: request.MinTokens}
	}
	usage, err := service.TokenUsage(ctx, request.UserID)
	if err != nil {
		return err
	}
	if usage.Remaining < request.MinTokens {
		return AdmissionError{Reason: ErrInsufficientBalance, Required: request.MinTokens, Remaining: usage.Remaining}
	}
	subscription, err := service.store.GetSubscription(ctx, request.UserID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return err
	}
	if err == nil && subscription.IsActive() {
		return nil
	}
	usedThisMonth, err := service.store.SumChargedTokensSince(ctx, request.UserID, SourceFreeDaily, service.monthStart())
	if err != nil {
		return err
	}
	if usedThisMonth >= service.config.FreeMonthlyTokenCeiling {
		return AdmissionError{Reason: ErrMonthlyLimitExceeded, Required: request.MinTokens, Remaining: usage.Remaining}
	}
	return nil
}

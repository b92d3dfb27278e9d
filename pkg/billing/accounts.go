package billing

import (
	"context"
	"fmt"
)

// RegisterAccount marks a user as billable so scheduled grants include them.
func (service *Service) RegisterAccount(ctx context.Context, userID UserID, isActive bool) (Account, error) {
	if userID.IsZero() {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	account := Account{UserID: userID, IsActive: isActive, CreatedAt: service.now()}
	if err := service.store.RegisterAccount(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// RecordOrganization mirrors tenant metadata used by the admission gate.
func (service *Service) RecordOrganization(ctx context.Context, organization Organization) error {
	if organization.ID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidOrganizationID)
	}
	if organization.Metadata == nil {
		organization.Metadata = map[string]any{}
	}
	return service.store.UpsertOrganization(ctx, organization)
}

// Organization returns the mirrored tenant or ErrOrganizationNotFound.
func (service *Service) Organization(ctx context.Context, organizationID OrganizationID) (Organization, error) {
	return service.store.GetOrganization(ctx, organizationID)
}

// ListUsageLogs pages the user's subscription usage newest first.
func (service *Service) ListUsageLogs(ctx context.Context, userID UserID, page Page) ([]UsageLog, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return service.store.ListUsageLogs(ctx, userID, page.normalized())
}

// ListAPILogs pages the user's platform usage newest first.
func (service *Service) ListAPILogs(ctx context.Context, userID UserID, page Page) ([]APILog, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return service.store.ListAPILogs(ctx, userID, page.normalized())
}

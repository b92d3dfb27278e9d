package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ResolvePricing returns the user's effective per-token prices, falling back to
// the configured default pricing when the user has no pricing record.
func (service *Service) ResolvePricing(ctx context.Context, userID UserID) (Pricing, error) {
	userPricing, err := service.store.GetUserPricing(ctx, userID)
	if err == nil {
		return userPricing.Resolve(), nil
	}
	if errors.Is(err, ErrPricingNotFound) && service.config.DefaultPricing != nil {
		return *service.config.DefaultPricing, nil
	}
	return Pricing{}, err
}

// SavePricingPlan creates or updates a pricing plan. A zero id creates a new plan.
func (service *Service) SavePricingPlan(ctx context.Context, plan PricingPlan) (PricingPlan, error) {
	plan.Name = strings.TrimSpace(plan.Name)
	if plan.Name == "" {
		return PricingPlan{}, fmt.Errorf("%w: plan name is empty", ErrInvalidAmount)
	}
	if plan.DefaultInputPrice.IsNegative() || plan.DefaultOutputPrice.IsNegative() {
		return PricingPlan{}, fmt.Errorf("%w: prices must not be negative", ErrInvalidAmount)
	}
	if plan.ID.IsZero() {
		planID, err := GenerateRecordID()
		if err != nil {
			return PricingPlan{}, err
		}
		plan.ID = planID
	}
	if err := service.store.SavePricingPlan(ctx, plan); err != nil {
		return PricingPlan{}, err
	}
	return plan, nil
}

// AssignUserPricing binds a user to an existing plan with optional overrides.
func (service *Service) AssignUserPricing(ctx context.Context, userPricing UserPricing) error {
	if userPricing.UserID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if userPricing.Plan.ID.IsZero() {
		return fmt.Errorf("%w: plan id is empty", ErrInvalidRecordID)
	}
	for _, custom := range []*decimal.Decimal{userPricing.CustomInputPrice, userPricing.CustomOutputPrice} {
		if custom != nil && custom.IsNegative() {
			return fmt.Errorf("%w: prices must not be negative", ErrInvalidAmount)
		}
	}
	return service.store.SaveUserPricing(ctx, userPricing)
}

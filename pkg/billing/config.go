package billing

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultFreeDailyTokens         TokenCount = 150000
	DefaultFreeMonthlyTokenCeiling TokenCount = 1000000
	DefaultLockWaitTimeout                    = 5 * time.Second
	DefaultCurrency                           = "USD"
)

// Config carries the tunable billing settings injected into a Service.
type Config struct {
	// FreeDailyTokens is the size of the daily free allocation.
	FreeDailyTokens TokenCount
	// FreeMonthlyTokenCeiling caps free_daily consumption per calendar month for
	// users without an active subscription.
	FreeMonthlyTokenCeiling TokenCount
	// AllowNegativeBalance lets api_charge take a wallet below zero.
	AllowNegativeBalance bool
	// LockWaitTimeout bounds every ledger transaction, including lock waits.
	LockWaitTimeout time.Duration
	// Location decides where calendar days begin.
	Location        *time.Location
	DefaultCurrency string
	// DefaultPricing applies to platform users without a pricing record.
	DefaultPricing *Pricing
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FreeDailyTokens:         DefaultFreeDailyTokens,
		FreeMonthlyTokenCeiling: DefaultFreeMonthlyTokenCeiling,
		AllowNegativeBalance:    true,
		LockWaitTimeout:         DefaultLockWaitTimeout,
		Location:                time.UTC,
		DefaultCurrency:         DefaultCurrency,
	}
}

func (config Config) validate() (Config, error) {
	if config.FreeDailyTokens < 0 {
		return Config{}, fmt.Errorf("%w: free daily tokens must not be negative", ErrInvalidServiceConfig)
	}
	if config.FreeMonthlyTokenCeiling < 0 {
		return Config{}, fmt.Errorf("%w: monthly token ceiling must not be negative", ErrInvalidServiceConfig)
	}
	if config.LockWaitTimeout < 0 {
		return Config{}, fmt.Errorf("%w: lock wait timeout must not be negative", ErrInvalidServiceConfig)
	}
	if config.DefaultPricing != nil && (config.DefaultPricing.InputPerToken.IsNegative() || config.DefaultPricing.OutputPerToken.IsNegative()) {
		return Config{}, fmt.Errorf("%w: default pricing must not be negative", ErrInvalidServiceConfig)
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = DefaultCurrency
	}
	return config, nil
}

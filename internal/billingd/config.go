package billingd

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/billing/pkg/billing"
	"github.com/shopspring/decimal"
)

const (
	defaultDatabaseURL       = "sqlite:///tmp/billing.db"
	defaultGRPCListenAddr    = ":7000"
	defaultAllowedOrigin     = "http://localhost:8000"
	defaultSessionIssuer     = "tauth"
	defaultSessionCookie     = "app_session"
	defaultSchedulerInterval = time.Hour
	defaultRequestTimeout    = 10 * time.Second
)

// Config aggregates runtime settings for the billing daemon.
type Config struct {
	DatabaseURL    string
	GRPCListenAddr string
	// HTTPListenAddr enables the end-user HTTP surface when set.
	HTTPListenAddr    string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	RequestTimeout    time.Duration

	SchedulerInterval time.Duration
	DisableScheduler  bool

	FreeDailyTokens         int64
	FreeMonthlyTokenCeiling int64
	AdmissionMinTokens      int64
	AllowNegativeBalance    bool
	LockWaitTimeout         time.Duration
	TimeZone                string
	DefaultCurrency         string
	// DefaultInputPrice and DefaultOutputPrice price platform users without a
	// pricing record. Both empty disables the fallback.
	DefaultInputPrice  string
	DefaultOutputPrice string
}

// Validate applies defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.TimeZone = defaultIfEmpty(cfg.TimeZone, "UTC")
	cfg.DefaultCurrency = defaultIfEmpty(cfg.DefaultCurrency, billing.DefaultCurrency)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.SchedulerInterval == 0 {
		cfg.SchedulerInterval = defaultSchedulerInterval
	}
	if cfg.FreeDailyTokens == 0 {
		cfg.FreeDailyTokens = billing.DefaultFreeDailyTokens.Int64()
	}
	if cfg.FreeMonthlyTokenCeiling == 0 {
		cfg.FreeMonthlyTokenCeiling = billing.DefaultFreeMonthlyTokenCeiling.Int64()
	}
	if cfg.AdmissionMinTokens == 0 {
		cfg.AdmissionMinTokens = billing.DefaultAdmissionMinTokens.Int64()
	}
	if cfg.LockWaitTimeout == 0 {
		cfg.LockWaitTimeout = billing.DefaultLockWaitTimeout
	}

	if cfg.SchedulerInterval < 0 {
		return fmt.Errorf("scheduler interval must not be negative")
	}
	if cfg.FreeDailyTokens < 0 || cfg.FreeMonthlyTokenCeiling < 0 || cfg.AdmissionMinTokens < 0 {
		return fmt.Errorf("token amounts must not be negative")
	}
	if cfg.LockWaitTimeout < 0 {
		return fmt.Errorf("lock wait timeout must not be negative")
	}
	if strings.TrimSpace(cfg.HTTPListenAddr) != "" && len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required when the http surface is enabled")
	}
	if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
		return fmt.Errorf("time zone: %w", err)
	}
	if (cfg.DefaultInputPrice == "") != (cfg.DefaultOutputPrice == "") {
		return fmt.Errorf("default input and output prices must be set together")
	}
	if _, err := cfg.defaultPricing(); err != nil {
		return err
	}
	return nil
}

// BillingConfig converts the runtime settings into the service configuration.
// Validate must have succeeded first.
func (cfg Config) BillingConfig() (billing.Config, error) {
	location, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return billing.Config{}, fmt.Errorf("time zone: %w", err)
	}
	pricing, err := cfg.defaultPricing()
	if err != nil {
		return billing.Config{}, err
	}
	return billing.Config{
		FreeDailyTokens:         billing.TokenCount(cfg.FreeDailyTokens),
		FreeMonthlyTokenCeiling: billing.TokenCount(cfg.FreeMonthlyTokenCeiling),
		AllowNegativeBalance:    cfg.AllowNegativeBalance,
		LockWaitTimeout:         cfg.LockWaitTimeout,
		Location:                location,
		DefaultCurrency:         cfg.DefaultCurrency,
		DefaultPricing:          pricing,
	}, nil
}

func (cfg Config) defaultPricing() (*billing.Pricing, error) {
	if cfg.DefaultInputPrice == "" && cfg.DefaultOutputPrice == "" {
		return nil, nil
	}
	inputPrice, err := decimal.NewFromString(strings.TrimSpace(cfg.DefaultInputPrice))
	if err != nil {
		return nil, fmt.Errorf("default input price: %w", err)
	}
	outputPrice, err := decimal.NewFromString(strings.TrimSpace(cfg.DefaultOutputPrice))
	if err != nil {
		return nil, fmt.Errorf("default output price: %w", err)
	}
	if inputPrice.IsNegative() || outputPrice.IsNegative() {
		return nil, fmt.Errorf("default prices must not be negative")
	}
	return &billing.Pricing{InputPerToken: inputPrice, OutputPerToken: outputPrice}, nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

package billingd

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/billing/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/billing/pkg/billing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestValidateAppliesDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.DatabaseURL != defaultDatabaseURL || cfg.GRPCListenAddr != defaultGRPCListenAddr {
		test.Fatalf("unexpected addresses %+v", cfg)
	}
	if cfg.FreeDailyTokens != billing.DefaultFreeDailyTokens.Int64() || cfg.AdmissionMinTokens != billing.DefaultAdmissionMinTokens.Int64() {
		test.Fatalf("unexpected token defaults %+v", cfg)
	}
	if cfg.SchedulerInterval != defaultSchedulerInterval || cfg.LockWaitTimeout != billing.DefaultLockWaitTimeout {
		test.Fatalf("unexpected durations %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.DefaultCurrency != billing.DefaultCurrency {
		test.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestValidateRejectsInvalidSettings(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		cfg  Config
	}{
		{name: "http without signing key", cfg: Config{HTTPListenAddr: ":9090"}},
		{name: "negative scheduler interval", cfg: Config{SchedulerInterval: -time.Second}},
		{name: "negative free tokens", cfg: Config{FreeDailyTokens: -1}},
		{name: "negative lock timeout", cfg: Config{LockWaitTimeout: -time.Second}},
		{name: "unknown time zone", cfg: Config{TimeZone: "Mars/Olympus"}},
		{name: "half default pricing", cfg: Config{DefaultInputPrice: "0.001"}},
		{name: "malformed price", cfg: Config{DefaultInputPrice: "cheap", DefaultOutputPrice: "0.002"}},
		{name: "negative price", cfg: Config{DefaultInputPrice: "-1", DefaultOutputPrice: "0.002"}},
	}
	for _, testCase := range testCases {
		cfg := testCase.cfg
		if err := cfg.Validate(); err == nil {
			test.Fatalf("%s: expected validation error", testCase.name)
		}
	}
}

func TestBillingConfigCarriesSettings(test *testing.T) {
	test.Parallel()
	cfg := Config{
		TimeZone:             "America/New_York",
		AllowNegativeBalance: true,
		DefaultCurrency:      "INR",
		DefaultInputPrice:    "0.001",
		DefaultOutputPrice:   "0.002",
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	billingConfig, err := cfg.BillingConfig()
	if err != nil {
		test.Fatalf("billing config: %v", err)
	}
	if billingConfig.Location.String() != "America/New_York" || !billingConfig.AllowNegativeBalance || billingConfig.DefaultCurrency != "INR" {
		test.Fatalf("unexpected billing config %+v", billingConfig)
	}
	if billingConfig.DefaultPricing == nil || !billingConfig.DefaultPricing.OutputPerToken.Equal(decimal.RequireFromString("0.002")) {
		test.Fatalf("unexpected default pricing %+v", billingConfig.DefaultPricing)
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	origins := ParseAllowedOrigins(" https://a.example , ,https://b.example")
	if len(origins) != 2 || origins[0] != "https://a.example" || origins[1] != "https://b.example" {
		test.Fatalf("unexpected origins %v", origins)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		test.Fatalf("expected no origins for blank input")
	}
}

func TestResolveDriver(test *testing.T) {
	test.Parallel()
	directory := test.TempDir()
	testCases := []struct {
		databaseURL string
		driver      string
		path        string
	}{
		{databaseURL: "postgres://user@localhost/billing", driver: driverPostgres},
		{databaseURL: "postgresql://user@localhost/billing", driver: driverPostgres},
		{databaseURL: "sqlite://" + directory + "/a.db", driver: driverSQLite, path: directory + "/a.db"},
		{databaseURL: directory + "/nested/b.db", driver: driverSQLite, path: directory + "/nested/b.db"},
		{databaseURL: ":memory:", driver: driverSQLite, path: ":memory:"},
	}
	for _, testCase := range testCases {
		driver, path, err := resolveDriver(testCase.databaseURL)
		if err != nil {
			test.Fatalf("%s: %v", testCase.databaseURL, err)
		}
		if driver != testCase.driver || path != testCase.path {
			test.Fatalf("%s: expected %s %q, got %s %q", testCase.databaseURL, testCase.driver, testCase.path, driver, path)
		}
	}
	if _, _, err := resolveDriver("  "); err == nil {
		test.Fatalf("expected error for empty database url")
	}
}

func TestOpenDatabaseMigratesSQLite(test *testing.T) {
	test.Parallel()
	db, cleanup, err := OpenDatabase(context.Background(), filepath.Join(test.TempDir(), "billing.db"), time.Second)
	if err != nil {
		test.Fatalf("open database: %v", err)
	}
	defer func() { _ = cleanup() }()
	for _, model := range gormstore.Models() {
		if !db.Migrator().HasTable(model) {
			test.Fatalf("expected table for %T", model)
		}
	}
}

func TestRunStopsOnCancellation(test *testing.T) {
	test.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	cfg := Config{
		DatabaseURL:       filepath.Join(test.TempDir(), "billing.db"),
		GRPCListenAddr:    "127.0.0.1:0",
		HTTPListenAddr:    "127.0.0.1:0",
		SessionSigningKey: "secret-key",
	}
	if err := Run(ctx, cfg, zap.NewNop()); err != nil && !strings.Contains(err.Error(), "context") {
		test.Fatalf("run: %v", err)
	}
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/billing/internal/billingd"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	envPrefix = "BILLINGD"

	flagDatabaseURL        = "database-url"
	flagGRPCListenAddr     = "grpc-listen-addr"
	flagHTTPListenAddr     = "http-listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	flagSessionSigningKey  = "session-signing-key"
	flagSessionIssuer      = "session-issuer"
	flagSessionCookieName  = "session-cookie-name"
	flagRequestTimeout     = "request-timeout"
	flagSchedulerInterval  = "scheduler-interval"
	flagDisableScheduler   = "disable-scheduler"
	flagFreeDailyTokens    = "free-daily-tokens"
	flagFreeMonthlyCeiling = "free-monthly-token-ceiling"
	flagAdmissionMinTokens = "admission-min-tokens"
	flagAllowNegative      = "allow-negative-balance"
	flagLockWaitTimeout    = "lock-wait-timeout"
	flagTimeZone           = "time-zone"
	flagDefaultCurrency    = "default-currency"
	flagDefaultInputPrice  = "default-input-price"
	flagDefaultOutputPrice = "default-output-price"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "billingd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &billingd.Config{}
	cmd := &cobra.Command{
		Use:           "billingd",
		Short:         "Token usage accounting and settlement server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			return billingd.Run(ctx, *cfg, logger)
		},
	}

	flags := cmd.Flags()
	flags.String(flagDatabaseURL, "sqlite:///tmp/billing.db", "PostgreSQL URL or SQLite path")
	flags.String(flagGRPCListenAddr, ":7000", "gRPC listen address")
	flags.String(flagHTTPListenAddr, "", "HTTP listen address; empty disables the HTTP surface")
	flags.String(flagAllowedOrigins, "http://localhost:8000", "comma-separated CORS origins")
	flags.String(flagSessionSigningKey, "", "tauth session signing key")
	flags.String(flagSessionIssuer, "tauth", "tauth session issuer")
	flags.String(flagSessionCookieName, "app_session", "tauth session cookie name")
	flags.Duration(flagRequestTimeout, 10*time.Second, "HTTP request timeout")
	flags.Duration(flagSchedulerInterval, time.Hour, "interval between grant passes")
	flags.Bool(flagDisableScheduler, false, "do not run the grant scheduler")
	flags.Int64(flagFreeDailyTokens, 150000, "tokens granted by the daily free allocation")
	flags.Int64(flagFreeMonthlyCeiling, 1000000, "monthly free-tier consumption ceiling")
	flags.Int64(flagAdmissionMinTokens, 1000, "remaining tokens required to admit an HTTP usage request")
	flags.Bool(flagAllowNegative, true, "let api charges take a wallet below zero")
	flags.Duration(flagLockWaitTimeout, 5*time.Second, "bound on every ledger transaction including lock waits")
	flags.String(flagTimeZone, "UTC", "time zone that decides where calendar days begin")
	flags.String(flagDefaultCurrency, "USD", "currency of newly opened wallets")
	flags.String(flagDefaultInputPrice, "", "fallback input price per token")
	flags.String(flagDefaultOutputPrice, "", "fallback output price per token")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *billingd.Config) error {
	configuration := viper.New()
	configuration.SetEnvPrefix(envPrefix)
	configuration.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	configuration.AutomaticEnv()
	if err := configuration.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = configuration.GetString(flagDatabaseURL)
	cfg.GRPCListenAddr = configuration.GetString(flagGRPCListenAddr)
	cfg.HTTPListenAddr = configuration.GetString(flagHTTPListenAddr)
	cfg.AllowedOrigins = billingd.ParseAllowedOrigins(configuration.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = configuration.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = configuration.GetString(flagSessionIssuer)
	cfg.SessionCookieName = configuration.GetString(flagSessionCookieName)
	cfg.RequestTimeout = configuration.GetDuration(flagRequestTimeout)
	cfg.SchedulerInterval = configuration.GetDuration(flagSchedulerInterval)
	cfg.DisableScheduler = configuration.GetBool(flagDisableScheduler)
	cfg.FreeDailyTokens = configuration.GetInt64(flagFreeDailyTokens)
	cfg.FreeMonthlyTokenCeiling = configuration.GetInt64(flagFreeMonthlyCeiling)
	cfg.AdmissionMinTokens = configuration.GetInt64(flagAdmissionMinTokens)
	cfg.AllowNegativeBalance = configuration.GetBool(flagAllowNegative)
	cfg.LockWaitTimeout = configuration.GetDuration(flagLockWaitTimeout)
	cfg.TimeZone = configuration.GetString(flagTimeZone)
	cfg.DefaultCurrency = configuration.GetString(flagDefaultCurrency)
	cfg.DefaultInputPrice = configuration.GetString(flagDefaultInputPrice)
	cfg.DefaultOutputPrice = configuration.GetString(flagDefaultOutputPrice)
	return cfg.Validate()
}

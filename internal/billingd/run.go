package billingd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/billing/api/billing/v1"
	"github.com/MarkoPoloResearchLab/billing/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/billing/internal/httpapi"
	"github.com/MarkoPoloResearchLab/billing/internal/oplog"
	"github.com/MarkoPoloResearchLab/billing/internal/scheduler"
	"github.com/MarkoPoloResearchLab/billing/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/billing/pkg/billing"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

const shutdownTimeout = 5 * time.Second

// Run serves the billing gRPC API, the optional HTTP surface and the grant
// scheduler until ctx is done or one of the servers fails.
func Run(ctx context.Context, cfg Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	billingConfig, err := cfg.BillingConfig()
	if err != nil {
		return err
	}

	db, cleanup, err := OpenDatabase(ctx, cfg.DatabaseURL, cfg.LockWaitTimeout)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	clock := func() time.Time { return time.Now().UTC() }
	billingService, err := billing.NewService(gormstore.New(db), clock, billingConfig, billing.WithOperationLogger(oplog.New(logger)))
	if err != nil {
		return fmt.Errorf("billing service init: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	billingv1.RegisterBillingServiceServer(grpcServer, grpcserver.NewBillingServiceServer(billingService))

	errCh := make(chan error, 2)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", listener.Addr().String()))
		if serveErr := grpcServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			errCh <- serveErr
		}
	}()

	var httpServer *http.Server
	if strings.TrimSpace(cfg.HTTPListenAddr) != "" {
		validator, err := sessionvalidator.New(sessionvalidator.Config{
			SigningKey: []byte(cfg.SessionSigningKey),
			Issuer:     cfg.SessionIssuer,
			CookieName: cfg.SessionCookieName,
		})
		if err != nil {
			grpcServer.Stop()
			return fmt.Errorf("session validator: %w", err)
		}
		router := httpapi.NewRouter(httpapi.Config{
			AllowedOrigins: cfg.AllowedOrigins,
			RequestTimeout: cfg.RequestTimeout,
			MinTokens:      billing.TokenCount(cfg.AdmissionMinTokens),
		}, billingService, validator, logger)
		httpServer = &http.Server{Addr: cfg.HTTPListenAddr, Handler: router}
		go func() {
			logger.Info("HTTP server starting", zap.String("listen_addr", cfg.HTTPListenAddr))
			if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				errCh <- serveErr
			}
		}()
	}

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	schedulerDone := make(chan struct{})
	if cfg.DisableScheduler {
		close(schedulerDone)
	} else {
		runner := scheduler.New(billingService, cfg.SchedulerInterval, logger)
		go func() {
			defer close(schedulerDone)
			runner.Run(schedulerCtx)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	stopScheduler()
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("http shutdown error", zap.Error(shutdownErr))
		}
		cancel()
	}
	grpcServer.GracefulStop()
	<-schedulerDone
	return runErr
}

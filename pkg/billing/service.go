package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service contains the billing domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() time.Time
	config Config
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, config Config, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	validated, err := config.validate()
	if err != nil {
		return nil, err
	}
	service := &Service{store: store, nowFn: now, config: validated}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Config returns the effective configuration.
func (service *Service) Config() Config {
	return service.config
}

func (service *Service) now() time.Time {
	return service.nowFn().UTC()
}

func (service *Service) today() Date {
	return DateOf(service.nowFn(), service.config.Location)
}

// monthStart returns the instant the current calendar month began.
func (service *Service) monthStart() time.Time {
	first := service.today().StartOfMonth().Time()
	return time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, service.config.Location).UTC()
}

// withTx runs fn in a store transaction bounded by the lock wait timeout.
// Running out of that budget surfaces as ErrLockTimeout.
func (service *Service) withTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if service.config.LockWaitTimeout <= 0 {
		return service.store.WithTx(ctx, fn)
	}
	boundedCtx, cancel := context.WithTimeout(ctx, service.config.LockWaitTimeout)
	defer cancel()
	err := service.store.WithTx(boundedCtx, fn)
	if err != nil && ctx.Err() == nil && !errors.Is(err, ErrLockTimeout) && errors.Is(boundedCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	return err
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

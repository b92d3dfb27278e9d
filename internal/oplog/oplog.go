package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/billing/pkg/billing"
	"go.uber.org/zap"
)

const (
	messageOperation = "billing operation"
	statusError      = "error"
)

// Logger renders billing operation logs as structured zap entries.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger writing to logger. A nil logger discards entries.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// LogOperation implements billing.OperationLogger.
func (operationLogger *Logger) LogOperation(_ context.Context, entry billing.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if !entry.UserID.IsZero() {
		fields = append(fields, zap.String("user_id", entry.UserID.String()))
	}
	if !entry.OrganizationID.IsZero() {
		fields = append(fields, zap.String("organization_id", entry.OrganizationID.String()))
	}
	if entry.Channel != "" {
		fields = append(fields, zap.String("channel", entry.Channel.String()))
	}
	if entry.Endpoint != "" {
		fields = append(fields, zap.String("endpoint", entry.Endpoint))
	}
	if entry.Tokens != 0 {
		fields = append(fields, zap.Int64("tokens", entry.Tokens.Int64()))
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	switch {
	case entry.Status != statusError:
		operationLogger.logger.Info(messageOperation, fields...)
	case billing.IsPaymentRequired(entry.Error) || billing.IsRetryable(entry.Error):
		operationLogger.logger.Warn(messageOperation, fields...)
	default:
		operationLogger.logger.Error(messageOperation, fields...)
	}
}

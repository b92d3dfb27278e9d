package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const (
	userIDValue         = "user-1"
	organizationIDValue = "org-1"
	endpointValue       = "/v1/chat/completions"
	errorMismatch       = "expected %v, got %v"
)

var errStoreFailure = errors.New("store error")

var fixedNow = time.Date(2026, time.March, 15, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) operations(operation string) []OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	var matched []OperationLog
	for _, entry := range logger.entries {
		if entry.Operation == operation {
			matched = append(matched, entry)
		}
	}
	return matched
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	return mustNewServiceWithConfig(test, store, DefaultConfig(), options...)
}

func mustNewServiceWithConfig(test *testing.T, store Store, config Config, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock, config, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	value, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return value
}

func mustOrganizationID(test *testing.T, raw string) OrganizationID {
	test.Helper()
	value, err := NewOrganizationID(raw)
	if err != nil {
		test.Fatalf("organization id: %v", err)
	}
	return value
}

func mustRecordID(test *testing.T, raw string) RecordID {
	test.Helper()
	value, err := NewRecordID(raw)
	if err != nil {
		test.Fatalf("record id: %v", err)
	}
	return value
}

func mustGenerateID(test *testing.T) RecordID {
	test.Helper()
	value, err := GenerateRecordID()
	if err != nil {
		test.Fatalf("generate id: %v", err)
	}
	return value
}

func mustDate(test *testing.T, raw string) Date {
	test.Helper()
	value, err := ParseDate(raw)
	if err != nil {
		test.Fatalf("date: %v", err)
	}
	return value
}

func datePointer(test *testing.T, raw string) *Date {
	test.Helper()
	value := mustDate(test, raw)
	return &value
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal: %v", err)
	}
	return value
}

func seedWallet(test *testing.T, service *Service, store *memoryStore, balance string) Wallet {
	test.Helper()
	userID := mustUserID(test, userIDValue)
	organizationID := mustOrganizationID(test, organizationIDValue)
	wallet, err := service.OpenWallet(context.Background(), userID, organizationID, "")
	if err != nil {
		test.Fatalf("open wallet: %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	for index := range store.state.wallets {
		if store.state.wallets[index].ID == wallet.ID {
			store.state.wallets[index].Balance = mustDecimal(test, balance)
			wallet = store.state.wallets[index]
		}
	}
	return wallet
}

func sumTokensUsed(allocations []Allocation) TokenCount {
	var total TokenCount
	for _, allocation := range allocations {
		total += allocation.TokensUsed
	}
	return total
}

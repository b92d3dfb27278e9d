package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/billing/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/billing/pkg/billing"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testSigningKey = "secret-key"
	testIssuer     = "tauth"
	testCookieName = "app_session"
	testUserID     = "user-1"
	testOrgID      = "org-1"
)

type testEnvironment struct {
	server  *httptest.Server
	service *billing.Service
}

func newTestEnvironment(test *testing.T) testEnvironment {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/billing.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	if err := gormstore.Migrate(db); err != nil {
		test.Fatalf("migrate failed: %v", err)
	}
	service, err := billing.NewService(gormstore.New(db), func() time.Time { return time.Now().UTC() }, billing.DefaultConfig())
	if err != nil {
		test.Fatalf("billing service init failed: %v", err)
	}
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(testSigningKey),
		Issuer:     testIssuer,
		CookieName: testCookieName,
	})
	if err != nil {
		test.Fatalf("validator init failed: %v", err)
	}
	router := NewRouter(Config{AllowedOrigins: []string{"http://localhost:8000"}}, service, validator, zap.NewNop())
	server := httptest.NewServer(router)
	test.Cleanup(server.Close)
	return testEnvironment{server: server, service: service}
}

func buildSessionCookie(test *testing.T, userID string) *http.Cookie {
	test.Helper()
	claims := &sessionvalidator.Claims{
		UserID:          userID,
		UserEmail:       userID + "@example.com",
		UserDisplayName: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSigningKey))
	if err != nil {
		test.Fatalf("token signing failed: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: signed}
}

func execRequest(test *testing.T, environment testEnvironment, method string, path string, cookie *http.Cookie, payload any, into any) int {
	test.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			test.Fatalf("marshal failed: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, environment.server.URL+path, body)
	if err != nil {
		test.Fatalf("request init failed: %v", err)
	}
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	response, err := environment.server.Client().Do(request)
	if err != nil {
		test.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if into != nil {
		if err := json.NewDecoder(response.Body).Decode(into); err != nil {
			test.Fatalf("failed to decode response: %v", err)
		}
	}
	return response.StatusCode
}

func mustUserID(test *testing.T, raw string) billing.UserID {
	test.Helper()
	userID, err := billing.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustOrganizationID(test *testing.T, raw string) billing.OrganizationID {
	test.Helper()
	organizationID, err := billing.NewOrganizationID(raw)
	if err != nil {
		test.Fatalf("organization id: %v", err)
	}
	return organizationID
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestSubscriptionUsageRoutes(test *testing.T) {
	test.Parallel()
	environment := newTestEnvironment(test)
	cookie := buildSessionCookie(test, testUserID)
	if _, _, err := environment.service.EnsureFreeDailyAllocation(context.Background(), mustUserID(test, testUserID)); err != nil {
		test.Fatalf("ensure free daily: %v", err)
	}

	var recorded recordUsageResponse
	statusCode := execRequest(test, environment, http.MethodPost, "/api/usage", cookie, map[string]any{
		"endpoint":      "/v1/chat",
		"channel":       "subscription",
		"input_tokens":  300,
		"output_tokens": 200,
		"request_data":  map[string]any{"prompt": "hi"},
	}, &recorded)
	if statusCode != http.StatusOK || recorded.LogID == "" || recorded.InputTokens != 300 {
		test.Fatalf("unexpected usage response %d %+v", statusCode, recorded)
	}

	var usage tokenUsageResponse
	if statusCode := execRequest(test, environment, http.MethodGet, "/api/subscription/usage", cookie, nil, &usage); statusCode != http.StatusOK {
		test.Fatalf("unexpected status %d", statusCode)
	}
	if usage.Used != 500 || usage.Remaining != billing.DefaultFreeDailyTokens.Int64()-500 || usage.ExpiresAt == "" {
		test.Fatalf("unexpected usage %+v", usage)
	}

	var logs struct {
		Logs []usageLogPayload `json:"logs"`
	}
	if statusCode := execRequest(test, environment, http.MethodGet, "/api/subscription/logs?limit=10", cookie, nil, &logs); statusCode != http.StatusOK {
		test.Fatalf("unexpected status %d", statusCode)
	}
	if len(logs.Logs) != 1 || logs.Logs[0].LogID != recorded.LogID || logs.Logs[0].Status != billing.StatusOK {
		test.Fatalf("unexpected logs %+v", logs.Logs)
	}
}

func TestRecordUsageRejectsUnfundedUser(test *testing.T) {
	test.Parallel()
	environment := newTestEnvironment(test)
	cookie := buildSessionCookie(test, testUserID)

	var envelope errorEnvelope
	statusCode := execRequest(test, environment, http.MethodPost, "/api/usage", cookie, map[string]any{
		"endpoint":     "/v1/chat",
		"channel":      "subscription",
		"input_tokens": 10,
	}, &envelope)
	if statusCode != http.StatusPaymentRequired || envelope.Error.Code != errorCodePaymentRequired {
		test.Fatalf("expected payment required, got %d %+v", statusCode, envelope)
	}

	var logs struct {
		Logs []usageLogPayload `json:"logs"`
	}
	execRequest(test, environment, http.MethodGet, "/api/subscription/logs", cookie, nil, &logs)
	if len(logs.Logs) != 0 {
		test.Fatalf("admission rejection must not record usage, got %+v", logs.Logs)
	}
}

func TestRecordUsageIgnoresBodyOrganizationForAdmission(test *testing.T) {
	test.Parallel()
	environment := newTestEnvironment(test)
	cookie := buildSessionCookie(test, testUserID)
	if err := environment.service.RecordOrganization(context.Background(), billing.Organization{
		ID:       mustOrganizationID(test, testOrgID),
		Metadata: map[string]any{"ignore_token_limit": "yes"},
	}); err != nil {
		test.Fatalf("record organization: %v", err)
	}

	var envelope errorEnvelope
	statusCode := execRequest(test, environment, http.MethodPost, "/api/usage", cookie, map[string]any{
		"organization_id": testOrgID,
		"endpoint":        "/v1/chat",
		"channel":         "subscription",
		"input_tokens":    10,
	}, &envelope)
	if statusCode != http.StatusPaymentRequired || envelope.Error.Code != errorCodePaymentRequired {
		test.Fatalf("expected payment required despite the organization bypass, got %d %+v", statusCode, envelope)
	}
}

func TestWalletRoutes(test *testing.T) {
	test.Parallel()
	environment := newTestEnvironment(test)
	cookie := buildSessionCookie(test, testUserID)
	ctx := context.Background()

	var missing errorEnvelope
	if statusCode := execRequest(test, environment, http.MethodGet, "/api/wallet?organization_id="+testOrgID, cookie, nil, &missing); statusCode != http.StatusNotFound {
		test.Fatalf("expected 404 before the wallet exists, got %d", statusCode)
	}

	userID := mustUserID(test, testUserID)
	organizationID := mustOrganizationID(test, testOrgID)
	wallet, err := environment.service.OpenWallet(ctx, userID, organizationID, "")
	if err != nil {
		test.Fatalf("open wallet: %v", err)
	}
	if _, err := environment.service.Deposit(ctx, userID, organizationID, decimal.NewFromInt(5), "top up"); err != nil {
		test.Fatalf("deposit: %v", err)
	}

	var walletEnvelope struct {
		Wallet walletPayload `json:"wallet"`
	}
	if statusCode := execRequest(test, environment, http.MethodGet, "/api/wallet?organization_id="+testOrgID, cookie, nil, &walletEnvelope); statusCode != http.StatusOK {
		test.Fatalf("unexpected status %d", statusCode)
	}
	if walletEnvelope.Wallet.Balance != "5" || walletEnvelope.Wallet.Currency != billing.DefaultCurrency {
		test.Fatalf("unexpected wallet %+v", walletEnvelope.Wallet)
	}

	var history struct {
		Transactions []walletTransactionPayload `json:"transactions"`
	}
	path := "/api/wallets/" + wallet.ID.String() + "/transactions"
	if statusCode := execRequest(test, environment, http.MethodGet, path, cookie, nil, &history); statusCode != http.StatusOK {
		test.Fatalf("unexpected status %d", statusCode)
	}
	if len(history.Transactions) != 1 || history.Transactions[0].Type != billing.TransactionDeposit.String() {
		test.Fatalf("unexpected transactions %+v", history.Transactions)
	}

	strangerCookie := buildSessionCookie(test, "user-2")
	if statusCode := execRequest(test, environment, http.MethodGet, path, strangerCookie, nil, nil); statusCode != http.StatusNotFound {
		test.Fatalf("expected other users' wallets to be hidden, got %d", statusCode)
	}
}

func TestRoutesRequireSession(test *testing.T) {
	test.Parallel()
	environment := newTestEnvironment(test)
	if statusCode := execRequest(test, environment, http.MethodGet, "/api/subscription/usage", nil, nil, nil); statusCode != http.StatusUnauthorized {
		test.Fatalf("expected 401 without a session, got %d", statusCode)
	}
	if statusCode := execRequest(test, environment, http.MethodGet, "/healthz", nil, nil, nil); statusCode != http.StatusOK {
		test.Fatalf("expected health check to be public, got %d", statusCode)
	}
}

func TestClassifyError(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		err        error
		statusCode int
		code       string
	}{
		{billing.InsufficientTokensError{Required: 10, ShortBy: 5}, http.StatusPaymentRequired, errorCodePaymentRequired},
		{billing.AdmissionError{Reason: billing.ErrMonthlyLimitExceeded}, http.StatusPaymentRequired, errorCodePaymentRequired},
		{billing.AdmissionError{Reason: billing.ErrAuthenticationRequired}, http.StatusUnauthorized, errorCodeUnauthorized},
		{billing.ErrWalletNotFound, http.StatusNotFound, errorCodeNotFound},
		{billing.WrapError("draw", "allocation", "lock", billing.ErrLockTimeout), http.StatusServiceUnavailable, errorCodeTemporarilyBusy},
		{billing.ErrInvalidChannel, http.StatusBadRequest, errorCodeInvalidRequest},
		{errors.New("boom"), http.StatusInternalServerError, errorCodeInternal},
	}
	for _, testCase := range testCases {
		statusCode, code := classifyError(testCase.err)
		if statusCode != testCase.statusCode || code != testCase.code {
			test.Fatalf("%v: expected %d %s, got %d %s", testCase.err, testCase.statusCode, testCase.code, statusCode, code)
		}
	}
}

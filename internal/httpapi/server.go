package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/billing/pkg/billing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"

	errorCodeUnauthorized     = "unauthorized"
	errorCodePaymentRequired  = "payment_required"
	errorCodeNotFound         = "not_found"
	errorCodeInvalidRequest   = "invalid_request"
	errorCodeInvalidPayload   = "invalid_payload"
	errorCodeTemporarilyBusy  = "temporarily_unavailable"
	errorCodeInternal         = "internal_error"
	defaultRequestTimeout     = 10 * time.Second
	maxTransactionsPageLength = 500
)

// Config holds the HTTP surface settings.
type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	// MinTokens is the admission floor applied to POST /api/usage.
	MinTokens billing.TokenCount
}

// NewRouter builds the gin engine serving end-user billing routes behind the
// session validator.
func NewRouter(config Config, billingService *billing.Service, validator *sessionvalidator.Validator, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaultRequestTimeout
	}
	if config.MinTokens <= 0 {
		config.MinTokens = billing.DefaultAdmissionMinTokens
	}
	handler := &httpHandler{logger: logger, billingService: billingService, config: config}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.GET("/subscription/usage", handler.handleTokenUsage)
	api.GET("/subscription/logs", handler.handleUsageLogs)
	api.GET("/platform/logs", handler.handleAPILogs)
	api.GET("/wallet", handler.handleWallet)
	api.GET("/wallets/:wallet_id/transactions", handler.handleWalletTransactions)
	api.POST("/usage", handler.handleRecordUsage)

	return router
}

type httpHandler struct {
	logger         *zap.Logger
	billingService *billing.Service
	config         Config
}

func (handler *httpHandler) handleTokenUsage(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	usage, err := handler.billingService.TokenUsage(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := tokenUsageResponse{
		Total:     usage.Total.Int64(),
		Used:      usage.Used.Int64(),
		Remaining: usage.Remaining.Int64(),
	}
	if usage.ExpiresOn != nil {
		response.ExpiresAt = usage.ExpiresOn.String()
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleUsageLogs(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	page, ok := parsePage(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	usageLogs, err := handler.billingService.ListUsageLogs(requestCtx, userID, page)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	entries := make([]usageLogPayload, 0, len(usageLogs))
	for _, usageLog := range usageLogs {
		entries = append(entries, usageLogPayload{
			LogID:          usageLog.ID.String(),
			Endpoint:       usageLog.Endpoint,
			InputTokens:    usageLog.InputTokens.Int64(),
			OutputTokens:   usageLog.OutputTokens.Int64(),
			Status:         usageLog.Status,
			ErrorData:      rawPayload(usageLog.ErrorData),
			CreatedUnixUTC: usageLog.CreatedAt.Unix(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"logs": entries})
}

func (handler *httpHandler) handleAPILogs(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	page, ok := parsePage(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	apiLogs, err := handler.billingService.ListAPILogs(requestCtx, userID, page)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	entries := make([]apiLogPayload, 0, len(apiLogs))
	for _, apiLog := range apiLogs {
		entries = append(entries, apiLogPayload{
			LogID:          apiLog.ID.String(),
			OrganizationID: apiLog.OrganizationID.String(),
			Endpoint:       apiLog.Endpoint,
			InputTokens:    apiLog.InputTokens.Int64(),
			OutputTokens:   apiLog.OutputTokens.Int64(),
			TotalCost:      apiLog.TotalCost.String(),
			Status:         apiLog.Status,
			ErrorData:      rawPayload(apiLog.ErrorData),
			CreatedUnixUTC: apiLog.CreatedAt.Unix(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"logs": entries})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	organizationID, err := billing.NewOrganizationID(ctx.Query("organization_id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, err := handler.billingService.Wallet(requestCtx, userID, organizationID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": newWalletPayload(wallet)})
}

func (handler *httpHandler) handleWalletTransactions(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	walletID, err := billing.NewRecordID(ctx.Param("wallet_id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	page, ok := parsePage(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, err := handler.billingService.WalletByID(requestCtx, walletID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	// Wallets of other users are reported as missing.
	if wallet.UserID != userID {
		handler.respondError(ctx, billing.ErrWalletNotFound)
		return
	}
	transactions, err := handler.billingService.ListWalletTransactions(requestCtx, walletID, page)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	entries := make([]walletTransactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		entries = append(entries, walletTransactionPayload{
			TransactionID:  transaction.ID.String(),
			Amount:         transaction.Amount.String(),
			Type:           transaction.Type.String(),
			Description:    transaction.Description,
			CreatedUnixUTC: transaction.CreatedAt.Unix(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": newWalletPayload(wallet), "transactions": entries})
}

// handleRecordUsage admits the caller and records one billable call with
// already known token counts. Sessions carry no organization membership, so
// admission runs for the user alone and a body organization_id only selects
// the wallet to charge.
func (handler *httpHandler) handleRecordUsage(ctx *gin.Context) {
	userID, ok := handler.requireUser(ctx)
	if !ok {
		return
	}
	var request recordUsageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	scope, usage, err := request.parse(userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.billingService.Admit(requestCtx, billing.AdmissionRequest{
		UserID:    userID,
		MinTokens: handler.config.MinTokens,
	}); err != nil {
		handler.respondError(ctx, err)
		return
	}
	result, err := handler.billingService.WithUsageScope(requestCtx, scope, func(ctx context.Context, handle *billing.Usage) error {
		handle.InputTokens = usage.InputTokens
		handle.OutputTokens = usage.OutputTokens
		handle.RequestData = usage.RequestData
		handle.ResponseData = usage.ResponseData
		return nil
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := recordUsageResponse{
		LogID:        result.LogID.String(),
		Channel:      result.Channel.String(),
		InputTokens:  result.InputTokens.Int64(),
		OutputTokens: result.OutputTokens.Int64(),
	}
	if result.Channel == billing.ChannelPlatform {
		response.TotalCost = result.TotalCost.String()
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) requireUser(ctx *gin.Context) (billing.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return billing.UserID{}, false
	}
	userID, err := billing.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "session has no user"))
		return billing.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.config.RequestTimeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	statusCode, code := classifyError(err)
	if statusCode >= http.StatusInternalServerError {
		handler.logger.Error("billing request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(statusCode, errorResponse(code, err.Error()))
}

func classifyError(err error) (int, string) {
	switch {
	case billing.IsPaymentRequired(err):
		return http.StatusPaymentRequired, errorCodePaymentRequired
	case errors.Is(err, billing.ErrAuthenticationRequired):
		return http.StatusUnauthorized, errorCodeUnauthorized
	case errors.Is(err, billing.ErrWalletNotFound),
		errors.Is(err, billing.ErrPricingNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound),
		errors.Is(err, billing.ErrOrganizationNotFound):
		return http.StatusNotFound, errorCodeNotFound
	case billing.IsRetryable(err):
		return http.StatusServiceUnavailable, errorCodeTemporarilyBusy
	case errors.Is(err, billing.ErrInvalidUserID),
		errors.Is(err, billing.ErrInvalidOrganizationID),
		errors.Is(err, billing.ErrInvalidRecordID),
		errors.Is(err, billing.ErrInvalidTokenCount),
		errors.Is(err, billing.ErrInvalidChannel),
		errors.Is(err, billing.ErrInvalidEndpoint),
		errors.Is(err, billing.ErrInvalidUsagePayload):
		return http.StatusBadRequest, errorCodeInvalidRequest
	default:
		return http.StatusInternalServerError, errorCodeInternal
	}
}

func parsePage(ctx *gin.Context) (billing.Page, bool) {
	var page billing.Page
	if rawLimit := strings.TrimSpace(ctx.Query("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 0 || limit > maxTransactionsPageLength {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "limit must be between 0 and 500"))
			return billing.Page{}, false
		}
		page.Limit = limit
	}
	if rawBefore := strings.TrimSpace(ctx.Query("before_id")); rawBefore != "" {
		beforeID, err := billing.NewRecordID(rawBefore)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, err.Error()))
			return billing.Page{}, false
		}
		page.BeforeID = beforeID
	}
	return page, true
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func rawPayload(payload billing.Payload) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	return json.RawMessage(payload)
}

type recordUsageRequest struct {
	OrganizationID string          `json:"organization_id"`
	Endpoint       string          `json:"endpoint"`
	Channel        string          `json:"channel"`
	InputTokens    int64           `json:"input_tokens"`
	OutputTokens   int64           `json:"output_tokens"`
	RequestData    json.RawMessage `json:"request_data"`
	ResponseData   json.RawMessage `json:"response_data"`
}

func (request recordUsageRequest) parse(userID billing.UserID) (billing.UsageScopeRequest, billing.Usage, error) {
	scope := billing.UsageScopeRequest{UserID: userID, Endpoint: request.Endpoint}
	channel, err := billing.ParseChannel(request.Channel)
	if err != nil {
		return scope, billing.Usage{}, err
	}
	scope.Channel = channel
	if strings.TrimSpace(request.OrganizationID) != "" {
		organizationID, err := billing.NewOrganizationID(request.OrganizationID)
		if err != nil {
			return scope, billing.Usage{}, err
		}
		scope.OrganizationID = organizationID
	}
	var usage billing.Usage
	if usage.InputTokens, err = billing.NewTokenCount(request.InputTokens); err != nil {
		return scope, billing.Usage{}, err
	}
	if usage.OutputTokens, err = billing.NewTokenCount(request.OutputTokens); err != nil {
		return scope, billing.Usage{}, err
	}
	if usage.RequestData, err = billing.NewPayload(request.RequestData); err != nil {
		return scope, billing.Usage{}, err
	}
	if usage.ResponseData, err = billing.NewPayload(request.ResponseData); err != nil {
		return scope, billing.Usage{}, err
	}
	return scope, usage, nil
}

type recordUsageResponse struct {
	LogID        string `json:"log_id"`
	Channel      string `json:"channel"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	TotalCost    string `json:"total_cost,omitempty"`
}

type tokenUsageResponse struct {
	Total     int64  `json:"total"`
	Used      int64  `json:"used"`
	Remaining int64  `json:"remaining"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type usageLogPayload struct {
	LogID          string          `json:"log_id"`
	Endpoint       string          `json:"endpoint"`
	InputTokens    int64           `json:"input_tokens"`
	OutputTokens   int64           `json:"output_tokens"`
	Status         int             `json:"status"`
	ErrorData      json.RawMessage `json:"error_data,omitempty"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type apiLogPayload struct {
	LogID          string          `json:"log_id"`
	OrganizationID string          `json:"organization_id"`
	Endpoint       string          `json:"endpoint"`
	InputTokens    int64           `json:"input_tokens"`
	OutputTokens   int64           `json:"output_tokens"`
	TotalCost      string          `json:"total_cost"`
	Status         int             `json:"status"`
	ErrorData      json.RawMessage `json:"error_data,omitempty"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type walletPayload struct {
	WalletID       string `json:"wallet_id"`
	OrganizationID string `json:"organization_id"`
	Balance        string `json:"balance"`
	Currency       string `json:"currency"`
}

func newWalletPayload(wallet billing.Wallet) walletPayload {
	return walletPayload{
		WalletID:       wallet.ID.String(),
		OrganizationID: wallet.OrganizationID.String(),
		Balance:        wallet.Balance.String(),
		Currency:       wallet.Currency,
	}
}

type walletTransactionPayload struct {
	TransactionID  string `json:"transaction_id"`
	Amount         string `json:"amount"`
	Type           string `json:"type"`
	Description    string `json:"description,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

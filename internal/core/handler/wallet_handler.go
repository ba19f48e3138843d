package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/deliverhq/walletd/internal/core/logger"
	"github.com/deliverhq/walletd/internal/core/models"
	"github.com/deliverhq/walletd/internal/core/usecase"
)

const (
	defaultPageSize    = 20
	defaultRecentLimit = 50
	defaultTopLimit    = 10
	maxBodyBytes       = 1 << 20
)

var amountRegexp = regexp.MustCompile(`^\s*\d{1,9}([.,]\d{1,2})?\s*$`)

type WalletHandler struct {
	ledger usecase.LedgerUsecase
	query  usecase.WalletQueryUsecase
	log    logger.Logger
}

func NewWalletHandler(ledger usecase.LedgerUsecase, query usecase.WalletQueryUsecase, log logger.Logger) *WalletHandler {
	return &WalletHandler{ledger: ledger, query: query, log: log}
}

func (h *WalletHandler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1/wallets").Subrouter()

	api.HandleFunc("", h.ProvisionWallet).Methods("POST")
	api.HandleFunc("/credit", h.CreditWallet).Methods("POST")
	api.HandleFunc("/debit", h.DebitWallet).Methods("POST")
	api.HandleFunc("/transfer", h.Transfer).Methods("POST")

	api.HandleFunc("/stats/balance", h.TotalBalance).Methods("GET")
	api.HandleFunc("/stats/balance/{ownerType}", h.TotalBalanceByType).Methods("GET")
	api.HandleFunc("/stats/credits", h.TotalCredits).Methods("GET")
	api.HandleFunc("/stats/debits", h.TotalDebits).Methods("GET")

	api.HandleFunc("/low-balance", h.LowBalanceWallets).Methods("GET")
	api.HandleFunc("/high-balance", h.HighBalanceWallets).Methods("GET")
	api.HandleFunc("/top", h.TopWallets).Methods("GET")

	api.HandleFunc("/transactions/recent", h.RecentTransactions).Methods("GET")
	api.HandleFunc("/transactions/reference/{reference}", h.TransactionsByReference).Methods("GET")

	api.HandleFunc("/owner/{ownerId:[0-9]+}/type/{ownerType}", h.GetWalletByOwner).Methods("GET")
	api.HandleFunc("/owner/{ownerId:[0-9]+}", h.ListWalletsByOwner).Methods("GET")
	api.HandleFunc("/type/{ownerType}", h.ListWalletsByType).Methods("GET")

	api.HandleFunc("/{id:[0-9]+}", h.GetWallet).Methods("GET")
	api.HandleFunc("/{id:[0-9]+}", h.DeactivateWallet).Methods("DELETE")
	api.HandleFunc("/{id:[0-9]+}/transactions", h.ListTransactions).Methods("GET")
	api.HandleFunc("/{id:[0-9]+}/transactions/{txType}", h.ListTransactionsByType).Methods("GET")
}

type provisionRequest struct {
	OwnerID     int64  `json:"owner_id"`
	OwnerType   string `json:"owner_type"`
	Description string `json:"description"`
}

type operationRequest struct {
	OwnerID     int64  `json:"owner_id"`
	OwnerType   string `json:"owner_type"`
	Amount      string `json:"amount"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
}

type transferRequest struct {
	FromOwnerID   int64  `json:"from_owner_id"`
	FromOwnerType string `json:"from_owner_type"`
	ToOwnerID     int64  `json:"to_owner_id"`
	ToOwnerType   string `json:"to_owner_type"`
	Amount        string `json:"amount"`
	Reference     string `json:"reference"`
	Description   string `json:"description"`
}

type walletResponse struct {
	ID          int64  `json:"id"`
	OwnerID     int64  `json:"owner_id"`
	OwnerType   string `json:"owner_type"`
	Balance     string `json:"balance"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type transactionResponse struct {
	ID            int64  `json:"id"`
	WalletID      int64  `json:"wallet_id"`
	Type          string `json:"transaction_type"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
	Reference     string `json:"reference,omitempty"`
	Description   string `json:"description,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type transactionPageResponse struct {
	Items      []transactionResponse `json:"items"`
	Page       int                   `json:"page"`
	Size       int                   `json:"size"`
	Total      int64                 `json:"total"`
	TotalPages int                   `json:"total_pages"`
}

type transferResponse struct {
	From walletResponse `json:"from"`
	To   walletResponse `json:"to"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *WalletHandler) ProvisionWallet(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	ownerType, err := models.ParseOwnerType(req.OwnerType)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallet, err := h.ledger.ProvisionWallet(r.Context(), req.OwnerID, ownerType, req.Description)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, toWalletResponse(wallet))
}

func (h *WalletHandler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	h.runOperation(w, r, h.ledger.Credit)
}

func (h *WalletHandler) DebitWallet(w http.ResponseWriter, r *http.Request) {
	h.runOperation(w, r, h.ledger.Debit)
}

type ledgerOperation func(ctx context.Context, ownerID int64, ownerType models.OwnerType, amount decimal.Decimal, reference, description string) (*models.Wallet, error)

func (h *WalletHandler) runOperation(w http.ResponseWriter, r *http.Request, op ledgerOperation) {
	var req operationRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	ownerType, err := models.ParseOwnerType(req.OwnerType)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallet, err := op(r.Context(), req.OwnerID, ownerType, amount, req.Reference, req.Description)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toWalletResponse(wallet))
}

func (h *WalletHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	fromType, err := models.ParseOwnerType(req.FromOwnerType)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	toType, err := models.ParseOwnerType(req.ToOwnerType)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.ledger.Transfer(r.Context(), usecase.TransferRequest{
		FromOwnerID:   req.FromOwnerID,
		FromOwnerType: fromType,
		ToOwnerID:     req.ToOwnerID,
		ToOwnerType:   toType,
		Amount:        amount,
		Reference:     req.Reference,
		Description:   req.Description,
	})
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, transferResponse{
		From: toWalletResponse(result.From),
		To:   toWalletResponse(result.To),
	})
}

func (h *WalletHandler) DeactivateWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathInt64(w, r, "id")
	if !ok {
		return
	}

	if err := h.ledger.DeactivateWallet(r.Context(), id); err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathInt64(w, r, "id")
	if !ok {
		return
	}

	wallet, err := h.query.GetWalletByID(r.Context(), id)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWalletResponse(wallet))
}

func (h *WalletHandler) GetWalletByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.pathInt64(w, r, "ownerId")
	if !ok {
		return
	}
	ownerType, err := models.ParseOwnerType(mux.Vars(r)["ownerType"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallet, err := h.query.GetWalletByOwner(r.Context(), ownerID, ownerType)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWalletResponse(wallet))
}

func (h *WalletHandler) ListWalletsByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.pathInt64(w, r, "ownerId")
	if !ok {
		return
	}

	wallets, err := h.query.ListWalletsByOwner(r.Context(), ownerID)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWalletResponses(wallets))
}

func (h *WalletHandler) ListWalletsByType(w http.ResponseWriter, r *http.Request) {
	ownerType, err := models.ParseOwnerType(mux.Vars(r)["ownerType"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallets, err := h.query.ListWalletsByType(r.Context(), ownerType)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWalletResponses(wallets))
}

func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathInt64(w, r, "id")
	if !ok {
		return
	}
	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", defaultPageSize)

	result, err := h.query.ListTransactions(r.Context(), id, page, size)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, transactionPageResponse{
		Items:      toTransactionResponses(result.Items),
		Page:       result.Page,
		Size:       result.Size,
		Total:      result.Total,
		TotalPages: result.TotalPages,
	})
}

func (h *WalletHandler) ListTransactionsByType(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathInt64(w, r, "id")
	if !ok {
		return
	}
	txType, err := models.ParseTransactionType(mux.Vars(r)["txType"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.query.ListTransactionsByType(r.Context(), id, txType)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponses(items))
}

func (h *WalletHandler) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRecentLimit)

	items, err := h.query.ListRecentTransactions(r.Context(), limit)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponses(items))
}

func (h *WalletHandler) TransactionsByReference(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]

	items, err := h.query.ListTransactionsByReference(r.Context(), reference)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toTransactionResponses(items))
}

func (h *WalletHandler) TotalBalance(w http.ResponseWriter, r *http.Request) {
	total, err := h.query.TotalBalance(r.Context())
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, amountResponse{Amount: total.StringFixed(models.MoneyScale)})
}

func (h *WalletHandler) TotalBalanceByType(w http.ResponseWriter, r *http.Request) {
	ownerType, err := models.ParseOwnerType(mux.Vars(r)["ownerType"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	total, err := h.query.TotalBalanceByType(r.Context(), ownerType)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, amountResponse{Amount: total.StringFixed(models.MoneyScale)})
}

func (h *WalletHandler) TotalCredits(w http.ResponseWriter, r *http.Request) {
	total, err := h.query.TotalCredited(r.Context())
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, amountResponse{Amount: total.StringFixed(models.MoneyScale)})
}

func (h *WalletHandler) TotalDebits(w http.ResponseWriter, r *http.Request) {
	total, err := h.query.TotalDebited(r.Context())
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, amountResponse{Amount: total.StringFixed(models.MoneyScale)})
}

func (h *WalletHandler) LowBalanceWallets(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseAmount(r.URL.Query().Get("threshold"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallets, err := h.query.WalletsBelowBalance(r.Context(), threshold)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWalletResponses(wallets))
}

func (h *WalletHandler) HighBalanceWallets(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseAmount(r.URL.Query().Get("threshold"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallets, err := h.query.WalletsAboveBalance(r.Context(), threshold)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWalletResponses(wallets))
}

func (h *WalletHandler) TopWallets(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultTopLimit)

	wallets, err := h.query.TopWalletsByBalance(r.Context(), limit)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, toWalletResponses(wallets))
}

func (h *WalletHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log.Warn("Failed to decode request body", logger.ErrorField("error", err))
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return false
	}
	return true
}

func (h *WalletHandler) pathInt64(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return v, true
}

func (h *WalletHandler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, usecase.ErrWalletNotFound):
		h.log.Warn("Wallet not found", logger.StringField("path", r.URL.Path))
		respondWithError(w, http.StatusNotFound, "wallet not found")
	case errors.Is(err, usecase.ErrWalletExists):
		respondWithError(w, http.StatusConflict, "wallet already exists for owner")
	case errors.Is(err, usecase.ErrInvalidAmount):
		respondWithError(w, http.StatusBadRequest, "amount must be positive")
	case errors.Is(err, usecase.ErrSameWallet):
		respondWithError(w, http.StatusBadRequest, "transfer requires two distinct wallets")
	case errors.Is(err, usecase.ErrInsufficientBalance):
		respondWithError(w, http.StatusBadRequest, "insufficient balance")
	case errors.Is(err, usecase.ErrConcurrencyConflict):
		respondWithError(w, http.StatusConflict, "operation conflicted, retry")
	default:
		h.log.Error("Failed to process request",
			logger.StringField("path", r.URL.Path),
			logger.ErrorField("error", err),
		)
		respondWithError(w, http.StatusInternalServerError, "failed to process request")
	}
}

// parseAmount validates and parses a monetary string: digits with an optional
// comma or dot decimal separator and at most two fraction digits.
func parseAmount(amountStr string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(strings.ReplaceAll(amountStr, " ", ""), ",", ".")

	if !amountRegexp.MatchString(cleaned) {
		return decimal.Zero, fmt.Errorf("invalid amount format: %s", cleaned)
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not parse amount: %v", err)
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("amount must be positive")
	}

	return amount, nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

func toWalletResponse(w *models.Wallet) walletResponse {
	return walletResponse{
		ID:          w.ID,
		OwnerID:     w.OwnerID,
		OwnerType:   string(w.OwnerType),
		Balance:     w.Balance.StringFixed(models.MoneyScale),
		Description: w.Description,
		Active:      w.Active,
		CreatedAt:   w.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   w.UpdatedAt.UTC().Format(timeLayout),
	}
}

func toWalletResponses(wallets []models.Wallet) []walletResponse {
	out := make([]walletResponse, 0, len(wallets))
	for i := range wallets {
		out = append(out, toWalletResponse(&wallets[i]))
	}
	return out
}

func toTransactionResponse(t *models.Transaction) transactionResponse {
	return transactionResponse{
		ID:            t.ID,
		WalletID:      t.WalletID,
		Type:          string(t.Type),
		Amount:        t.Amount.StringFixed(models.MoneyScale),
		BalanceBefore: t.BalanceBefore.StringFixed(models.MoneyScale),
		BalanceAfter:  t.BalanceAfter.StringFixed(models.MoneyScale),
		Reference:     t.Reference,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt.UTC().Format(timeLayout),
	}
}

func toTransactionResponses(items []models.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(items))
	for i := range items {
		out = append(out, toTransactionResponse(&items[i]))
	}
	return out
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Internal Server Error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

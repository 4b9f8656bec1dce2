package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"coinledger/internal/domain"
	"coinledger/internal/errors"
	"coinledger/internal/service"
)

type AccountHandler struct {
	accountService *service.AccountService
}

func NewAccountHandler(accountService *service.AccountService) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
	}
}

type CreateAccountRequest struct {
	AccountID string `json:"account_id" validate:"required,max=64"`
	Tier      int    `json:"tier" validate:"required,min=1,max=10"`
}

type AccountResponse struct {
	AccountID         string     `json:"account_id"`
	Balance           int64      `json:"balance"`
	Tier              int        `json:"authorization_tier"`
	TitheRate         string     `json:"tithe_rate"`
	Status            string     `json:"status"`
	TransactionCount  int64      `json:"transaction_count"`
	TotalSent         int64      `json:"total_sent"`
	TotalReceived     int64      `json:"total_received"`
	TitheTotal        int64      `json:"tithe_total"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty"`
}

func accountResponse(account *domain.Account) AccountResponse {
	return AccountResponse{
		AccountID:         account.ID,
		Balance:           account.Balance,
		Tier:              account.Tier,
		TitheRate:         account.TitheRate.String(),
		Status:            string(account.Status),
		TransactionCount:  account.TransactionCount,
		TotalSent:         account.TotalSent,
		TotalReceived:     account.TotalReceived,
		TitheTotal:        account.TitheTotal,
		LastTransactionAt: account.LastTransactionAt,
	}
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	account, err := h.accountService.CreateAccount(req.AccountID, req.Tier)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, accountResponse(account))
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]

	account, err := h.accountService.GetAccount(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accountResponse(account))
}

type SetTierRequest struct {
	Tier int `json:"tier" validate:"required,min=1,max=10"`
}

func (h *AccountHandler) SetTier(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]

	var req SetTierRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.accountService.SetTier(r.Context(), accountID, req.Tier); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"tier":       req.Tier,
	})
}

type SetTitheRateRequest struct {
	Rate string `json:"rate" validate:"required"`
}

func (h *AccountHandler) SetTitheRate(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]

	var req SetTitheRateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidInput, "invalid rate format"))
		return
	}

	if err := h.accountService.SetTitheRate(r.Context(), accountID, rate); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"tithe_rate": rate.String(),
	})
}

type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending active suspended closed"`
}

func (h *AccountHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]

	var req SetStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.accountService.SetStatus(r.Context(), accountID, domain.Status(req.Status)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"status":     req.Status,
	})
}

func (h *AccountHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.accountService.Stats()
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

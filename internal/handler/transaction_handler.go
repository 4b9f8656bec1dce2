package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"coinledger/internal/domain"
	"coinledger/internal/errors"
	"coinledger/internal/ledger"
	"coinledger/internal/service"
)

type TransactionHandler struct {
	transactionService *service.TransactionService
}

func NewTransactionHandler(transactionService *service.TransactionService) *TransactionHandler {
	return &TransactionHandler{
		transactionService: transactionService,
	}
}

type TransferRequest struct {
	SenderID   string `json:"sender_id" validate:"required,max=64"`
	ReceiverID string `json:"receiver_id" validate:"required,max=64"`
	// No validate tag: the engine owns the amount <= 0 rejection so zero
	// and negative amounts both map to invalid_amount.
	Amount         int64  `json:"amount"`
	Memo           string `json:"memo" validate:"max=255"`
	TransactionID  string `json:"transaction_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	var idempotencyKey *uuid.UUID
	if req.IdempotencyKey != "" {
		key, err := uuid.Parse(req.IdempotencyKey)
		if err != nil {
			writeError(w, errors.NewAppError(errors.InvalidInput, "invalid idempotency_key format").WithDetails(err.Error()))
			return
		}
		idempotencyKey = &key
	}

	result, err := h.transactionService.Transfer(r.Context(), &ledger.TransferRequest{
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Amount:         req.Amount,
		Memo:           req.Memo,
		TransactionID:  req.TransactionID,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

type TransactionResponse struct {
	TransactionID       string    `json:"transaction_id"`
	ParentTransactionID string    `json:"parent_transaction_id,omitempty"`
	SenderID            string    `json:"sender_id"`
	ReceiverID          string    `json:"receiver_id"`
	Amount              int64     `json:"amount"`
	Leg                 string    `json:"leg"`
	Memo                string    `json:"memo,omitempty"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
}

type HistoryResponse struct {
	AccountID    string                `json:"account_id"`
	Transactions []TransactionResponse `json:"transactions"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

func (h *TransactionHandler) History(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["account_id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, errors.NewAppError(errors.InvalidInput, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	beforeID := r.URL.Query().Get("before_id")

	entries, err := h.transactionService.History(accountID, limit, beforeID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := HistoryResponse{
		AccountID:    accountID,
		Transactions: make([]TransactionResponse, 0, len(entries)),
	}
	for _, entry := range entries {
		response.Transactions = append(response.Transactions, transactionResponse(entry))
	}
	if len(entries) > 0 {
		response.NextCursor = entries[len(entries)-1].ID
	}

	writeJSON(w, http.StatusOK, response)
}

func transactionResponse(entry *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		TransactionID:       entry.ID,
		ParentTransactionID: entry.ParentID,
		SenderID:            entry.SenderID,
		ReceiverID:          entry.ReceiverID,
		Amount:              entry.Amount,
		Leg:                 string(entry.Leg),
		Memo:                entry.Memo,
		Status:              string(entry.Status),
		CreatedAt:           entry.CreatedAt,
	}
}

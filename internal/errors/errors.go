package errors

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	AccountNotFound         ErrorCode = "account_not_found"
	DuplicateAccount        ErrorCode = "duplicate_account"
	InvalidStatusTransition ErrorCode = "invalid_status_transition"
	SenderNotActive         ErrorCode = "sender_not_active"
	ReceiverClosed          ErrorCode = "receiver_closed"
	InvalidAmount           ErrorCode = "invalid_amount"
	SelfTransferNotAllowed  ErrorCode = "self_transfer_not_allowed"
	InsufficientBalance     ErrorCode = "insufficient_balance"
	DailyLimitExceeded      ErrorCode = "daily_limit_exceeded"
	LogWriteError           ErrorCode = "log_write_error"
	DuplicateTransaction    ErrorCode = "duplicate_transaction"
	InvalidInput            ErrorCode = "invalid_input"
	InternalError           ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *AppError) WithDetails(details string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
	}
}

// HTTPStatus maps an error code onto the response status. Validation
// rejections are 422s; LogWriteError is 503 because it is the only code a
// caller may retry without changing inputs.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case AccountNotFound:
		return http.StatusNotFound
	case DuplicateAccount, DuplicateTransaction, InvalidStatusTransition:
		return http.StatusConflict
	case SenderNotActive, ReceiverClosed, InvalidAmount,
		SelfTransferNotAllowed, InsufficientBalance:
		return http.StatusUnprocessableEntity
	case DailyLimitExceeded:
		return http.StatusTooManyRequests
	case LogWriteError:
		return http.StatusServiceUnavailable
	case InvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether retrying the same request can succeed. Only a
// durability fault qualifies; every validation rejection is deterministic.
func (e *AppError) Retryable() bool {
	return e.Code == LogWriteError
}

// Predefined errors for common cases
var (
	ErrAccountNotFound         = NewAppError(AccountNotFound, "account not found")
	ErrDuplicateAccount        = NewAppError(DuplicateAccount, "account already exists")
	ErrInvalidStatusTransition = NewAppError(InvalidStatusTransition, "status transition not allowed")
	ErrSenderNotActive         = NewAppError(SenderNotActive, "sender account is not active")
	ErrReceiverClosed          = NewAppError(ReceiverClosed, "receiver account is closed")
	ErrInvalidAmount           = NewAppError(InvalidAmount, "amount must be positive")
	ErrSelfTransferNotAllowed  = NewAppError(SelfTransferNotAllowed, "sender and receiver must differ")
	ErrInsufficientBalance     = NewAppError(InsufficientBalance, "insufficient balance")
	ErrDailyLimitExceeded      = NewAppError(DailyLimitExceeded, "daily spending limit exceeded")
	ErrLogWrite                = NewAppError(LogWriteError, "transaction log write failed")
	ErrDuplicateTransaction    = NewAppError(DuplicateTransaction, "transaction already committed")
	ErrCannotBeginTransaction  = NewAppError(InternalError, "invalid transaction scope")
)

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusClosed    Status = "closed"
)

// legalTransitions is the full set of allowed status changes. Closed is
// terminal; pending accounts activate either explicitly or on first funding.
var legalTransitions = map[Status][]Status{
	StatusPending:   {StatusActive},
	StatusActive:    {StatusSuspended, StatusClosed},
	StatusSuspended: {StatusActive, StatusClosed},
	StatusClosed:    {},
}

func (s Status) Valid() bool {
	_, ok := legalTransitions[s]
	return ok
}

// CanTransitionTo reports whether s -> next is a legal status change.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Account struct {
	ID                string          `json:"account_id"`
	Balance           int64           `json:"balance"`
	Tier              int             `json:"authorization_tier"`
	TitheRate         decimal.Decimal `json:"tithe_rate"`
	Status            Status          `json:"status"`
	TransactionCount  int64           `json:"transaction_count"`
	TotalSent         int64           `json:"total_sent"`
	TotalReceived     int64           `json:"total_received"`
	TitheTotal        int64           `json:"tithe_total"`
	LastTransactionAt *time.Time      `json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// BalanceDelta is one account's side of a committed transfer. Amount is the
// signed balance change; the remaining fields feed the activity counters so a
// single store write covers everything that moves together.
type BalanceDelta struct {
	Amount   int64
	Sent     int64
	Received int64
	Tithe    int64
	At       time.Time
}

type AccountRepository interface {
	CreateAccount(account *Account) error
	GetAccount(id string) (*Account, error)
	// GetAccountForUpdate locks the account row for the duration of the
	// surrounding store transaction. Callers must lock accounts in
	// lexicographic id order.
	GetAccountForUpdate(id string) (*Account, error)
	// ApplyDelta atomically adjusts balance and counters. It fails with
	// ErrInsufficientBalance if the resulting balance would be negative and
	// is never applied partially.
	ApplyDelta(id string, delta BalanceDelta) (*Account, error)
	SetStatus(id string, next Status) error
	SetTier(id string, tier int) error
	SetTitheRate(id string, rate decimal.Decimal) error
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Leg identifies which entry of a transfer a journal record is.
type Leg string

const (
	LegPrimary Leg = "primary"
	LegTithe   Leg = "tithe"
)

// TransactionStatus is terminal by construction: the journal only ever stores
// committed or rejected entries and no entry is mutated after append.
type TransactionStatus string

const (
	TransactionCommitted TransactionStatus = "committed"
	TransactionRejected  TransactionStatus = "rejected"
)

// MaxMemoLength bounds the free-text memo on a transfer.
const MaxMemoLength = 255

type Transaction struct {
	ID             string            `json:"transaction_id"`
	ParentID       string            `json:"parent_transaction_id,omitempty"`
	SenderID       string            `json:"sender_id"`
	ReceiverID     string            `json:"receiver_id"`
	Amount         int64             `json:"amount"`
	Leg            Leg               `json:"leg"`
	Memo           string            `json:"memo,omitempty"`
	Status         TransactionStatus `json:"status"`
	Checksum       string            `json:"checksum"`
	IdempotencyKey *uuid.UUID        `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NetworkStats is the aggregate view over all accounts and the journal.
type NetworkStats struct {
	TotalAccounts     int64         `json:"total_accounts"`
	ActiveAccounts    int64         `json:"active_accounts"`
	TotalTransactions int64         `json:"total_transactions"`
	TotalVolume       int64         `json:"total_volume"`
	TierDistribution  map[int]int64 `json:"tier_distribution"`
}

type TransactionRepository interface {
	// Append writes the batch as a single atomic unit or not at all. A
	// batch is one primary entry plus, when a tithe applies, its linked
	// tithe entry.
	Append(entries []*Transaction) error
	GetTransactionByID(id string) (*Transaction, error)
	GetTransactionByIdempotencyKey(key uuid.UUID) (*Transaction, error)
	// GetTitheLeg returns the tithe entry linked to a primary entry, or
	// nil when the transfer carried no tithe.
	GetTitheLeg(parentID string) (*Transaction, error)
	// History returns committed entries touching the account, newest
	// first. beforeID is an exclusive cursor; empty means from the top.
	History(accountID string, limit int, beforeID string) ([]*Transaction, error)
	// PeriodSpend sums committed primary-leg amounts sent by the account
	// in [from, to).
	PeriodSpend(accountID string, from, to time.Time) (int64, error)
	Stats() (*NetworkStats, error)
}

// Store is the unit-of-work boundary shared by the Postgres and in-memory
// implementations. WithTransaction runs fn against a transactional view;
// everything fn writes becomes visible atomically on success and not at all
// on error.
type Store interface {
	Account() AccountRepository
	Transaction() TransactionRepository
	WithTransaction(fn func(Store) error) error
}

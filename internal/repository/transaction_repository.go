package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"coinledger/internal/domain"
	"coinledger/internal/errors"
)

const transactionColumns = `id, parent_id, sender_id, receiver_id, amount,
		leg, memo, status, checksum, idempotency_key, created_at`

type transactionRepository struct {
	db     SQLExecutor
	logger *zap.Logger
}

func NewTransactionRepository(db SQLExecutor, logger *zap.Logger) domain.TransactionRepository {
	return &transactionRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes the batch to the journal. Callers append multi-entry batches
// inside Store.WithTransaction, which is what makes the batch atomic.
func (r *transactionRepository) Append(entries []*domain.Transaction) error {
	query := `
		INSERT INTO transactions
		(id, parent_id, sender_id, receiver_id, amount, leg, memo, status, checksum, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for _, entry := range entries {
		var parentID interface{}
		if entry.ParentID != "" {
			parentID = entry.ParentID
		}
		var idempotencyKey interface{}
		if entry.IdempotencyKey != nil {
			idempotencyKey = *entry.IdempotencyKey
		}

		_, err := r.db.Exec(
			query,
			entry.ID,
			parentID,
			entry.SenderID,
			entry.ReceiverID,
			entry.Amount,
			string(entry.Leg),
			entry.Memo,
			string(entry.Status),
			entry.Checksum,
			idempotencyKey,
			entry.CreatedAt,
		)

		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				// A prior attempt already committed this entry; the
				// engine resolves the retry to the existing record.
				r.logger.Warn("journal entry already exists",
					zap.String("transaction_id", entry.ID),
					zap.String("constraint", pqErr.Constraint))
				return errors.ErrDuplicateTransaction
			}
			r.logger.Error("journal append failed",
				zap.String("transaction_id", entry.ID), zap.Error(err))
			return errors.ErrLogWrite.WithDetails(err.Error())
		}
	}

	return nil
}

func (r *transactionRepository) GetTransactionByID(id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.scanTransaction(query, id)
}

func (r *transactionRepository) GetTransactionByIdempotencyKey(key uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1`
	return r.scanTransaction(query, key)
}

func (r *transactionRepository) GetTitheLeg(parentID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE parent_id = $1 AND leg = 'tithe'`
	return r.scanTransaction(query, parentID)
}

func (r *transactionRepository) scanTransaction(query string, arg interface{}) (*domain.Transaction, error) {
	var transaction domain.Transaction
	var parentID sql.NullString
	var idempotencyKey sql.NullString

	err := r.db.QueryRow(query, arg).Scan(
		&transaction.ID,
		&parentID,
		&transaction.SenderID,
		&transaction.ReceiverID,
		&transaction.Amount,
		&transaction.Leg,
		&transaction.Memo,
		&transaction.Status,
		&transaction.Checksum,
		&idempotencyKey,
		&transaction.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.logger.Error("failed to get transaction", zap.Any("arg", arg), zap.Error(err))
		return nil, errors.NewAppError(errors.InternalError, "failed to get transaction").WithDetails(err.Error())
	}

	if parentID.Valid {
		transaction.ParentID = parentID.String
	}
	if idempotencyKey.Valid {
		key, err := uuid.Parse(idempotencyKey.String)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to parse idempotency key").WithDetails(err.Error())
		}
		transaction.IdempotencyKey = &key
	}

	return &transaction, nil
}

// History returns committed entries touching the account, newest first.
// beforeID is an exclusive cursor; pagination orders by (created_at, id) so
// entries sharing a timestamp still page deterministically.
func (r *transactionRepository) History(accountID string, limit int, beforeID string) ([]*domain.Transaction, error) {
	var rows *sql.Rows
	var err error

	if beforeID == "" {
		query := `
			SELECT ` + transactionColumns + `
			FROM transactions
			WHERE (sender_id = $1 OR receiver_id = $1) AND status = 'committed'
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`
		rows, err = r.db.Query(query, accountID, limit)
	} else {
		query := `
			SELECT ` + transactionColumns + `
			FROM transactions
			WHERE (sender_id = $1 OR receiver_id = $1) AND status = 'committed'
			  AND (created_at, id) < (SELECT created_at, id FROM transactions WHERE id = $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		`
		rows, err = r.db.Query(query, accountID, beforeID, limit)
	}

	if err != nil {
		r.logger.Error("failed to query history", zap.String("account_id", accountID), zap.Error(err))
		return nil, errors.NewAppError(errors.InternalError, "failed to query history").WithDetails(err.Error())
	}
	defer rows.Close()

	var entries []*domain.Transaction
	for rows.Next() {
		var transaction domain.Transaction
		var parentID sql.NullString
		var idempotencyKey sql.NullString

		if err := rows.Scan(
			&transaction.ID,
			&parentID,
			&transaction.SenderID,
			&transaction.ReceiverID,
			&transaction.Amount,
			&transaction.Leg,
			&transaction.Memo,
			&transaction.Status,
			&transaction.Checksum,
			&idempotencyKey,
			&transaction.CreatedAt,
		); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan history row").WithDetails(err.Error())
		}

		if parentID.Valid {
			transaction.ParentID = parentID.String
		}
		if idempotencyKey.Valid {
			if key, parseErr := uuid.Parse(idempotencyKey.String); parseErr == nil {
				transaction.IdempotencyKey = &key
			}
		}
		entries = append(entries, &transaction)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to read history rows").WithDetails(err.Error())
	}
	return entries, nil
}

// PeriodSpend sums committed primary-leg amounts the account sent within
// [from, to). Derived from the journal on every call so the ceiling can never
// drift from the ledger itself.
func (r *transactionRepository) PeriodSpend(accountID string, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE sender_id = $1 AND leg = 'primary' AND status = 'committed'
		  AND created_at >= $2 AND created_at < $3
	`

	var total int64
	if err := r.db.QueryRow(query, accountID, from, to).Scan(&total); err != nil {
		r.logger.Error("failed to compute period spend", zap.String("account_id", accountID), zap.Error(err))
		return 0, errors.NewAppError(errors.InternalError, "failed to compute period spend").WithDetails(err.Error())
	}
	return total, nil
}

func (r *transactionRepository) Stats() (*domain.NetworkStats, error) {
	stats := &domain.NetworkStats{TierDistribution: make(map[int]int64)}

	accountQuery := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'active')
		FROM accounts
	`
	if err := r.db.QueryRow(accountQuery).Scan(&stats.TotalAccounts, &stats.ActiveAccounts); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to aggregate accounts").WithDetails(err.Error())
	}

	txQuery := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE status = 'committed'
	`
	if err := r.db.QueryRow(txQuery).Scan(&stats.TotalTransactions, &stats.TotalVolume); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to aggregate transactions").WithDetails(err.Error())
	}

	tierQuery := `SELECT tier, COUNT(*) FROM accounts GROUP BY tier`
	rows, err := r.db.Query(tierQuery)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to aggregate tiers").WithDetails(err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var tier int
		var count int64
		if err := rows.Scan(&tier, &count); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan tier row").WithDetails(err.Error())
		}
		stats.TierDistribution[tier] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to read tier rows").WithDetails(err.Error())
	}

	return stats, nil
}

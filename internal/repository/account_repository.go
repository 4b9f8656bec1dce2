package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coinledger/internal/domain"
	"coinledger/internal/errors"
)

const accountColumns = `id, balance, tier, tithe_rate, status,
		transaction_count, total_sent, total_received, tithe_total,
		last_transaction_at, created_at, updated_at`

type accountRepository struct {
	db     SQLExecutor
	logger *zap.Logger
}

func NewAccountRepository(db SQLExecutor, logger *zap.Logger) domain.AccountRepository {
	return &accountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *accountRepository) CreateAccount(account *domain.Account) error {
	query := `
		INSERT INTO accounts
		(id, balance, tier, tithe_rate, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	now := time.Now().UTC()
	_, err := r.db.Exec(
		query,
		account.ID,
		account.Balance,
		account.Tier,
		account.TitheRate.String(),
		string(account.Status),
		now,
		now,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" { // unique_violation
				r.logger.Warn("duplicate account creation attempt", zap.String("account_id", account.ID))
				return errors.ErrDuplicateAccount
			}
		}
		r.logger.Error("failed to create account", zap.String("account_id", account.ID), zap.Error(err))
		return errors.NewAppError(errors.InternalError, "failed to create account").WithDetails(err.Error())
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

func (r *accountRepository) GetAccount(id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(query, id)
}

func (r *accountRepository) GetAccountForUpdate(id string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	return r.scanAccount(query, id)
}

func (r *accountRepository) scanAccount(query string, id string) (*domain.Account, error) {
	var account domain.Account
	var titheRateStr string
	var lastTransactionAt sql.NullTime

	err := r.db.QueryRow(query, id).Scan(
		&account.ID,
		&account.Balance,
		&account.Tier,
		&titheRateStr,
		&account.Status,
		&account.TransactionCount,
		&account.TotalSent,
		&account.TotalReceived,
		&account.TitheTotal,
		&lastTransactionAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("failed to get account", zap.String("account_id", id), zap.Error(err))
		return nil, errors.NewAppError(errors.InternalError, "failed to get account").WithDetails(err.Error())
	}

	titheRate, err := decimal.NewFromString(titheRateStr)
	if err != nil {
		r.logger.Error("failed to parse tithe rate",
			zap.String("account_id", id), zap.String("tithe_rate", titheRateStr), zap.Error(err))
		return nil, errors.NewAppError(errors.InternalError, "failed to parse tithe rate").WithDetails(err.Error())
	}
	account.TitheRate = titheRate

	if lastTransactionAt.Valid {
		t := lastTransactionAt.Time
		account.LastTransactionAt = &t
	}

	return &account, nil
}

// ApplyDelta adjusts the balance and activity counters in one statement. The
// balance guard in the WHERE clause is the non-negativity backstop behind the
// engine's own check under lock.
func (r *accountRepository) ApplyDelta(id string, delta domain.BalanceDelta) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $1,
		    transaction_count = transaction_count + 1,
		    total_sent = total_sent + $2,
		    total_received = total_received + $3,
		    tithe_total = tithe_total + $4,
		    last_transaction_at = $5,
		    updated_at = $5
		WHERE id = $6 AND balance + $1 >= 0
		RETURNING ` + accountColumns

	var account domain.Account
	var titheRateStr string
	var lastTransactionAt sql.NullTime

	err := r.db.QueryRow(query, delta.Amount, delta.Sent, delta.Received, delta.Tithe, delta.At, id).Scan(
		&account.ID,
		&account.Balance,
		&account.Tier,
		&titheRateStr,
		&account.Status,
		&account.TransactionCount,
		&account.TotalSent,
		&account.TotalReceived,
		&account.TitheTotal,
		&lastTransactionAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			// Either the account is missing or the delta would drive the
			// balance negative; distinguish with a plain read.
			if _, getErr := r.GetAccount(id); getErr != nil {
				return nil, getErr
			}
			return nil, errors.ErrInsufficientBalance
		}
		r.logger.Error("failed to apply balance delta",
			zap.String("account_id", id), zap.Int64("amount", delta.Amount), zap.Error(err))
		return nil, errors.NewAppError(errors.InternalError, "failed to apply balance delta").WithDetails(err.Error())
	}

	titheRate, err := decimal.NewFromString(titheRateStr)
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to parse tithe rate").WithDetails(err.Error())
	}
	account.TitheRate = titheRate
	if lastTransactionAt.Valid {
		t := lastTransactionAt.Time
		account.LastTransactionAt = &t
	}
	return &account, nil
}

func (r *accountRepository) SetStatus(id string, next domain.Status) error {
	current, err := r.GetAccountForUpdate(id)
	if err != nil {
		return err
	}

	if !current.Status.CanTransitionTo(next) {
		return errors.ErrInvalidStatusTransition.WithDetails(
			string(current.Status) + " -> " + string(next))
	}

	query := `UPDATE accounts SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := r.db.Exec(query, string(next), time.Now().UTC(), id); err != nil {
		r.logger.Error("failed to update account status",
			zap.String("account_id", id), zap.String("status", string(next)), zap.Error(err))
		return errors.NewAppError(errors.InternalError, "failed to update account status").WithDetails(err.Error())
	}

	r.logger.Info("account status updated",
		zap.String("account_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next)))
	return nil
}

func (r *accountRepository) SetTier(id string, tier int) error {
	query := `UPDATE accounts SET tier = $1, updated_at = $2 WHERE id = $3`
	return r.execOnAccount(query, id, "failed to update account tier", tier, time.Now().UTC(), id)
}

func (r *accountRepository) SetTitheRate(id string, rate decimal.Decimal) error {
	query := `UPDATE accounts SET tithe_rate = $1, updated_at = $2 WHERE id = $3`
	return r.execOnAccount(query, id, "failed to update tithe rate", rate.String(), time.Now().UTC(), id)
}

func (r *accountRepository) execOnAccount(query, id, failMsg string, args ...interface{}) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		r.logger.Error(failMsg, zap.String("account_id", id), zap.Error(err))
		return errors.NewAppError(errors.InternalError, failMsg).WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		return errors.ErrAccountNotFound
	}
	return nil
}

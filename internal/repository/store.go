package repository

import (
	"database/sql"

	"go.uber.org/zap"

	"coinledger/internal/domain"
	"coinledger/internal/errors"
)

// Store is the Postgres-backed unit of work. The root executor is the shared
// *sql.DB; WithTransaction produces a Store view bound to a single *sql.Tx so
// journal appends and balance updates commit or roll back together.
type Store struct {
	executor SQLExecutor
	logger   *zap.Logger
}

// NewStore creates a new Store instance
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		executor: db,
		logger:   logger,
	}
}

// Account returns an AccountRepository using the current executor
func (s *Store) Account() domain.AccountRepository {
	return NewAccountRepository(s.executor, s.logger)
}

// Transaction returns a TransactionRepository using the current executor
func (s *Store) Transaction() domain.TransactionRepository {
	return NewTransactionRepository(s.executor, s.logger)
}

// WithTransaction executes a function within a database transaction
func (s *Store) WithTransaction(fn func(domain.Store) error) error {
	// Only sql.DB can begin transactions
	db, ok := s.executor.(*sql.DB)
	if !ok {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.ErrLogWrite.WithDetails(err.Error())
	}

	txStore := &Store{
		executor: tx,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		// The caller must treat the transfer as not committed.
		return errors.ErrLogWrite.WithDetails(err.Error())
	}
	return nil
}

var _ domain.Store = (*Store)(nil)

package service

import (
	"context"

	"go.uber.org/zap"

	"coinledger/internal/cache"
	"coinledger/internal/domain"
	"coinledger/internal/errors"
	"coinledger/internal/ledger"
)

// TransactionService is the transfer-facing half of the ledger facade. It
// delegates commits to the engine and keeps the balance cache coherent.
type TransactionService struct {
	engine   *ledger.Engine
	store    domain.Store
	balances *cache.BalanceCache
	fundID   string
	pageSize int
	logger   *zap.Logger
}

func NewTransactionService(engine *ledger.Engine, store domain.Store, balances *cache.BalanceCache, fundID string, pageSize int, logger *zap.Logger) *TransactionService {
	return &TransactionService{
		engine:   engine,
		store:    store,
		balances: balances,
		fundID:   fundID,
		pageSize: pageSize,
		logger:   logger,
	}
}

func (s *TransactionService) Transfer(ctx context.Context, req *ledger.TransferRequest) (*ledger.TransferResult, error) {
	result, err := s.engine.Transfer(req)
	if err != nil {
		return nil, err
	}

	s.balances.Invalidate(ctx, req.SenderID, req.ReceiverID, s.fundID)
	return result, nil
}

// History pages through an account's committed entries, newest first.
func (s *TransactionService) History(accountID string, limit int, beforeID string) ([]*domain.Transaction, error) {
	if _, err := s.store.Account().GetAccount(accountID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > s.pageSize {
		limit = s.pageSize
	}

	if beforeID != "" {
		cursor, err := s.store.Transaction().GetTransactionByID(beforeID)
		if err != nil {
			return nil, err
		}
		if cursor == nil {
			return nil, errors.NewAppError(errors.InvalidInput, "unknown history cursor")
		}
	}

	entries, err := s.store.Transaction().History(accountID, limit, beforeID)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("history served",
		zap.String("account_id", accountID),
		zap.Int("count", len(entries)))
	return entries, nil
}

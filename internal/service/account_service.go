package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coinledger/internal/cache"
	"coinledger/internal/domain"
	"coinledger/internal/errors"
)

// AccountService is the account-facing half of the ledger facade: creation,
// balance queries, and the privileged mutations (tier, tithe rate, status).
// Enforcement of caller privilege lives outside this core.
type AccountService struct {
	store            domain.Store
	balances         *cache.BalanceCache
	defaultTitheRate decimal.Decimal
	logger           *zap.Logger
}

func NewAccountService(store domain.Store, balances *cache.BalanceCache, defaultTitheRate decimal.Decimal, logger *zap.Logger) *AccountService {
	return &AccountService{
		store:            store,
		balances:         balances,
		defaultTitheRate: defaultTitheRate,
		logger:           logger,
	}
}

func (s *AccountService) CreateAccount(accountID string, tier int) (*domain.Account, error) {
	if accountID == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "account id is required")
	}
	if tier < 1 {
		return nil, errors.NewAppError(errors.InvalidInput, "tier must be a positive integer")
	}

	account := &domain.Account{
		ID:        accountID,
		Balance:   0,
		Tier:      tier,
		TitheRate: s.defaultTitheRate,
		Status:    domain.StatusPending,
	}

	if err := s.store.Account().CreateAccount(account); err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		zap.String("account_id", account.ID),
		zap.Int("tier", account.Tier))
	return account, nil
}

// GetAccount serves balance queries cache-first. Cached reads only ever hold
// committed state because entries are written after commit and invalidated by
// every transfer that touches the account.
func (s *AccountService) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	if cached := s.balances.Get(ctx, accountID); cached != nil {
		return cached, nil
	}

	account, err := s.store.Account().GetAccount(accountID)
	if err != nil {
		return nil, err
	}

	s.balances.Set(ctx, account)
	return account, nil
}

func (s *AccountService) SetTier(ctx context.Context, accountID string, tier int) error {
	if tier < 1 {
		return errors.NewAppError(errors.InvalidInput, "tier must be a positive integer")
	}

	err := s.store.WithTransaction(func(st domain.Store) error {
		return st.Account().SetTier(accountID, tier)
	})
	if err != nil {
		return err
	}

	s.balances.Invalidate(ctx, accountID)
	s.logger.Info("account tier updated", zap.String("account_id", accountID), zap.Int("tier", tier))
	return nil
}

func (s *AccountService) SetTitheRate(ctx context.Context, accountID string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.NewAppError(errors.InvalidInput, "tithe rate must be within [0,1]")
	}

	err := s.store.WithTransaction(func(st domain.Store) error {
		return st.Account().SetTitheRate(accountID, rate)
	})
	if err != nil {
		return err
	}

	s.balances.Invalidate(ctx, accountID)
	s.logger.Info("tithe rate updated", zap.String("account_id", accountID), zap.String("rate", rate.String()))
	return nil
}

func (s *AccountService) SetStatus(ctx context.Context, accountID string, next domain.Status) error {
	if !next.Valid() {
		return errors.NewAppError(errors.InvalidInput, "unknown status")
	}

	err := s.store.WithTransaction(func(st domain.Store) error {
		return st.Account().SetStatus(accountID, next)
	})
	if err != nil {
		return err
	}

	s.balances.Invalidate(ctx, accountID)
	return nil
}

func (s *AccountService) Stats() (*domain.NetworkStats, error) {
	return s.store.Transaction().Stats()
}

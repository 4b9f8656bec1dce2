package memory

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinledger/internal/domain"
	"coinledger/internal/errors"
)

func newAccount(id string) *domain.Account {
	return &domain.Account{
		ID:        id,
		Tier:      1,
		TitheRate: decimal.Zero,
		Status:    domain.StatusActive,
	}
}

func TestCreateAccountDuplicate(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Account().CreateAccount(newAccount("acct_1")))

	err := store.Account().CreateAccount(newAccount("acct_1"))
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.DuplicateAccount, appErr.Code)
}

func TestGetAccountNotFound(t *testing.T) {
	store := NewStore()
	_, err := store.Account().GetAccount("ghost")
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.AccountNotFound, appErr.Code)
}

func TestGetAccountReturnsCopy(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Account().CreateAccount(newAccount("acct_1")))

	first, err := store.Account().GetAccount("acct_1")
	require.NoError(t, err)
	first.Balance = 99999

	second, err := store.Account().GetAccount("acct_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.Balance)
}

func TestTransactionRollbackDiscardsStagedState(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Account().CreateAccount(newAccount("acct_1")))

	cause := fmt.Errorf("boom")
	err := store.WithTransaction(func(s domain.Store) error {
		if _, err := s.Account().ApplyDelta("acct_1", domain.BalanceDelta{
			Amount:   500,
			Received: 500,
			At:       time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := s.Transaction().Append([]*domain.Transaction{{
			ID:         "txn_rollback",
			SenderID:   "seed",
			ReceiverID: "acct_1",
			Amount:     500,
			Leg:        domain.LegPrimary,
			Status:     domain.TransactionCommitted,
			CreatedAt:  time.Now().UTC(),
		}}); err != nil {
			return err
		}
		return cause
	})
	require.ErrorIs(t, err, cause)

	account, getErr := store.Account().GetAccount("acct_1")
	require.NoError(t, getErr)
	assert.Equal(t, int64(0), account.Balance)
	assert.Equal(t, int64(0), account.TransactionCount)

	entry, getErr := store.Transaction().GetTransactionByID("txn_rollback")
	require.NoError(t, getErr)
	assert.Nil(t, entry)
}

func TestStagedWritesInvisibleUntilCommit(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Account().CreateAccount(newAccount("acct_1")))

	err := store.WithTransaction(func(s domain.Store) error {
		if _, err := s.Account().ApplyDelta("acct_1", domain.BalanceDelta{
			Amount:   100,
			Received: 100,
			At:       time.Now().UTC(),
		}); err != nil {
			return err
		}

		// A plain read through the root still sees committed state.
		outside, err := store.Account().GetAccount("acct_1")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(0), outside.Balance)

		// The transaction view sees its own staged write.
		inside, err := s.Account().GetAccount("acct_1")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(100), inside.Balance)
		return nil
	})
	require.NoError(t, err)

	committed, err := store.Account().GetAccount("acct_1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), committed.Balance)
}

func TestApplyDeltaRejectsNegativeBalance(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Account().CreateAccount(newAccount("acct_1")))

	err := store.WithTransaction(func(s domain.Store) error {
		_, err := s.Account().ApplyDelta("acct_1", domain.BalanceDelta{
			Amount: -1,
			Sent:   1,
			At:     time.Now().UTC(),
		})
		return err
	})
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.InsufficientBalance, appErr.Code)
}

func TestApplyDeltaOutsideTransaction(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Account().CreateAccount(newAccount("acct_1")))

	_, err := store.Account().ApplyDelta("acct_1", domain.BalanceDelta{Amount: 10})
	require.Error(t, err)
}

func TestLockOrderEnforced(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Account().CreateAccount(newAccount("acct_a")))
	require.NoError(t, store.Account().CreateAccount(newAccount("acct_b")))

	err := store.WithTransaction(func(s domain.Store) error {
		if _, err := s.Account().GetAccountForUpdate("acct_b"); err != nil {
			return err
		}
		_, err := s.Account().GetAccountForUpdate("acct_a")
		return err
	})
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.InternalError, appErr.Code)
}

func TestNestedTransactionRejected(t *testing.T) {
	store := NewStore()

	err := store.WithTransaction(func(s domain.Store) error {
		return s.WithTransaction(func(domain.Store) error { return nil })
	})
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.InternalError, appErr.Code)
}

func TestSetStatusIllegalTransition(t *testing.T) {
	store := NewStore()
	account := newAccount("acct_1")
	account.Status = domain.StatusClosed
	require.NoError(t, store.Account().CreateAccount(account))

	err := store.Account().SetStatus("acct_1", domain.StatusActive)
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.InvalidStatusTransition, appErr.Code)
}

func TestAppendDuplicateID(t *testing.T) {
	store := NewStore()

	entry := func() *domain.Transaction {
		return &domain.Transaction{
			ID:         "txn_dup",
			SenderID:   "a",
			ReceiverID: "b",
			Amount:     10,
			Leg:        domain.LegPrimary,
			Status:     domain.TransactionCommitted,
			CreatedAt:  time.Now().UTC(),
		}
	}

	require.NoError(t, store.WithTransaction(func(s domain.Store) error {
		return s.Transaction().Append([]*domain.Transaction{entry()})
	}))

	err := store.WithTransaction(func(s domain.Store) error {
		return s.Transaction().Append([]*domain.Transaction{entry()})
	})
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.DuplicateTransaction, appErr.Code)
}

func TestAppendDuplicateIdempotencyKey(t *testing.T) {
	store := NewStore()
	key := uuid.New()

	entry := func(id string) *domain.Transaction {
		return &domain.Transaction{
			ID:             id,
			SenderID:       "a",
			ReceiverID:     "b",
			Amount:         10,
			Leg:            domain.LegPrimary,
			Status:         domain.TransactionCommitted,
			IdempotencyKey: &key,
			CreatedAt:      time.Now().UTC(),
		}
	}

	require.NoError(t, store.WithTransaction(func(s domain.Store) error {
		return s.Transaction().Append([]*domain.Transaction{entry("txn_first")})
	}))

	// A distinct id carrying an already-committed key is still a duplicate.
	err := store.WithTransaction(func(s domain.Store) error {
		return s.Transaction().Append([]*domain.Transaction{entry("txn_second")})
	})
	require.Error(t, err)
	appErr, ok := err.(*errors.AppError)
	require.True(t, ok)
	assert.Equal(t, errors.DuplicateTransaction, appErr.Code)
}

func TestGetTitheLeg(t *testing.T) {
	store := NewStore()

	require.NoError(t, store.WithTransaction(func(s domain.Store) error {
		return s.Transaction().Append([]*domain.Transaction{
			{ID: "txn_primary", SenderID: "a", ReceiverID: "b", Amount: 100,
				Leg: domain.LegPrimary, Status: domain.TransactionCommitted, CreatedAt: time.Now().UTC()},
			{ID: "txn_tithe", ParentID: "txn_primary", SenderID: "a", ReceiverID: "fund", Amount: 5,
				Leg: domain.LegTithe, Status: domain.TransactionCommitted, CreatedAt: time.Now().UTC()},
		})
	}))

	tithe, err := store.Transaction().GetTitheLeg("txn_primary")
	require.NoError(t, err)
	require.NotNil(t, tithe)
	assert.Equal(t, "txn_tithe", tithe.ID)
	assert.Equal(t, int64(5), tithe.Amount)

	missing, err := store.Transaction().GetTitheLeg("txn_tithe")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIdempotencyKeyLookup(t *testing.T) {
	store := NewStore()
	key := uuid.New()

	require.NoError(t, store.WithTransaction(func(s domain.Store) error {
		return s.Transaction().Append([]*domain.Transaction{{
			ID:             "txn_keyed",
			SenderID:       "a",
			ReceiverID:     "b",
			Amount:         10,
			Leg:            domain.LegPrimary,
			Status:         domain.TransactionCommitted,
			IdempotencyKey: &key,
			CreatedAt:      time.Now().UTC(),
		}})
	}))

	found, err := store.Transaction().GetTransactionByIdempotencyKey(key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "txn_keyed", found.ID)

	missing, err := store.Transaction().GetTransactionByIdempotencyKey(uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestHistoryPaginationNewestFirst(t *testing.T) {
	store := NewStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.WithTransaction(func(s domain.Store) error {
		var entries []*domain.Transaction
		for i := 0; i < 5; i++ {
			entries = append(entries, &domain.Transaction{
				ID:         fmt.Sprintf("txn_%02d", i),
				SenderID:   "acct_a",
				ReceiverID: "acct_b",
				Amount:     int64(i + 1),
				Leg:        domain.LegPrimary,
				Status:     domain.TransactionCommitted,
				CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			})
		}
		// A rejected entry never surfaces in history.
		entries = append(entries, &domain.Transaction{
			ID:         "txn_rejected",
			SenderID:   "acct_a",
			ReceiverID: "acct_b",
			Amount:     999,
			Leg:        domain.LegPrimary,
			Status:     domain.TransactionRejected,
			CreatedAt:  base.Add(time.Hour),
		})
		return s.Transaction().Append(entries)
	}))

	page, err := store.Transaction().History("acct_a", 3, "")
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "txn_04", page[0].ID)
	assert.Equal(t, "txn_03", page[1].ID)
	assert.Equal(t, "txn_02", page[2].ID)

	next, err := store.Transaction().History("acct_a", 3, "txn_02")
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "txn_01", next[0].ID)
	assert.Equal(t, "txn_00", next[1].ID)
}

func TestPeriodSpendWindow(t *testing.T) {
	store := NewStore()

	dayStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []*domain.Transaction{
		{ID: "txn_in_1", SenderID: "acct_a", ReceiverID: "acct_b", Amount: 100,
			Leg: domain.LegPrimary, Status: domain.TransactionCommitted, CreatedAt: dayStart},
		{ID: "txn_in_2", SenderID: "acct_a", ReceiverID: "acct_b", Amount: 50,
			Leg: domain.LegPrimary, Status: domain.TransactionCommitted, CreatedAt: dayStart.Add(23 * time.Hour)},
		// Tithe legs do not count toward spend.
		{ID: "txn_tithe", SenderID: "acct_a", ReceiverID: "fund", Amount: 5, ParentID: "txn_in_1",
			Leg: domain.LegTithe, Status: domain.TransactionCommitted, CreatedAt: dayStart},
		// Exclusive end boundary.
		{ID: "txn_next_day", SenderID: "acct_a", ReceiverID: "acct_b", Amount: 70,
			Leg: domain.LegPrimary, Status: domain.TransactionCommitted, CreatedAt: dayStart.Add(24 * time.Hour)},
		// Other senders do not count.
		{ID: "txn_other", SenderID: "acct_b", ReceiverID: "acct_a", Amount: 40,
			Leg: domain.LegPrimary, Status: domain.TransactionCommitted, CreatedAt: dayStart},
	}
	require.NoError(t, store.WithTransaction(func(s domain.Store) error {
		return s.Transaction().Append(entries)
	}))

	spent, err := store.Transaction().PeriodSpend("acct_a", dayStart, dayStart.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(150), spent)
}

func TestStats(t *testing.T) {
	store := NewStore()

	active := newAccount("acct_active")
	pending := newAccount("acct_pending")
	pending.Status = domain.StatusPending
	pending.Tier = 2
	require.NoError(t, store.Account().CreateAccount(active))
	require.NoError(t, store.Account().CreateAccount(pending))

	require.NoError(t, store.WithTransaction(func(s domain.Store) error {
		return s.Transaction().Append([]*domain.Transaction{
			{ID: "txn_1", SenderID: "acct_active", ReceiverID: "acct_pending", Amount: 30,
				Leg: domain.LegPrimary, Status: domain.TransactionCommitted, CreatedAt: time.Now().UTC()},
			{ID: "txn_2", SenderID: "acct_active", ReceiverID: "acct_pending", Amount: 70,
				Leg: domain.LegPrimary, Status: domain.TransactionRejected, CreatedAt: time.Now().UTC()},
		})
	}))

	stats, err := store.Transaction().Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalAccounts)
	assert.Equal(t, int64(1), stats.ActiveAccounts)
	assert.Equal(t, int64(1), stats.TotalTransactions)
	assert.Equal(t, int64(30), stats.TotalVolume)
	assert.Equal(t, int64(1), stats.TierDistribution[1])
	assert.Equal(t, int64(1), stats.TierDistribution[2])
}

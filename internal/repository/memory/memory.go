// Package memory implements domain.Store over process memory with a
// key-ordered mutex set. It backs the engine's unit and property tests and is
// usable as a storage driver for embedded or throwaway deployments.
//
// Concurrency discipline: GetAccountForUpdate acquires the per-account mutex
// and stages a private copy in the transaction view. Callers lock accounts in
// lexicographic id order, so two transfers touching the same pair in opposite
// directions cannot deadlock. Staged writes publish under the store lock on
// commit; plain reads only ever observe committed state.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coinledger/internal/domain"
	"coinledger/internal/errors"
)

type Store struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
	journal  []*domain.Transaction
	byID     map[string]*domain.Transaction
	byKey    map[uuid.UUID]*domain.Transaction

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// non-nil when this Store is a transaction view
	tx *txState
}

type txState struct {
	root     *Store
	staged   map[string]*domain.Account
	appended []*domain.Transaction
	locked   []string
}

func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*domain.Account),
		byID:     make(map[string]*domain.Transaction),
		byKey:    make(map[uuid.UUID]*domain.Transaction),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) Account() domain.AccountRepository {
	return &accountRepository{store: s}
}

func (s *Store) Transaction() domain.TransactionRepository {
	return &transactionRepository{store: s}
}

// WithTransaction runs fn against a staged view. On success the staged
// account copies and appended journal entries publish atomically; on error
// nothing does. Account locks taken by GetAccountForUpdate are held until the
// outcome either way.
func (s *Store) WithTransaction(fn func(domain.Store) error) error {
	if s.tx != nil {
		return errors.ErrCannotBeginTransaction
	}

	view := &Store{tx: &txState{
		root:   s,
		staged: make(map[string]*domain.Account),
	}}

	defer func() {
		if p := recover(); p != nil {
			s.releaseLocks(view.tx)
			panic(p)
		}
	}()

	if err := fn(view); err != nil {
		s.releaseLocks(view.tx)
		return err
	}

	s.mu.Lock()
	for id, staged := range view.tx.staged {
		s.accounts[id] = staged
	}
	for _, entry := range view.tx.appended {
		s.journal = append(s.journal, entry)
		s.byID[entry.ID] = entry
		if entry.IdempotencyKey != nil {
			s.byKey[*entry.IdempotencyKey] = entry
		}
	}
	s.mu.Unlock()

	s.releaseLocks(view.tx)
	return nil
}

func (s *Store) accountLock(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *Store) releaseLocks(tx *txState) {
	// Release in reverse acquisition order.
	for i := len(tx.locked) - 1; i >= 0; i-- {
		tx.root.accountLock(tx.locked[i]).Unlock()
	}
	tx.locked = nil
}

func (s *Store) root() *Store {
	if s.tx != nil {
		return s.tx.root
	}
	return s
}

func cloneAccount(a *domain.Account) *domain.Account {
	clone := *a
	if a.LastTransactionAt != nil {
		t := *a.LastTransactionAt
		clone.LastTransactionAt = &t
	}
	return &clone
}

type accountRepository struct {
	store *Store
}

func (r *accountRepository) CreateAccount(account *domain.Account) error {
	root := r.store.root()
	root.mu.Lock()
	defer root.mu.Unlock()

	if _, exists := root.accounts[account.ID]; exists {
		return errors.ErrDuplicateAccount
	}

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	root.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (r *accountRepository) GetAccount(id string) (*domain.Account, error) {
	if r.store.tx != nil {
		if staged, ok := r.store.tx.staged[id]; ok {
			return cloneAccount(staged), nil
		}
	}

	root := r.store.root()
	root.mu.RLock()
	defer root.mu.RUnlock()

	account, ok := root.accounts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return cloneAccount(account), nil
}

func (r *accountRepository) GetAccountForUpdate(id string) (*domain.Account, error) {
	tx := r.store.tx
	if tx == nil {
		// Outside a transaction there is nothing to hold the lock for.
		return r.GetAccount(id)
	}

	if staged, ok := tx.staged[id]; ok {
		return cloneAccount(staged), nil
	}

	for _, held := range tx.locked {
		if strings.Compare(held, id) > 0 {
			// Out-of-order acquisition would reintroduce the deadlock
			// the lexicographic discipline exists to prevent.
			return nil, errors.NewAppError(errors.InternalError, "account locks must be acquired in id order")
		}
	}

	tx.root.accountLock(id).Lock()
	tx.locked = append(tx.locked, id)

	tx.root.mu.RLock()
	account, ok := tx.root.accounts[id]
	tx.root.mu.RUnlock()
	if !ok {
		return nil, errors.ErrAccountNotFound
	}

	tx.staged[id] = cloneAccount(account)
	return cloneAccount(account), nil
}

func (r *accountRepository) ApplyDelta(id string, delta domain.BalanceDelta) (*domain.Account, error) {
	tx := r.store.tx
	if tx == nil {
		return nil, errors.ErrCannotBeginTransaction
	}

	staged, ok := tx.staged[id]
	if !ok {
		if _, err := r.GetAccountForUpdate(id); err != nil {
			return nil, err
		}
		staged = tx.staged[id]
	}

	if staged.Balance+delta.Amount < 0 {
		return nil, errors.ErrInsufficientBalance
	}

	staged.Balance += delta.Amount
	staged.TransactionCount++
	staged.TotalSent += delta.Sent
	staged.TotalReceived += delta.Received
	staged.TitheTotal += delta.Tithe
	at := delta.At
	staged.LastTransactionAt = &at
	staged.UpdatedAt = at
	return cloneAccount(staged), nil
}

func (r *accountRepository) SetStatus(id string, next domain.Status) error {
	return r.mutate(id, func(account *domain.Account) error {
		if !account.Status.CanTransitionTo(next) {
			return errors.ErrInvalidStatusTransition.WithDetails(
				string(account.Status) + " -> " + string(next))
		}
		account.Status = next
		return nil
	})
}

func (r *accountRepository) SetTier(id string, tier int) error {
	return r.mutate(id, func(account *domain.Account) error {
		account.Tier = tier
		return nil
	})
}

func (r *accountRepository) SetTitheRate(id string, rate decimal.Decimal) error {
	return r.mutate(id, func(account *domain.Account) error {
		account.TitheRate = rate
		return nil
	})
}

func (r *accountRepository) mutate(id string, change func(*domain.Account) error) error {
	if tx := r.store.tx; tx != nil {
		staged, ok := tx.staged[id]
		if !ok {
			if _, err := r.GetAccountForUpdate(id); err != nil {
				return err
			}
			staged = tx.staged[id]
		}
		if err := change(staged); err != nil {
			return err
		}
		staged.UpdatedAt = time.Now().UTC()
		return nil
	}

	root := r.store.root()
	root.mu.Lock()
	defer root.mu.Unlock()

	account, ok := root.accounts[id]
	if !ok {
		return errors.ErrAccountNotFound
	}
	if err := change(account); err != nil {
		return err
	}
	account.UpdatedAt = time.Now().UTC()
	return nil
}

type transactionRepository struct {
	store *Store
}

func (r *transactionRepository) Append(entries []*domain.Transaction) error {
	tx := r.store.tx
	if tx == nil {
		return errors.ErrCannotBeginTransaction
	}

	root := tx.root
	root.mu.RLock()
	for _, entry := range entries {
		if _, exists := root.byID[entry.ID]; exists {
			root.mu.RUnlock()
			return errors.ErrDuplicateTransaction
		}
		// Same uniqueness the partial index on idempotency_key gives the
		// SQL store.
		if entry.IdempotencyKey != nil {
			if _, exists := root.byKey[*entry.IdempotencyKey]; exists {
				root.mu.RUnlock()
				return errors.ErrDuplicateTransaction
			}
		}
	}
	root.mu.RUnlock()

	for _, entry := range entries {
		clone := *entry
		tx.appended = append(tx.appended, &clone)
	}
	return nil
}

func (r *transactionRepository) GetTransactionByID(id string) (*domain.Transaction, error) {
	root := r.store.root()
	root.mu.RLock()
	defer root.mu.RUnlock()

	entry, ok := root.byID[id]
	if !ok {
		return nil, nil
	}
	clone := *entry
	return &clone, nil
}

func (r *transactionRepository) GetTransactionByIdempotencyKey(key uuid.UUID) (*domain.Transaction, error) {
	root := r.store.root()
	root.mu.RLock()
	defer root.mu.RUnlock()

	entry, ok := root.byKey[key]
	if !ok {
		return nil, nil
	}
	clone := *entry
	return &clone, nil
}

func (r *transactionRepository) GetTitheLeg(parentID string) (*domain.Transaction, error) {
	root := r.store.root()
	root.mu.RLock()
	defer root.mu.RUnlock()

	for _, entry := range root.journal {
		if entry.ParentID == parentID && entry.Leg == domain.LegTithe {
			clone := *entry
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *transactionRepository) History(accountID string, limit int, beforeID string) ([]*domain.Transaction, error) {
	root := r.store.root()
	root.mu.RLock()
	defer root.mu.RUnlock()

	var matched []*domain.Transaction
	for _, entry := range root.journal {
		if entry.Status != domain.TransactionCommitted {
			continue
		}
		if entry.SenderID == accountID || entry.ReceiverID == accountID {
			matched = append(matched, entry)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	start := 0
	if beforeID != "" {
		for i, entry := range matched {
			if entry.ID == beforeID {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	result := make([]*domain.Transaction, 0, end-start)
	for _, entry := range matched[start:end] {
		clone := *entry
		result = append(result, &clone)
	}
	return result, nil
}

func (r *transactionRepository) PeriodSpend(accountID string, from, to time.Time) (int64, error) {
	root := r.store.root()
	root.mu.RLock()
	defer root.mu.RUnlock()

	var total int64
	for _, entry := range root.journal {
		if entry.SenderID != accountID || entry.Leg != domain.LegPrimary ||
			entry.Status != domain.TransactionCommitted {
			continue
		}
		if !entry.CreatedAt.Before(from) && entry.CreatedAt.Before(to) {
			total += entry.Amount
		}
	}
	return total, nil
}

func (r *transactionRepository) Stats() (*domain.NetworkStats, error) {
	root := r.store.root()
	root.mu.RLock()
	defer root.mu.RUnlock()

	stats := &domain.NetworkStats{TierDistribution: make(map[int]int64)}
	for _, account := range root.accounts {
		stats.TotalAccounts++
		if account.Status == domain.StatusActive {
			stats.ActiveAccounts++
		}
		stats.TierDistribution[account.Tier]++
	}
	for _, entry := range root.journal {
		if entry.Status == domain.TransactionCommitted {
			stats.TotalTransactions++
			stats.TotalVolume += entry.Amount
		}
	}
	return stats, nil
}

var _ domain.Store = (*Store)(nil)

package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coinledger/internal/audit"
	"coinledger/internal/domain"
	"coinledger/internal/errors"
)

// Engine executes transfers end to end: validation, tithe computation, period
// limit enforcement, and the atomic commit of balance deltas plus journal
// entries. A transfer either fully commits or fully rejects before Transfer
// returns; no intermediate state is observable.
type Engine struct {
	store   domain.Store
	limiter *PeriodLimiter
	ids     *IDGenerator
	fundID  string
	sink    audit.Sink
	logger  *zap.Logger
}

func NewEngine(store domain.Store, limiter *PeriodLimiter, fundID string, sink audit.Sink, logger *zap.Logger) *Engine {
	return &Engine{
		store:   store,
		limiter: limiter,
		ids:     NewIDGenerator(),
		fundID:  fundID,
		sink:    sink,
		logger:  logger,
	}
}

type TransferRequest struct {
	SenderID   string
	ReceiverID string
	Amount     int64
	Memo       string
	// TransactionID replays a previously generated id after a
	// log_write_error; a fresh transfer leaves it empty.
	TransactionID  string
	IdempotencyKey *uuid.UUID
}

type TransferResult struct {
	TransactionID      string                   `json:"transaction_id"`
	TitheTransactionID string                   `json:"tithe_transaction_id,omitempty"`
	Amount             int64                    `json:"amount"`
	TitheAmount        int64                    `json:"tithe_amount"`
	SenderBalance      int64                    `json:"sender_balance"`
	Status             domain.TransactionStatus `json:"status"`
}

// TitheAmount is floor(amount * rate) in minor units. Truncation toward zero
// means the fund account never over-collects on rates that do not divide
// evenly.
func TitheAmount(amount int64, rate decimal.Decimal) int64 {
	if rate.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(rate).Floor().IntPart()
}

func (e *Engine) Transfer(req *TransferRequest) (*TransferResult, error) {
	if req.Amount <= 0 {
		return nil, errors.ErrInvalidAmount
	}
	if req.SenderID == req.ReceiverID {
		return nil, errors.ErrSelfTransferNotAllowed
	}
	if req.SenderID == e.fundID {
		return nil, errors.NewAppError(errors.InvalidInput, "fund account cannot initiate transfers")
	}
	if len(req.Memo) > domain.MaxMemoLength {
		return nil, errors.NewAppError(errors.InvalidInput, "memo exceeds maximum length")
	}

	// A replay of an already-committed transfer returns the prior result
	// instead of double-applying.
	if req.IdempotencyKey != nil {
		existing, err := e.store.Transaction().GetTransactionByIdempotencyKey(*req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return e.priorResult(existing)
		}
	}
	if req.TransactionID != "" {
		existing, err := e.store.Transaction().GetTransactionByID(req.TransactionID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return e.priorResult(existing)
		}
	}

	var result *TransferResult
	var committed []*domain.Transaction

	err := e.store.WithTransaction(func(s domain.Store) error {
		accounts, err := e.lockAccounts(s, req.SenderID, req.ReceiverID)
		if err != nil {
			return err
		}

		sender := accounts[req.SenderID]
		receiver := accounts[req.ReceiverID]
		fund := accounts[e.fundID]

		if sender.Status != domain.StatusActive {
			return errors.ErrSenderNotActive.WithDetails(string(sender.Status))
		}
		if receiver.Status == domain.StatusClosed {
			return errors.ErrReceiverClosed
		}

		titheAmount := TitheAmount(req.Amount, sender.TitheRate)
		totalDebit := req.Amount + titheAmount

		if sender.Balance < totalDebit {
			return errors.ErrInsufficientBalance
		}

		now := time.Now().UTC()
		ok, err := e.limiter.CheckLimit(s.Transaction(), sender.ID, totalDebit, sender.Tier, now)
		if err != nil {
			return err
		}
		if !ok {
			return errors.ErrDailyLimitExceeded
		}

		entries := e.buildEntries(req, titheAmount, now)

		updatedSender, err := s.Account().ApplyDelta(sender.ID, domain.BalanceDelta{
			Amount: -totalDebit,
			Sent:   req.Amount,
			Tithe:  titheAmount,
			At:     now,
		})
		if err != nil {
			return err
		}

		if receiver.ID == e.fundID {
			if _, err := s.Account().ApplyDelta(receiver.ID, domain.BalanceDelta{
				Amount:   req.Amount + titheAmount,
				Received: req.Amount + titheAmount,
				At:       now,
			}); err != nil {
				return err
			}
		} else {
			if _, err := s.Account().ApplyDelta(receiver.ID, domain.BalanceDelta{
				Amount:   req.Amount,
				Received: req.Amount,
				At:       now,
			}); err != nil {
				return err
			}
			if titheAmount > 0 {
				if _, err := s.Account().ApplyDelta(fund.ID, domain.BalanceDelta{
					Amount:   titheAmount,
					Received: titheAmount,
					At:       now,
				}); err != nil {
					return err
				}
			}
		}

		// First successful funding activates a pending receiver.
		if receiver.Status == domain.StatusPending {
			if err := s.Account().SetStatus(receiver.ID, domain.StatusActive); err != nil {
				return err
			}
		}

		if err := s.Transaction().Append(entries); err != nil {
			return err
		}

		committed = entries
		result = &TransferResult{
			TransactionID: entries[0].ID,
			Amount:        req.Amount,
			TitheAmount:   titheAmount,
			SenderBalance: updatedSender.Balance,
			Status:        domain.TransactionCommitted,
		}
		if len(entries) > 1 {
			result.TitheTransactionID = entries[1].ID
		}
		return nil
	})

	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok {
			switch appErr.Code {
			case errors.DuplicateTransaction:
				// The journal already holds this transfer from a prior
				// or concurrent attempt whose outcome the caller never
				// saw. Resolve to the committed record.
				if req.TransactionID != "" {
					if existing, getErr := e.store.Transaction().GetTransactionByID(req.TransactionID); getErr == nil && existing != nil {
						return e.priorResult(existing)
					}
				}
				if req.IdempotencyKey != nil {
					if existing, getErr := e.store.Transaction().GetTransactionByIdempotencyKey(*req.IdempotencyKey); getErr == nil && existing != nil {
						return e.priorResult(existing)
					}
				}
				return nil, appErr
			case errors.InsufficientBalance, errors.DailyLimitExceeded:
				e.journalRejection(req, appErr)
			}
		}
		e.logger.Warn("transfer rejected",
			zap.String("sender_id", req.SenderID),
			zap.String("receiver_id", req.ReceiverID),
			zap.Int64("amount", req.Amount),
			zap.Error(err))
		return nil, err
	}

	for _, entry := range committed {
		e.sink.Emit(audit.FromTransaction(entry))
	}
	e.logger.Info("transfer committed",
		zap.String("transaction_id", result.TransactionID),
		zap.String("sender_id", req.SenderID),
		zap.String("receiver_id", req.ReceiverID),
		zap.Int64("amount", result.Amount),
		zap.Int64("tithe_amount", result.TitheAmount))
	return result, nil
}

// lockAccounts loads sender, receiver, and fund under row locks acquired in
// lexicographic id order. The fund is always part of the lock set: deciding
// from an unlocked read of the tithe rate whether it is needed would reopen
// the window this ordering closes.
func (e *Engine) lockAccounts(s domain.Store, senderID, receiverID string) (map[string]*domain.Account, error) {
	ids := []string{senderID, receiverID}
	if e.fundID != senderID && e.fundID != receiverID {
		ids = append(ids, e.fundID)
	}
	sort.Strings(ids)

	accounts := make(map[string]*domain.Account, len(ids))
	for _, id := range ids {
		account, err := s.Account().GetAccountForUpdate(id)
		if err != nil {
			return nil, err
		}
		accounts[id] = account
	}
	return accounts, nil
}

func (e *Engine) buildEntries(req *TransferRequest, titheAmount int64, now time.Time) []*domain.Transaction {
	primaryID := req.TransactionID
	if primaryID == "" {
		primaryID = e.ids.Next(req.SenderID, req.ReceiverID, req.Amount, now)
	}

	primary := &domain.Transaction{
		ID:             primaryID,
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Amount:         req.Amount,
		Leg:            domain.LegPrimary,
		Memo:           req.Memo,
		Status:         domain.TransactionCommitted,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	primary.Checksum = audit.Checksum(primary)
	entries := []*domain.Transaction{primary}

	// Zero tithe means no tithe leg at all, not a zero-amount entry.
	if titheAmount > 0 {
		tithe := &domain.Transaction{
			ID:         e.ids.Next(req.SenderID, e.fundID, titheAmount, now),
			ParentID:   primary.ID,
			SenderID:   req.SenderID,
			ReceiverID: e.fundID,
			Amount:     titheAmount,
			Leg:        domain.LegTithe,
			Memo:       "auto tithe",
			Status:     domain.TransactionCommitted,
			CreatedAt:  now,
		}
		tithe.Checksum = audit.Checksum(tithe)
		entries = append(entries, tithe)
	}
	return entries
}

// journalRejection records a terminal rejected entry. Best effort: a failed
// rejection record never masks the rejection itself.
func (e *Engine) journalRejection(req *TransferRequest, cause *errors.AppError) {
	now := time.Now().UTC()
	entry := &domain.Transaction{
		ID:             e.ids.Next(req.SenderID, req.ReceiverID, req.Amount, now),
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Amount:         req.Amount,
		Leg:            domain.LegPrimary,
		Memo:           req.Memo,
		Status:         domain.TransactionRejected,
		IdempotencyKey: nil,
		CreatedAt:      now,
	}
	entry.Checksum = audit.Checksum(entry)

	err := e.store.WithTransaction(func(s domain.Store) error {
		return s.Transaction().Append([]*domain.Transaction{entry})
	})
	if err != nil {
		e.logger.Error("failed to journal rejection",
			zap.String("transaction_id", entry.ID),
			zap.String("cause", string(cause.Code)),
			zap.Error(err))
	}
}

// priorResult rebuilds the commit response from the journal so a replay is
// indistinguishable from the original response, tithe leg included.
func (e *Engine) priorResult(existing *domain.Transaction) (*TransferResult, error) {
	result := &TransferResult{
		TransactionID: existing.ID,
		Amount:        existing.Amount,
		Status:        existing.Status,
	}

	tithe, err := e.store.Transaction().GetTitheLeg(existing.ID)
	if err != nil {
		return nil, err
	}
	if tithe != nil {
		result.TitheTransactionID = tithe.ID
		result.TitheAmount = tithe.Amount
	}

	sender, err := e.store.Account().GetAccount(existing.SenderID)
	if err != nil {
		return nil, err
	}
	result.SenderBalance = sender.Balance
	return result, nil
}

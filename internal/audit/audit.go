// Package audit emits one structured record per committed journal leg and
// computes the integrity checksum carried by every journal entry. The
// checksum detects accidental corruption of exported records; it is not an
// authentication mechanism.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"coinledger/internal/domain"
)

// Record is the shape exported to external audit collaborators for each
// committed leg.
type Record struct {
	TransactionID       string    `json:"transaction_id"`
	ParentTransactionID string    `json:"parent_transaction_id,omitempty"`
	SenderID            string    `json:"sender_id"`
	ReceiverID          string    `json:"receiver_id"`
	Amount              int64     `json:"amount"`
	Leg                 string    `json:"leg"`
	Checksum            string    `json:"checksum"`
	Timestamp           time.Time `json:"timestamp"`
}

// Checksum derives the integrity checksum from the fields the journal stores,
// so any holder of a record can recompute and compare.
func Checksum(t *domain.Transaction) string {
	canonical := strings.Join([]string{
		t.ID,
		t.ParentID,
		t.SenderID,
		t.ReceiverID,
		strconv.FormatInt(t.Amount, 10),
		string(t.Leg),
		strconv.FormatInt(t.CreatedAt.UnixNano(), 10),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether a journal entry's stored checksum still matches its
// contents.
func Verify(t *domain.Transaction) bool {
	return t.Checksum == Checksum(t)
}

// Sink receives one record per committed leg.
type Sink interface {
	Emit(record Record)
}

// LogSink writes audit records to the process log. A nil *LogSink is a valid
// no-op sink.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(record Record) {
	if s == nil {
		return
	}
	s.logger.Info("audit",
		zap.String("transaction_id", record.TransactionID),
		zap.String("parent_transaction_id", record.ParentTransactionID),
		zap.String("sender_id", record.SenderID),
		zap.String("receiver_id", record.ReceiverID),
		zap.Int64("amount", record.Amount),
		zap.String("leg", record.Leg),
		zap.String("checksum", record.Checksum),
		zap.Time("timestamp", record.Timestamp),
	)
}

// FromTransaction builds the exported record for a committed entry.
func FromTransaction(t *domain.Transaction) Record {
	return Record{
		TransactionID:       t.ID,
		ParentTransactionID: t.ParentID,
		SenderID:            t.SenderID,
		ReceiverID:          t.ReceiverID,
		Amount:              t.Amount,
		Leg:                 string(t.Leg),
		Checksum:            t.Checksum,
		Timestamp:           t.CreatedAt,
	}
}

package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator derives transaction ids from the transfer's parties and amount
// combined with a process-monotonic sequence counter and the commit
// timestamp. The counter guarantees distinct ids even for identical transfers
// generated within the same nanosecond.
type IDGenerator struct {
	seq uint64
}

func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

func (g *IDGenerator) Next(senderID, receiverID string, amount int64, at time.Time) string {
	n := atomic.AddUint64(&g.seq, 1)
	material := fmt.Sprintf("%s|%s|%d|%d|%d", senderID, receiverID, amount, n, at.UnixNano())
	sum := sha256.Sum256([]byte(material))
	return "txn_" + hex.EncodeToString(sum[:8])
}

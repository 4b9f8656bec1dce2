package ledger

import (
	"sort"
	"time"

	"coinledger/internal/domain"
)

// PeriodLimiter enforces the per-tier daily spending ceiling. Spend totals
// are derived from the journal on every check rather than kept as a running
// counter, so they cannot drift from the ledger. CheckLimit must run inside
// the same store transaction that holds the sender's lock; evaluating it
// against a stale total would let two concurrent transfers jointly exceed the
// ceiling.
type PeriodLimiter struct {
	limits map[int]int64
	tiers  []int
	loc    *time.Location
}

func NewPeriodLimiter(limits map[int]int64, loc *time.Location) *PeriodLimiter {
	if loc == nil {
		loc = time.UTC
	}
	tiers := make([]int, 0, len(limits))
	for tier := range limits {
		tiers = append(tiers, tier)
	}
	sort.Ints(tiers)
	return &PeriodLimiter{limits: limits, tiers: tiers, loc: loc}
}

// TierLimit resolves the ceiling for a tier. Undefined tiers clamp to the
// nearest configured tier from below; tiers under the lowest configured one
// get the lowest ceiling. Configured ceilings are monotonic in tier.
func (l *PeriodLimiter) TierLimit(tier int) int64 {
	if limit, ok := l.limits[tier]; ok {
		return limit
	}
	resolved := l.tiers[0]
	for _, candidate := range l.tiers {
		if candidate > tier {
			break
		}
		resolved = candidate
	}
	return l.limits[resolved]
}

// Window returns the calendar-day period [start, end) containing now, in the
// limiter's configured location.
func (l *PeriodLimiter) Window(now time.Time) (time.Time, time.Time) {
	local := now.In(l.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.loc)
	return start, start.AddDate(0, 0, 1)
}

// SpendUsed sums the committed primary-leg amounts the account sent within
// the window.
func (l *PeriodLimiter) SpendUsed(txns domain.TransactionRepository, accountID string, from, to time.Time) (int64, error) {
	return txns.PeriodSpend(accountID, from, to)
}

// CheckLimit reports whether spending amount more in the current period stays
// within the tier's ceiling.
func (l *PeriodLimiter) CheckLimit(txns domain.TransactionRepository, accountID string, amount int64, tier int, now time.Time) (bool, error) {
	from, to := l.Window(now)
	used, err := l.SpendUsed(txns, accountID, from, to)
	if err != nil {
		return false, err
	}
	return used+amount <= l.TierLimit(tier), nil
}

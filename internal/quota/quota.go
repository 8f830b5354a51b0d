// Package quota decides whether a resolved API key may be admitted and
// advances its daily consumption.
package quota

import (
	"time"

	"numgate/internal/db"
	"numgate/internal/model"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	Admitted Decision = iota
	Paused
	Expired
	QuotaExceeded
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case Paused:
		return "paused"
	case Expired:
		return "expired"
	case QuotaExceeded:
		return "quota exceeded"
	default:
		return "unknown"
	}
}

// Day formats a moment as the calendar day used for budget resets.
func Day(now time.Time) string {
	return now.Format("2006-01-02")
}

// Ledger tracks per-key daily budgets on top of the store of record.
type Ledger struct {
	db db.Service
}

func NewLedger(dbService db.Service) *Ledger {
	return &Ledger{db: dbService}
}

// Check applies the admission rules to an already-resolved key. Precedence is
// fixed: a paused key is rejected even when also expired, and expiry is
// reported before quota exhaustion. The budget comparison applies the
// day-rollover rule as of now without touching the store.
func (l *Ledger) Check(key *model.APIKey, now time.Time) Decision {
	if key.Paused {
		return Paused
	}
	if key.IsExpired(now) {
		return Expired
	}
	if key.RemainingToday(Day(now)) <= 0 {
		return QuotaExceeded
	}
	return Admitted
}

// Consume records one unit of consumption for the key as of now. The store
// performs the rollover-or-increment decision atomically, so the first call
// of a new day always lands on consumed = 1.
func (l *Ledger) Consume(keyID uint, now time.Time) error {
	return l.db.ConsumeAPIKeyQuota(keyID, Day(now))
}

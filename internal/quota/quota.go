// Package quota meters calls against the external trend API's shared
// daily and monthly budget.
package quota

import (
	"log"

	"github.com/ckoehler/trendpress/internal/database"
)

// State is a read-only snapshot of the call counters and their limits.
// Callers that need N calls should check Remaining themselves instead of
// relying on CanMakeCall, which only guarantees room for one.
type State struct {
	DailyCount   int
	DailyLimit   int
	MonthlyCount int
	MonthlyLimit int
}

// DailyRemaining returns how many calls are left today.
func (s State) DailyRemaining() int {
	return s.DailyLimit - s.DailyCount
}

// Exhausted reports whether either budget is used up.
func (s State) Exhausted() bool {
	return s.DailyCount >= s.DailyLimit || s.MonthlyCount >= s.MonthlyLimit
}

// Arbiter gates external trend-API calls against the persisted counters.
type Arbiter struct {
	db           *database.DB
	dailyLimit   int
	monthlyLimit int
}

// NewArbiter creates an arbiter with the configured limits.
func NewArbiter(db *database.DB, dailyLimit, monthlyLimit int) *Arbiter {
	return &Arbiter{db: db, dailyLimit: dailyLimit, monthlyLimit: monthlyLimit}
}

// CanMakeCall reports whether one more external call fits both budgets.
// If the store cannot be read the arbiter fails closed: no unmetered calls.
func (a *Arbiter) CanMakeCall() bool {
	usage, err := a.db.GetQuotaUsage()
	if err != nil {
		log.Printf("quota: cannot read counters, refusing call: %v", err)
		return false
	}
	return usage.DailyCount < a.dailyLimit && usage.MonthlyCount < a.monthlyLimit
}

// RecordCall counts one external request attempt. Quota is consumed by the
// call itself, not by its outcome, so failed requests count too.
func (a *Arbiter) RecordCall(success bool) {
	if err := a.db.IncrementQuota(); err != nil {
		log.Printf("quota: failed to record call (success=%v): %v", success, err)
	}
}

// Usage returns a snapshot of counters and limits.
func (a *Arbiter) Usage() (State, error) {
	usage, err := a.db.GetQuotaUsage()
	if err != nil {
		return State{}, err
	}
	return State{
		DailyCount:   usage.DailyCount,
		DailyLimit:   a.dailyLimit,
		MonthlyCount: usage.MonthlyCount,
		MonthlyLimit: a.monthlyLimit,
	}, nil
}

// Package plan builds and refreshes the daily generation plan: one
// time-sliced job per slot, spread evenly across the active window.
package plan

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/ckoehler/trendpress/internal/database"
)

// Builder creates the plan for a calendar day and keeps its pending slots
// fresh on later cycles.
type Builder struct {
	db             *database.DB
	planSize       int
	windowStartMin int
	windowEndMin   int
}

// New creates a plan builder. The window is given as minutes after
// midnight, local time.
func New(db *database.DB, planSize, windowStartMin, windowEndMin int) *Builder {
	return &Builder{
		db:             db,
		planSize:       planSize,
		windowStartMin: windowStartMin,
		windowEndMin:   windowEndMin,
	}
}

// BuildOrRefresh returns the plan for a date, creating it on first call
// and refreshing only its pending slots afterwards. Jobs that are
// generating, completed, or failed are never touched.
func (b *Builder) BuildOrRefresh(date string) (*database.DailyPlan, error) {
	existing, err := b.db.GetPlan(date)
	if err != nil {
		return nil, fmt.Errorf("loading plan %s: %w", date, err)
	}

	if existing == nil {
		if err := b.build(date); err != nil {
			return nil, err
		}
	} else if err := b.refresh(date, existing); err != nil {
		return nil, err
	}

	return b.db.GetPlan(date)
}

// build creates a fresh plan from the top ungenerated trends. With fewer
// eligible trends than slots the plan simply stays short; no placeholder
// jobs.
func (b *Builder) build(date string) error {
	candidates, err := b.db.TopUngeneratedTrends(b.planSize)
	if err != nil {
		return fmt.Errorf("selecting trends for %s: %w", date, err)
	}

	var jobs []database.Job
	for i, tr := range candidates {
		position := i + 1
		jobs = append(jobs, database.Job{
			PlanDate:    date,
			Position:    position,
			TrendID:     tr.ID,
			ScheduledAt: b.slotTime(date, position),
		})
	}

	if err := b.db.CreatePlan(date, jobs); err != nil {
		return err
	}
	log.Printf("Created plan for %s with %d jobs", date, len(jobs))
	return nil
}

// refresh replaces pending slots whose backing trend has been consumed
// elsewhere, and fills slots that were left empty on earlier cycles.
func (b *Builder) refresh(date string, existing *database.DailyPlan) error {
	used := make(map[string]struct{})
	filled := make(map[int]struct{})
	var stale []int

	for _, j := range existing.Jobs {
		filled[j.Position] = struct{}{}
		if j.Status != database.JobPending {
			used[j.TrendID] = struct{}{}
		}
	}

	for _, j := range existing.Jobs {
		if j.Status != database.JobPending {
			continue
		}
		tr, err := b.db.GetTrend(j.TrendID)
		if err != nil {
			return err
		}
		_, doubled := used[j.TrendID]
		if tr == nil || tr.ArticleGenerated || doubled {
			stale = append(stale, j.Position)
			continue
		}
		used[j.TrendID] = struct{}{}
	}

	var open []int
	open = append(open, stale...)
	for p := 1; p <= b.planSize; p++ {
		if _, ok := filled[p]; !ok {
			open = append(open, p)
		}
	}
	if len(open) == 0 {
		return nil
	}
	sort.Ints(open)

	// Over-fetch so trends already held by the plan can be skipped.
	pool, err := b.db.TopUngeneratedTrends(b.planSize + len(open))
	if err != nil {
		return err
	}

	var replacements []database.Job
	for _, tr := range pool {
		if len(replacements) == len(open) {
			break
		}
		if _, taken := used[tr.ID]; taken {
			continue
		}
		position := open[len(replacements)]
		used[tr.ID] = struct{}{}
		replacements = append(replacements, database.Job{
			PlanDate:    date,
			Position:    position,
			TrendID:     tr.ID,
			ScheduledAt: b.slotTime(date, position),
		})
	}

	if len(stale) == 0 && len(replacements) == 0 {
		return nil
	}
	// Stale slots are dropped even when no replacement exists; a pending
	// job backed by a consumed trend must not run again.
	if err := b.db.ReplacePendingJobs(date, stale, replacements); err != nil {
		return err
	}
	log.Printf("Refreshed plan for %s: %d slots updated", date, len(replacements))
	return nil
}

// slotTime maps position p of N onto the active window:
// windowStart + p * (windowEnd - windowStart) / N.
func (b *Builder) slotTime(date string, position int) string {
	day, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		now := time.Now()
		day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	}
	span := b.windowEndMin - b.windowStartMin
	minutes := b.windowStartMin + position*span/b.planSize
	return database.FormatTime(day.Add(time.Duration(minutes) * time.Minute))
}

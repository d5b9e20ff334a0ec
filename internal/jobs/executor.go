// Package jobs drives plan slots through their state machine:
// pending -> generating -> completed or failed, with stuck generating
// jobs reset back to pending.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ckoehler/trendpress/internal/database"
	"github.com/ckoehler/trendpress/internal/generate"
)

// Result holds the outcome of one execution pass.
type Result struct {
	Recovered int
	Completed int
	Failed    int
	Skipped   int
}

// Executor runs due jobs one at a time under the single-flight lease.
type Executor struct {
	db           *database.DB
	gen          generate.Generator
	lease        Lease
	stuckTimeout time.Duration
}

// New creates an executor.
func New(db *database.DB, gen generate.Generator, lease Lease, stuckTimeout time.Duration) *Executor {
	return &Executor{db: db, gen: gen, lease: lease, stuckTimeout: stuckTimeout}
}

// RecoverStuck resets generating jobs whose started_at is older than the
// timeout. This is the crash-recovery path: a process restart mid
// generation must not strand a job in generating forever.
func (e *Executor) RecoverStuck() (int, error) {
	cutoff := database.FormatTime(time.Now().Add(-e.stuckTimeout))
	stuck, err := e.db.StuckJobs(cutoff)
	if err != nil {
		return 0, fmt.Errorf("finding stuck jobs: %w", err)
	}

	recovered := 0
	for _, j := range stuck {
		ok, err := e.db.ResetJob(j.PlanDate, j.Position)
		if err != nil {
			return recovered, fmt.Errorf("resetting stuck job %s/%d: %w", j.PlanDate, j.Position, err)
		}
		if ok {
			recovered++
			log.Printf("WARNING: job %s/%d stuck in generating since %s, reset to pending",
				j.PlanDate, j.Position, deref(j.StartedAt))
		}
	}
	return recovered, nil
}

// RunDue recovers stuck jobs, then executes every pending job of the plan
// whose scheduled time has passed. Each job runs under the lease; a job
// that cannot take the lease is skipped and retried on the next cycle.
// One job's failure never aborts the rest.
func (e *Executor) RunDue(ctx context.Context, date string) *Result {
	r := &Result{}

	recovered, err := e.RecoverStuck()
	if err != nil {
		log.Printf("Stuck-job recovery failed: %v", err)
	}
	r.Recovered = recovered

	jobsForDate, err := e.db.JobsForDate(date)
	if err != nil {
		log.Printf("Cannot load jobs for %s: %v", date, err)
		return r
	}

	now := time.Now()
	for _, j := range jobsForDate {
		if j.Status != database.JobPending {
			continue
		}
		if database.ParseTime(j.ScheduledAt).After(now) {
			continue
		}
		switch e.runJob(ctx, j) {
		case outcomeCompleted:
			r.Completed++
		case outcomeFailed:
			r.Failed++
		case outcomeSkipped:
			r.Skipped++
		}
	}

	if r.Completed+r.Failed+r.Skipped+r.Recovered > 0 {
		log.Printf("Execution pass for %s: %d completed, %d failed, %d skipped, %d recovered",
			date, r.Completed, r.Failed, r.Skipped, r.Recovered)
	}
	return r
}

// ForceGenerate is the operator override for one position: a non-pending
// job is reset, then executed immediately. The time gate is bypassed; the
// single-flight lease is not. The lease is taken before the reset so a
// job whose generation is live in another holder can never be yanked back
// to pending mid-flight.
func (e *Executor) ForceGenerate(ctx context.Context, date string, position int) error {
	ok, err := e.lease.TryAcquire()
	if err != nil {
		return fmt.Errorf("acquiring lease: %w", err)
	}
	if !ok {
		return fmt.Errorf("another job is generating; try again shortly")
	}
	defer func() {
		if err := e.lease.Release(); err != nil {
			log.Printf("Lease release failed: %v", err)
		}
	}()

	j, err := e.db.GetJob(date, position)
	if err != nil {
		return fmt.Errorf("loading job %s/%d: %w", date, position, err)
	}
	if j == nil {
		return fmt.Errorf("no job at position %d for %s", position, date)
	}

	if j.Status != database.JobPending {
		// With the lease held a generating row can only be an abandoned
		// attempt, so the reset is safe.
		log.Printf("Force generate: resetting job %s/%d from %s to pending", date, position, j.Status)
		if _, err := e.db.ResetJob(date, position); err != nil {
			return fmt.Errorf("resetting job %s/%d: %w", date, position, err)
		}
		j, err = e.db.GetJob(date, position)
		if err != nil {
			return err
		}
	}

	switch e.runLocked(ctx, *j) {
	case outcomeCompleted:
		return nil
	case outcomeFailed:
		fresh, _ := e.db.GetJob(date, position)
		if fresh != nil && fresh.Error != nil {
			return fmt.Errorf("generation failed: %s", *fresh.Error)
		}
		return fmt.Errorf("generation failed")
	default:
		return fmt.Errorf("job %s/%d changed state before generation could start", date, position)
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCompleted
	outcomeFailed
)

func (e *Executor) runJob(ctx context.Context, j database.Job) outcome {
	ok, err := e.lease.TryAcquire()
	if err != nil {
		log.Printf("Lease acquire failed for job %s/%d: %v", j.PlanDate, j.Position, err)
		return outcomeSkipped
	}
	if !ok {
		return outcomeSkipped
	}
	defer func() {
		if err := e.lease.Release(); err != nil {
			log.Printf("Lease release failed: %v", err)
		}
	}()
	return e.runLocked(ctx, j)
}

// runLocked executes one job. The caller must hold the lease.
func (e *Executor) runLocked(ctx context.Context, j database.Job) outcome {
	// With the lease held nothing else may be generating. If something
	// is, single-flight enforcement is broken somewhere; that is a defect
	// to surface, not to quietly repair.
	if n, err := e.db.CountGenerating(); err != nil {
		log.Printf("Cannot verify single-flight for job %s/%d: %v", j.PlanDate, j.Position, err)
		return outcomeSkipped
	} else if n > 0 {
		log.Printf("INVARIANT VIOLATION: %d jobs already generating while lease was free; skipping job %s/%d",
			n, j.PlanDate, j.Position)
		return outcomeSkipped
	}

	started, err := e.db.StartJob(j.PlanDate, j.Position, database.FormatTime(time.Now()))
	if err != nil {
		log.Printf("Cannot start job %s/%d: %v", j.PlanDate, j.Position, err)
		return outcomeSkipped
	}
	if !started {
		// The slot changed state under us (e.g. a concurrent force run).
		return outcomeSkipped
	}

	trend, err := e.db.GetTrend(j.TrendID)
	if err != nil || trend == nil {
		e.db.FailJob(j.PlanDate, j.Position, fmt.Sprintf("trend %s not found", j.TrendID))
		return outcomeFailed
	}

	log.Printf("Generating article for %q (position %d)", trend.Title, j.Position)
	articleID, genErr := e.gen.Generate(ctx, *trend, j.Position)
	if genErr != nil {
		failed, err := e.db.FailJob(j.PlanDate, j.Position, genErr.Error())
		if err != nil {
			log.Printf("Cannot record failure for job %s/%d: %v", j.PlanDate, j.Position, err)
		}
		if err == nil && !failed {
			log.Printf("INVARIANT VIOLATION: job %s/%d left generating before its failure could be recorded",
				j.PlanDate, j.Position)
			return outcomeSkipped
		}
		log.Printf("Generation failed for %q: %v", trend.Title, genErr)
		return outcomeFailed
	}

	completed, err := e.db.CompleteJob(j.PlanDate, j.Position, database.FormatTime(time.Now()), articleID)
	if err != nil {
		log.Printf("Cannot record completion for job %s/%d: %v", j.PlanDate, j.Position, err)
		return outcomeFailed
	}
	if !completed {
		// The row was moved out of generating under us, so the attempt
		// never happened as far as the plan is concerned. The trend stays
		// unconsumed; the stored article is orphaned rather than claimed
		// by a job the store no longer credits.
		log.Printf("INVARIANT VIOLATION: job %s/%d left generating before completion could be recorded, discarding attempt (article %d)",
			j.PlanDate, j.Position, articleID)
		return outcomeSkipped
	}
	if err := e.db.MarkTrendGenerated(j.TrendID); err != nil {
		log.Printf("Cannot mark trend %s generated: %v", j.TrendID, err)
	}
	return outcomeCompleted
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

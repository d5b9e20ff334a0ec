// Package scheduler owns the update cadence: on every tick it runs one
// full cycle of ingest, dedup, plan refresh, and job execution.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ckoehler/trendpress/internal/config"
	"github.com/ckoehler/trendpress/internal/database"
	"github.com/ckoehler/trendpress/internal/dedup"
	"github.com/ckoehler/trendpress/internal/ingest"
	"github.com/ckoehler/trendpress/internal/jobs"
	"github.com/ckoehler/trendpress/internal/plan"
)

// StepResult holds the result of a single cycle step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// CycleResult holds the results of one full update cycle.
type CycleResult struct {
	Date  string
	Steps []StepResult
}

// Scheduler runs update cycles at a fixed cadence.
type Scheduler struct {
	cfg      *config.Config
	ingestor *ingest.Ingestor
	dedup    *dedup.Deduplicator
	builder  *plan.Builder
	executor *jobs.Executor
	interval time.Duration

	// cycleMu serializes cycles so a forced update never overlaps a
	// ticked one.
	cycleMu sync.Mutex

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	nextUpdate time.Time
	lastCycle  time.Time
}

// New creates a scheduler.
func New(cfg *config.Config, ingestor *ingest.Ingestor, deduper *dedup.Deduplicator, builder *plan.Builder, executor *jobs.Executor) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		ingestor: ingestor,
		dedup:    deduper,
		builder:  builder,
		executor: executor,
		interval: cfg.UpdateInterval(),
	}
}

// Start launches the cadence loop. The first cycle runs immediately;
// starting an already running scheduler is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.nextUpdate = time.Now().Add(s.interval)

	log.Printf("Scheduler started, update interval %s", s.interval)
	go s.loop(s.stopCh, s.doneCh)
	return nil
}

// Stop shuts the loop down and waits for it to exit. A cycle already in
// flight finishes; it is never aborted mid-generation. Stopping a stopped
// scheduler is an error.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	log.Println("Scheduler stopped")
	return nil
}

// Running reports whether the cadence loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ForceUpdate runs one cycle immediately. The regular cadence is not
// disturbed; the next ticked cycle happens when it would have anyway.
func (s *Scheduler) ForceUpdate(ctx context.Context) *CycleResult {
	log.Println("Forced update cycle")
	return s.RunCycle(ctx)
}

// TimeUntilNextUpdate returns how long until the next ticked cycle, or
// zero when the scheduler is not running.
func (s *Scheduler) TimeUntilNextUpdate() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	d := time.Until(s.nextUpdate)
	if d < 0 {
		return 0
	}
	return d
}

// LastCycle returns when the most recent cycle finished, zero if none
// has run yet.
func (s *Scheduler) LastCycle() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycle
}

func (s *Scheduler) loop(stop, done chan struct{}) {
	defer close(done)

	s.RunCycle(context.Background())

	for {
		s.mu.Lock()
		wait := time.Until(s.nextUpdate)
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			s.mu.Lock()
			s.nextUpdate = time.Now().Add(s.interval)
			s.mu.Unlock()
			s.RunCycle(context.Background())
		}
	}
}

// RunCycle executes one full update cycle for today's plan. Step failures
// are recorded but never abort the cycle: a dedup error must not stop due
// jobs from executing.
func (s *Scheduler) RunCycle(ctx context.Context) *CycleResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	date := database.Today()
	r := &CycleResult{Date: date}

	r.Steps = append(r.Steps, s.runIngest(ctx, r))
	r.Steps = append(r.Steps, s.runPlan(date))
	r.Steps = append(r.Steps, s.runExecute(ctx, date))

	s.mu.Lock()
	s.lastCycle = time.Now()
	s.mu.Unlock()
	return r
}

func (s *Scheduler) runIngest(ctx context.Context, r *CycleResult) StepResult {
	log.Println("Step 1/3: Ingesting trends...")
	batch := s.ingestor.Fetch(ctx, s.cfg.Trends.Region)
	res, err := s.dedup.ProcessNewTrends(batch)
	if err != nil {
		return StepResult{Name: "Ingest", Err: err}
	}
	return StepResult{
		Name:    "Ingest",
		Summary: fmt.Sprintf("Fetched %d candidates: %d new, %d duplicates", len(batch), len(res.NewTrends), res.DuplicatesFiltered),
	}
}

func (s *Scheduler) runPlan(date string) StepResult {
	log.Println("Step 2/3: Refreshing daily plan...")
	p, err := s.builder.BuildOrRefresh(date)
	if err != nil {
		return StepResult{Name: "Plan", Err: err}
	}
	pending := 0
	for _, j := range p.Jobs {
		if j.Status == database.JobPending {
			pending++
		}
	}
	return StepResult{
		Name:    "Plan",
		Summary: fmt.Sprintf("Plan for %s holds %d jobs, %d pending", date, len(p.Jobs), pending),
	}
}

func (s *Scheduler) runExecute(ctx context.Context, date string) StepResult {
	log.Println("Step 3/3: Executing due jobs...")
	res := s.executor.RunDue(ctx, date)
	return StepResult{
		Name:    "Execute",
		Summary: fmt.Sprintf("%d completed, %d failed, %d skipped, %d recovered", res.Completed, res.Failed, res.Skipped, res.Recovered),
	}
}

package jobs

import (
	"sync"
	"time"

	"github.com/ckoehler/trendpress/internal/database"
)

// Lease guards the single-flight invariant: it must be held for the full
// pending -> generating -> terminal span of a job. TryAcquire never
// blocks; a refused acquire means another job is executing and the caller
// should retry next cycle.
type Lease interface {
	TryAcquire() (bool, error)
	Release() error
}

// MutexLease is the in-process lease for single-instance deployments.
type MutexLease struct {
	mu sync.Mutex
}

// NewMutexLease creates an in-process lease.
func NewMutexLease() *MutexLease {
	return &MutexLease{}
}

func (l *MutexLease) TryAcquire() (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *MutexLease) Release() error {
	l.mu.Unlock()
	return nil
}

// StoreLease is backed by a lease row in the store, for deployments where
// more than one process may execute jobs. A holder that dies without
// releasing is recovered once the row goes stale. The embedded mutex
// covers goroutines within one process, which the row alone cannot: the
// store treats a re-acquire by the same holder string as already owned.
type StoreLease struct {
	mu         sync.Mutex
	db         *database.DB
	name       string
	holder     string
	staleAfter time.Duration
}

// NewStoreLease creates a persisted lease. staleAfter should comfortably
// exceed the stuck-job timeout so the lease never expires under a live
// generation call.
func NewStoreLease(db *database.DB, name, holder string, staleAfter time.Duration) *StoreLease {
	return &StoreLease{db: db, name: name, holder: holder, staleAfter: staleAfter}
}

func (l *StoreLease) TryAcquire() (bool, error) {
	if !l.mu.TryLock() {
		return false, nil
	}
	ok, err := l.db.AcquireLease(l.name, l.holder, l.staleAfter)
	if err != nil || !ok {
		l.mu.Unlock()
		return ok, err
	}
	return true, nil
}

func (l *StoreLease) Release() error {
	err := l.db.ReleaseLease(l.name, l.holder)
	l.mu.Unlock()
	return err
}

package database

import (
	"fmt"
	"time"
)

// AcquireLease attempts to take the named lease for holder. A lease older
// than staleAfter is treated as abandoned and stolen. Returns whether the
// holder now owns the lease.
func (db *DB) AcquireLease(name, holder string, staleAfter time.Duration) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	cutoff := FormatTime(time.Now().Add(-staleAfter))
	if _, err := tx.Exec(
		"DELETE FROM leases WHERE name = ? AND acquired_at < ?", name, cutoff,
	); err != nil {
		return false, fmt.Errorf("expiring stale lease: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO leases (name, holder, acquired_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, holder, FormatTime(time.Now()),
	); err != nil {
		return false, fmt.Errorf("inserting lease: %w", err)
	}

	var owner string
	if err := tx.QueryRow(
		"SELECT holder FROM leases WHERE name = ?", name,
	).Scan(&owner); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return owner == holder, nil
}

// ReleaseLease drops the named lease if holder still owns it.
func (db *DB) ReleaseLease(name, holder string) error {
	_, err := db.conn.Exec(
		"DELETE FROM leases WHERE name = ? AND holder = ?", name, holder,
	)
	return err
}

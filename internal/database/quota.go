package database

// The quota row is a single record (id = 1) holding the call counters and
// the period markers they belong to. Resets are computed from the markers
// on every access, which makes them idempotent: rolling an already-current
// period is a no-op.

func (db *DB) ensureQuotaRow() error {
	_, err := db.conn.Exec(
		`INSERT INTO quota_usage (id, day, month, daily_count, monthly_count)
		VALUES (1, ?, ?, 0, 0)
		ON CONFLICT(id) DO NOTHING`,
		Today(), CurrentMonth(),
	)
	return err
}

// GetQuotaUsage returns the current counters after rolling any expired
// period boundaries.
func (db *DB) GetQuotaUsage() (*QuotaUsage, error) {
	if err := db.rollQuotaPeriods(); err != nil {
		return nil, err
	}
	var q QuotaUsage
	err := db.conn.QueryRow(
		"SELECT day, month, daily_count, monthly_count FROM quota_usage WHERE id = 1",
	).Scan(&q.Day, &q.Month, &q.DailyCount, &q.MonthlyCount)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// IncrementQuota records one external call. The increment is a single
// UPDATE so concurrent callers cannot lose counts to a read-modify-write
// race.
func (db *DB) IncrementQuota() error {
	if err := db.rollQuotaPeriods(); err != nil {
		return err
	}
	_, err := db.conn.Exec(
		`UPDATE quota_usage SET daily_count = daily_count + 1, monthly_count = monthly_count + 1
		WHERE id = 1`,
	)
	return err
}

// rollQuotaPeriods zeroes whichever counters have crossed their period
// boundary since the stored markers were written.
func (db *DB) rollQuotaPeriods() error {
	day := Today()
	month := CurrentMonth()
	_, err := db.conn.Exec(
		`UPDATE quota_usage SET
			daily_count = CASE WHEN day = ? THEN daily_count ELSE 0 END,
			monthly_count = CASE WHEN month = ? THEN monthly_count ELSE 0 END,
			day = ?,
			month = ?
		WHERE id = 1`,
		day, month, day, month,
	)
	return err
}

package database

import (
	"database/sql"
	"fmt"
	"time"
)

// GetPlan returns the plan for a date with its jobs ordered by position,
// or nil if no plan exists for that date.
func (db *DB) GetPlan(date string) (*DailyPlan, error) {
	var p DailyPlan
	err := db.conn.QueryRow(
		"SELECT plan_date, updated_at FROM daily_plans WHERE plan_date = ?", date,
	).Scan(&p.Date, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	jobs, err := db.JobsForDate(date)
	if err != nil {
		return nil, err
	}
	p.Jobs = jobs
	return &p, nil
}

// CreatePlan inserts a plan row with its initial jobs in one transaction.
func (db *DB) CreatePlan(date string, jobs []Job) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := FormatTime(time.Now())
	if _, err := tx.Exec(
		"INSERT INTO daily_plans (plan_date, updated_at) VALUES (?, ?)", date, now,
	); err != nil {
		return fmt.Errorf("inserting plan %s: %w", date, err)
	}

	for _, j := range jobs {
		if err := insertJob(tx, j); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplacePendingJobs deletes the given pending positions and inserts the
// replacement jobs, all in one transaction. Non-pending rows are never
// touched here; callers select only pending positions.
func (db *DB) ReplacePendingJobs(date string, positions []int, jobs []Job) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, pos := range positions {
		if _, err := tx.Exec(
			"DELETE FROM plan_jobs WHERE plan_date = ? AND position = ? AND status = 'pending'",
			date, pos,
		); err != nil {
			return fmt.Errorf("removing pending job %d: %w", pos, err)
		}
	}
	for _, j := range jobs {
		if err := insertJob(tx, j); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(
		"UPDATE daily_plans SET updated_at = ? WHERE plan_date = ?",
		FormatTime(time.Now()), date,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func insertJob(tx *sql.Tx, j Job) error {
	_, err := tx.Exec(
		`INSERT INTO plan_jobs (plan_date, position, trend_id, status, scheduled_at)
		VALUES (?, ?, ?, 'pending', ?)`,
		j.PlanDate, j.Position, j.TrendID, j.ScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("inserting job %d for %s: %w", j.Position, j.PlanDate, err)
	}
	return nil
}

// JobsForDate returns a plan's jobs ordered by position.
func (db *DB) JobsForDate(date string) ([]Job, error) {
	rows, err := db.conn.Query(
		`SELECT plan_date, position, trend_id, status, scheduled_at, started_at, completed_at, article_id, error
		FROM plan_jobs WHERE plan_date = ? ORDER BY position`, date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// GetJob returns a single job, or nil if the slot is empty.
func (db *DB) GetJob(date string, position int) (*Job, error) {
	row := db.conn.QueryRow(
		`SELECT plan_date, position, trend_id, status, scheduled_at, started_at, completed_at, article_id, error
		FROM plan_jobs WHERE plan_date = ? AND position = ?`, date, position,
	)
	var j Job
	err := row.Scan(&j.PlanDate, &j.Position, &j.TrendID, &j.Status, &j.ScheduledAt,
		&j.StartedAt, &j.CompletedAt, &j.ArticleID, &j.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CountGenerating returns how many jobs are currently generating across
// all plans. Anything above one is an invariant violation.
func (db *DB) CountGenerating() (int, error) {
	var n int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM plan_jobs WHERE status = 'generating'",
	).Scan(&n)
	return n, err
}

// StartJob transitions a pending job to generating. Returns false if the
// job was not pending (the WHERE clause enforces the state machine).
func (db *DB) StartJob(date string, position int, startedAt string) (bool, error) {
	result, err := db.conn.Exec(
		`UPDATE plan_jobs SET status = 'generating', started_at = ?
		WHERE plan_date = ? AND position = ? AND status = 'pending'`,
		startedAt, date, position,
	)
	if err != nil {
		return false, err
	}
	return oneRow(result)
}

// CompleteJob transitions a generating job to completed.
func (db *DB) CompleteJob(date string, position int, completedAt string, articleID int64) (bool, error) {
	result, err := db.conn.Exec(
		`UPDATE plan_jobs SET status = 'completed', completed_at = ?, article_id = ?, error = NULL
		WHERE plan_date = ? AND position = ? AND status = 'generating'`,
		completedAt, articleID, date, position,
	)
	if err != nil {
		return false, err
	}
	return oneRow(result)
}

// FailJob transitions a generating job to failed, recording the error.
func (db *DB) FailJob(date string, position int, errMsg string) (bool, error) {
	result, err := db.conn.Exec(
		`UPDATE plan_jobs SET status = 'failed', error = ?
		WHERE plan_date = ? AND position = ? AND status = 'generating'`,
		errMsg, date, position,
	)
	if err != nil {
		return false, err
	}
	return oneRow(result)
}

// ResetJob puts a job back to pending, clearing every per-attempt field.
// Used by stuck-job recovery and the operator force path.
func (db *DB) ResetJob(date string, position int) (bool, error) {
	result, err := db.conn.Exec(
		`UPDATE plan_jobs SET status = 'pending', started_at = NULL, completed_at = NULL,
		article_id = NULL, error = NULL
		WHERE plan_date = ? AND position = ?`,
		date, position,
	)
	if err != nil {
		return false, err
	}
	return oneRow(result)
}

// StuckJobs returns generating jobs whose started_at is older than the
// cutoff. These are candidates for reset-to-pending recovery.
func (db *DB) StuckJobs(cutoff string) ([]Job, error) {
	rows, err := db.conn.Query(
		`SELECT plan_date, position, trend_id, status, scheduled_at, started_at, completed_at, article_id, error
		FROM plan_jobs WHERE status = 'generating' AND started_at < ?
		ORDER BY plan_date, position`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]Job, error) {
	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.PlanDate, &j.Position, &j.TrendID, &j.Status, &j.ScheduledAt,
			&j.StartedAt, &j.CompletedAt, &j.ArticleID, &j.Error); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func oneRow(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

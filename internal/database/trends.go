package database

import (
	"crypto/sha256"
	"database/sql"
	"fmt"
)

// NewTrendID derives a stable trend identifier from the normalized title,
// the source, and the day the trend was first seen. Including the day lets
// a genuinely new occurrence of an old topic re-enter the store once it
// has aged out of the dedup lookback window.
func NewTrendID(normalizedTitle, source, day string) string {
	sum := sha256.Sum256([]byte(normalizedTitle + "|" + source + "|" + day))
	return fmt.Sprintf("%x", sum[:8])
}

// InsertTrend inserts a trend. Returns false if a trend with the same ID
// already exists.
func (db *DB) InsertTrend(t Trend) (bool, error) {
	result, err := db.conn.Exec(
		`INSERT INTO trends (id, title, normalized_title, source, search_volume, category, first_seen_at, article_generated)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Title, t.NormalizedTitle, t.Source, t.SearchVolume, t.Category, t.FirstSeenAt,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasTrendWithTitleSince reports whether a trend with the given normalized
// title was first seen at or after the cutoff timestamp. This is the dedup
// lookback query.
func (db *DB) HasTrendWithTitleSince(normalizedTitle, cutoff string) (bool, error) {
	var n int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM trends WHERE normalized_title = ? AND first_seen_at >= ?`,
		normalizedTitle, cutoff,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TopUngeneratedTrends returns the highest-volume trends that have no
// article yet, ordered by search volume descending.
func (db *DB) TopUngeneratedTrends(limit int) ([]Trend, error) {
	rows, err := db.conn.Query(
		`SELECT id, title, normalized_title, source, search_volume, category, first_seen_at, article_generated
		FROM trends WHERE article_generated = 0
		ORDER BY search_volume DESC, first_seen_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrends(rows)
}

// LatestTrends returns the most recently seen trends. Used as the
// last-resort fallback batch when every external source is unavailable.
func (db *DB) LatestTrends(limit int) ([]Trend, error) {
	rows, err := db.conn.Query(
		`SELECT id, title, normalized_title, source, search_volume, category, first_seen_at, article_generated
		FROM trends ORDER BY first_seen_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrends(rows)
}

// GetTrend returns a single trend by ID, or nil if absent.
func (db *DB) GetTrend(id string) (*Trend, error) {
	row := db.conn.QueryRow(
		`SELECT id, title, normalized_title, source, search_volume, category, first_seen_at, article_generated
		FROM trends WHERE id = ?`, id,
	)
	t, err := scanTrend(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// MarkTrendGenerated flips a trend's article_generated flag.
func (db *DB) MarkTrendGenerated(id string) error {
	_, err := db.conn.Exec("UPDATE trends SET article_generated = 1 WHERE id = ?", id)
	return err
}

func scanTrends(rows *sql.Rows) ([]Trend, error) {
	var trends []Trend
	for rows.Next() {
		var t Trend
		var generated int
		if err := rows.Scan(&t.ID, &t.Title, &t.NormalizedTitle, &t.Source,
			&t.SearchVolume, &t.Category, &t.FirstSeenAt, &generated); err != nil {
			return nil, err
		}
		t.ArticleGenerated = generated != 0
		trends = append(trends, t)
	}
	return trends, rows.Err()
}

func scanTrend(row *sql.Row) (*Trend, error) {
	var t Trend
	var generated int
	if err := row.Scan(&t.ID, &t.Title, &t.NormalizedTitle, &t.Source,
		&t.SearchVolume, &t.Category, &t.FirstSeenAt, &generated); err != nil {
		return nil, err
	}
	t.ArticleGenerated = generated != 0
	return &t, nil
}

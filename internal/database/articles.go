package database

import (
	"database/sql"
	"time"
)

// InsertArticle stores a generated article and returns its ID.
func (db *DB) InsertArticle(trendID, title, bodyMarkdown string) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO articles (trend_id, title, body_markdown, generated_at)
		VALUES (?, ?, ?, ?)`,
		trendID, title, bodyMarkdown, FormatTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetArticle returns an article by ID, or nil if absent.
func (db *DB) GetArticle(id int64) (*Article, error) {
	row := db.conn.QueryRow(
		"SELECT id, trend_id, title, body_markdown, generated_at FROM articles WHERE id = ?", id,
	)
	var a Article
	err := row.Scan(&a.ID, &a.TrendID, &a.Title, &a.BodyMarkdown, &a.GeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

package database

import "database/sql"

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS trends (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    normalized_title TEXT NOT NULL,
    source TEXT NOT NULL CHECK(source IN ('primary', 'fallback')),
    search_volume INTEGER DEFAULT 0,
    category TEXT,
    first_seen_at TEXT NOT NULL,
    article_generated INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS daily_plans (
    plan_date TEXT PRIMARY KEY,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plan_jobs (
    plan_date TEXT NOT NULL REFERENCES daily_plans(plan_date),
    position INTEGER NOT NULL,
    trend_id TEXT NOT NULL REFERENCES trends(id),
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK(status IN ('pending', 'generating', 'completed', 'failed')),
    scheduled_at TEXT NOT NULL,
    started_at TEXT,
    completed_at TEXT,
    article_id INTEGER REFERENCES articles(id),
    error TEXT,
    PRIMARY KEY (plan_date, position)
);

CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trend_id TEXT NOT NULL REFERENCES trends(id),
    title TEXT NOT NULL,
    body_markdown TEXT NOT NULL,
    generated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS quota_usage (
    id INTEGER PRIMARY KEY CHECK(id = 1),
    day TEXT NOT NULL,
    month TEXT NOT NULL,
    daily_count INTEGER NOT NULL DEFAULT 0,
    monthly_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS leases (
    name TEXT PRIMARY KEY,
    holder TEXT NOT NULL,
    acquired_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trends_normalized ON trends(normalized_title, first_seen_at);
CREATE INDEX IF NOT EXISTS idx_trends_ungenerated ON trends(article_generated, search_volume);
CREATE INDEX IF NOT EXISTS idx_plan_jobs_status ON plan_jobs(status);
CREATE INDEX IF NOT EXISTS idx_articles_trend ON articles(trend_id);
`)
			return err
		},
	},
}

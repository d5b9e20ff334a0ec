package database

// GetStats returns aggregate counts for the status command and ops server.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM trends", &s.TotalTrends},
		{"SELECT COUNT(*) FROM trends WHERE article_generated = 1", &s.GeneratedTrends},
		{"SELECT COUNT(*) FROM daily_plans", &s.Plans},
		{"SELECT COUNT(*) FROM plan_jobs WHERE status = 'pending'", &s.PendingJobs},
		{"SELECT COUNT(*) FROM plan_jobs WHERE status = 'generating'", &s.GeneratingJobs},
		{"SELECT COUNT(*) FROM plan_jobs WHERE status = 'completed'", &s.CompletedJobs},
		{"SELECT COUNT(*) FROM plan_jobs WHERE status = 'failed'", &s.FailedJobs},
		{"SELECT COUNT(*) FROM articles", &s.Articles},
	}

	for _, c := range counts {
		if err := db.conn.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return s, nil
}

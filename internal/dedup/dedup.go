// Package dedup filters freshly ingested trends against topics already
// seen within the lookback window.
package dedup

import (
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/ckoehler/trendpress/internal/database"
)

// NormalizeTitle produces the fingerprint used for duplicate detection:
// lowercased, punctuation stripped, whitespace runs collapsed to single
// spaces. Deterministic and side-effect free.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// punctuation and symbols are dropped
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Result holds the outcome of a dedup pass.
type Result struct {
	NewTrends          []database.Trend
	DuplicatesFiltered int
}

// Deduplicator decides which candidates are genuinely new and persists
// the survivors.
type Deduplicator struct {
	db       *database.DB
	lookback time.Duration
}

// New creates a deduplicator with the given lookback window.
func New(db *database.DB, lookback time.Duration) *Deduplicator {
	return &Deduplicator{db: db, lookback: lookback}
}

// ProcessNewTrends filters candidates against the store and against each
// other, persists the genuinely new ones, and returns them with dedup
// statistics. A candidate whose normalized title matches a trend first
// seen within the lookback window is a duplicate. When two candidates in
// the same batch normalize identically, the one with the higher search
// volume wins.
func (d *Deduplicator) ProcessNewTrends(candidates []database.Trend) (*Result, error) {
	r := &Result{}
	if len(candidates) == 0 {
		return r, nil
	}

	// Intra-batch pass first so a lower-volume twin never reaches the store.
	byTitle := make(map[string]database.Trend, len(candidates))
	var order []string
	for _, c := range candidates {
		norm := c.NormalizedTitle
		if norm == "" {
			norm = NormalizeTitle(c.Title)
			c.NormalizedTitle = norm
		}
		if norm == "" {
			r.DuplicatesFiltered++
			continue
		}
		existing, seen := byTitle[norm]
		if !seen {
			byTitle[norm] = c
			order = append(order, norm)
			continue
		}
		r.DuplicatesFiltered++
		if c.SearchVolume > existing.SearchVolume {
			byTitle[norm] = c
		}
	}

	cutoff := database.FormatTime(time.Now().Add(-d.lookback))
	for _, norm := range order {
		c := byTitle[norm]

		dup, err := d.db.HasTrendWithTitleSince(norm, cutoff)
		if err != nil {
			return nil, err
		}
		if dup {
			r.DuplicatesFiltered++
			continue
		}

		inserted, err := d.db.InsertTrend(c)
		if err != nil {
			return nil, err
		}
		if !inserted {
			// Same derived ID already present; counts as a duplicate.
			r.DuplicatesFiltered++
			continue
		}
		r.NewTrends = append(r.NewTrends, c)
	}

	log.Printf("Dedup complete: %d new trends, %d duplicates filtered",
		len(r.NewTrends), r.DuplicatesFiltered)
	return r, nil
}

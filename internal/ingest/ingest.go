// Package ingest pulls trending topics from the quota-limited primary
// source, degrading to the RSS feed and then the cached store batch.
package ingest

import (
	"context"
	"log"
	"time"

	"github.com/ckoehler/trendpress/internal/database"
	"github.com/ckoehler/trendpress/internal/dedup"
	"github.com/ckoehler/trendpress/internal/quota"
)

const cachedBatchLimit = 25

// Ingestor normalizes external trend data into store-shaped records.
// It does not persist anything; filtering and persistence belong to the
// deduplicator.
type Ingestor struct {
	db       *database.DB
	arbiter  *quota.Arbiter
	primary  Source
	fallback Source
}

// New creates an ingestor.
func New(db *database.DB, arbiter *quota.Arbiter, primary, fallback Source) *Ingestor {
	return &Ingestor{db: db, arbiter: arbiter, primary: primary, fallback: fallback}
}

// Fetch returns the current candidate batch for a region. The primary
// source is only consulted when the arbiter permits a call, and the call
// is recorded win or lose. Failures degrade through the fallback chain;
// total unavailability yields an empty batch, never an error, so the
// scheduler cycle can still complete.
func (i *Ingestor) Fetch(ctx context.Context, region string) []database.Trend {
	if i.primary != nil && i.arbiter.CanMakeCall() {
		raw, err := i.primary.FetchTrending(ctx, region)
		i.arbiter.RecordCall(err == nil)
		if err == nil {
			log.Printf("Fetched %d trends from primary source", len(raw))
			return i.normalize(raw, database.SourcePrimary)
		}
		log.Printf("Primary trend source failed, degrading to fallback: %v", err)
	} else {
		log.Println("Trend quota exhausted or primary unavailable, using fallback")
	}

	if i.fallback != nil {
		raw, err := i.fallback.FetchTrending(ctx, region)
		if err == nil {
			log.Printf("Fetched %d trends from RSS fallback", len(raw))
			return i.normalize(raw, database.SourceFallback)
		}
		log.Printf("RSS fallback failed, using cached batch: %v", err)
	}

	cached, err := i.db.LatestTrends(cachedBatchLimit)
	if err != nil {
		log.Printf("Cached trend batch unavailable, yielding empty batch: %v", err)
		return nil
	}
	// The batch is served as fallback data regardless of where each row
	// originally came from; only the returned copies are re-tagged.
	for idx := range cached {
		cached[idx].Source = database.SourceFallback
	}
	return cached
}

// normalize validates raw entries and shapes them into Trend records.
// Malformed entries are dropped at this boundary rather than propagated.
func (i *Ingestor) normalize(raw []RawTrend, source string) []database.Trend {
	now := time.Now()
	day := now.Format("2006-01-02")

	var trends []database.Trend
	for _, r := range raw {
		norm := dedup.NormalizeTitle(r.Title)
		if norm == "" {
			continue
		}
		volume := r.SearchVolume
		if volume < 0 {
			volume = 0
		}
		var category *string
		if r.Category != "" {
			c := r.Category
			category = &c
		}
		trends = append(trends, database.Trend{
			ID:              database.NewTrendID(norm, source, day),
			Title:           r.Title,
			NormalizedTitle: norm,
			Source:          source,
			SearchVolume:    volume,
			Category:        category,
			FirstSeenAt:     database.FormatTime(now),
		})
	}
	return trends
}

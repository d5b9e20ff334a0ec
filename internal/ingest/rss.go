package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"
)

// RSSFallback reads the free Google Trends RSS feed. It is not metered,
// which makes it the degrade path when the quota is exhausted or the
// primary API is down.
type RSSFallback struct {
	feedURL string
	parser  *gofeed.Parser
}

// NewRSSFallback creates the RSS trend source.
func NewRSSFallback(feedURL string) *RSSFallback {
	return &RSSFallback{feedURL: feedURL, parser: gofeed.NewParser()}
}

// FetchTrending parses the trending feed for a region.
func (r *RSSFallback) FetchTrending(ctx context.Context, region string) ([]RawTrend, error) {
	feedURL := r.feedURL
	if region != "" {
		feedURL += "?geo=" + region
	}

	feed, err := r.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing trend feed: %w", err)
	}

	var trends []RawTrend
	for _, item := range feed.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		trends = append(trends, RawTrend{
			Title:        title,
			SearchVolume: approxTraffic(item),
		})
	}
	return trends, nil
}

// approxTraffic reads the ht:approx_traffic extension ("200K+", "1M+")
// the trends feed attaches to each item. Zero when absent or malformed.
func approxTraffic(item *gofeed.Item) int {
	ht, ok := item.Extensions["ht"]
	if !ok {
		return 0
	}
	exts, ok := ht["approx_traffic"]
	if !ok || len(exts) == 0 {
		return 0
	}
	return parseTraffic(exts[0].Value)
}

func parseTraffic(s string) int {
	s = strings.TrimSpace(strings.TrimSuffix(s, "+"))
	if s == "" {
		return 0
	}

	multiplier := 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1_000
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1_000_000
		s = strings.TrimSuffix(s, "M")
	}

	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n * multiplier
}

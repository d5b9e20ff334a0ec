package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// RawTrend is a trend as reported by an external source, before
// normalization and validation.
type RawTrend struct {
	Title        string
	SearchVolume int
	Category     string
}

// Source fetches a batch of trending topics for a region.
type Source interface {
	FetchTrending(ctx context.Context, region string) ([]RawTrend, error)
}

// SerpAPIClient fetches Google Trends "trending now" data through SerpApi.
// Calls against it are metered; the quota arbiter gates every request.
type SerpAPIClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewSerpAPIClient creates the primary trend source client. A small
// client-side limiter smooths bursts so a forced cycle cannot hammer the
// endpoint even when quota remains.
func NewSerpAPIClient(endpoint, apiKeyEnv string) *SerpAPIClient {
	return &SerpAPIClient{
		endpoint: endpoint,
		apiKey:   os.Getenv(apiKeyEnv),
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// IsConfigured returns whether the API key is available.
func (c *SerpAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// FetchTrending requests the current trending searches for a region.
func (c *SerpAPIClient) FetchTrending(ctx context.Context, region string) ([]RawTrend, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("trend API key not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"engine":  {"google_trends_trending_now"},
		"geo":     {region},
		"api_key": {c.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trend API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trend API returned %d", resp.StatusCode)
	}

	var result struct {
		TrendingSearches []struct {
			Query        string `json:"query"`
			SearchVolume int    `json:"search_volume"`
			Categories   []struct {
				Name string `json:"name"`
			} `json:"categories"`
		} `json:"trending_searches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding trend response: %w", err)
	}

	var trends []RawTrend
	for _, ts := range result.TrendingSearches {
		if ts.Query == "" {
			continue
		}
		category := ""
		if len(ts.Categories) > 0 {
			category = ts.Categories[0].Name
		}
		trends = append(trends, RawTrend{
			Title:        ts.Query,
			SearchVolume: ts.SearchVolume,
			Category:     category,
		})
	}
	return trends, nil
}

package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ckoehler/trendpress/internal/database"
	"github.com/ckoehler/trendpress/internal/quota"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeSource struct {
	trends []RawTrend
	err    error
	calls  int
}

func (f *fakeSource) FetchTrending(ctx context.Context, region string) ([]RawTrend, error) {
	f.calls++
	return f.trends, f.err
}

func TestFetchPrefersPrimary(t *testing.T) {
	db := openTestDB(t)
	arbiter := quota.NewArbiter(db, 10, 100)
	primary := &fakeSource{trends: []RawTrend{{Title: "AI Chip", SearchVolume: 5000, Category: "Tech"}}}
	fallback := &fakeSource{trends: []RawTrend{{Title: "Fallback Topic"}}}

	got := New(db, arbiter, primary, fallback).Fetch(context.Background(), "US")

	if len(got) != 1 {
		t.Fatalf("expected 1 trend, got %d", len(got))
	}
	if got[0].Source != database.SourcePrimary {
		t.Errorf("expected primary source tag, got %q", got[0].Source)
	}
	if got[0].NormalizedTitle != "ai chip" {
		t.Errorf("expected normalized title, got %q", got[0].NormalizedTitle)
	}
	if fallback.calls != 0 {
		t.Error("expected fallback untouched")
	}

	state, _ := arbiter.Usage()
	if state.DailyCount != 1 {
		t.Errorf("expected primary call recorded, got count %d", state.DailyCount)
	}
}

func TestFetchDegradesToFallbackOnPrimaryError(t *testing.T) {
	db := openTestDB(t)
	arbiter := quota.NewArbiter(db, 10, 100)
	primary := &fakeSource{err: fmt.Errorf("connection refused")}
	fallback := &fakeSource{trends: []RawTrend{{Title: "Fallback Topic", SearchVolume: 100}}}

	got := New(db, arbiter, primary, fallback).Fetch(context.Background(), "US")

	if len(got) != 1 {
		t.Fatalf("expected 1 trend from fallback, got %d", len(got))
	}
	if got[0].Source != database.SourceFallback {
		t.Errorf("expected fallback source tag, got %q", got[0].Source)
	}

	// The failed attempt still consumed quota.
	state, _ := arbiter.Usage()
	if state.DailyCount != 1 {
		t.Errorf("expected failed call recorded, got count %d", state.DailyCount)
	}
}

func TestFetchSkipsPrimaryWhenQuotaExhausted(t *testing.T) {
	db := openTestDB(t)
	arbiter := quota.NewArbiter(db, 1, 100)
	arbiter.RecordCall(true)

	primary := &fakeSource{trends: []RawTrend{{Title: "Should Not Appear"}}}
	fallback := &fakeSource{trends: []RawTrend{{Title: "Fallback Topic"}}}

	got := New(db, arbiter, primary, fallback).Fetch(context.Background(), "US")

	if primary.calls != 0 {
		t.Error("expected no primary call past the quota")
	}
	if len(got) != 1 || got[0].Source != database.SourceFallback {
		t.Error("expected fallback batch")
	}
}

func TestFetchUsesCachedBatchWhenAllSourcesFail(t *testing.T) {
	db := openTestDB(t)
	cached := database.Trend{
		ID:              "cached",
		Title:           "Cached Topic",
		NormalizedTitle: "cached topic",
		Source:          database.SourcePrimary,
		SearchVolume:    50,
		FirstSeenAt:     database.FormatTime(time.Now()),
	}
	if _, err := db.InsertTrend(cached); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	arbiter := quota.NewArbiter(db, 10, 100)
	primary := &fakeSource{err: fmt.Errorf("down")}
	fallback := &fakeSource{err: fmt.Errorf("also down")}

	got := New(db, arbiter, primary, fallback).Fetch(context.Background(), "US")
	if len(got) != 1 || got[0].ID != "cached" {
		t.Fatal("expected cached store batch")
	}
	// Served as fallback data even though the row was stored as primary.
	if got[0].Source != database.SourceFallback {
		t.Errorf("expected cached batch tagged %q, got %q", database.SourceFallback, got[0].Source)
	}
	stored, _ := db.GetTrend("cached")
	if stored.Source != database.SourcePrimary {
		t.Errorf("expected stored row to keep its source, got %q", stored.Source)
	}
}

func TestFetchYieldsEmptyBatchWhenEverythingFails(t *testing.T) {
	db := openTestDB(t)
	arbiter := quota.NewArbiter(db, 10, 100)
	primary := &fakeSource{err: fmt.Errorf("down")}
	fallback := &fakeSource{err: fmt.Errorf("also down")}

	got := New(db, arbiter, primary, fallback).Fetch(context.Background(), "US")
	if len(got) != 0 {
		t.Errorf("expected empty batch, got %d", len(got))
	}
}

func TestNormalizeDropsMalformedEntries(t *testing.T) {
	db := openTestDB(t)
	i := New(db, quota.NewArbiter(db, 10, 100), nil, nil)

	got := i.normalize([]RawTrend{
		{Title: "Valid Topic", SearchVolume: 10},
		{Title: "!!!"},
		{Title: ""},
		{Title: "Negative Volume", SearchVolume: -5},
	}, database.SourcePrimary)

	if len(got) != 2 {
		t.Fatalf("expected 2 valid trends, got %d", len(got))
	}
	if got[1].SearchVolume != 0 {
		t.Errorf("expected negative volume clamped to 0, got %d", got[1].SearchVolume)
	}
	for _, tr := range got {
		if tr.ID == "" || tr.FirstSeenAt == "" {
			t.Error("expected ID and first_seen_at populated")
		}
	}
}

func TestSerpAPIClientFetchTrending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("engine") != "google_trends_trending_now" {
			t.Errorf("unexpected engine param: %q", r.URL.Query().Get("engine"))
		}
		if r.URL.Query().Get("geo") != "US" {
			t.Errorf("unexpected geo param: %q", r.URL.Query().Get("geo"))
		}
		fmt.Fprint(w, `{"trending_searches": [
			{"query": "ai chip", "search_volume": 5000, "categories": [{"name": "Technology"}]},
			{"query": "", "search_volume": 10},
			{"query": "solar flare", "search_volume": 2000}
		]}`)
	}))
	defer srv.Close()

	t.Setenv("TEST_SERPAPI_KEY", "secret")
	client := NewSerpAPIClient(srv.URL, "TEST_SERPAPI_KEY")

	trends, err := client.FetchTrending(context.Background(), "US")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trends) != 2 {
		t.Fatalf("expected 2 trends (empty query dropped), got %d", len(trends))
	}
	if trends[0].Category != "Technology" {
		t.Errorf("expected category 'Technology', got %q", trends[0].Category)
	}
}

func TestSerpAPIClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	t.Setenv("TEST_SERPAPI_KEY", "secret")
	client := NewSerpAPIClient(srv.URL, "TEST_SERPAPI_KEY")

	if _, err := client.FetchTrending(context.Background(), "US"); err == nil {
		t.Error("expected error on HTTP 429")
	}
}

func TestSerpAPIClientUnconfigured(t *testing.T) {
	os.Unsetenv("TEST_MISSING_KEY")
	client := NewSerpAPIClient("http://example.invalid", "TEST_MISSING_KEY")
	if client.IsConfigured() {
		t.Error("expected unconfigured without key")
	}
	if _, err := client.FetchTrending(context.Background(), "US"); err == nil {
		t.Error("expected error without API key")
	}
}

func TestParseTraffic(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"200K+", 200_000},
		{"1M+", 1_000_000},
		{"500+", 500},
		{"2,000+", 2000},
		{"", 0},
		{"garbage", 0},
	}
	for _, c := range cases {
		if got := parseTraffic(c.in); got != c.want {
			t.Errorf("parseTraffic(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

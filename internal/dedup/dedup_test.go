package dedup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ckoehler/trendpress/internal/database"
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

func candidate(title string, volume int) database.Trend {
	norm := NormalizeTitle(title)
	return database.Trend{
		ID:              database.NewTrendID(norm, database.SourcePrimary, database.Today()),
		Title:           title,
		NormalizedTitle: norm,
		Source:          database.SourcePrimary,
		SearchVolume:    volume,
		FirstSeenAt:     database.FormatTime(time.Now()),
	}
}

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"AI Chip", "ai chip"},
		{"ai chip!", "ai chip"},
		{"  AI   Chip  ", "ai chip"},
		{"A.I. Chip-Maker's Rise", "ai chipmakers rise"},
		{"GPT-5", "gpt5"},
		{"!!!", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeTitle(c.in); got != c.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeTitleDeterministic(t *testing.T) {
	for i := 0; i < 3; i++ {
		if NormalizeTitle("AI Chip!") != "ai chip" {
			t.Fatal("expected identical output on repeated calls")
		}
	}
}

func TestIntraBatchKeepsHigherVolume(t *testing.T) {
	db := openTestDB(t)
	d := New(db, 72*time.Hour)

	r, err := d.ProcessNewTrends([]database.Trend{
		candidate("AI Chip", 5000),
		candidate("ai chip!", 7000),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.NewTrends) != 1 {
		t.Fatalf("expected 1 new trend, got %d", len(r.NewTrends))
	}
	if r.NewTrends[0].SearchVolume != 7000 {
		t.Errorf("expected the 7000-volume entry kept, got %d", r.NewTrends[0].SearchVolume)
	}
	if r.DuplicatesFiltered != 1 {
		t.Errorf("expected 1 duplicate filtered, got %d", r.DuplicatesFiltered)
	}
}

func TestDedupIdempotent(t *testing.T) {
	db := openTestDB(t)
	d := New(db, 72*time.Hour)

	batch := []database.Trend{
		candidate("AI Chip", 5000),
		candidate("Quantum Radio", 3000),
	}

	first, err := d.ProcessNewTrends(batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.NewTrends) != 2 {
		t.Fatalf("expected 2 new trends on first pass, got %d", len(first.NewTrends))
	}

	second, err := d.ProcessNewTrends(batch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second.NewTrends) != 0 {
		t.Errorf("expected 0 new trends on second pass, got %d", len(second.NewTrends))
	}
	if second.DuplicatesFiltered != 2 {
		t.Errorf("expected 2 duplicates filtered, got %d", second.DuplicatesFiltered)
	}
}

func TestLookbackWindowExpires(t *testing.T) {
	db := openTestDB(t)
	d := New(db, 48*time.Hour)

	old := candidate("AI Chip", 5000)
	old.FirstSeenAt = database.FormatTime(time.Now().Add(-72 * time.Hour))
	old.ID = database.NewTrendID(old.NormalizedTitle, old.Source, "2026-08-24")
	if _, err := db.InsertTrend(old); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, err := d.ProcessNewTrends([]database.Trend{candidate("AI Chip", 6000)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.NewTrends) != 1 {
		t.Errorf("expected re-entry after lookback expiry, got %d new", len(r.NewTrends))
	}
}

func TestEmptyTitlesDropped(t *testing.T) {
	db := openTestDB(t)
	d := New(db, 72*time.Hour)

	r, err := d.ProcessNewTrends([]database.Trend{candidate("!!!", 100)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.NewTrends) != 0 {
		t.Error("expected punctuation-only title dropped")
	}
}

func TestEmptyBatch(t *testing.T) {
	db := openTestDB(t)
	d := New(db, 72*time.Hour)

	r, err := d.ProcessNewTrends(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.NewTrends) != 0 || r.DuplicatesFiltered != 0 {
		t.Error("expected empty result for empty batch")
	}
}

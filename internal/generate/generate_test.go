package generate

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
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

func seedTrend(t *testing.T, db *database.DB) database.Trend {
	t.Helper()
	tr := database.Trend{
		ID:              "t1",
		Title:           "AI Chip",
		NormalizedTitle: "ai chip",
		Source:          database.SourcePrimary,
		SearchVolume:    5000,
		FirstSeenAt:     database.FormatTime(time.Now()),
	}
	if _, err := db.InsertTrend(tr); err != nil {
		t.Fatalf("failed to seed trend: %v", err)
	}
	return tr
}

func TestGenerateStoresArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("unexpected auth header: %q", r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, `{"choices": [{"message": {"content": "# AI Chip\n\nBody text."}}]}`)
	}))
	defer srv.Close()

	db := openTestDB(t)
	tr := seedTrend(t, db)

	t.Setenv("TEST_GEN_KEY", "secret")
	w := NewLLMWriter(db, srv.URL, "test-model", "TEST_GEN_KEY", 512)

	id, err := w.Generate(context.Background(), tr, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero article ID")
	}

	a, _ := db.GetArticle(id)
	if a == nil {
		t.Fatal("expected stored article")
	}
	if a.TrendID != "t1" {
		t.Errorf("expected trend t1, got %q", a.TrendID)
	}
	if a.BodyMarkdown != "# AI Chip\n\nBody text." {
		t.Errorf("unexpected body: %q", a.BodyMarkdown)
	}
}

func TestGenerateFailsOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	db := openTestDB(t)
	tr := seedTrend(t, db)

	t.Setenv("TEST_GEN_KEY", "secret")
	w := NewLLMWriter(db, srv.URL, "test-model", "TEST_GEN_KEY", 512)

	if _, err := w.Generate(context.Background(), tr, 1); err == nil {
		t.Error("expected error on HTTP 503")
	}
}

func TestGenerateFailsOnEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"content": "   "}}]}`)
	}))
	defer srv.Close()

	db := openTestDB(t)
	tr := seedTrend(t, db)

	t.Setenv("TEST_GEN_KEY", "secret")
	w := NewLLMWriter(db, srv.URL, "test-model", "TEST_GEN_KEY", 512)

	if _, err := w.Generate(context.Background(), tr, 1); err == nil {
		t.Error("expected error on empty article body")
	}
}

func TestGenerateUnconfigured(t *testing.T) {
	db := openTestDB(t)
	tr := seedTrend(t, db)

	w := NewLLMWriter(db, "http://example.invalid", "test-model", "TEST_UNSET_KEY", 512)
	if w.IsConfigured() {
		t.Error("expected unconfigured without key")
	}
	if _, err := w.Generate(context.Background(), tr, 1); err == nil {
		t.Error("expected error without API key")
	}
}

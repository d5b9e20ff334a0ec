// Package generate turns a trend into a stored article. The scheduler
// only depends on the Generator interface; how text is produced is the
// implementation's business.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ckoehler/trendpress/internal/database"
)

// Generator produces an article for a trend and returns the stored
// article's ID. Implementations may take seconds to minutes; the caller
// enforces single-flight execution and recovers hung calls via the
// stuck-job detector.
type Generator interface {
	Generate(ctx context.Context, trend database.Trend, position int) (int64, error)
}

const articlePrompt = `Write a news-style article about the trending search topic below.

Topic: %s
Category: %s

Requirements:
- Markdown, 400-700 words, with a # title line and ## section headings
- Neutral, factual tone; explain what the topic is and why it is trending
- No invented quotes, statistics, or attributions`

// LLMWriter generates article text through an OpenAI-compatible chat
// completions endpoint and stores the result.
type LLMWriter struct {
	db        *database.DB
	endpoint  string
	model     string
	apiKey    string
	maxTokens int
	client    *http.Client
}

// NewLLMWriter creates an LLM-backed generator.
func NewLLMWriter(db *database.DB, endpoint, model, apiKeyEnv string, maxTokens int) *LLMWriter {
	return &LLMWriter{
		db:        db,
		endpoint:  endpoint,
		model:     model,
		apiKey:    os.Getenv(apiKeyEnv),
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
}

// IsConfigured checks if the API key is set.
func (w *LLMWriter) IsConfigured() bool {
	return w.apiKey != ""
}

// Generate writes an article for the trend and returns its stored ID.
func (w *LLMWriter) Generate(ctx context.Context, trend database.Trend, position int) (int64, error) {
	category := "General"
	if trend.Category != nil && *trend.Category != "" {
		category = *trend.Category
	}

	body, err := w.complete(ctx, fmt.Sprintf(articlePrompt, trend.Title, category))
	if err != nil {
		return 0, err
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return 0, fmt.Errorf("generator returned empty article for %q", trend.Title)
	}

	id, err := w.db.InsertArticle(trend.ID, trend.Title, body)
	if err != nil {
		return 0, fmt.Errorf("storing article: %w", err)
	}
	return id, nil
}

func (w *LLMWriter) complete(ctx context.Context, prompt string) (string, error) {
	if w.apiKey == "" {
		return "", fmt.Errorf("generation API key not configured")
	}

	payload := map[string]any{
		"model": w.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  w.maxTokens,
		"temperature": 0.4,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("generation API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in generation response")
	}
	return result.Choices[0].Message.Content, nil
}

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammad-safakhou/compendium/config"
	"github.com/mohammad-safakhou/compendium/internal/research"
)

func testLLMConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:    "openai",
		APIKey:      "sk-test",
		BaseURL:     baseURL,
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxTokens:   512,
		Timeout:     time.Second,
	}
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "gpt-4o-mini" {
			t.Errorf("wrong model %v", req["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  a briefing  "}},
			},
		})
	}))
	defer srv.Close()

	gen := NewOpenAI(testLLMConfig(srv.URL))
	got, err := gen.Complete(context.Background(), "prompt", research.GenerateOptions{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "a briefing" {
		t.Fatalf("expected trimmed choice, got %q", got)
	}
}

func TestCompleteClassifiesStatuses(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		gen := NewOpenAI(testLLMConfig(srv.URL))
		_, err := gen.Complete(context.Background(), "prompt", research.GenerateOptions{})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if research.IsRetryable(err) != tc.retryable {
			t.Fatalf("status %d: retryable=%v, want %v", tc.status, research.IsRetryable(err), tc.retryable)
		}
	}
}

func TestCompleteEmptyChoicesIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	gen := NewOpenAI(testLLMConfig(srv.URL))
	_, err := gen.Complete(context.Background(), "prompt", research.GenerateOptions{})
	if err == nil || !research.IsRetryable(err) {
		t.Fatalf("expected transient error for empty choices, got %v", err)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testLLMConfig("")
	cfg.Provider = "palm"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

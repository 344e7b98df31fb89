// Package llm implements the generation collaborator.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/compendium/config"
	"github.com/mohammad-safakhou/compendium/internal/research"
)

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

// ErrUnsupportedProvider is returned for provider names New does not know.
var ErrUnsupportedProvider = fmt.Errorf("unsupported llm provider")

// New builds the configured generator.
func New(cfg config.LLMConfig) (research.Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// OpenAI calls the chat completions API.
type OpenAI struct {
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	endpoint    string
	client      *http.Client
	logger      *log.Logger
}

// NewOpenAI builds an OpenAI generator from config. BaseURL overrides the
// default endpoint for compatible gateways.
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	endpoint := openaiAPIURL
	if cfg.BaseURL != "" {
		endpoint = strings.TrimSuffix(cfg.BaseURL, "/") + "/chat/completions"
	}
	return &OpenAI{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		endpoint:    endpoint,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      log.New(log.Writer(), "[OPENAI] ", log.LstdFlags),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one prompt and returns the first choice.
func (o *OpenAI) Complete(ctx context.Context, prompt string, opts research.GenerateOptions) (string, error) {
	temp := o.temperature
	if opts.Temperature > 0 {
		temp = opts.Temperature
	}
	maxTokens := o.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	body, err := json.Marshal(chatRequest{
		Model:       o.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temp,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", research.Permanent("synthesize", fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", research.Permanent("synthesize", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", research.Transient("synthesize", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", research.Quota("synthesize", fmt.Errorf("openai returned status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return "", research.Transient("synthesize", fmt.Errorf("openai returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", research.Permanent("synthesize", fmt.Errorf("openai returned status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", research.Transient("synthesize", fmt.Errorf("parse response: %w", err))
	}
	if parsed.Error != nil {
		return "", research.Permanent("synthesize", fmt.Errorf("openai: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", research.Transient("synthesize", fmt.Errorf("openai returned no choices"))
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

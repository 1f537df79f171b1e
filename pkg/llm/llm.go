// Package llm provides chat-model clients behind a single completion
// interface. Clients sample at temperature 0 and never retry on their own.
package llm

import (
	"context"
	"errors"
	"net/http"
)

// Client sends a system and user prompt and returns the model's text.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var (
	ErrMissingAPIKey = errors.New("api key is required")
	ErrEmptyResponse = errors.New("no text content in response")
)

const defaultMaxTokens = 1024

// Config is shared by all providers.
type Config struct {
	APIKey string
	Model  string

	// Optional with defaults.
	BaseURL    string
	MaxTokens  int64
	HTTPClient *http.Client
}

func (c *Config) validate(defaultModel string) error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.MaxTokens < 0 {
		return errors.New("max tokens must be > 0")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return nil
}

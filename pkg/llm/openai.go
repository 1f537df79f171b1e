package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultOpenAIBaseURL = "https://api.studio.nebius.com/v1/"
	DefaultOpenAIModel   = "meta-llama/Llama-3.3-70B-Instruct"
)

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions endpoint.
type OpenAIClient struct {
	log       *slog.Logger
	llm       *openai.LLM
	model     string
	maxTokens int
}

func NewOpenAIClient(log *slog.Logger, cfg Config) (*OpenAIClient, error) {
	if err := cfg.validate(DefaultOpenAIModel); err != nil {
		return nil, fmt.Errorf("failed to validate openai config: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	model, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithHTTPClient(cfg.HTTPClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return &OpenAIClient{
		log:       log,
		llm:       model,
		model:     cfg.Model,
		maxTokens: int(cfg.MaxTokens),
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	c.log.Debug("llm: openai call starting", "model", c.model, "maxTokens", c.maxTokens, "userPromptLen", len(userPrompt))

	messages := make([]llms.MessageContent, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextContent{Text: systemPrompt}},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextContent{Text: userPrompt}},
	})

	resp, err := c.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(0),
		llms.WithMaxTokens(c.maxTokens),
	)
	duration := time.Since(start)
	if err != nil {
		c.log.Warn("llm: openai call failed", "duration", duration, "error", err)
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrEmptyResponse
	}
	c.log.Debug("llm: openai call completed", "duration", duration, "stopReason", resp.Choices[0].StopReason)

	return resp.Choices[0].Content, nil
}

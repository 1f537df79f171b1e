package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/askdb/pkg/llm"
	"github.com/malbeclabs/askdb/pkg/querier"
)

const defaultLLMTimeout = 60 * time.Second

// Gateway is the language model seen through the three operations the
// pipeline needs.
type Gateway interface {
	Analyze(ctx context.Context, question string) (string, error)
	GenerateSQL(ctx context.Context, question, analysis string) (string, error)
	GenerateAnswer(ctx context.Context, question, sqlQuery string, rows []querier.Row) (string, error)
}

type GatewayConfig struct {
	Logger  *slog.Logger
	LLM     llm.Client
	Prompts *Prompts

	// Optional with defaults.
	Timeout time.Duration
}

func (cfg *GatewayConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.LLM == nil {
		return fmt.Errorf("LLM client is required")
	}
	if cfg.Prompts == nil {
		return fmt.Errorf("prompts are required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultLLMTimeout
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("LLM timeout must be > 0")
	}
	return nil
}

// LLMGateway builds prompts and sends them to an llm.Client, bounding each
// call by the configured timeout.
type LLMGateway struct {
	log *slog.Logger
	cfg GatewayConfig
}

func NewGateway(cfg GatewayConfig) (*LLMGateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate gateway config: %w", err)
	}
	return &LLMGateway{log: cfg.Logger, cfg: cfg}, nil
}

func (g *LLMGateway) Analyze(ctx context.Context, question string) (string, error) {
	userPrompt := fmt.Sprintf("Question: %s\n\nProvide your confidence score and analysis:", question)
	return g.complete(ctx, "analyze", g.cfg.Prompts.Analyze, userPrompt)
}

func (g *LLMGateway) GenerateSQL(ctx context.Context, question, analysis string) (string, error) {
	userPrompt := fmt.Sprintf("Question: %s\n\nPrevious analysis: %s\n\nSQL Query (write only the raw query):", question, analysis)
	return g.complete(ctx, "generateSql", g.cfg.Prompts.GenerateSQL, userPrompt)
}

func (g *LLMGateway) GenerateAnswer(ctx context.Context, question, sqlQuery string, rows []querier.Row) (string, error) {
	if rows == nil {
		rows = []querier.Row{}
	}
	// Rows are already normalized, so wide integers are strings here.
	resultJSON, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("failed to encode query result: %w", err)
	}
	userPrompt := fmt.Sprintf("Question: %s\n\nSQL Query: %s\n\nQuery Result: %s\n\nPlease explain these results in a clear, natural way:", question, sqlQuery, resultJSON)
	return g.complete(ctx, "generateAnswer", g.cfg.Prompts.Answer, userPrompt)
}

func (g *LLMGateway) complete(ctx context.Context, op, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	out, err := g.cfg.LLM.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		g.log.Debug("gateway: completion failed", "op", op, "error", err)
		return "", err
	}
	return out, nil
}

package agent

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/askdb/pkg/agent/prompts"
)

const schemaPlaceholder = "{{SCHEMA}}"

// Prompts contains the system prompts for each model-backed stage.
type Prompts struct {
	Analyze     string // Relevance analysis with confidence marker
	GenerateSQL string // SQL generation rules
	Answer      string // Natural-language explanation of results
}

// LoadPrompts loads all prompts from the embedded filesystem and injects the
// schema description into the prompts that need it.
func LoadPrompts(schemaText string) (*Prompts, error) {
	p := &Prompts{}

	var err error
	if p.Analyze, err = loadPrompt("ANALYZE.md"); err != nil {
		return nil, fmt.Errorf("failed to load ANALYZE: %w", err)
	}
	if p.GenerateSQL, err = loadPrompt("GENERATE_SQL.md"); err != nil {
		return nil, fmt.Errorf("failed to load GENERATE_SQL: %w", err)
	}
	if p.Answer, err = loadPrompt("ANSWER.md"); err != nil {
		return nil, fmt.Errorf("failed to load ANSWER: %w", err)
	}

	schemaText = strings.TrimSpace(schemaText)
	p.Analyze = strings.Replace(p.Analyze, schemaPlaceholder, schemaText, 1)
	p.GenerateSQL = strings.Replace(p.GenerateSQL, schemaPlaceholder, schemaText, 1)

	return p, nil
}

func loadPrompt(path string) (string, error) {
	data, err := prompts.PromptsFS.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

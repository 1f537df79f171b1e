// Package sqlguard statically checks and cleans model-generated SQL before it
// reaches the store.
package sqlguard

import "strings"

const (
	ErrEmpty               = "Query is empty"
	ErrNotSelect           = "Only SELECT queries are allowed"
	ErrDisallowedKeywords  = "Query contains disallowed keywords"
	ErrMultipleStatements  = "Multiple queries are not allowed"
	ErrUnbalancedSingleQts = "Query contains unbalanced single quotes"
	ErrUnbalancedDoubleQts = "Query contains unbalanced double quotes"
)

// Mutating operations rejected anywhere in the query. Matching is by
// substring, so a literal or alias containing one of these words is also
// rejected.
var disallowedKeywords = []string{"insert", "update", "delete", "drop", "truncate", "alter"}

// Validation is the outcome of Validate. Error is set iff Valid is false.
type Validation struct {
	Valid bool   `json:"isValid"`
	Error string `json:"error,omitempty"`
}

func invalid(msg string) Validation {
	return Validation{Valid: false, Error: msg}
}

// Validate reports whether query is a single read-only SELECT statement with
// balanced quoting. Rules are applied in order and the first failure wins.
func Validate(query string) Validation {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return invalid(ErrEmpty)
	}

	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "select") {
		return invalid(ErrNotSelect)
	}

	for _, kw := range disallowedKeywords {
		if strings.Contains(lower, kw) {
			return invalid(ErrDisallowedKeywords)
		}
	}

	if i := strings.IndexByte(trimmed, ';'); i != -1 && i != len(trimmed)-1 {
		return invalid(ErrMultipleStatements)
	}

	if strings.Count(trimmed, "'")%2 != 0 {
		return invalid(ErrUnbalancedSingleQts)
	}
	if strings.Count(trimmed, `"`)%2 != 0 {
		return invalid(ErrUnbalancedDoubleQts)
	}

	return Validation{Valid: true}
}

// Sanitize extracts SQL from raw model output: the body of a markdown code
// fence if present, trimmed, with all trailing semicolons removed.
func Sanitize(raw string) string {
	sql := extractFromCodeBlock(strings.TrimSpace(raw))
	for {
		next := strings.TrimSpace(strings.TrimRight(sql, ";"))
		if next == sql {
			return sql
		}
		sql = next
	}
}

// extractFromCodeBlock returns the contents of the first fenced block, or s
// unchanged when there is none. An unterminated opening fence is dropped.
func extractFromCodeBlock(s string) string {
	start := strings.Index(s, "```")
	if start == -1 {
		return s
	}
	body := s[start+3:]

	// The rest of the opening line is the info string ("sql", "sqlite", ...),
	// whatever it says. A fence without a newline only drops a known one.
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		body = body[nl+1:]
	} else if word, rest, ok := strings.Cut(body, " "); ok && isInfoString(word) {
		body = rest
	}

	if end := strings.Index(body, "```"); end != -1 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func isInfoString(s string) bool {
	switch strings.ToLower(s) {
	case "sql", "postgresql", "postgres", "psql", "pgsql":
		return true
	}
	return false
}

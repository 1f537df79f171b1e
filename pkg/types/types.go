// Package types holds the HTTP paths and JSON shapes shared by the server and
// its clients.
package types

import "encoding/json"

const (
	HealthzPath     = "/healthz"
	ReadyzPath      = "/readyz"
	MetricsPath     = "/metrics"
	SchemaPath      = "/api/schema"
	SchemaTablePath = "/api/schema/{table}"
	AgentQueryPath  = "/api/agent/query"
	AgentStreamPath = "/api/agent/stream"
	SocketPath      = "/ws"
)

const (
	APIKeyHeader     = "X-Api-Key"
	APIKeyQueryParam = "api_key"
	RequestIDHeader  = "X-Request-Id"
)

// Event names on the wire. The pipeline events match agent.EventKind.
const (
	EventQuestion    = "question"
	EventThought     = "thought"
	EventSQLQuery    = "sqlQuery"
	EventQueryResult = "queryResult"
	EventAnswerChunk = "answerChunk"
	EventComplete    = "complete"
	EventError       = "error"
	EventHeartbeat   = "heartbeat"
)

const (
	MsgQueryRequired       = "Query is required"
	MsgProcessingFailed    = "Error processing your question"
	MsgQueryRequiredInBody = "Query is required in the request body."
	MsgNoDataFound         = "No data found for your query."
	MsgInvalidMessage      = "Invalid message: expected a JSON envelope"
	MsgInvalidQuestion     = "Invalid question payload: expected {\"query\": string}"
)

// Envelope frames every WebSocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type QuestionRequest struct {
	Query string `json:"query"`
}

type ThoughtPayload struct {
	Thought string `json:"thought"`
}

type SQLQueryPayload struct {
	SQLQuery string `json:"sqlQuery"`
}

type QueryResultPayload struct {
	Result []map[string]any `json:"result"`
}

type AnswerChunkPayload struct {
	Chunk string `json:"chunk"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type HeartbeatPayload struct {
	Time string `json:"time"`
}

// AgentQueryResponse is the body of a completed non-streaming run.
type AgentQueryResponse struct {
	RunID       string           `json:"runId"`
	Answer      string           `json:"answer"`
	SQLQuery    string           `json:"sqlQuery,omitempty"`
	QueryResult []map[string]any `json:"queryResult,omitempty"`
	Thoughts    []string         `json:"thoughts"`
	Outcome     string           `json:"outcome"`
	Error       string           `json:"error,omitempty"`
}

type SchemaResponse struct {
	Schema string `json:"schema"`
}

type TableResponse struct {
	Name      string         `json:"name"`
	Columns   []ColumnInfo   `json:"columns"`
	Relations []RelationInfo `json:"relations"`
}

type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type RelationInfo struct {
	Field  string `json:"field"`
	Target string `json:"target"`
	Many   bool   `json:"many"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

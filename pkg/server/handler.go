package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/malbeclabs/askdb/pkg/agent"
	"github.com/malbeclabs/askdb/pkg/querier"
	"github.com/malbeclabs/askdb/pkg/schema"
	"github.com/malbeclabs/askdb/pkg/types"
)

type Handler struct {
	log        *slog.Logger
	cfg        Config
	ready      *readinessProbe
	schemaText string
}

func NewHandler(log *slog.Logger, cfg Config) (*Handler, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("handler config validation failed: %w", err)
	}
	return &Handler{
		log:        log,
		cfg:        cfg,
		ready:      newReadinessProbe(log, cfg),
		schemaText: cfg.Schema.Describe(),
	}, nil
}

// Router returns the HTTP routes. Health endpoints are unauthenticated;
// everything under /api and the socket require the API key when one is set.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", types.APIKeyHeader},
		ExposedHeaders:   []string{types.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get(types.HealthzPath, h.healthzHandler)
	r.Head(types.HealthzPath, h.healthzHandler)
	r.Get(types.ReadyzPath, h.readyzHandler)
	r.Head(types.ReadyzPath, h.readyzHandler)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAPIKey)
		r.Get(types.SchemaPath, h.schemaHandler)
		r.Get(types.SchemaTablePath, h.schemaTableHandler)
		r.Post(types.AgentQueryPath, h.agentQueryHandler)
		r.Post(types.AgentStreamPath, h.agentStreamHandler)
		r.Get(types.SocketPath, h.socketHandler)
	})

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(types.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(types.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeJSONError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func (h *Handler) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
	})
}

func (h *Handler) readyzHandler(w http.ResponseWriter, r *http.Request) {
	res := h.ready.check(r.Context())
	status := http.StatusOK
	body := map[string]any{
		"status":    "ready",
		"checkedAt": res.checkedAt.UTC().Format(time.RFC3339),
	}
	if res.err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "not ready"
		body["error"] = "store unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) schemaHandler(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, types.SchemaResponse{Schema: h.schemaText})
}

func (h *Handler) schemaTableHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	tbl, ok := h.cfg.Schema.Table(name)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "Not Found", Message: "unknown table: " + name})
		return
	}

	resp := types.TableResponse{
		Name:      tbl.Name,
		Columns:   make([]types.ColumnInfo, 0, len(tbl.Columns)),
		Relations: make([]types.RelationInfo, 0, len(tbl.Relations)),
	}
	for _, c := range tbl.Columns {
		resp.Columns = append(resp.Columns, types.ColumnInfo{Name: c.Name, Type: schema.MapType(c.Type)})
	}
	for _, rel := range tbl.Relations {
		resp.Relations = append(resp.Relations, types.RelationInfo{Field: rel.Field, Target: rel.Target, Many: rel.Many})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// decodeQuestion reads a {query} body. The returned query is empty when the
// field is missing or blank.
func (h *Handler) decodeQuestion(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	var req types.QuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", err
	}
	return strings.TrimSpace(req.Query), nil
}

func (h *Handler) agentQueryHandler(w http.ResponseWriter, r *http.Request) {
	question, err := h.decodeQuestion(w, r)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			h.writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if question == "" {
		h.writeJSONError(w, http.StatusBadRequest, types.MsgQueryRequiredInBody)
		return
	}

	res := h.cfg.Engine.Run(r.Context(), question, nil)
	if res.Outcome == agent.OutcomeAnswered && len(res.QueryResult) == 0 {
		h.writeJSON(w, http.StatusNotFound, types.MessageResponse{Message: types.MsgNoDataFound})
		return
	}

	resp := types.AgentQueryResponse{
		RunID:       res.RunID,
		Answer:      res.Answer,
		SQLQuery:    res.SQLQuery,
		QueryResult: rowMaps(res.QueryResult),
		Thoughts:    res.Thoughts,
		Outcome:     string(res.Outcome),
	}
	if resp.Thoughts == nil {
		resp.Thoughts = []string{}
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func rowMaps(rows []querier.Row) []map[string]any {
	if rows == nil {
		return nil
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out
}

// wireEvent maps an engine event to its wire name and payload. A nil payload
// means the event carries no data.
func wireEvent(ev agent.Event) (string, any) {
	switch ev.Kind {
	case agent.EventThought:
		return types.EventThought, types.ThoughtPayload{Thought: ev.Text}
	case agent.EventSQLQuery:
		return types.EventSQLQuery, types.SQLQueryPayload{SQLQuery: ev.Text}
	case agent.EventQueryResult:
		result := rowMaps(ev.Rows)
		if result == nil {
			result = []map[string]any{}
		}
		return types.EventQueryResult, types.QueryResultPayload{Result: result}
	case agent.EventAnswer:
		return types.EventAnswerChunk, types.AnswerChunkPayload{Chunk: ev.Text}
	case agent.EventComplete:
		return types.EventComplete, nil
	}
	return string(ev.Kind), nil
}

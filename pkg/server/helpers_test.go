package server

import (
	"bufio"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/askdb/pkg/agent"
	"github.com/malbeclabs/askdb/pkg/querier"
	"github.com/malbeclabs/askdb/pkg/schema"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	RunFunc func(ctx context.Context, question string, sink agent.Sink) *agent.Result
}

func (m *mockEngine) Run(ctx context.Context, question string, sink agent.Sink) *agent.Result {
	return m.RunFunc(ctx, question, sink)
}

type mockStore struct {
	PingFunc func(ctx context.Context) error
	calls    atomic.Int64
}

func (m *mockStore) Ping(ctx context.Context) error {
	m.calls.Add(1)
	return m.PingFunc(ctx)
}

// scriptedEngine replays the events of an answered run.
func scriptedEngine() *mockEngine {
	return &mockEngine{RunFunc: func(_ context.Context, question string, sink agent.Sink) *agent.Result {
		if sink == nil {
			sink = agent.SinkFunc(func(agent.Event) {})
		}
		rows := []querier.Row{{"name": "Ada", "id": "9007199254740993"}}
		sink.Emit(agent.Event{Kind: agent.EventThought, Text: "Analyzing your question..."})
		sink.Emit(agent.Event{Kind: agent.EventThought, Text: "[CONFIDENCE: 0.90] ok"})
		sink.Emit(agent.Event{Kind: agent.EventSQLQuery, Text: "SELECT name, id FROM customer"})
		sink.Emit(agent.Event{Kind: agent.EventQueryResult, Rows: rows})
		sink.Emit(agent.Event{Kind: agent.EventAnswer, Text: "Ada is a customer."})
		sink.Emit(agent.Event{Kind: agent.EventComplete})
		return &agent.Result{
			RunID:       "run-1",
			Question:    question,
			SQLQuery:    "SELECT name, id FROM customer",
			QueryResult: rows,
			Answer:      "Ada is a customer.",
			Thoughts:    []string{"Analyzing your question...", "[CONFIDENCE: 0.90] ok"},
			Outcome:     agent.OutcomeAnswered,
		}
	}}
}

func okStore() *mockStore {
	return &mockStore{PingFunc: func(context.Context) error { return nil }}
}

func testSchema(t *testing.T) *schema.Descriptor {
	t.Helper()
	desc, err := schema.Default()
	require.NoError(t, err)
	return desc
}

func newTestConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Engine:          scriptedEngine(),
		Store:           okStore(),
		Schema:          testSchema(t),
		Clock:           clockwork.NewFakeClock(),
		ShutdownTimeout: 250 * time.Millisecond,
	}
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	h, err := NewHandler(logger, cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

type sseEvent struct {
	name string
	data string
}

func readSSEEvent(r *bufio.Reader) (sseEvent, error) {
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return ev, err
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name == "" {
				return ev, errors.New("empty event")
			}
			return ev, nil
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func readAllSSE(t *testing.T, r *bufio.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	for {
		ev, err := readSSEEvent(r)
		if err != nil {
			return events
		}
		events = append(events, ev)
	}
}

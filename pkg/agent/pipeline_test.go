package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/malbeclabs/askdb/pkg/querier"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	AnalyzeFunc        func(ctx context.Context, question string) (string, error)
	GenerateSQLFunc    func(ctx context.Context, question, analysis string) (string, error)
	GenerateAnswerFunc func(ctx context.Context, question, sqlQuery string, rows []querier.Row) (string, error)
}

func (m *mockGateway) Analyze(ctx context.Context, question string) (string, error) {
	return m.AnalyzeFunc(ctx, question)
}

func (m *mockGateway) GenerateSQL(ctx context.Context, question, analysis string) (string, error) {
	return m.GenerateSQLFunc(ctx, question, analysis)
}

func (m *mockGateway) GenerateAnswer(ctx context.Context, question, sqlQuery string, rows []querier.Row) (string, error) {
	return m.GenerateAnswerFunc(ctx, question, sqlQuery, rows)
}

type mockExecutor struct {
	ExecuteFunc func(ctx context.Context, sql string) querier.Result
}

func (m *mockExecutor) Execute(ctx context.Context, sql string) querier.Result {
	return m.ExecuteFunc(ctx, sql)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]EventKind, len(s.events))
	for i, e := range s.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (s *recordingSink) texts(kind EventKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e.Text)
		}
	}
	return out
}

func (s *recordingSink) count(kind EventKind) int {
	n := 0
	for _, k := range s.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func happyGateway() *mockGateway {
	return &mockGateway{
		AnalyzeFunc: func(context.Context, string) (string, error) {
			return "[CONFIDENCE: 0.90] The question asks for a customer count.", nil
		},
		GenerateSQLFunc: func(context.Context, string, string) (string, error) {
			return "  SELECT COUNT(*) AS n FROM customer;; \n", nil
		},
		GenerateAnswerFunc: func(_ context.Context, _ string, _ string, rows []querier.Row) (string, error) {
			return "There are 2 customers.", nil
		},
	}
}

func happyExecutor() *mockExecutor {
	return &mockExecutor{
		ExecuteFunc: func(_ context.Context, sql string) querier.Result {
			return querier.Result{Success: true, Data: []querier.Row{{"n": int64(2)}}, Query: sql}
		},
	}
}

func newTestEngine(t *testing.T, gw Gateway, ex Executor) *Engine {
	t.Helper()
	e, err := New(Config{Logger: logger, Gateway: gw, Executor: ex})
	require.NoError(t, err)
	return e
}

func TestAskDB_Agent_ConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
		want    float64
	}{
		{name: "missing logger", cfg: Config{Gateway: &mockGateway{}, Executor: &mockExecutor{}}, wantErr: "logger is required"},
		{name: "missing gateway", cfg: Config{Logger: logger, Executor: &mockExecutor{}}, wantErr: "gateway is required"},
		{name: "missing executor", cfg: Config{Logger: logger, Gateway: &mockGateway{}}, wantErr: "executor is required"},
		{name: "negative threshold", cfg: Config{Logger: logger, Gateway: &mockGateway{}, Executor: &mockExecutor{}, ConfidenceThreshold: Threshold(-0.1)}, wantErr: "confidence threshold"},
		{name: "threshold above one", cfg: Config{Logger: logger, Gateway: &mockGateway{}, Executor: &mockExecutor{}, ConfidenceThreshold: Threshold(1.5)}, wantErr: "confidence threshold"},
		{name: "default threshold", cfg: Config{Logger: logger, Gateway: &mockGateway{}, Executor: &mockExecutor{}}, want: DefaultConfidenceThreshold},
		{name: "custom threshold", cfg: Config{Logger: logger, Gateway: &mockGateway{}, Executor: &mockExecutor{}, ConfidenceThreshold: Threshold(0.7)}, want: 0.7},
		{name: "zero threshold kept", cfg: Config{Logger: logger, Gateway: &mockGateway{}, Executor: &mockExecutor{}, ConfidenceThreshold: Threshold(0)}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, *cfg.ConfidenceThreshold)
		})
	}
}

func TestAskDB_Agent_Run_HappyPath(t *testing.T) {
	t.Parallel()

	var gotSQL string
	var gotRows []querier.Row
	gw := happyGateway()
	gw.GenerateAnswerFunc = func(_ context.Context, _ string, sqlQuery string, rows []querier.Row) (string, error) {
		gotSQL = sqlQuery
		gotRows = rows
		return "There are 2 customers.", nil
	}
	e := newTestEngine(t, gw, happyExecutor())

	sink := &recordingSink{}
	res := e.Run(context.Background(), "How many customers are there?", sink)

	require.Equal(t, []EventKind{
		EventThought, // analyzing
		EventThought, // analysis
		EventThought, // generating
		EventSQLQuery,
		EventThought, // executing
		EventQueryResult,
		EventThought, // answering
		EventAnswer,
		EventComplete,
	}, sink.kinds())
	require.Equal(t, []string{
		"Analyzing your question...",
		"[CONFIDENCE: 0.90] The question asks for a customer count.",
		"Generating SQL query...",
		"Executing SQL query...",
		"Generating answer...",
	}, sink.texts(EventThought))
	require.Equal(t, []string{"SELECT COUNT(*) AS n FROM customer"}, sink.texts(EventSQLQuery))
	require.Equal(t, []string{"There are 2 customers."}, sink.texts(EventAnswer))

	require.Equal(t, "SELECT COUNT(*) AS n FROM customer", gotSQL)
	require.Equal(t, []querier.Row{{"n": int64(2)}}, gotRows)

	require.Equal(t, OutcomeAnswered, res.Outcome)
	require.NoError(t, res.Err)
	require.NotEmpty(t, res.RunID)
	require.InDelta(t, 0.9, res.Confidence, 1e-9)
	require.Equal(t, "SELECT COUNT(*) AS n FROM customer", res.SQLQuery)
	require.Equal(t, []querier.Row{{"n": int64(2)}}, res.QueryResult)
	require.Equal(t, "There are 2 customers.", res.Answer)
	require.Len(t, res.Thoughts, 5)
}

func TestAskDB_Agent_Run_ConfidenceGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		analysis string
	}{
		{name: "low score", analysis: "[CONFIDENCE: 0.10] This is a greeting."},
		{name: "just below threshold", analysis: "[CONFIDENCE: 0.39] Vague."},
		{name: "missing marker", analysis: "I am not sure what you mean."},
		{name: "malformed marker", analysis: "[CONFIDENCE: 1.0] over the range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gw := happyGateway()
			gw.AnalyzeFunc = func(context.Context, string) (string, error) { return tt.analysis, nil }
			gw.GenerateSQLFunc = func(context.Context, string, string) (string, error) {
				t.Fatal("sql generation must not run after the gate")
				return "", nil
			}
			ex := &mockExecutor{ExecuteFunc: func(context.Context, string) querier.Result {
				t.Fatal("executor must not run after the gate")
				return querier.Result{}
			}}
			e := newTestEngine(t, gw, ex)

			sink := &recordingSink{}
			res := e.Run(context.Background(), "hello", sink)

			require.Equal(t, []EventKind{EventThought, EventThought, EventAnswer, EventComplete}, sink.kinds())
			require.Equal(t, []string{GateGuidance}, sink.texts(EventAnswer))
			require.Zero(t, sink.count(EventSQLQuery))
			require.Zero(t, sink.count(EventQueryResult))
			require.Equal(t, OutcomeGated, res.Outcome)
			require.NoError(t, res.Err)
			require.Equal(t, GateGuidance, res.Answer)
		})
	}
}

func TestAskDB_Agent_Run_ThresholdBoundary(t *testing.T) {
	t.Parallel()

	gw := happyGateway()
	gw.AnalyzeFunc = func(context.Context, string) (string, error) { return "[CONFIDENCE: 0.40] borderline", nil }
	e := newTestEngine(t, gw, happyExecutor())

	res := e.Run(context.Background(), "customers?", nil)
	require.Equal(t, OutcomeAnswered, res.Outcome)
}

func TestAskDB_Agent_Run_CustomThreshold(t *testing.T) {
	t.Parallel()

	e, err := New(Config{Logger: logger, Gateway: happyGateway(), Executor: happyExecutor(), ConfidenceThreshold: Threshold(0.95)})
	require.NoError(t, err)

	res := e.Run(context.Background(), "How many customers are there?", nil)
	require.Equal(t, OutcomeGated, res.Outcome)
}

func TestAskDB_Agent_Run_ZeroThresholdDisablesGate(t *testing.T) {
	t.Parallel()

	gw := happyGateway()
	gw.AnalyzeFunc = func(context.Context, string) (string, error) {
		return "No confidence marker here.", nil
	}
	e, err := New(Config{Logger: logger, Gateway: gw, Executor: happyExecutor(), ConfidenceThreshold: Threshold(0)})
	require.NoError(t, err)

	res := e.Run(context.Background(), "How many customers are there?", nil)
	require.Equal(t, OutcomeAnswered, res.Outcome)
	require.Equal(t, float64(0), res.Confidence)
	require.Equal(t, "There are 2 customers.", res.Answer)
}

func TestAskDB_Agent_Run_StageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mutate     func(gw *mockGateway, ex *mockExecutor)
		stage      StageName
		message    string
		wantKinds  []EventKind
		executorOK bool
	}{
		{
			name: "analyze fails",
			mutate: func(gw *mockGateway, _ *mockExecutor) {
				gw.AnalyzeFunc = func(context.Context, string) (string, error) { return "", errors.New("model unavailable") }
			},
			stage:     StageAnalyze,
			message:   "model unavailable",
			wantKinds: []EventKind{EventThought, EventThought, EventAnswer, EventComplete},
		},
		{
			name: "generate sql fails",
			mutate: func(gw *mockGateway, _ *mockExecutor) {
				gw.GenerateSQLFunc = func(context.Context, string, string) (string, error) { return "", errors.New("rate limited") }
			},
			stage:     StageGenerateSQL,
			message:   "rate limited",
			wantKinds: []EventKind{EventThought, EventThought, EventThought, EventThought, EventAnswer, EventComplete},
		},
		{
			name: "empty sql",
			mutate: func(gw *mockGateway, _ *mockExecutor) {
				gw.GenerateSQLFunc = func(context.Context, string, string) (string, error) { return " ;; ", nil }
			},
			stage:     StageExecuteSQL,
			message:   "No SQL query to execute",
			wantKinds: []EventKind{EventThought, EventThought, EventThought, EventThought, EventThought, EventAnswer, EventComplete},
		},
		{
			name: "validator rejects",
			mutate: func(gw *mockGateway, _ *mockExecutor) {
				gw.GenerateSQLFunc = func(context.Context, string, string) (string, error) {
					return "SELECT * FROM customer; DROP TABLE customer", nil
				}
			},
			stage:     StageExecuteSQL,
			message:   "Query contains disallowed keywords",
			wantKinds: []EventKind{EventThought, EventThought, EventThought, EventSQLQuery, EventThought, EventThought, EventAnswer, EventComplete},
		},
		{
			name: "store fails",
			mutate: func(_ *mockGateway, ex *mockExecutor) {
				ex.ExecuteFunc = func(_ context.Context, sql string) querier.Result {
					return querier.Result{Error: "relation does not exist", Query: sql}
				}
			},
			stage:     StageExecuteSQL,
			message:   "relation does not exist",
			wantKinds: []EventKind{EventThought, EventThought, EventThought, EventSQLQuery, EventThought, EventThought, EventAnswer, EventComplete},
		},
		{
			name: "answer fails",
			mutate: func(gw *mockGateway, _ *mockExecutor) {
				gw.GenerateAnswerFunc = func(context.Context, string, string, []querier.Row) (string, error) {
					return "", errors.New("timeout")
				}
			},
			stage:   StageGenerateAnswer,
			message: "timeout",
			wantKinds: []EventKind{
				EventThought, EventThought, EventThought, EventSQLQuery, EventThought, EventQueryResult,
				EventThought, EventThought, EventAnswer, EventComplete,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gw, ex := happyGateway(), happyExecutor()
			tt.mutate(gw, ex)
			e := newTestEngine(t, gw, ex)

			sink := &recordingSink{}
			res := e.Run(context.Background(), "How many customers are there?", sink)

			require.Equal(t, tt.wantKinds, sink.kinds())
			thoughts := sink.texts(EventThought)
			require.Equal(t, "Error in "+string(tt.stage)+": "+tt.message, thoughts[len(thoughts)-1])
			require.Equal(t, []string{"I encountered an error: " + tt.message}, sink.texts(EventAnswer))
			require.Equal(t, 1, sink.count(EventComplete))
			require.Equal(t, OutcomeFailed, res.Outcome)
			require.Equal(t, tt.stage, res.FailedStage)
			require.EqualError(t, res.Err, tt.message)
		})
	}
}

func TestAskDB_Agent_Run_EmptyResultStillAnswers(t *testing.T) {
	t.Parallel()

	var gotRows []querier.Row
	gw := happyGateway()
	gw.GenerateAnswerFunc = func(_ context.Context, _ string, _ string, rows []querier.Row) (string, error) {
		gotRows = rows
		return "No customers matched.", nil
	}
	ex := &mockExecutor{ExecuteFunc: func(_ context.Context, sql string) querier.Result {
		return querier.Result{Success: true, Query: sql}
	}}
	e := newTestEngine(t, gw, ex)

	sink := &recordingSink{}
	res := e.Run(context.Background(), "customers named Zed?", sink)

	require.Equal(t, OutcomeAnswered, res.Outcome)
	require.Equal(t, 1, sink.count(EventQueryResult))
	require.NotNil(t, gotRows)
	require.Empty(t, gotRows)
}

func TestAskDB_Agent_Run_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	gw := happyGateway()
	gw.AnalyzeFunc = func(context.Context, string) (string, error) {
		cancel()
		return "[CONFIDENCE: 0.90] ok", nil
	}
	gw.GenerateSQLFunc = func(context.Context, string, string) (string, error) {
		t.Fatal("sql generation must not run after cancellation")
		return "", nil
	}
	e := newTestEngine(t, gw, happyExecutor())

	sink := &recordingSink{}
	res := e.Run(ctx, "How many customers are there?", sink)

	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Equal(t, StageGenerateSQL, res.FailedStage)
	require.ErrorIs(t, res.Err, context.Canceled)
	require.Equal(t, EventComplete, sink.kinds()[len(sink.kinds())-1])
	require.Equal(t, 1, sink.count(EventComplete))
}

func TestAskDB_Agent_Run_CompleteFiresOnPanic(t *testing.T) {
	t.Parallel()

	gw := happyGateway()
	gw.AnalyzeFunc = func(context.Context, string) (string, error) { panic("boom") }
	e := newTestEngine(t, gw, happyExecutor())

	sink := &recordingSink{}
	require.PanicsWithValue(t, "boom", func() {
		e.Run(context.Background(), "q", sink)
	})
	require.Equal(t, []EventKind{EventThought, EventComplete}, sink.kinds())
}

func TestAskDB_Agent_Run_Idempotent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, happyGateway(), happyExecutor())

	first := e.Run(context.Background(), "How many customers are there?", nil)
	second := e.Run(context.Background(), "How many customers are there?", nil)

	require.Equal(t, first.SQLQuery, second.SQLQuery)
	require.Equal(t, first.Answer, second.Answer)
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestAskDB_Agent_Run_ConcurrentRunsAreIndependent(t *testing.T) {
	t.Parallel()

	gw := happyGateway()
	gw.GenerateSQLFunc = func(_ context.Context, question, _ string) (string, error) {
		return "SELECT '" + question + "' AS q", nil
	}
	gw.GenerateAnswerFunc = func(_ context.Context, question, _ string, _ []querier.Row) (string, error) {
		return "answer for " + question, nil
	}
	e := newTestEngine(t, gw, happyExecutor())

	questions := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	results := make([]*Result, len(questions))
	var wg sync.WaitGroup
	for i, q := range questions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.Run(context.Background(), q, nil)
		}()
	}
	wg.Wait()

	for i, q := range questions {
		require.Equal(t, "SELECT '"+q+"' AS q", results[i].SQLQuery)
		require.Equal(t, "answer for "+q, results[i].Answer)
	}
}

func TestAskDB_Agent_SinkFunc(t *testing.T) {
	t.Parallel()

	var got []EventKind
	e := newTestEngine(t, happyGateway(), happyExecutor())
	e.Run(context.Background(), "How many customers are there?", SinkFunc(func(ev Event) {
		got = append(got, ev.Kind)
	}))
	require.Equal(t, EventComplete, got[len(got)-1])
}

package agent

import (
	"context"
	"errors"

	"github.com/malbeclabs/askdb/pkg/querier"
	"github.com/malbeclabs/askdb/pkg/sqlguard"
)

// StageName identifies a pipeline stage in thoughts, logs and metrics.
type StageName string

const (
	StageAnalyze        StageName = "analyze"
	StageGenerateSQL    StageName = "generateSql"
	StageExecuteSQL     StageName = "executeSql"
	StageGenerateAnswer StageName = "generateAnswer"
)

const GateGuidance = "I need a specific question about customer data to help you. " +
	"Please ask about customers, their orders, or addresses."

var (
	ErrNoSQLQuery         = errors.New("No SQL query to execute")
	ErrMissingAnswerInput = errors.New("Missing SQL query or query results")
)

// Executor runs a query and reports the outcome as a tagged result.
type Executor interface {
	Execute(ctx context.Context, sql string) querier.Result
}

// stage pairs a state transform with the events it emits on success. The
// returned bool reports whether the run should continue.
type stage struct {
	name      StageName
	message   string
	execute   func(ctx context.Context, s State) (State, error)
	onSuccess func(s State, emit func(Event)) bool
}

func (e *Engine) buildStages() []stage {
	return []stage{
		{
			name:      StageAnalyze,
			message:   "Analyzing your question...",
			execute:   e.analyze,
			onSuccess: afterAnalyze,
		},
		{
			name:    StageGenerateSQL,
			message: "Generating SQL query...",
			execute: e.generateSQL,
			onSuccess: func(s State, emit func(Event)) bool {
				if s.SQLQuery != "" {
					emit(Event{Kind: EventSQLQuery, Text: s.SQLQuery})
				}
				return true
			},
		},
		{
			name:    StageExecuteSQL,
			message: "Executing SQL query...",
			execute: e.executeSQL,
			onSuccess: func(s State, emit func(Event)) bool {
				if s.QueryResult != nil {
					emit(Event{Kind: EventQueryResult, Rows: s.QueryResult})
				}
				return true
			},
		},
		{
			name:    StageGenerateAnswer,
			message: "Generating answer...",
			execute: e.generateAnswer,
			onSuccess: func(s State, emit func(Event)) bool {
				if s.Answer != "" {
					emit(Event{Kind: EventAnswer, Text: s.Answer})
				}
				return true
			},
		},
	}
}

func (e *Engine) analyze(ctx context.Context, s State) (State, error) {
	analysis, err := e.cfg.Gateway.Analyze(ctx, s.Question)
	if err != nil {
		return s, err
	}
	s.Analysis = analysis
	s.Confidence = ParseConfidence(analysis)
	s.ShouldContinue = s.Confidence >= e.threshold
	metricConfidence.Observe(s.Confidence)
	return s, nil
}

func afterAnalyze(s State, emit func(Event)) bool {
	if s.Analysis != "" {
		emit(Event{Kind: EventThought, Text: s.Analysis})
	}
	if !s.ShouldContinue {
		emit(Event{Kind: EventAnswer, Text: GateGuidance})
	}
	return s.ShouldContinue
}

func (e *Engine) generateSQL(ctx context.Context, s State) (State, error) {
	raw, err := e.cfg.Gateway.GenerateSQL(ctx, s.Question, s.Analysis)
	if err != nil {
		return s, err
	}
	s.SQLQuery = sqlguard.Sanitize(raw)
	return s, nil
}

func (e *Engine) executeSQL(ctx context.Context, s State) (State, error) {
	if s.SQLQuery == "" {
		return s, ErrNoSQLQuery
	}
	if v := sqlguard.Validate(s.SQLQuery); !v.Valid {
		return s, errors.New(v.Error)
	}
	res := e.cfg.Executor.Execute(ctx, s.SQLQuery)
	if !res.Success {
		return s, errors.New(res.Error)
	}
	s.QueryResult = res.Data
	if s.QueryResult == nil {
		s.QueryResult = []querier.Row{}
	}
	return s, nil
}

func (e *Engine) generateAnswer(ctx context.Context, s State) (State, error) {
	if s.SQLQuery == "" || s.QueryResult == nil {
		return s, ErrMissingAnswerInput
	}
	answer, err := e.cfg.Gateway.GenerateAnswer(ctx, s.Question, s.SQLQuery, s.QueryResult)
	if err != nil {
		return s, err
	}
	s.Answer = answer
	return s, nil
}

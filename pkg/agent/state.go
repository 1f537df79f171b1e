package agent

import "github.com/malbeclabs/askdb/pkg/querier"

// State is threaded through the stages of a single run. Each stage returns an
// updated copy; a State is never shared between runs.
type State struct {
	Question       string
	Analysis       string
	Confidence     float64
	ShouldContinue bool
	SQLQuery       string
	// QueryResult is nil until the query has executed, and non-nil (possibly
	// empty) afterwards.
	QueryResult []querier.Row
	Answer      string
}

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeGated    Outcome = "gated"
	OutcomeFailed   Outcome = "failed"
)

// Result summarizes a finished run: the final state plus everything that was
// emitted to the sink.
type Result struct {
	RunID       string
	Question    string
	Analysis    string
	Confidence  float64
	SQLQuery    string
	QueryResult []querier.Row
	Answer      string
	Thoughts    []string
	Outcome     Outcome
	FailedStage StageName
	Err         error
}

func (r *Result) record(e Event) {
	switch e.Kind {
	case EventThought:
		r.Thoughts = append(r.Thoughts, e.Text)
	case EventAnswer:
		r.Answer = e.Text
	}
}

func (r *Result) fill(s State) {
	r.Analysis = s.Analysis
	r.Confidence = s.Confidence
	r.SQLQuery = s.SQLQuery
	r.QueryResult = s.QueryResult
}

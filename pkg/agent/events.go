package agent

import "github.com/malbeclabs/askdb/pkg/querier"

// EventKind names an observable step of a run. The values double as the
// wire event names.
type EventKind string

const (
	EventThought     EventKind = "thought"
	EventSQLQuery    EventKind = "sqlQuery"
	EventQueryResult EventKind = "queryResult"
	EventAnswer      EventKind = "answerChunk"
	EventComplete    EventKind = "complete"
)

// Event is one notification emitted by the engine. Text carries the thought,
// query or answer; Rows is set only for EventQueryResult.
type Event struct {
	Kind EventKind
	Text string
	Rows []querier.Row
}

// Sink receives events in the order they happen. Emit is called from the
// goroutine running the pipeline and must not block for long.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Emit(Event) {}

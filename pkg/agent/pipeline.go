// Package agent implements the question-answering pipeline: analyze the
// question, gate on confidence, generate SQL, execute it and explain the
// result. Each step is reported to a Sink as it happens.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const DefaultConfidenceThreshold = 0.4

// Config holds the configuration for the engine.
type Config struct {
	Logger   *slog.Logger
	Gateway  Gateway
	Executor Executor

	// Optional with defaults. Nil means DefaultConfidenceThreshold; zero
	// disables the gate.
	ConfidenceThreshold *float64
}

// Threshold returns a pointer to v, for use in Config.
func Threshold(v float64) *float64 {
	return &v
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Gateway == nil {
		return fmt.Errorf("gateway is required")
	}
	if cfg.Executor == nil {
		return fmt.Errorf("executor is required")
	}
	if cfg.ConfidenceThreshold == nil {
		cfg.ConfidenceThreshold = Threshold(DefaultConfidenceThreshold)
	}
	if t := *cfg.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("confidence threshold must be within [0, 1], got %v", t)
	}
	return nil
}

// Engine runs questions through the pipeline. It holds no per-run state and
// is safe for concurrent use.
type Engine struct {
	log       *slog.Logger
	cfg       Config
	threshold float64
	stages    []stage
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate agent config: %w", err)
	}
	e := &Engine{
		log:       cfg.Logger,
		cfg:       cfg,
		threshold: *cfg.ConfidenceThreshold,
	}
	e.stages = e.buildStages()
	return e, nil
}

// Run answers a single question. Events are delivered to sink in order and
// EventComplete is always the last one, emitted exactly once, whether the run
// answers, stops at the confidence gate or fails. A stage failure ends the run
// without retrying; it is reported through the sink and in Result.Err, never
// as a panic or separate return value.
func (e *Engine) Run(ctx context.Context, question string, sink Sink) *Result {
	if sink == nil {
		sink = discardSink{}
	}
	res := &Result{
		RunID:    uuid.NewString(),
		Question: question,
	}
	log := e.log.With("run", res.RunID)
	emit := func(ev Event) {
		res.record(ev)
		sink.Emit(ev)
	}

	start := time.Now()
	metricRunsInFlight.Inc()
	state := State{Question: question}
	defer func() {
		metricRunsInFlight.Dec()
		res.fill(state)
		emit(Event{Kind: EventComplete})
		if res.Outcome != "" {
			metricRunsTotal.WithLabelValues(string(res.Outcome)).Inc()
		}
		log.Info("pipeline: run finished", "outcome", res.Outcome, "duration", time.Since(start))
	}()

	log.Info("pipeline: run started", "questionLen", len(question))
	for _, st := range e.stages {
		emit(Event{Kind: EventThought, Text: st.message})

		stageStart := time.Now()
		next, err := e.runStage(ctx, st, state)
		metricStageDuration.WithLabelValues(string(st.name)).Observe(time.Since(stageStart).Seconds())
		if err != nil {
			metricStageErrorsTotal.WithLabelValues(string(st.name)).Inc()
			log.Warn("pipeline: stage failed", "stage", st.name, "error", err)
			emit(Event{Kind: EventThought, Text: fmt.Sprintf("Error in %s: %s", st.name, err.Error())})
			emit(Event{Kind: EventAnswer, Text: fmt.Sprintf("I encountered an error: %s", err.Error())})
			res.Outcome = OutcomeFailed
			res.FailedStage = st.name
			res.Err = err
			return res
		}
		state = next
		log.Debug("pipeline: stage completed", "stage", st.name, "duration", time.Since(stageStart))

		if !st.onSuccess(state, emit) {
			log.Info("pipeline: stopped at confidence gate", "confidence", state.Confidence, "threshold", e.threshold)
			res.Outcome = OutcomeGated
			return res
		}
	}

	res.Outcome = OutcomeAnswered
	return res
}

func (e *Engine) runStage(ctx context.Context, st stage, state State) (State, error) {
	if err := ctx.Err(); err != nil {
		return state, err
	}
	return st.execute(ctx, state)
}

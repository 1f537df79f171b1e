package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/malbeclabs/askdb/pkg/agent"
	"github.com/malbeclabs/askdb/pkg/types"
)

// agentStreamHandler runs one question and streams its events as SSE. All
// writes happen on the handler goroutine; the run feeds it over a channel.
func (h *Handler) agentStreamHandler(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeJSONError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event string, data any) {
		if data == nil {
			data = struct{}{}
		}
		payload, err := json.Marshal(data)
		if err != nil {
			h.log.Error("server: failed to marshal SSE event", "event", event, "error", err)
			payload, _ = json.Marshal(types.ErrorPayload{Message: types.MsgProcessingFailed})
			event = types.EventError
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		flusher.Flush()
		EventsSentTotal.WithLabelValues("sse", event).Inc()
	}

	if question == "" {
		send(types.EventError, types.ErrorPayload{Message: types.MsgQueryRequired})
		return
	}

	ctx := r.Context()
	events := make(chan agent.Event, 16)
	var panicked atomic.Bool
	go func() {
		defer close(events)
		defer func() {
			if rec := recover(); rec != nil {
				h.log.Error("server: pipeline panicked", "transport", "sse", "panic", rec)
				panicked.Store(true)
			}
		}()
		h.cfg.Engine.Run(ctx, question, agent.SinkFunc(func(ev agent.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}))
	}()

	ticker := h.cfg.Clock.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if panicked.Load() {
					send(types.EventError, types.ErrorPayload{Message: types.MsgProcessingFailed})
				}
				return
			}
			send(wireEvent(ev))
		case now := <-ticker.Chan():
			send(types.EventHeartbeat, types.HeartbeatPayload{Time: now.UTC().Format(time.RFC3339)})
		}
	}
}

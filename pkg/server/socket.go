package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/malbeclabs/askdb/pkg/agent"
	"github.com/malbeclabs/askdb/pkg/types"
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// socket serializes writes to one WebSocket connection. Runs on the same
// connection execute concurrently and share it.
type socket struct {
	log          *slog.Logger
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func (s *socket) send(event string, data any) {
	env := types.Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			s.log.Error("server: failed to marshal socket event", "event", event, "error", err)
			raw, _ = json.Marshal(types.ErrorPayload{Message: types.MsgProcessingFailed})
			env.Event = types.EventError
		}
		env.Data = raw
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteJSON(env); err != nil {
		s.log.Debug("server: socket write failed", "event", env.Event, "error", err)
		return
	}
	EventsSentTotal.WithLabelValues("ws", env.Event).Inc()
}

func (s *socket) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

// socketHandler upgrades to a WebSocket and turns every inbound question
// envelope into an independent run. Closing the connection cancels the runs
// still in flight.
func (h *Handler) socketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("server: websocket upgrade failed", "error", err)
		return
	}
	WSConnections.Inc()
	defer WSConnections.Dec()

	log := h.log.With("remote", r.RemoteAddr)
	log.Info("server: client connected")

	s := &socket{log: log, conn: conn, writeTimeout: h.cfg.WriteTimeout}
	ctx, cancel := context.WithCancel(r.Context())
	var runs sync.WaitGroup
	defer func() {
		cancel()
		runs.Wait()
		_ = conn.Close()
		log.Info("server: client disconnected")
	}()

	conn.SetReadLimit(h.cfg.MaxBodySize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})
	go h.keepalive(ctx, s)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("server: socket read failed", "error", err)
			}
			return
		}

		// A malformed frame is reported to the client; the connection and
		// its runs stay up.
		var env types.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			log.Debug("server: invalid socket message", "error", err)
			s.send(types.EventError, types.ErrorPayload{Message: types.MsgInvalidMessage})
			continue
		}
		if env.Event != types.EventQuestion {
			s.send(types.EventError, types.ErrorPayload{Message: "Unsupported event: " + env.Event})
			continue
		}
		var req types.QuestionRequest
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				log.Debug("server: invalid question payload", "error", err)
				s.send(types.EventError, types.ErrorPayload{Message: types.MsgInvalidQuestion})
				continue
			}
		}
		question := strings.TrimSpace(req.Query)
		if question == "" {
			s.send(types.EventError, types.ErrorPayload{Message: types.MsgQueryRequired})
			continue
		}

		runs.Add(1)
		go func() {
			defer runs.Done()
			h.runOnSocket(ctx, s, question)
		}()
	}
}

func (h *Handler) runOnSocket(ctx context.Context, s *socket, question string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("server: pipeline panicked", "transport", "ws", "panic", rec)
			s.send(types.EventError, types.ErrorPayload{Message: types.MsgProcessingFailed})
		}
	}()
	h.cfg.Engine.Run(ctx, question, agent.SinkFunc(func(ev agent.Event) {
		if ctx.Err() != nil {
			return
		}
		s.send(wireEvent(ev))
	}))
}

func (h *Handler) keepalive(ctx context.Context, s *socket) {
	ticker := h.cfg.Clock.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Unblocks the read loop when the server shuts down.
			_ = s.conn.Close()
			return
		case <-ticker.Chan():
			if err := s.ping(); err != nil {
				s.log.Debug("server: socket ping failed", "error", err)
				return
			}
		}
	}
}

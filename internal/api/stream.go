package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/yangwenmai/copydeck/internal/engine"
	"github.com/yangwenmai/copydeck/internal/model"
	"github.com/yangwenmai/copydeck/internal/progress"
)

// eventBuffer lets a run get a few events ahead of a slow client.
const eventBuffer = 16

// stream runs req and hands every progress event to emit, in order. If the
// run fails without having emitted a terminal event, a synthetic error
// event is emitted so the client always sees the stream end.
func (s *Server) stream(ctx context.Context, req model.GenerateRequest, emit func(progress.Event) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cl := progress.NewChannelListener(ctx, eventBuffer)
	var runErr error
	go func() {
		defer cl.Close()
		_, runErr = s.gen.Run(ctx, req, cl)
	}()

	terminal := false
	var emitErr error
	for e := range cl.Events() {
		if emitErr != nil {
			continue // drain until the run notices the cancel
		}
		if err := emit(e); err != nil {
			emitErr = err
			cancel()
			continue
		}
		terminal = terminal || e.Terminal()
	}
	if emitErr != nil {
		return emitErr
	}
	if runErr != nil && !terminal {
		return emit(progress.Event{Type: progress.EventError, Message: runErr.Error()})
	}
	return nil
}

// ---------------------------------------------------------------------------
// POST /api/generate/stream
// ---------------------------------------------------------------------------

// handleGenerateStream runs a request and streams its progress as
// server-sent events. The request is validated before the stream opens so
// bad input still gets a plain 400.
func (s *Server) handleGenerateStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := s.stream(r.Context(), req, func(e progress.Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		s.log.Info("event stream ended early", "product", req.ProductName, "error", err)
	}
}

// ---------------------------------------------------------------------------
// GET /api/ws
// ---------------------------------------------------------------------------

// wsMessage is a client message on the WebSocket. Action defaults to
// "generate".
type wsMessage struct {
	Action  string                `json:"action"`
	Request model.GenerateRequest `json:"request"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.origin == "*" || origin == "" || origin == s.origin
		},
	}
}

// handleWebSocket accepts generation requests over one connection, one at a
// time, and pushes each run's progress events back as JSON messages.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	for {
		var msg wsMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read ended", "error", err)
			}
			return
		}

		switch msg.Action {
		case "", "generate":
		default:
			if err := ws.WriteJSON(map[string]string{"type": "error", "message": "unknown action " + msg.Action}); err != nil {
				return
			}
			continue
		}

		req := msg.Request.Normalize()
		if err := engine.ValidateRequest(req); err != nil {
			if err := ws.WriteJSON(map[string]string{"type": "error", "message": err.Error()}); err != nil {
				return
			}
			continue
		}

		if err := s.stream(r.Context(), req, func(e progress.Event) error { return ws.WriteJSON(e) }); err != nil {
			s.log.Info("websocket stream ended early", "error", err)
			return
		}
	}
}

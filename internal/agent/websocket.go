package agent

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsWriteTimeout = 10 * time.Second

// HandleWebSocket handles GET /ws/chat. The client sends one {messages} frame;
// the server streams loop events, a final event, and closes.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		writeJSONError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	user, ok := h.admit(w, r)
	if !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("failed to accept websocket", "error", err, "user_id", user.ID)
		return
	}
	ws.SetReadLimit(h.cfg.MaxRequestBodySize)
	status, reason := websocket.StatusNormalClosure, "chat complete"
	defer func() {
		if closeErr := ws.Close(status, reason); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr, "user_id", user.ID)
		}
	}()

	ctx := r.Context()
	var req ChatRequest
	if err := wsjson.Read(ctx, ws, &req); err != nil {
		if websocket.CloseStatus(err) != -1 {
			slog.Debug("websocket closed by client", "user_id", user.ID)
		} else {
			slog.Warn("websocket read error", "error", err, "user_id", user.ID)
		}
		status, reason = websocket.StatusUnsupportedData, "invalid request"
		return
	}
	if req.Messages == nil {
		req.Messages = []Message{}
	}

	conv := h.newConversation(r, user, "chat_ws")
	conv.userMessage(req.Messages)

	send := func(ev chatEvent) { h.writeEvent(ctx, ws, ev) }
	result, err := h.agent.Chat(ctx, user, req.Messages, observers{conv, streamObserver{send: send}})
	if err != nil {
		slog.Error("websocket chat failed", "user_id", user.ID, "error", err)
		conv.assistantMessage("", err)
		send(chatEvent{Type: eventError, Error: "Model backend unavailable"})
		status, reason = websocket.StatusInternalError, "model error"
		return
	}
	conv.assistantMessage(result.Reply, nil)
	send(chatEvent{Type: eventFinal, Result: result})
}

func (h *Handler) writeEvent(ctx context.Context, ws *websocket.Conn, ev chatEvent) {
	if ctx.Err() != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, ev); err != nil {
		slog.Debug("websocket write error", "type", ev.Type, "error", err)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	if origin == h.cfg.AllowedOrigin {
		return true
	}
	slog.Warn("websocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

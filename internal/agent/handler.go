package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/flags"
	"github.com/ashureev/vulnshop/internal/identity"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// HandlerConfig tunes the chat endpoints.
type HandlerConfig struct {
	RateLimit          int
	RateWindow         time.Duration
	MaxRequestBodySize int64
	AllowedOrigin      string
	IsDev              bool
}

// Handler serves the chat endpoints over JSON, SSE and WebSocket.
type Handler struct {
	agent       *Service
	rateLimiter *RateLimiter
	log         ConversationLogger
	cfg         HandlerConfig
}

// RateLimiter implements a per-user sliding window limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// startEviction periodically drops keys whose requests have all expired.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key, times := range r.requests {
				var fresh []time.Time
				for _, t := range times {
					if t.After(cutoff) {
						fresh = append(fresh, t)
					}
				}
				if len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

// NewHandler creates the chat handler. A nil conversation logger disables logging.
func NewHandler(agentService *Service, conversationLogger ConversationLogger, cfg HandlerConfig) *Handler {
	if conversationLogger == nil {
		conversationLogger = noopConversationLogger{}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		agent:       agentService,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		log:         conversationLogger,
		cfg:         cfg,
	}
}

// RegisterRoutes registers chat routes. admit rejects anonymous callers, so the
// routes need no auth wrapper.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
	r.Post("/api/chat/stream", h.HandleChatStream)
	r.Get("/ws/chat", h.HandleWebSocket)
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
	if err := h.log.Close(); err != nil {
		slog.Warn("failed to close conversation logger", "error", err)
	}
}

// admit checks authentication and the per-user rate limit and writes the
// rejection itself when the request may not proceed.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	user := identity.UserFromContext(r.Context())
	if user == nil {
		writeJSONError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	if !h.rateLimiter.Allow(strconv.FormatInt(user.ID, 10)) {
		writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return nil, false
	}
	return user, true
}

func (h *Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (*ChatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	// A missing or empty history still runs the loop on the system prompts.
	if req.Messages == nil {
		req.Messages = []Message{}
	}
	return &req, true
}

// HandleChat handles POST /api/chat and answers with the full chat result.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	user, ok := h.admit(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	conv := h.newConversation(r, user, "chat_http")
	conv.userMessage(req.Messages)

	result, err := h.agent.Chat(r.Context(), user, req.Messages, conv)
	if err != nil {
		slog.Error("chat failed", "user_id", user.ID, "error", err)
		conv.assistantMessage("", err)
		writeJSONError(w, http.StatusBadGateway, "Model backend unavailable")
		return
	}
	conv.assistantMessage(result.Reply, nil)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Warn("failed to write chat response", "error", err)
	}
}

// HandleChatStream handles POST /api/chat/stream, emitting loop progress as SSE events.
func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	user, ok := h.admit(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	conv := h.newConversation(r, user, "chat_sse")
	conv.userMessage(req.Messages)

	var eventID int64
	broken := false
	send := func(ev chatEvent) {
		if broken {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("failed to marshal chat event", "type", ev.Type, "error", err)
			return
		}
		eventID++
		if err := writeSSEWithID(w, eventID, ev.Type, string(data)); err != nil {
			slog.Warn("failed to write SSE event", "type", ev.Type, "error", err)
			broken = true
			return
		}
		flusher.Flush()
	}

	result, err := h.agent.Chat(r.Context(), user, req.Messages, observers{conv, streamObserver{send: send}})
	if err != nil {
		slog.Error("chat stream failed", "user_id", user.ID, "error", err)
		conv.assistantMessage("", err)
		send(chatEvent{Type: eventError, Error: "Model backend unavailable"})
		return
	}
	conv.assistantMessage(result.Reply, nil)
	send(chatEvent{Type: eventFinal, Result: result})
}

// conversation logs one chat request and observes its loop.
type conversation struct {
	log       ConversationLogger
	userID    string
	sessionID string
	channel   string
	requestID string
}

func (h *Handler) newConversation(r *http.Request, user *domain.User, channel string) *conversation {
	return &conversation{
		log:       h.log,
		userID:    strconv.FormatInt(user.ID, 10),
		sessionID: identity.SessionIDFromContext(r.Context()),
		channel:   channel,
		requestID: chiMiddleware.GetReqID(r.Context()),
	}
}

func (c *conversation) event(direction, eventType, content string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["request_id"] = c.requestID
	c.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     c.userID,
		SessionID:  c.sessionID,
		Channel:    c.channel,
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

func (c *conversation) userMessage(history []Message) {
	c.event("outbound", "chat_user_message", lastUserContent(history), map[string]any{
		"history_len": len(history),
	})
}

func (c *conversation) assistantMessage(reply string, err error) {
	meta := map[string]any{"failed": err != nil}
	if err != nil {
		meta["error"] = err.Error()
	}
	c.event("inbound", "chat_assistant_message", reply, meta)
}

func (c *conversation) Turn(int, string) {}

func (c *conversation) ToolCalled(trace ToolTrace) {
	c.event("inbound", "tool_call", string(trace.Args), map[string]any{
		"tool":  trace.Tool,
		"error": trace.Error,
	})
}

func (c *conversation) FlagAwarded(award flags.Award) {
	c.event("inbound", "flag_awarded", award.VulnCode, nil)
}

// Chat event types shared by the SSE and WebSocket transports.
const (
	eventTurn  = "turn"
	eventTool  = "tool"
	eventFlag  = "flag"
	eventFinal = "final"
	eventError = "error"
)

type chatEvent struct {
	Type   string       `json:"type"`
	Turn   int          `json:"turn,omitempty"`
	Raw    string       `json:"raw,omitempty"`
	Tool   *ToolTrace   `json:"tool,omitempty"`
	Flag   *flags.Award `json:"flag,omitempty"`
	Result *ChatResult  `json:"result,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// streamObserver forwards loop progress to a transport.
type streamObserver struct {
	send func(chatEvent)
}

func (o streamObserver) Turn(turn int, raw string) {
	o.send(chatEvent{Type: eventTurn, Turn: turn, Raw: raw})
}

func (o streamObserver) ToolCalled(trace ToolTrace) {
	o.send(chatEvent{Type: eventTool, Tool: &trace})
}

func (o streamObserver) FlagAwarded(award flags.Award) {
	o.send(chatEvent{Type: eventFlag, Flag: &award})
}

// observers fans loop progress out to several observers in order.
type observers []Observer

func (o observers) Turn(turn int, raw string) {
	for _, obs := range o {
		obs.Turn(turn, raw)
	}
}

func (o observers) ToolCalled(trace ToolTrace) {
	for _, obs := range o {
		obs.ToolCalled(trace)
	}
}

func (o observers) FlagAwarded(award flags.Award) {
	for _, obs := range o {
		obs.FlagAwarded(award)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		slog.Warn("failed to write error response", "error", err)
	}
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}

package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/vulnshop/internal/domain"
	"github.com/ashureev/vulnshop/internal/identity"
)

// newChatRouter mounts the chat routes with user injected as the signed-in account.
func newChatRouter(t *testing.T, svc *Service, user *domain.User, cfg HandlerConfig) http.Handler {
	t.Helper()
	h := NewHandler(svc, nil, cfg)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if user != nil {
				req = req.WithContext(identity.WithUser(req.Context(), user, nil))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.RegisterRoutes(r)
	return r
}

func chatBody(text string) *bytes.Reader {
	data, _ := json.Marshal(ChatRequest{Messages: userSays(text)})
	return bytes.NewReader(data)
}

func TestHandleChatReturnsResult(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	model := &scriptedModel{replies: []string{toolCall("orders.read", `{}`), final("You have one order.")}}
	router := newChatRouter(t, env.service(t, model, 8), env.annie, HandlerConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", chatBody("my orders?")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		Reply           string            `json:"reply"`
		ToolTraces      []json.RawMessage `json:"tool_traces"`
		RetrievedChunks []json.RawMessage `json:"retrieved_chunks"`
		AwardedFlags    []json.RawMessage `json:"awarded_flags"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "You have one order.", res.Reply)
	assert.Len(t, res.ToolTraces, 1)
	assert.NotNil(t, res.RetrievedChunks)
	assert.NotNil(t, res.AwardedFlags)
}

func TestHandleChatRejections(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name   string
		user   *domain.User
		model  *scriptedModel
		body   string
		status int
		errMsg string
	}{
		{name: "anonymous", user: nil, body: `{"messages":[{"role":"user","content":"hi"}]}`, status: http.StatusUnauthorized, errMsg: "Authentication required"},
		{name: "invalid json", user: env.annie, body: `{`, status: http.StatusBadRequest, errMsg: "invalid request body"},
		{name: "model down", user: env.annie, model: &scriptedModel{err: errors.New("dial tcp: refused")}, body: `{"messages":[{"role":"user","content":"hi"}]}`, status: http.StatusBadGateway, errMsg: "Model backend unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			model := tt.model
			if model == nil {
				model = &scriptedModel{replies: []string{final("ok")}}
			}
			router := newChatRouter(t, env.service(t, model, 8), tt.user, HandlerConfig{})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, `{"error":"`+tt.errMsg+`"}`, rec.Body.String())
		})
	}
}

func TestHandleChatAcceptsEmptyHistory(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	for _, body := range []string{`{"messages":[]}`, `{}`} {
		t.Run(body, func(t *testing.T) {
			t.Parallel()
			model := &scriptedModel{replies: []string{final("Hello!")}}
			router := newChatRouter(t, env.service(t, model, 8), env.annie, HandlerConfig{})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var res struct {
				Reply string `json:"reply"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
			assert.Equal(t, "Hello!", res.Reply)
			require.Len(t, model.seen, 1)
			assert.Len(t, model.seen[0], 2, "only the system prompts reach the model")
		})
	}
}

func TestHandleChatRateLimitPerUser(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	model := &scriptedModel{replies: []string{final("ok")}}
	router := newChatRouter(t, env.service(t, model, 8), env.annie, HandlerConfig{RateLimit: 2, RateWindow: time.Hour})

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", chatBody("hi")))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterSeparatesKeys(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1, time.Hour)
	defer rl.Stop()

	assert.True(t, rl.Allow("1"))
	assert.False(t, rl.Allow("1"))
	assert.True(t, rl.Allow("2"))
}

func TestHandleChatStreamEmitsEvents(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	model := &scriptedModel{replies: []string{toolCall("auth.write", `{"new_password":"pw"}`), final("Password changed.")}}
	router := newChatRouter(t, env.service(t, model, 8), env.annie, HandlerConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat/stream", chatBody("hi")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var events []string
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{eventTurn, eventTool, eventFlag, eventTurn, eventFinal}, events)
}

func TestHandleWebSocketStreamsUntilFinal(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	model := &scriptedModel{replies: []string{toolCall("orders.read", `{}`), final("annie@demo.store")}}
	srv := httptest.NewServer(newChatRouter(t, env.service(t, model, 8), env.annie, HandlerConfig{}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat", nil)
	require.NoError(t, err)
	defer func() { _ = conn.CloseNow() }()

	require.NoError(t, wsjson.Write(ctx, conn, ChatRequest{Messages: userSays("who am I?")}))

	var types []string
	var last chatEvent
	for {
		var ev chatEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
			break
		}
		types = append(types, ev.Type)
		last = ev
	}
	assert.Equal(t, []string{eventTurn, eventTool, eventTurn, eventFlag, eventFinal}, types)
	require.NotNil(t, last.Result)
	assert.Equal(t, "annie@demo.store", last.Result.Reply)
}

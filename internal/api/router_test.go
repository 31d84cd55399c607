package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaphaelLcs-financial/openclaw-hub/internal/access"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/crypto"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/handlers"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/keys"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/messages"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/pubsub"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/ratelimit"
	"github.com/RaphaelLcs-financial/openclaw-hub/internal/store"
)

var (
	cipherOnce sync.Once
	testCipher *crypto.Cipher
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Name() string { return "recording" }
func (p *recordingPublisher) Close()       {}

func (p *recordingPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

// stalledPublisher holds every publish until released or timed out.
type stalledPublisher struct {
	release chan struct{}
}

func (p stalledPublisher) Publish(ctx context.Context, _ string, _ []byte) error {
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p stalledPublisher) Name() string { return "stalled" }
func (p stalledPublisher) Close()       {}

type testHub struct {
	t         *testing.T
	handler   http.Handler
	publisher *recordingPublisher
}

type hubOption func(*Options)

func withAccess(allow, deny []string) hubOption {
	return func(o *Options) {
		l, err := access.New(allow, deny)
		if err != nil {
			panic(err)
		}
		o.Access = l
	}
}

func withPublisher(p pubsub.Publisher) hubOption {
	return func(o *Options) { o.Handlers.Publisher = p }
}

func withRegisterLimit(n int) hubOption {
	return func(o *Options) {
		o.RegisterLimiter = ratelimit.New(ratelimit.NewMemoryWindows(), n, time.Hour)
	}
}

func newTestHub(t *testing.T, opts ...hubOption) *testHub {
	t.Helper()
	cipherOnce.Do(func() {
		c, err := crypto.NewCipher("router-test-secret", nil)
		if err != nil {
			panic(err)
		}
		testCipher = c
	})

	kv := store.NewMemoryStore()
	pub := &recordingPublisher{}
	o := Options{
		Handlers: handlers.Deps{
			KV:        kv,
			Keys:      keys.NewStore(kv),
			Messages:  messages.NewStore(kv, testCipher),
			Publisher: pub,
			Logger:    zerolog.Nop(),
		},
		Limiter: ratelimit.New(ratelimit.NewMemoryWindows(), 60, time.Minute),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &testHub{t: t, handler: NewRouter(zerolog.Nop(), o), publisher: pub}
}

func (h *testHub) do(method, path, key string, body interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *testHub) register(agentID string) string {
	h.t.Helper()
	rec := h.do("POST", "/register", "", map[string]string{"ai_id": agentID, "description": "test agent"})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp handlers.RegisterResponse
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(h.t, resp.OK)
	require.True(h.t, keys.ValidateFormat(resp.APIKey))
	assert.Equal(h.t, agentID, resp.AgentID)
	assert.Equal(h.t, "memory", resp.Storage)
	return resp.APIKey
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestSendAndReceive(t *testing.T) {
	hub := newTestHub(t)
	keyA := hub.register("agent-a")
	keyB := hub.register("agent-b")

	rec := hub.do("POST", "/send", keyA, map[string]interface{}{
		"from":    "agent-a",
		"to":      "agent-b",
		"message": map[string]string{"type": "test"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := decode(t, rec)
	assert.Equal(t, true, sent["ok"])
	assert.NotEmpty(t, sent["message_id"])
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))

	rec = hub.do("GET", "/inbox/agent-b", keyB, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var inbox handlers.InboxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inbox))
	require.Equal(t, 1, inbox.Total)
	assert.Equal(t, sent["message_id"], inbox.Messages[0].ID)
	assert.Equal(t, "agent-a", inbox.Messages[0].From)
	assert.JSONEq(t, `{"type":"test"}`, string(inbox.Messages[0].Content))

	assert.Eventually(t, func() bool {
		topics := hub.publisher.Topics()
		return len(topics) == 1 && topics[0] == "ai/agent-b/inbox"
	}, time.Second, 5*time.Millisecond)
}

func TestSendDoesNotWaitForPublisher(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	hub := newTestHub(t, withPublisher(stalledPublisher{release: release}))
	keyA := hub.register("agent-a")
	hub.register("agent-b")

	start := time.Now()
	rec := hub.do("POST", "/send", keyA, map[string]interface{}{
		"to":      "agent-b",
		"message": "hello",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Less(t, time.Since(start), time.Second)
}

func TestSendWithoutFromUsesKeyOwner(t *testing.T) {
	hub := newTestHub(t)
	keyA := hub.register("agent-a")
	keyB := hub.register("agent-b")

	rec := hub.do("POST", "/send", keyA, map[string]interface{}{"to": "agent-b", "message": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	var inbox handlers.InboxResponse
	rec = hub.do("GET", "/inbox/agent-b", keyB, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inbox))
	require.Len(t, inbox.Messages, 1)
	assert.Equal(t, "agent-a", inbox.Messages[0].From)
}

func TestSendValidation(t *testing.T) {
	hub := newTestHub(t)
	keyA := hub.register("agent-a")

	tests := []struct {
		name string
		body map[string]interface{}
		want int
	}{
		{"spoofed from", map[string]interface{}{"from": "agent-z", "to": "agent-b", "message": 1}, http.StatusForbidden},
		{"missing to", map[string]interface{}{"message": 1}, http.StatusBadRequest},
		{"bad to", map[string]interface{}{"to": "x", "message": 1}, http.StatusBadRequest},
		{"missing message", map[string]interface{}{"to": "agent-b"}, http.StatusBadRequest},
		{"null message", map[string]interface{}{"to": "agent-b", "message": nil}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := hub.do("POST", "/send", keyA, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			body := decode(t, rec)
			assert.NotEmpty(t, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestRateLimit(t *testing.T) {
	hub := newTestHub(t)
	keyA := hub.register("agent-a")

	msg := map[string]interface{}{"to": "agent-b", "message": "spam"}
	for i := 0; i < 60; i++ {
		rec := hub.do("POST", "/send", keyA, msg)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := hub.do("POST", "/send", keyA, msg)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Rate limit exceeded", body["error"])
	retry, ok := body["retryAfter"].(float64)
	require.True(t, ok, "retryAfter must be numeric")
	assert.Greater(t, retry, float64(0))
	assert.LessOrEqual(t, retry, float64(time.Minute.Milliseconds()))
	_, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	assert.NoError(t, err)

	// Another key has its own window
	keyB := hub.register("agent-b")
	rec = hub.do("GET", "/inbox/agent-b", keyB, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthFailures(t *testing.T) {
	hub := newTestHub(t)
	hub.register("agent-a")

	tests := []struct {
		name      string
		key       string
		wantCode  int
		wantError string
	}{
		{"missing", "", http.StatusUnauthorized, "Missing API Key"},
		{"malformed", "not-a-key", http.StatusUnauthorized, "Invalid API Key format"},
		{"uppercase hex", "oc-ABCDEF0123456789ABCDEF0123456789", http.StatusUnauthorized, "Invalid API Key format"},
		{"unknown", "oc-0123456789abcdef0123456789abcdef", http.StatusUnauthorized, "Unknown API Key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := hub.do("GET", "/inbox/agent-a", tt.key, nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantError, decode(t, rec)["error"])
		})
	}
}

func TestDenyList(t *testing.T) {
	denied := "oc-0123456789abcdef0123456789abcdef"
	hub := newTestHub(t, withAccess(nil, []string{denied}))

	// Denied before the key is even looked up
	rec := hub.do("POST", "/send", denied, map[string]interface{}{"to": "agent-b", "message": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied", decode(t, rec)["error"])

	key := hub.register("agent-a")
	rec = hub.do("GET", "/inbox/agent-a", key, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAllowList(t *testing.T) {
	hub := newTestHub(t, withAccess([]string{"oc-ffffffffffffffffffffffffffffffff"}, nil))
	key := hub.register("agent-a")

	rec := hub.do("GET", "/inbox/agent-a", key, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInboxOfAnotherAgent(t *testing.T) {
	hub := newTestHub(t)
	keyA := hub.register("agent-a")
	hub.register("agent-b")

	rec := hub.do("GET", "/inbox/agent-b", keyA, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInboxQuery(t *testing.T) {
	hub := newTestHub(t)
	keyA := hub.register("agent-a")
	keyB := hub.register("agent-b")

	for i := 0; i < 3; i++ {
		rec := hub.do("POST", "/send", keyA, map[string]interface{}{"to": "agent-b", "message": i})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	var inbox handlers.InboxResponse
	rec := hub.do("GET", "/inbox/agent-b?limit=2", keyB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inbox))
	assert.Equal(t, 2, inbox.Total)

	future := time.Now().Add(time.Hour).UnixMilli()
	rec = hub.do("GET", "/inbox/agent-b?since="+strconv.FormatInt(future, 10), keyB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inbox))
	assert.Zero(t, inbox.Total)
	assert.NotNil(t, inbox.Messages)

	for _, q := range []string{"limit=abc", "limit=0", "since=yesterday"} {
		rec = hub.do("GET", "/inbox/agent-b?"+q, keyB, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestDeleteFlow(t *testing.T) {
	hub := newTestHub(t)
	keyA := hub.register("agent-a")
	keyB := hub.register("agent-b")

	rec := hub.do("POST", "/send", keyA, map[string]interface{}{"to": "agent-b", "message": "oops"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decode(t, rec)["message_id"].(string)

	rec = hub.do("DELETE", "/messages/"+id, keyB, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "recipient cannot delete")

	rec = hub.do("DELETE", "/messages/"+id, keyA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ok"])

	rec = hub.do("DELETE", "/messages/"+id, keyA, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = hub.do("GET", "/inbox/agent-b", keyB, nil)
	assert.Equal(t, float64(0), decode(t, rec)["total"])
}

func TestRegisterValidation(t *testing.T) {
	hub := newTestHub(t)

	long := string(bytes.Repeat([]byte("x"), 501))
	tests := []struct {
		name string
		body map[string]string
	}{
		{"short id", map[string]string{"ai_id": "ab"}},
		{"long id", map[string]string{"ai_id": string(bytes.Repeat([]byte("a"), 51))}},
		{"bad chars", map[string]string{"ai_id": "agent/one"}},
		{"dot dot", map[string]string{"ai_id": "a..b"}},
		{"long description", map[string]string{"ai_id": "agent-a", "description": long}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := hub.do("POST", "/register", "", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := hub.do("POST", "/api/register", "", map[string]string{"ai_id": "agent.one_2"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRegisterRateLimit(t *testing.T) {
	hub := newTestHub(t, withRegisterLimit(2))
	hub.register("agent-a")
	hub.register("agent-b")

	rec := hub.do("POST", "/register", "", map[string]string{"ai_id": "agent-c"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAgentsAndHealth(t *testing.T) {
	hub := newTestHub(t)
	keyA := hub.register("agent-a")
	hub.register("agent-b")
	hub.register("agent-a")

	rec := hub.do("POST", "/send", keyA, map[string]interface{}{"to": "agent-b", "message": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = hub.do("GET", "/agents", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var agents handlers.AgentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	assert.Equal(t, 2, agents.Total)

	rec = hub.do("GET", "/agents/agent-a", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["key_count"])

	rec = hub.do("GET", "/agents/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = hub.do("GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode(t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(3), health["connections"])
	assert.Equal(t, float64(1), health["messages"])
	assert.Equal(t, "memory", health["storage"])
	assert.Contains(t, health, "uptime")
	assert.Contains(t, health, "memory")
}

func TestUnknownRoute(t *testing.T) {
	hub := newTestHub(t)
	rec := hub.do("GET", "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", decode(t, rec)["error"])
}

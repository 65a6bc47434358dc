// ABOUTME: Tests for the Gateway orchestrator and its HTTP surface
// ABOUTME: Drives callbacks end to end against fake Feishu, LLM and relay servers

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/null-object-0000/feishu-bridge/internal/auth"
	"github.com/null-object-0000/feishu-bridge/internal/config"
)

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFeishu records message calls made against the Open API.
type fakeFeishu struct {
	srv *httptest.Server

	mu          sync.Mutex
	creates     int
	contents    []string
	proxied     []string
	rejectToken bool
}

func newFakeFeishu(t *testing.T) *fakeFeishu {
	t.Helper()
	f := &fakeFeishu{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		switch {
		case r.URL.Path == "/open-apis/auth/v3/tenant_access_token/internal":
			f.mu.Lock()
			reject := f.rejectToken
			f.mu.Unlock()
			if reject {
				_, _ = io.WriteString(w, `{"code":10014,"msg":"app secret invalid"}`)
				return
			}
			_, _ = io.WriteString(w, `{"code":0,"msg":"ok","tenant_access_token":"t-test","expire":7200}`)
		case r.URL.Path == "/open-apis/im/v1/messages" && r.Method == http.MethodPost:
			f.record(r, true)
			_, _ = io.WriteString(w, `{"code":0,"msg":"success","data":{"message_id":"om_reply"}}`)
		case strings.HasPrefix(r.URL.Path, "/open-apis/im/v1/messages/") && r.Method == http.MethodPatch:
			f.record(r, false)
			_, _ = io.WriteString(w, `{"code":0,"msg":"success","data":{}}`)
		case r.URL.Path == "/open-apis/contact/v3/users/ou_1":
			f.mu.Lock()
			f.proxied = append(f.proxied, r.Method+" "+r.URL.RequestURI())
			f.mu.Unlock()
			w.Header().Set("X-Tt-Logid", "log-1")
			_, _ = io.WriteString(w, `{"code":0,"msg":"success","data":{"user":{"name":"Ada"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":404,"msg":"no route"}`)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeFeishu) record(r *http.Request, create bool) {
	var body struct {
		Content string `json:"content"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	if create {
		f.creates++
	}
	f.contents = append(f.contents, body.Content)
}

func (f *fakeFeishu) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, append([]string(nil), f.contents...)
}

// newLLMServer streams a two-delta chat completion.
func newLLMServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

// relayCapture collects relayed envelopes.
type relayCapture struct {
	srv *httptest.Server

	mu        sync.Mutex
	envelopes []map[string]any
}

func newRelayCapture(t *testing.T) *relayCapture {
	t.Helper()
	c := &relayCapture{}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env map[string]any
		_ = json.NewDecoder(r.Body).Decode(&env)
		c.mu.Lock()
		c.envelopes = append(c.envelopes, env)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *relayCapture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.envelopes)
}

func (c *relayCapture) first() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.envelopes[0]
}

type testEnv struct {
	gw     *Gateway
	feishu *fakeFeishu
	relay  *relayCapture
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func newTestGateway(t *testing.T) *testEnv {
	t.Helper()
	return newTestGatewayMode(t, config.ModeWebhook)
}

func newTestGatewayMode(t *testing.T, mode string) *testEnv {
	t.Helper()
	fs := newFakeFeishu(t)
	llm := newLLMServer(t)
	rc := newRelayCapture(t)

	doc := fmt.Sprintf(`
server:
  http_addr: %q
feishu:
  app_id: "cli_%s"
  app_secret: "secret"
  base_url: %q
  verification_token: "vt"
  mode: %q
streaming:
  enabled: true
  provider: openai
  update_interval: "10ms"
  openai:
    api_url: %q
    api_key: "sk-test"
relay:
  urls: [%q]
  timeout: "2s"
proxy:
  enabled: true
  auth_secret: "proxy-secret"
`, freeAddr(t), strings.ReplaceAll(t.Name(), "/", "_"), fs.srv.URL, mode, llm.URL, rc.srv.URL)

	cfg, err := config.Parse(doc, config.FormatYAML)
	require.NoError(t, err)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	return &testEnv{gw: gw, feishu: fs, relay: rc}
}

func (e *testEnv) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func messageEvent(eventID, text string) string {
	content, _ := json.Marshal(map[string]string{"text": text})
	ev := map[string]any{
		"schema": "2.0",
		"header": map[string]any{"event_id": eventID, "event_type": "im.message.receive_v1", "token": "vt"},
		"event": map[string]any{
			"sender": map[string]any{"sender_id": map[string]any{"open_id": "ou_user"}, "sender_type": "user"},
			"message": map[string]any{
				"message_id":   "om_in",
				"chat_id":      "oc_1",
				"message_type": "text",
				"content":      string(content),
			},
		},
	}
	b, _ := json.Marshal(ev)
	return string(b)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	env := newTestGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- env.gw.Run(ctx)
	}()

	addr := env.gw.config.Server.HTTPAddr
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestGateway(t)

	rec := httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleEvents_URLVerification(t *testing.T) {
	env := newTestGateway(t)

	rec := env.post("/feishu/events", `{"type":"url_verification","challenge":"ch-123","token":"vt"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge":"ch-123"}`, rec.Body.String())
	assert.Equal(t, 0, env.relay.count())
}

func TestHandleEvents_Rejections(t *testing.T) {
	env := newTestGateway(t)

	rec := env.post("/feishu/events", `{"schema":"2.0","header":{"event_id":"e","event_type":"x","token":"wrong"}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.post("/feishu/events", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	get := httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/feishu/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, get.Code)
}

func TestHandleEvents_StreamsReplyAndRelays(t *testing.T) {
	env := newTestGateway(t)

	rec := env.post("/feishu/events", messageEvent("evt-1", "@_user_1 hi"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.gw.streaming.Wait(ctx))

	creates, contents := env.feishu.snapshot()
	assert.Equal(t, 1, creates)
	require.NotEmpty(t, contents)
	assert.Contains(t, contents[len(contents)-1], "Hello")

	require.Eventually(t, func() bool { return env.relay.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	got := env.relay.first()
	assert.Equal(t, "event", got["type"])
	assert.Equal(t, "im.message.receive_v1", got["event_type"])
}

func TestHandleEvents_DuplicateDelivery(t *testing.T) {
	env := newTestGateway(t)

	body := messageEvent("evt-dup", "hi")
	for range 3 {
		rec := env.post("/feishu/events", body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.gw.streaming.Wait(ctx))

	creates, _ := env.feishu.snapshot()
	assert.Equal(t, 1, creates)
}

func TestHandleEvents_UnknownTypeRelayed(t *testing.T) {
	env := newTestGateway(t)

	rec := env.post("/feishu/events", `{"schema":"2.0","header":{"event_id":"u1","event_type":"im.chat.member.user.added_v1","token":"vt"},"event":{"chat_id":"oc_1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool { return env.relay.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "im.chat.member.user.added_v1", env.relay.first()["event_type"])
}

func TestHandleCard_Toast(t *testing.T) {
	env := newTestGateway(t)

	rec := env.post("/feishu/card", `{"schema":"2.0","header":{"event_id":"c1","event_type":"card.action.trigger","token":"vt"},"event":{"action":{"value":{"ok":true}}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"toast":{"type":"info","content":"已收到"}}`, rec.Body.String())

	require.Eventually(t, func() bool { return env.relay.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	got := env.relay.first()
	assert.Equal(t, "card_action", got["type"])
	assert.Equal(t, "card_action_trigger", got["event_type"])
	assert.Equal(t, map[string]any{"action": map[string]any{"value": map[string]any{"ok": true}}}, got["payload"])
}

func TestHandleProxy(t *testing.T) {
	env := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/api/feishu/contact/v3/users/ou_1?user_id_type=open_id", nil)
	rec := httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.NewSigner([]byte("proxy-secret")).Sign("ops", "t1", time.Minute)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/api/feishu/contact/v3/users/ou_1?user_id_type=open_id", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"code":0,"msg":"success","data":{"user":{"name":"Ada"}}}`, rec.Body.String())
	assert.Equal(t, "log-1", rec.Header().Get("X-Tt-Logid"))

	env.feishu.mu.Lock()
	defer env.feishu.mu.Unlock()
	require.Len(t, env.feishu.proxied, 1)
	assert.Equal(t, "GET /open-apis/contact/v3/users/ou_1?user_id_type=open_id", env.feishu.proxied[0])
}

func bearer(t *testing.T) string {
	t.Helper()
	token, err := auth.NewSigner([]byte("proxy-secret")).Sign("ops", "t1", time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHandleTenantToken(t *testing.T) {
	env := newTestGateway(t)

	rec := httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/tenant_access_token", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/tenant_access_token", nil)
	req.Header.Set("Authorization", bearer(t))
	rec = httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"code":0,"msg":"ok","tenant_access_token":"t-test","expire":7200}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/auth/tenant_access_token", nil)
	req.Header.Set("Authorization", bearer(t))
	rec = httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleTenantToken_Rejected(t *testing.T) {
	env := newTestGateway(t)
	env.feishu.mu.Lock()
	env.feishu.rejectToken = true
	env.feishu.mu.Unlock()

	req := httptest.NewRequest(http.MethodGet, "/api/auth/tenant_access_token", nil)
	req.Header.Set("Authorization", bearer(t))
	rec := httptest.NewRecorder()
	env.gw.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"code":10014,"msg":"app secret invalid"}`, rec.Body.String())
}

func TestShutdown_RejectsLateCallbacks(t *testing.T) {
	env := newTestGateway(t)
	require.NoError(t, env.gw.router.Close())

	rec := env.post("/feishu/events", messageEvent("late", "hi"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

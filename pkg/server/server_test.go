package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgi/internal/mocks"
	"sgi/pkg/channel/whatsapp"
	"sgi/pkg/config"
	"sgi/pkg/magiclink"
	"sgi/pkg/metrics"
	"sgi/pkg/persistence"
	"sgi/pkg/proto"
)

// fakeTurner records inbound messages and answers with a fixed reply.
type fakeTurner struct {
	mu    sync.Mutex
	seen  []*proto.Inbound
	reply proto.Outbound
}

func (f *fakeTurner) HandleTurn(_ context.Context, in *proto.Inbound) proto.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, in)
	return f.reply
}

func (f *fakeTurner) inbound() []*proto.Inbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*proto.Inbound(nil), f.seen...)
}

type fakeMedia struct{}

func (fakeMedia) MediaInfo(_ context.Context, id string) (string, string, error) {
	return "https://lookaside.example/" + id, "image/jpeg", nil
}

type testEnv struct {
	srv    *Server
	h      http.Handler
	turns  *fakeTurner
	sender *mocks.MockSender
	links  *magiclink.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reg := prometheus.NewRegistry()
	links, err := magiclink.NewService(magiclink.Config{
		Secret:        "server-test-secret-value",
		PublicBaseURL: "https://sgi.example.org",
	}, persistence.NewStore(db), metrics.NewPrometheusRecorder(reg))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Server.DashboardURL = "https://dashboard.example.org/"
	cfg.WhatsApp.Enabled = true
	cfg.WhatsApp.VerifyToken = "verify-me"
	cfg.WhatsApp.AppSecret = "app-secret"
	cfg.ChatAPI.Token = "chat-token"

	turns := &fakeTurner{reply: proto.Outbound{Text: "Bonjour 👋", Action: "menu", MagicLink: "https://sgi.example.org/l/x"}}
	sender := mocks.NewMockSender()
	srv, err := New(&cfg, Deps{Turns: turns, Links: links, Sender: sender, Media: fakeMedia{}, Gatherer: reg})
	require.NoError(t, err)
	return &testEnv{srv: srv, h: srv.Handler(), turns: turns, sender: sender, links: links}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookVerification(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=4242", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4242", rec.Body.String())

	rec = env.do(httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=4242", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

const textWebhook = `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{
  "messages":[{"from":"2250700000001","id":"wamid.1","timestamp":"1760515200","type":"text","text":{"body":"Bonjour"}}]}}]}]}`

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(textWebhook))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign([]byte(textWebhook), "other-secret"))
	rec := env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.turns.inbound())
}

func TestWebhookAnswersAsynchronously(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(textWebhook))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign([]byte(textWebhook), "app-secret"))
	rec := env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-env.sender.Sent():
	case <-time.After(2 * time.Second):
		t.Fatal("reply was not delivered")
	}
	env.srv.Drain(context.Background())

	seen := env.turns.inbound()
	require.Len(t, seen, 1)
	assert.Equal(t, "2250700000001", seen[0].Identity)
	assert.Equal(t, "wamid.1", seen[0].DeliveryID)

	sent := env.sender.Deliveries()
	require.Len(t, sent, 1)
	assert.Equal(t, "2250700000001", sent[0].To)
	assert.Equal(t, "Bonjour 👋", sent[0].Out.Text)
}

func TestWebhookKeepsOrderPerSender(t *testing.T) {
	env := newTestEnv(t)
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{"messages":[
  {"from":"225A","id":"wamid.a1","type":"image","image":{"id":"media-1","mime_type":"image/jpeg","caption":"pile 3"}},
  {"from":"225B","id":"wamid.b1","type":"text","text":{"body":"stock"}},
  {"from":"225A","id":"wamid.a2","type":"text","text":{"body":"oui"}},
  {"from":"225A","id":"wamid.a3","type":"text","text":{"body":"merci"}}]}}]}]}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign([]byte(body), "app-secret"))
	require.Equal(t, http.StatusOK, env.do(req).Code)
	env.srv.Drain(context.Background())

	var fromA []string
	for _, in := range env.turns.inbound() {
		if in.Identity == "225A" {
			fromA = append(fromA, in.DeliveryID)
		}
	}
	assert.Equal(t, []string{"wamid.a1", "wamid.a2", "wamid.a3"}, fromA)
}

func TestBySender(t *testing.T) {
	msgs := []*proto.Inbound{
		{Identity: "a", DeliveryID: "1"},
		{Identity: "b", DeliveryID: "2"},
		{Identity: "a", DeliveryID: "3"},
	}
	batches := bySender(msgs)
	require.Len(t, batches, 2)
	assert.Equal(t, []*proto.Inbound{msgs[0], msgs[2]}, batches[0])
	assert.Equal(t, []*proto.Inbound{msgs[1]}, batches[1])
}

func TestWebhookResolvesMediaURL(t *testing.T) {
	env := newTestEnv(t)
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"field":"messages","value":{
  "messages":[{"from":"225","id":"wamid.2","type":"image","image":{"id":"media-9"}}]}}]}]}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign([]byte(body), "app-secret"))
	require.Equal(t, http.StatusOK, env.do(req).Code)
	env.srv.Drain(context.Background())

	seen := env.turns.inbound()
	require.Len(t, seen, 1)
	require.NotNil(t, seen[0].Media)
	assert.Equal(t, "https://lookaside.example/media-9", seen[0].Media.URL)
	assert.Equal(t, "image/jpeg", seen[0].Media.MimeType)
}

func TestWebhookDuplicateIsNotSent(t *testing.T) {
	env := newTestEnv(t)
	env.turns.reply = proto.Outbound{Duplicate: true}

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(textWebhook))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign([]byte(textWebhook), "app-secret"))
	require.Equal(t, http.StatusOK, env.do(req).Code)
	env.srv.Drain(context.Background())

	assert.Len(t, env.turns.inbound(), 1)
	assert.Empty(t, env.sender.Deliveries())
}

func chatRequest(t *testing.T, token string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(raw))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestChatRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(chatRequest(t, "", ChatRequest{Message: "Bonjour"})).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(chatRequest(t, "wrong", ChatRequest{Message: "Bonjour"})).Code)
	assert.Empty(t, env.turns.inbound())
}

func TestChat(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(chatRequest(t, "chat-token", map[string]any{
		"message": "Combien de projets en cours ?",
		"history": []map[string]string{{"role": "user", "content": "Bonjour"}, {"role": "assistant", "content": "Bonjour 👋"}},
		"user":    "dashboard",
	}))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Bonjour 👋", resp.Response)
	assert.Equal(t, "menu", resp.Action)
	assert.Equal(t, "https://sgi.example.org/l/x", resp.MagicLink)

	seen := env.turns.inbound()
	require.Len(t, seen, 1)
	assert.Equal(t, proto.ChannelChatAPI, seen[0].Channel)
	assert.Equal(t, "api:dashboard", seen[0].Identity)
	require.Len(t, seen[0].History, 2)
	assert.Equal(t, proto.RoleAssistant, seen[0].History[1].Role)
}

func TestChatWithoutHistoryPassesEmptyHistory(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(chatRequest(t, "chat-token", ChatRequest{Message: "Bonjour"}))
	require.Equal(t, http.StatusOK, rec.Code)

	seen := env.turns.inbound()
	require.Len(t, seen, 1)
	assert.NotNil(t, seen[0].History)
	assert.True(t, strings.HasPrefix(seen[0].Identity, "api:anon-"), seen[0].Identity)
}

func TestChatAnonymousCallersDoNotShareSessions(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusOK, env.do(chatRequest(t, "chat-token", ChatRequest{Message: "Bonjour"})).Code)
	require.Equal(t, http.StatusOK, env.do(chatRequest(t, "chat-token", ChatRequest{Message: "Bonjour"})).Code)
	require.Equal(t, http.StatusOK, env.do(chatRequest(t, "chat-token", ChatRequest{Message: "Bonjour", User: "awa"})).Code)

	seen := env.turns.inbound()
	require.Len(t, seen, 3)
	assert.NotEqual(t, seen[0].Identity, seen[1].Identity)
	assert.Equal(t, "api:awa", seen[2].Identity)
}

func TestChatValidatesBody(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(chatRequest(t, "chat-token", ChatRequest{Message: "  "})).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer chat-token")
	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)
}

func TestRedeemRedirects(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.links.Mint(context.Background(), magiclink.Request{ResourceType: proto.ResourceProject, ResourceID: "p1"})
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/l/"+token, nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://dashboard.example.org/projects/p1", rec.Header().Get("Location"))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/l/garbage", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://dashboard.example.org/link-error?reason=malformed", rec.Header().Get("Location"))
}

func TestLinkInfo(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.links.Mint(context.Background(), magiclink.Request{
		ResourceType: proto.ResourceStock,
		Filters:      map[string]string{"q": "ciment"},
	})
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/links/"+token, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v magiclink.Validation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.True(t, v.Valid)
	assert.Equal(t, proto.ResourceStock, v.ResourceType)
	assert.Equal(t, "ciment", v.Filters["q"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/links/garbage", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"malformed"`)
}

func TestOperatorEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/logs?since=yesterday", nil)
	req.Header.Set("Authorization", "Bearer chat-token")
	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/logs?component=server", nil)
	req.Header.Set("Authorization", "Bearer chat-token")
	rec = env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "["))

	env.do(httptest.NewRequest(http.MethodGet, "/l/garbage", nil))
	rec = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sgi_magic_links_total{event="validated",result="malformed"} 1`)
}

func TestWebhookRoutesAbsentWhenDisabled(t *testing.T) {
	cfg := config.Default()
	srv, err := New(&cfg, Deps{Turns: &fakeTurner{}, Links: &magiclink.Service{}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewRequiresSenderWhenEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.WhatsApp.Enabled = true
	_, err := New(&cfg, Deps{Turns: &fakeTurner{}, Links: &magiclink.Service{}})
	assert.Error(t, err)
}

func TestJanitorSweep(t *testing.T) {
	var calls []string
	j := NewJanitor(time.Minute, map[string]PurgeFunc{
		"links": func(context.Context) (int64, error) {
			calls = append(calls, "links")
			return 2, nil
		},
		"deliveries": func(context.Context) (int64, error) {
			calls = append(calls, "deliveries")
			return 0, errors.New("locked")
		},
	})
	j.Sweep(context.Background())
	assert.ElementsMatch(t, []string{"links", "deliveries"}, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Run(ctx)
	assert.Len(t, calls, 4)
}

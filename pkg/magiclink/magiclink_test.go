package magiclink

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgi/pkg/metrics"
	"sgi/pkg/persistence"
	"sgi/pkg/proto"
)

const testSecret = "a-long-enough-test-secret"

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(t *testing.T) (*Service, *persistence.Store, *clock) {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "links.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := persistence.NewStore(db)

	clk := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	svc, err := NewService(Config{
		Secret:        testSecret,
		TTL:           48 * time.Hour,
		PublicBaseURL: "https://sgi.example.org/",
		Now:           clk.now,
	}, store, nil)
	require.NoError(t, err)
	return svc, store, clk
}

func TestMintValidateRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := Request{
		ResourceType: proto.ResourceProjects,
		Filters:      map[string]string{"status": "en_cours", "region": "Dakar"},
		Metadata: &Metadata{
			Tool:     "query_projects",
			Snapshot: json.RawMessage(`{"count":2,"ids":["p1","p2"]}`),
		},
	}
	token, err := svc.Mint(ctx, req)
	require.NoError(t, err)

	v := svc.Validate(ctx, token)
	require.True(t, v.Valid, v.Error)
	assert.Equal(t, req.ResourceType, v.ResourceType)
	assert.Empty(t, v.ResourceID)
	assert.Equal(t, req.Filters, v.Filters)
	assert.Equal(t, req.Metadata, v.Metadata)

	again := svc.Validate(ctx, token)
	assert.Equal(t, v, again)
}

func TestRoundTripKeepsMetadataVerbatim(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for name, md := range map[string]*Metadata{
		"spaced snapshot and empty extra": {Tool: "x", Snapshot: json.RawMessage(`{ "a": 1 }`), Extra: map[string]string{}},
		"no snapshot and nil extra":       {Tool: "y"},
		"extra only":                      {Extra: map[string]string{"source": "console"}},
	} {
		t.Run(name, func(t *testing.T) {
			req := Request{ResourceType: proto.ResourceSnapshot, ResourceID: "s1", Filters: map[string]string{}, Metadata: md}
			token, err := svc.Mint(ctx, req)
			require.NoError(t, err)

			v := svc.Validate(ctx, token)
			require.True(t, v.Valid, v.Error)
			assert.Equal(t, req.Filters, v.Filters)
			assert.Equal(t, md, v.Metadata)
		})
	}
}

func TestTokenIsOpaque(t *testing.T) {
	svc, _, _ := newTestService(t)
	token, err := svc.Mint(context.Background(), Request{ResourceType: proto.ResourceProject, ResourceID: "PRJ-042"})
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "PRJ-042")
	assert.NotContains(t, string(raw), "project")
}

func TestValidateExpired(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()
	token, err := svc.Mint(ctx, Request{ResourceType: proto.ResourceIncident, ResourceID: "i1"})
	require.NoError(t, err)

	clk.t = clk.t.Add(48 * time.Hour)
	v := svc.Validate(ctx, token)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonExpired, v.Reason)
	assert.NotEmpty(t, v.Error)
	assert.Empty(t, v.ResourceType)
	assert.Empty(t, v.ResourceID)
}

func TestValidateTamperedIsMalformed(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	token, err := svc.Mint(ctx, Request{ResourceType: proto.ResourceStock})
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	for _, tok := range []string{tampered, "", "not base64 !!", "c2hvcnQ"} {
		v := svc.Validate(ctx, tok)
		assert.False(t, v.Valid, tok)
		assert.Equal(t, ReasonMalformed, v.Reason, tok)
	}
}

func TestValidateMissingRecordIsUnknown(t *testing.T) {
	svc, _, clk := newTestService(t)

	// Same secret, different store: the token decrypts but has no record.
	other, _, _ := newTestService(t)
	other.now = clk.now
	token, err := other.Mint(context.Background(), Request{ResourceType: proto.ResourceIncidents})
	require.NoError(t, err)

	v := svc.Validate(context.Background(), token)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonUnknown, v.Reason)
}

func TestValidateWithOtherSecretIsMalformed(t *testing.T) {
	svc, store, _ := newTestService(t)
	other, err := NewService(Config{Secret: "another-secret-of-length"}, store, nil)
	require.NoError(t, err)

	token, err := svc.Mint(context.Background(), Request{ResourceType: proto.ResourceStock})
	require.NoError(t, err)
	assert.Equal(t, ReasonMalformed, other.Validate(context.Background(), token).Reason)
}

func TestMintRejectsInvalidRequests(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Mint(ctx, Request{ResourceType: "dashboard"})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Mint(ctx, Request{ResourceType: proto.ResourceFinance})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Mint(ctx, Request{ResourceType: proto.ResourceSnapshot, Metadata: &Metadata{Snapshot: json.RawMessage(`{broken`)}})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPurgeRemovesExpired(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()
	token, err := svc.Mint(ctx, Request{ResourceType: proto.ResourceStock})
	require.NoError(t, err)

	clk.t = clk.t.Add(72 * time.Hour)
	n, err := svc.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.GetLink(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrLinkNotFound)
	assert.Equal(t, ReasonExpired, svc.Validate(ctx, token).Reason)
}

func TestURL(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.Equal(t, "https://sgi.example.org/l/abc", svc.URL("abc"))
}

func TestRequestFromLink(t *testing.T) {
	req, err := RequestFromLink(&proto.LinkRequest{
		ResourceType: proto.ResourceTopProjects,
		Tool:         "top_projects",
		Snapshot:     []map[string]any{{"id": "p4"}},
	})
	require.NoError(t, err)
	require.NotNil(t, req.Metadata)
	assert.Equal(t, "top_projects", req.Metadata.Tool)
	assert.JSONEq(t, `[{"id":"p4"}]`, string(req.Metadata.Snapshot))

	plain, err := RequestFromLink(&proto.LinkRequest{ResourceType: proto.ResourceStock})
	require.NoError(t, err)
	assert.Nil(t, plain.Metadata)
}

func TestResolve(t *testing.T) {
	const dash = "https://dash.example.org/"
	tests := []struct {
		name string
		v    Validation
		want string
	}{
		{"project", Validation{Valid: true, ResourceType: proto.ResourceProject, ResourceID: "p1"}, "https://dash.example.org/projects/p1"},
		{"incident", Validation{Valid: true, ResourceType: proto.ResourceIncident, ResourceID: "i 2"}, "https://dash.example.org/incidents/i%202"},
		{"finance", Validation{Valid: true, ResourceType: proto.ResourceFinance, ResourceID: "p1"}, "https://dash.example.org/finance/p1"},
		{"top without filters", Validation{Valid: true, ResourceType: proto.ResourceTopProjects}, "https://dash.example.org/projects/top"},
		{"projects filtered", Validation{Valid: true, ResourceType: proto.ResourceProjects, Filters: map[string]string{"status": "en_cours", "region": "Thiès"}}, "https://dash.example.org/projects?region=Thi%C3%A8s&status=en_cours"},
		{"incidents", Validation{Valid: true, ResourceType: proto.ResourceIncidents}, "https://dash.example.org/incidents"},
		{"stock", Validation{Valid: true, ResourceType: proto.ResourceStock, Filters: map[string]string{"q": "ciment"}}, "https://dash.example.org/stock?q=ciment"},
		{"snapshot", Validation{Valid: true, ResourceType: proto.ResourceSnapshot, Token: "tok"}, "https://dash.example.org/snapshots/tok"},
		{"expired", Validation{Reason: ReasonExpired}, "https://dash.example.org/link-error?reason=expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.v, dash))
		})
	}
}

func TestMetricsRecorded(t *testing.T) {
	svc, _, _ := newTestService(t)
	reg := prometheus.NewRegistry()
	svc.recorder = metrics.NewPrometheusRecorder(reg)

	token, err := svc.Mint(context.Background(), Request{ResourceType: proto.ResourceStock})
	require.NoError(t, err)
	svc.Validate(context.Background(), token)
	svc.Validate(context.Background(), "garbage")

	rec := httptestRecorder(t, reg)
	assert.Contains(t, rec, `sgi_magic_links_total{event="minted",result="ok"} 1`)
	assert.Contains(t, rec, `sgi_magic_links_total{event="validated",result="malformed"} 1`)
	assert.Contains(t, rec, `sgi_magic_links_total{event="validated",result="ok"} 1`)
}

func httptestRecorder(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	w := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}

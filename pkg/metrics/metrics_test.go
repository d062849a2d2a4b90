package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.ObserveTurn("whatsapp", "workflow", "ok", 20*time.Millisecond)
	r.ObserveTurn("whatsapp", "workflow", "ok", 30*time.Millisecond)
	r.ObserveToolCall("query_projects", "validation", time.Millisecond)
	r.ObserveLLMRequest("claude", StatusSuccess, 100, 20, time.Second)
	r.ObserveLLMRequest("claude", StatusError, 100, 0, time.Second)
	r.IncMagicLink("minted", "ok")
	r.IncWorkflowTransition("incident", "INCIDENT_TYPE", "INCIDENT_CATEGORY")

	assert.Equal(t, 2.0, counterValue(t, reg, "sgi_turns_total", map[string]string{"path": "workflow"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "sgi_tool_calls_total", map[string]string{"status": "validation"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "sgi_llm_requests_total", map[string]string{"status": StatusError}))
	assert.Equal(t, 100.0, counterValue(t, reg, "sgi_llm_tokens_total", map[string]string{"type": "prompt"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "sgi_workflow_transitions_total", map[string]string{"to": "INCIDENT_CATEGORY"}))
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusRecorder(reg).IncMagicLink("redeemed", "expired")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sgi_magic_links_total{event="redeemed",result="expired"} 1`)
}

func TestNopRecorder(t *testing.T) {
	r := Nop()
	r.ObserveTurn("console", "greeting", "ok", time.Millisecond)
	r.IncMagicLink("minted", "ok")
}

func TestQueryServiceUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		q := r.Form.Get("query")
		var result string
		switch {
		case strings.Contains(q, "sgi_turns_total"):
			result = `{"metric":{"path":"workflow"},"value":[1700000000,"12"]},{"metric":{"path":"dispatch"},"value":[1700000000,"30"]}`
		case strings.Contains(q, "sgi_tool_calls_total"):
			result = `{"metric":{"tool":"query_projects","status":"ok"},"value":[1700000000,"9"]},{"metric":{"tool":"query_projects","status":"validation"},"value":[1700000000,"1"]}`
		case strings.Contains(q, "sgi_llm_tokens_total"):
			result = `{"metric":{"model":"claude"},"value":[1700000000,"4200"]}`
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[%s]}}`, result)
	}))
	defer srv.Close()

	qs, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	u, err := qs.Usage(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(12), u.TurnsByPath["workflow"])
	assert.Equal(t, int64(30), u.TurnsByPath["dispatch"])
	assert.Equal(t, int64(4200), u.LLMTokens["claude"])
	assert.InDelta(t, 0.1, u.Errors["query_projects"], 1e-9)
	assert.Empty(t, u.MagicLinks)
	assert.Equal(t, []string{"dispatch", "workflow"}, SortedKeys(u.TurnsByPath))
}

package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Usage is an aggregated activity report over a time window.
type Usage struct {
	Window      time.Duration      `json:"window"`
	TurnsByPath map[string]int64   `json:"turns_by_path"`
	ToolCalls   map[string]int64   `json:"tool_calls"`  // "tool/status"
	LLMTokens   map[string]int64   `json:"llm_tokens"`  // model
	MagicLinks  map[string]int64   `json:"magic_links"` // "event/result"
	Errors      map[string]float64 `json:"error_ratio"` // tool -> share of failed calls
}

// QueryService reads sgi metrics back from a Prometheus server.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService creates a query service against prometheusURL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// Usage aggregates the counters over the last window.
func (q *QueryService) Usage(ctx context.Context, window time.Duration) (*Usage, error) {
	rng := model.Duration(window).String()
	u := &Usage{Window: window}

	var err error
	if u.TurnsByPath, err = q.sumBy(ctx, fmt.Sprintf(`sum by (path) (increase(sgi_turns_total[%s]))`, rng), "path"); err != nil {
		return nil, err
	}
	if u.ToolCalls, err = q.sumBy(ctx, fmt.Sprintf(`sum by (tool, status) (increase(sgi_tool_calls_total[%s]))`, rng), "tool", "status"); err != nil {
		return nil, err
	}
	if u.LLMTokens, err = q.sumBy(ctx, fmt.Sprintf(`sum by (model) (increase(sgi_llm_tokens_total[%s]))`, rng), "model"); err != nil {
		return nil, err
	}
	if u.MagicLinks, err = q.sumBy(ctx, fmt.Sprintf(`sum by (event, result) (increase(sgi_magic_links_total[%s]))`, rng), "event", "result"); err != nil {
		return nil, err
	}

	totals := map[string]int64{}
	failed := map[string]int64{}
	for key, n := range u.ToolCalls {
		i := strings.LastIndex(key, "/")
		if i < 0 {
			continue
		}
		tool, status := key[:i], key[i+1:]
		totals[tool] += n
		if status != "ok" {
			failed[tool] += n
		}
	}
	u.Errors = make(map[string]float64, len(totals))
	for tool, total := range totals {
		if total > 0 {
			u.Errors[tool] = float64(failed[tool]) / float64(total)
		}
	}
	return u, nil
}

// sumBy runs an instant vector query and keys each sample by the given
// labels joined with "/".
func (q *QueryService) sumBy(ctx context.Context, query string, labels ...string) (map[string]int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", query, err)
	}
	out := map[string]int64{}
	vector, ok := result.(model.Vector)
	if !ok {
		return out, nil
	}
	for _, sample := range vector {
		parts := make([]string, len(labels))
		for i, l := range labels {
			parts[i] = string(sample.Metric[model.LabelName(l)])
		}
		out[strings.Join(parts, "/")] += int64(sample.Value)
	}
	return out, nil
}

// SortedKeys returns the keys of m in order, for stable report output.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package metrics records engine metrics in Prometheus and reads usage
// back from a Prometheus server for operator reports.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the set of observations the engine makes.
type Recorder interface {
	// ObserveTurn records one conversational turn. path is how the turn was
	// answered (workflow, greeting, shortcut, dispatch, duplicate).
	ObserveTurn(channel, path, outcome string, duration time.Duration)

	// ObserveToolCall records one dispatched tool call.
	ObserveToolCall(tool, status string, duration time.Duration)

	// ObserveLLMRequest records one model round-trip.
	ObserveLLMRequest(model, status string, promptTokens, completionTokens int, duration time.Duration)

	// IncMagicLink counts minted and redeemed links.
	IncMagicLink(event, result string)

	// IncWorkflowTransition counts state changes.
	IncWorkflowTransition(family, from, to string)
}

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	turnsTotal     *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	toolCallsTotal *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	llmRequests    *prometheus.CounterVec
	llmDuration    *prometheus.HistogramVec
	llmTokens      *prometheus.CounterVec
	magicLinks     *prometheus.CounterVec
	transitions    *prometheus.CounterVec
}

// NewPrometheusRecorder registers every collector with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgi_turns_total",
				Help: "Conversational turns by channel, answer path and outcome",
			},
			[]string{"channel", "path", "outcome"},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sgi_turn_duration_seconds",
				Help:    "Duration of conversational turns in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel", "path"},
		),
		toolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgi_tool_calls_total",
				Help: "Tool calls by tool and status",
			},
			[]string{"tool", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sgi_tool_call_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"tool"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgi_llm_requests_total",
				Help: "Model requests by model and status",
			},
			[]string{"model", "status"},
		),
		llmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sgi_llm_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgi_llm_tokens_total",
				Help: "Estimated tokens sent to and received from the model",
			},
			[]string{"model", "type"},
		),
		magicLinks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgi_magic_links_total",
				Help: "Magic links minted and redeemed",
			},
			[]string{"event", "result"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sgi_workflow_transitions_total",
				Help: "Workflow state transitions",
			},
			[]string{"family", "from", "to"},
		),
	}
}

func (p *PrometheusRecorder) ObserveTurn(channel, path, outcome string, duration time.Duration) {
	p.turnsTotal.WithLabelValues(channel, path, outcome).Inc()
	p.turnDuration.WithLabelValues(channel, path).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveToolCall(tool, status string, duration time.Duration) {
	p.toolCallsTotal.WithLabelValues(tool, status).Inc()
	p.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) ObserveLLMRequest(model, status string, promptTokens, completionTokens int, duration time.Duration) {
	p.llmRequests.WithLabelValues(model, status).Inc()
	p.llmDuration.WithLabelValues(model).Observe(duration.Seconds())
	if status == StatusSuccess {
		p.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
		p.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

func (p *PrometheusRecorder) IncMagicLink(event, result string) {
	p.magicLinks.WithLabelValues(event, result).Inc()
}

func (p *PrometheusRecorder) IncWorkflowTransition(family, from, to string) {
	p.transitions.WithLabelValues(family, from, to).Inc()
}

// Status labels shared by callers.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Handler serves the collectors gathered by g in the exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

// Nop returns a recorder that discards all metrics.
func Nop() Recorder {
	return NoopRecorder{}
}

func (NoopRecorder) ObserveTurn(_, _, _ string, _ time.Duration)             {}
func (NoopRecorder) ObserveToolCall(_, _ string, _ time.Duration)            {}
func (NoopRecorder) ObserveLLMRequest(_, _ string, _, _ int, _ time.Duration) {}
func (NoopRecorder) IncMagicLink(_, _ string)                                {}
func (NoopRecorder) IncWorkflowTransition(_, _, _ string)                    {}

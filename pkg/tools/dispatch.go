package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sgi/pkg/logx"
)

// Call is one model-proposed invocation.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// CallResult is the outcome of one call, tagged with the tool name and the
// arguments actually used.
type CallResult struct {
	ID     string         `json:"id"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args"`
	Result *Result        `json:"result,omitempty"`
	Err    *CallError     `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r *CallResult) OK() bool {
	return r.Err == nil && r.Result != nil
}

// Payload renders the result as the JSON string handed back to the model.
func (r *CallResult) Payload() string {
	var v any
	if r.Err != nil {
		v = map[string]any{"error": r.Err}
	} else {
		v = r.Result
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"error":{"kind":"execution","tool":%q,"message":"unserializable result"}}`, r.Tool)
	}
	return string(raw)
}

// Recorder observes tool calls. A nil Recorder is allowed.
type Recorder interface {
	ObserveToolCall(tool, status string, elapsed time.Duration)
}

// Dispatcher validates and executes calls against a Registry.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	recorder Recorder
	logger   *logx.Logger
}

// NewDispatcher creates a dispatcher. timeout bounds each execution.
func NewDispatcher(registry *Registry, timeout time.Duration, recorder Recorder) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		registry: registry,
		timeout:  timeout,
		recorder: recorder,
		logger:   logx.NewLogger("tools"),
	}
}

// Registry returns the dispatcher's registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch runs calls in order. It never returns an error: each failure is
// a CallResult carrying a CallError.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []Call) []CallResult {
	results := make([]CallResult, 0, len(calls))
	for i := range calls {
		results = append(results, d.dispatchOne(ctx, &calls[i]))
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, call *Call) CallResult {
	start := time.Now()
	res := CallResult{ID: call.ID, Tool: call.Name, Args: call.Args}

	defer func() {
		status := "ok"
		if res.Err != nil {
			status = string(res.Err.Kind)
		}
		if d.recorder != nil {
			d.recorder.ObserveToolCall(call.Name, status, time.Since(start))
		}
		logx.Debug(ctx, "tools", "%s -> %s in %s", call.Name, status, time.Since(start).Round(time.Millisecond))
	}()

	tool, ok := d.registry.Get(call.Name)
	if !ok {
		d.logger.Error("model proposed unknown tool %q", call.Name)
		res.Err = &CallError{Kind: KindUnknownTool, Tool: call.Name, Message: "no such tool"}
		return res
	}

	args, verr := Validate(tool.Definition(), call.Args)
	if verr != nil {
		d.logger.Warn("rejected %s arguments: %v", call.Name, verr)
		res.Err = verr
		return res
	}
	res.Args = args

	result, err := d.exec(ctx, tool, args)
	switch {
	case err == nil:
		res.Result = result
	case errors.Is(err, context.DeadlineExceeded):
		d.logger.Warn("%s timed out after %s", call.Name, d.timeout)
		res.Err = &CallError{Kind: KindTimeout, Tool: call.Name, Message: "the data lookup took too long"}
	default:
		var ce *CallError
		if errors.As(err, &ce) {
			res.Err = ce
			break
		}
		d.logger.Error("%s failed: %v", call.Name, err)
		res.Err = &CallError{Kind: KindExecution, Tool: call.Name, Message: err.Error()}
	}
	return res
}

type execOutcome struct {
	result *Result
	err    error
}

// exec runs the tool under the dispatcher timeout. A tool that ignores its
// context is abandoned when the deadline passes.
func (d *Dispatcher) exec(ctx context.Context, tool Tool, args Args) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- execOutcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Exec(ctx, args)
		if err == nil && result == nil {
			err = errors.New("tool returned no result")
		}
		done <- execOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestLogFormat(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("orchestrator").Info("turn handled in %dms", 42)

	out := buf.String()
	if !strings.Contains(out, "[orchestrator]") {
		t.Errorf("expected component tag, got: %s", out)
	}
	if !strings.Contains(out, "INFO: turn handled in 42ms") {
		t.Errorf("expected level and message, got: %s", out)
	}
}

func TestWithIdentityTagsLines(t *testing.T) {
	buf := captureOutput(t)

	NewLogger("workflow").WithIdentity("22507000000").Warn("re-prompting")

	if !strings.Contains(buf.String(), "[workflow/22507000000] WARN") {
		t.Errorf("expected identity in tag, got: %s", buf.String())
	}
}

func TestDebugDomainFiltering(t *testing.T) {
	buf := captureOutput(t)
	t.Cleanup(func() { Configure(false, nil) })

	Configure(false, nil)
	Debug(context.Background(), "tools", "hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug disabled but got output: %s", buf.String())
	}

	Configure(true, []string{"workflow"})
	ctx := ContextWithIdentity(context.Background(), "user-1")
	Debug(ctx, "tools", "still hidden")
	Debug(ctx, "workflow", "visible %d", 1)

	out := buf.String()
	if strings.Contains(out, "still hidden") {
		t.Errorf("tools domain should be filtered: %s", out)
	}
	if !strings.Contains(out, "[workflow/user-1] DEBUG: visible 1") {
		t.Errorf("expected workflow debug line, got: %s", out)
	}
}

func TestRecentEntriesFilter(t *testing.T) {
	captureOutput(t)
	start := time.Now().UTC().Add(-time.Second)

	NewLogger("magiclink").Info("minted")
	NewLogger("server").Info("listening")

	entries := GetRecentLogEntries("magiclink", start)
	if len(entries) == 0 {
		t.Fatal("expected buffered magiclink entry")
	}
	for _, e := range entries {
		if e.Component != "magiclink" {
			t.Errorf("unexpected component %q", e.Component)
		}
	}
}

func TestDebugFlow(t *testing.T) {
	buf := captureOutput(t)
	t.Cleanup(func() { Configure(false, nil) })

	Configure(true, []string{"workflow"})
	if !IsDebugEnabledForDomain("workflow") || IsDebugEnabledForDomain("tools") {
		t.Fatal("expected only the workflow domain to be enabled")
	}
	DebugFlow(context.Background(), "workflow", "INCIDENT_TYPE", "-> INCIDENT_CATEGORY")
	if !strings.Contains(buf.String(), "Flow INCIDENT_TYPE: -> INCIDENT_CATEGORY") {
		t.Errorf("expected flow line, got: %s", buf.String())
	}
}

func TestErrorfLogsAndReturns(t *testing.T) {
	buf := captureOutput(t)
	base := errors.New("no api key")

	err := Errorf("failed to create %s client: %w", "anthropic", base)
	if !errors.Is(err, base) {
		t.Fatal("expected returned error to wrap base")
	}
	if !strings.Contains(buf.String(), "ERROR: failed to create anthropic client: no api key") {
		t.Errorf("expected error line, got: %s", buf.String())
	}
}

func TestWrap(t *testing.T) {
	captureOutput(t)
	if Wrap(nil, "noop") != nil {
		t.Fatal("wrapping nil must return nil")
	}
	base := errors.New("boom")
	err := Wrap(base, "open db")
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match base")
	}
	if err.Error() != "open db: boom" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

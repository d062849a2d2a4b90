// Package logx provides component loggers, domain-filtered debug logging and
// an in-memory buffer of recent entries for the operator API.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// Logger writes lines of the form "[ts] [component] LEVEL: message".
// When an identity is attached it is rendered as "[component/identity]".
type Logger struct {
	component string
	identity  string
}

// LogEntry is a buffered log line served by the operator API.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Identity  string `json:"identity,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
}

type debugSettings struct {
	enabled bool
	domains map[string]bool // nil enables every domain
}

type entryBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int
}

type ctxKey int

const identityKey ctxKey = iota

var (
	settingsMu sync.RWMutex
	settings   = debugSettings{}

	outputMu sync.Mutex
	output   io.Writer = os.Stderr

	buffer = &entryBuffer{maxSize: 1000}
)

func init() { //nolint:gochecknoinits // env-driven defaults, overridable by Configure
	enabled := false
	if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		enabled = true
	}
	var domains []string
	if v := os.Getenv("DEBUG_DOMAINS"); v != "" {
		domains = strings.Split(v, ",")
	}
	Configure(enabled, domains)
}

// Configure sets the debug switch and the domains debug output is limited to.
// An empty domain list enables every domain.
func Configure(debug bool, domains []string) {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	settings.enabled = debug
	settings.domains = nil
	for _, d := range domains {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if settings.domains == nil {
			settings.domains = make(map[string]bool)
		}
		settings.domains[d] = true
	}
}

// SetOutput redirects log lines. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	output = w
}

// IsDebugEnabledForDomain reports whether debug lines for domain are emitted.
func IsDebugEnabledForDomain(domain string) bool {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	if !settings.enabled {
		return false
	}
	return settings.domains == nil || settings.domains[domain]
}

// NewLogger returns a logger for component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// WithIdentity returns a copy of l tagged with a conversing identity.
func (l *Logger) WithIdentity(identity string) *Logger {
	return &Logger{component: l.component, identity: identity}
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabledForDomain(l.component) {
		return
	}
	l.write(LevelDebug, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.write(LevelInfo, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(format string, args ...any) {
	l.write(LevelWarn, "", fmt.Sprintf(format, args...))
}

func (l *Logger) Error(format string, args ...any) {
	l.write(LevelError, "", fmt.Sprintf(format, args...))
}

func (l *Logger) write(level Level, domain, message string) {
	ts := time.Now().UTC().Format(timestampLayout)
	tag := l.component
	if l.identity != "" {
		tag = l.component + "/" + l.identity
	}
	line := fmt.Sprintf("[%s] [%s] %s: %s\n", ts, tag, level, message)

	outputMu.Lock()
	_, _ = io.WriteString(output, line)
	outputMu.Unlock()

	buffer.add(LogEntry{
		Timestamp: ts,
		Component: l.component,
		Identity:  l.identity,
		Level:     string(level),
		Message:   message,
		Domain:    domain,
	})
}

// ContextWithIdentity attaches the conversing identity to ctx for Debug.
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity stored by ContextWithIdentity.
func IdentityFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(identityKey).(string)
	return id
}

// Debug logs a domain-filtered debug line:
//
//	DEBUG=1                              all domains
//	DEBUG=1 DEBUG_DOMAINS=workflow,tools only those domains
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	l := &Logger{component: domain, identity: IdentityFromContext(ctx)}
	l.write(LevelDebug, domain, fmt.Sprintf(format, args...))
}

// DebugFlow logs a workflow step.
func DebugFlow(ctx context.Context, domain, step, status string) {
	Debug(ctx, domain, "Flow %s: %s", step, status)
}

func (b *entryBuffer) add(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

func (b *entryBuffer) list(component string, since time.Time) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		e := &b.entries[i]
		if component != "" && !strings.EqualFold(e.Component, component) {
			continue
		}
		if !since.IsZero() {
			ts, err := time.Parse(timestampLayout, e.Timestamp)
			if err != nil || ts.Before(since) {
				continue
			}
		}
		out = append(out, *e)
	}
	return out
}

// GetRecentLogEntries returns buffered entries, optionally filtered by
// component and minimum timestamp.
func GetRecentLogEntries(component string, since time.Time) []LogEntry {
	return buffer.list(component, since)
}

var defaultLogger = NewLogger("system")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err and returns the wrapped error. Nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}

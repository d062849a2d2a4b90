package tools

import (
	"fmt"
	"strings"
)

// ErrorKind separates argument problems from executor failures.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindUnknownTool ErrorKind = "unknown_tool"
	KindExecution   ErrorKind = "execution"
	KindTimeout     ErrorKind = "timeout"
)

// FieldError is one rejected argument.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// CallError is the structured failure of one tool call. It is fed back to
// the model so it can correct its arguments or explain the limitation.
type CallError struct {
	Kind    ErrorKind    `json:"kind"`
	Tool    string       `json:"tool"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

func (e *CallError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s %s: %s", e.Tool, e.Kind, e.Message)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("%s %s: %s (%s)", e.Tool, e.Kind, e.Message, strings.Join(parts, "; "))
}

// Package tools declares the capabilities the model may call, validates the
// arguments it proposes and executes them against the data store.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sgi/pkg/proto"
)

// ToolDefinition describes a tool in the JSON-schema shape every provider accepts.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// InputSchema is the object schema of a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one argument.
type Property struct {
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
	Enum        []string             `json:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Minimum     *float64             `json:"minimum,omitempty"`
	Maximum     *float64             `json:"maximum,omitempty"`
}

// Tool is one callable capability.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	PromptDocumentation() string
	Exec(ctx context.Context, args Args) (*Result, error)
}

// Result is what a tool hands back to the orchestrator.
type Result struct {
	Summary string             `json:"summary"`
	Data    any                `json:"data,omitempty"`
	Count   int                `json:"count"`
	Menu    *proto.Interactive `json:"-"`
	Link    *proto.LinkRequest `json:"-"`
	Action  string             `json:"action,omitempty"`
}

// Args are validated arguments. Every declared parameter with a default is
// present; numbers are float64 after validation.
type Args map[string]any

// String returns a string argument, "" when absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return strings.TrimSpace(s)
}

// Int returns an integer argument, def when absent.
func (a Args) Int(name string, def int) int {
	switch v := a[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// Bool returns a boolean argument.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// StringMap returns an object argument whose values are rendered as strings.
func (a Args) StringMap(name string) map[string]string {
	m, ok := a[name].(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

func ptr(f float64) *float64 { return &f }

// PropertyMap returns the argument properties as generic JSON-schema maps,
// the shape SDKs without typed schemas expect.
func (s InputSchema) PropertyMap() map[string]any {
	out := make(map[string]any, len(s.Properties))
	for name, prop := range s.Properties {
		raw, err := json.Marshal(prop)
		if err != nil {
			continue
		}
		var m map[string]any
		if json.Unmarshal(raw, &m) == nil {
			out[name] = m
		}
	}
	return out
}

// JSONSchema returns the full object schema as a generic map.
func (s InputSchema) JSONSchema() map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": s.PropertyMap(),
	}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}

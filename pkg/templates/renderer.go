// Package templates renders the prompts sent to the model.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// TemplateData holds the data for template rendering.
type TemplateData struct {
	Extra             map[string]any `json:"extra,omitempty"`
	Today             string         `json:"today"`
	ToolDocumentation string         `json:"tool_documentation,omitempty"`
	ToolResults       string         `json:"tool_results,omitempty"`
	DashboardURL      string         `json:"dashboard_url,omitempty"`
	MaxToolRounds     int            `json:"max_tool_rounds,omitempty"`
	FinalRound        bool           `json:"final_round,omitempty"`
}

// PromptTemplate names an embedded template.
type PromptTemplate string

const (
	// SystemTemplate is the operating instructions of the assistant.
	SystemTemplate PromptTemplate = "system.tpl.md"
	// ToolResultsTemplate wraps tool results handed back to the model.
	ToolResultsTemplate PromptTemplate = "tool_results.tpl.md"
	// ToolCallsTemplate flattens the tool calls the model asked for.
	ToolCallsTemplate PromptTemplate = "tool_calls.tpl.md"
)

// Renderer handles template rendering.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[PromptTemplate]*template.Template)}

	for _, name := range []PromptTemplate{SystemTemplate, ToolResultsTemplate, ToolCallsTemplate} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"contains": strings.Contains,
			"trim":     strings.TrimSpace,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// MustRenderer is NewRenderer for package-level initialization. The
// templates are embedded, so a failure is a build defect.
func MustRenderer() *Renderer {
	r, err := NewRenderer()
	if err != nil {
		panic(err)
	}
	return r
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(name PromptTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[name]
	if !exists {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// RenderSimple renders a template with data available as .Extra.Data.
func (r *Renderer) RenderSimple(name PromptTemplate, data any) (string, error) {
	return r.Render(name, &TemplateData{Extra: map[string]any{"Data": data}})
}

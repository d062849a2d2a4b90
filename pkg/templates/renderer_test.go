package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRenderer(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	for _, name := range []PromptTemplate{SystemTemplate, ToolResultsTemplate, ToolCallsTemplate} {
		_, err := renderer.Render(name, &TemplateData{Extra: map[string]any{"Data": map[string]string{"Content": "", "Calls": "[]"}}})
		assert.NoError(t, err, name)
	}
}

func TestRenderSystemTemplate(t *testing.T) {
	renderer := MustRenderer()

	out, err := renderer.Render(SystemTemplate, &TemplateData{
		Today:             "2026-10-15",
		ToolDocumentation: "- **query_projects** - liste des projets",
		MaxToolRounds:     2,
		DashboardURL:      "https://sgi.example.org",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Date du jour : 2026-10-15")
	assert.Contains(t, out, "query_projects")
	assert.Contains(t, out, "Au plus 2 série(s)")
	assert.Contains(t, out, "https://sgi.example.org")
	assert.NotContains(t, out, "{{")
}

func TestRenderSystemTemplateWithoutDashboard(t *testing.T) {
	out, err := MustRenderer().Render(SystemTemplate, &TemplateData{Today: "2026-10-15"})
	require.NoError(t, err)
	assert.NotContains(t, out, "tableau de bord")
}

func TestRenderToolResults(t *testing.T) {
	r := MustRenderer()

	out, err := r.Render(ToolResultsTemplate, &TemplateData{ToolResults: `[{"tool":"query_projects"}]`})
	require.NoError(t, err)
	assert.Contains(t, out, `"tool":"query_projects"`)
	assert.Contains(t, out, "appelle un autre outil")

	out, err = r.Render(ToolResultsTemplate, &TemplateData{ToolResults: "[]", FinalRound: true})
	require.NoError(t, err)
	assert.Contains(t, out, "sans appeler d'autre outil")
}

func TestRenderToolCalls(t *testing.T) {
	r := MustRenderer()

	out, err := r.RenderSimple(ToolCallsTemplate, map[string]string{"Content": "Je regarde.", "Calls": `[{"name":"search_stock"}]`})
	require.NoError(t, err)
	assert.Equal(t, "Je regarde.\n\nAppel d'outils : [{\"name\":\"search_stock\"}]", out)

	out, err = r.RenderSimple(ToolCallsTemplate, map[string]string{"Content": "  ", "Calls": "[]"})
	require.NoError(t, err)
	assert.Equal(t, "Appel d'outils : []", out)
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := MustRenderer().Render("missing.tpl.md", &TemplateData{})
	assert.Error(t, err)
}

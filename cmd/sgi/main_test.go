package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgi/pkg/metrics"
	"sgi/pkg/proto"
)

// writeConfig creates a config whose database lives in a temp dir.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `server:
  public_base_url: https://sgi.example.org
  dashboard_url: https://dashboard.example.org
database:
  path: ` + filepath.Join(dir, "sgi.db") + `
magic_link:
  secret: cli-test-secret-value
`
	path := filepath.Join(dir, "sgi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedCommand(t *testing.T) {
	cfgPath := writeConfig(t)
	seed := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(`projects:
  - id: p1
    code: PRJ-001
    name: Route de Bouaké
    status: en_cours
stock:
  - id: st1
    name: Ciment CPJ 45
    quantity: 120
`), 0o600))

	out, err := execute(t, "seed", seed, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 2 records")

	_, err = execute(t, "seed", filepath.Join(t.TempDir(), "missing.yaml"), "--config", cfgPath)
	assert.Error(t, err)
}

func TestLinkMintAndCheck(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := execute(t, "link", "mint", "--type", "project", "--id", "p1", "--config", cfgPath)
	require.NoError(t, err)
	link := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(link, "https://sgi.example.org/l/"), link)

	out, err = execute(t, "link", "check", link, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"isValid": true`)
	assert.Contains(t, out, "→ https://dashboard.example.org/projects/p1")

	out, err = execute(t, "link", "check", "garbage", "--config", cfgPath)
	assert.Error(t, err)
	assert.Contains(t, out, "link-error?reason=malformed")
}

func TestLinkMintRejectsDetailWithoutID(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := execute(t, "link", "mint", "--type", "incident", "--config", cfgPath)
	assert.Error(t, err)
}

func TestTokenFromArg(t *testing.T) {
	assert.Equal(t, "abc", tokenFromArg("abc"))
	assert.Equal(t, "abc", tokenFromArg(" https://sgi.example.org/l/abc/ "))
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "sgi "))
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf, &metrics.Usage{
		Window:      24 * time.Hour,
		TurnsByPath: map[string]int64{"workflow": 3, "dispatch": 5},
		ToolCalls:   map[string]int64{"query_projects/ok": 4, "query_projects/error": 1},
		Errors:      map[string]float64{"query_projects": 0.2},
	})
	out := buf.String()
	assert.Contains(t, out, "24h0m0s")
	assert.Less(t, strings.Index(out, "dispatch"), strings.Index(out, "workflow"))
	assert.Contains(t, out, "20.0%")
	assert.Contains(t, out, "(none)")
}

// scriptedTurner replies with queued outbounds and records what it saw.
type scriptedTurner struct {
	replies []proto.Outbound
	seen    []*proto.Inbound
}

func (s *scriptedTurner) HandleTurn(_ context.Context, in *proto.Inbound) proto.Outbound {
	s.seen = append(s.seen, in)
	if len(s.replies) == 0 {
		return proto.Outbound{Text: "ok"}
	}
	out := s.replies[0]
	s.replies = s.replies[1:]
	return out
}

func TestConsoleNumbersPickMenuRows(t *testing.T) {
	menu := proto.NewList("Que souhaitez-vous faire ?", "Menu", proto.Section{Title: "Actions", Rows: []proto.Row{
		{ID: "wf:incident", Title: "Déclarer un incident"},
		{ID: "wf:stock", Title: "Rechercher en stock", Description: "Matériaux"},
	}})
	turns := &scriptedTurner{replies: []proto.Outbound{
		{Text: "Bonjour 👋", Interactive: menu},
		{Text: "Que cherchez-vous ?", MagicLink: "https://sgi.example.org/l/x"},
	}}
	var out bytes.Buffer
	c := newConsole(turns, "console:test", &out)

	err := c.run(context.Background(), strings.NewReader("bonjour\n\n2\n7\n/quit\nignored\n"))
	require.NoError(t, err)

	require.Len(t, turns.seen, 3)
	assert.Equal(t, proto.ChannelConsole, turns.seen[0].Channel)
	assert.Equal(t, "console:test", turns.seen[0].Identity)
	assert.Equal(t, "bonjour", turns.seen[0].Text)

	assert.Equal(t, "wf:stock", turns.seen[1].SelectionID)
	assert.Equal(t, "Rechercher en stock", turns.seen[1].Text)

	// The second reply had no menu, so a number is plain text again.
	assert.Empty(t, turns.seen[2].SelectionID)
	assert.Equal(t, "7", turns.seen[2].Text)
	assert.NotEqual(t, turns.seen[0].DeliveryID, turns.seen[1].DeliveryID)

	printed := out.String()
	assert.Contains(t, printed, "  1. Déclarer un incident")
	assert.Contains(t, printed, "  2. Rechercher en stock · Matériaux")
	assert.Contains(t, printed, "🔗 https://sgi.example.org/l/x")
	assert.NotContains(t, printed, "> ")
}

func TestConsolePhotoAttachesMedia(t *testing.T) {
	turns := &scriptedTurner{}
	c := newConsole(turns, "console:test", &bytes.Buffer{})

	require.NoError(t, c.run(context.Background(), strings.NewReader("/photo https://img.example/1.jpg Fissure pile 3\n")))
	require.Len(t, turns.seen, 1)
	media := turns.seen[0].Media
	require.NotNil(t, media)
	assert.Equal(t, "https://img.example/1.jpg", media.URL)
	assert.Equal(t, "Fissure pile 3", media.Caption)
	assert.Empty(t, turns.seen[0].Text)
}

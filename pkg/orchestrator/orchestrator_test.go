package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sgi/internal/mocks"
	"sgi/pkg/datastore"
	"sgi/pkg/llm"
	"sgi/pkg/magiclink"
	"sgi/pkg/metrics"
	"sgi/pkg/persistence"
	"sgi/pkg/proto"
	"sgi/pkg/session"
	"sgi/pkg/tools"
	"sgi/pkg/workflow"
)

const identity = "2250700000001"

type fixture struct {
	ctx      context.Context
	orch     *Orchestrator
	model    *mocks.MockLLMClient
	sessions *session.MemoryStore
	db       *persistence.Store
	store    datastore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := datastore.NewMemory()
	for coll, recs := range map[string][]datastore.Record{
		datastore.Projects: {
			{"id": "p1", "code": "PRJ-001", "name": "Route de Bouaké", "status": "en_cours", "progress": 40, "budget": 1500000000},
			{"id": "p2", "code": "PRJ-002", "name": "Route de Korhogo", "status": "planifie"},
		},
		datastore.Stock: {
			{"id": "st1", "reference": "CIM-45", "name": "Ciment CPJ 45", "quantity": 120, "unit": "sacs", "location": "Dépôt Yopougon"},
		},
		datastore.Incidents: {
			{"id": "i1", "type": "securite", "category": "chute", "severity": "haute", "status": "ouvert", "description": "Chute bloc B"},
		},
	} {
		for _, r := range recs {
			_, err := mem.Insert(ctx, coll, r)
			require.NoError(t, err)
		}
	}

	db, err := persistence.Open(filepath.Join(t.TempDir(), "sgi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	pstore := persistence.NewStore(db)

	links, err := magiclink.NewService(magiclink.Config{
		Secret:        "orchestrator-test-secret-value",
		PublicBaseURL: "https://sgi.example.org",
	}, pstore, nil)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterCatalog(registry, mem, tools.Options{}))

	sessions := session.NewMemoryStore()
	model := mocks.NewMockLLMClient()
	orch, err := New(Deps{
		Sessions:   sessions,
		Workflows:  workflow.New(sessions, mem, metrics.Nop(), workflow.Options{}),
		Dispatcher: tools.NewDispatcher(registry, 5*time.Second, nil),
		Store:      mem,
		LLM:        model,
		Links:      links,
		History:    pstore,
		Deliveries: pstore,
	}, Options{TurnTimeout: 10 * time.Second})
	require.NoError(t, err)

	return &fixture{ctx: ctx, orch: orch, model: model, sessions: sessions, db: pstore, store: mem}
}

func (f *fixture) say(text string) proto.Outbound {
	return f.orch.HandleTurn(f.ctx, &proto.Inbound{Channel: proto.ChannelWhatsApp, Identity: identity, Text: text})
}

func (f *fixture) tap(id string) proto.Outbound {
	return f.orch.HandleTurn(f.ctx, &proto.Inbound{Channel: proto.ChannelWhatsApp, Identity: identity, SelectionID: id})
}

func (f *fixture) state() session.State {
	return f.sessions.Get(f.ctx, identity).State
}

func TestGreetingShowsMainMenu(t *testing.T) {
	f := newFixture(t)

	out := f.say("Bonjour")
	require.NotNil(t, out.Interactive)
	require.NoError(t, out.Interactive.Validate())
	assert.Equal(t, proto.KindList, out.Interactive.Kind)
	assert.Equal(t, len(workflow.Catalog)+len(questions), out.Interactive.RowCount())
	assert.Equal(t, session.StateIdle, f.state())
	assert.Zero(t, f.model.GetCompleteCallCount())
}

func TestCountQuestionRunsTools(t *testing.T) {
	f := newFixture(t)
	f.model.RespondWithSequence(
		mocks.Step{Response: mocks.ToolCallResponse(tools.ToolQueryProjects, map[string]any{"status": "en_cours", "count_only": true})},
		mocks.Step{Response: mocks.TextResponse("Il y a *1* projet en cours.")},
	)

	out := f.say("Combien de projets en cours ?")
	assert.Equal(t, "Il y a *1* projet en cours.", out.Text)
	assert.Equal(t, tools.ToolQueryProjects, out.Action)
	assert.Equal(t, session.StateIdle, f.state())

	require.Equal(t, 2, f.model.GetCompleteCallCount())
	first := f.model.GetNthCompleteCall(0)
	assert.NotEmpty(t, first.Tools)
	assert.Equal(t, "auto", first.ToolChoice)
	assert.Equal(t, llm.RoleSystem, first.Messages[0].Role)
	assert.Contains(t, first.Messages[0].Content, "query_projects")
	assert.True(t, f.model.AssertCompleteCalledWith(`"count":1`))

	data, ok := out.Data.([]ToolData)
	require.True(t, ok)
	require.Len(t, data, 1)
	assert.Equal(t, tools.ToolQueryProjects, data[0].Tool)
}

func TestAnswerIsStoredInHistory(t *testing.T) {
	f := newFixture(t)
	f.model.RespondWith("Bonne question.")

	f.say("Quel est le projet le plus avancé ?")
	turns, err := f.db.RecentTurns(f.ctx, identity, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "Bonne question.", turns[1].Content)

	f.say("Et le suivant ?")
	last := f.model.LastCompleteCall()
	require.NotNil(t, last)
	require.Len(t, last.Messages, 4)
	assert.Equal(t, llm.RoleAssistant, last.Messages[2].Role)
	assert.Equal(t, "Et le suivant ?", last.Messages[3].Content)
}

func TestCallerHistoryIsUsedAndNotStored(t *testing.T) {
	f := newFixture(t)
	f.model.RespondWith("D'accord.")

	out := f.orch.HandleTurn(f.ctx, &proto.Inbound{
		Channel:  proto.ChannelChatAPI,
		Identity: "api:tester",
		Text:     "Et celui de Korhogo ?",
		History: []proto.Turn{
			{Role: proto.RoleUser, Content: "Où en est la route de Bouaké ?"},
			{Role: proto.RoleAssistant, Content: "Elle est à 40 %."},
		},
	})
	assert.Equal(t, "D'accord.", out.Text)

	last := f.model.LastCompleteCall()
	require.Len(t, last.Messages, 4)
	assert.Equal(t, "Elle est à 40 %.", last.Messages[2].Content)

	turns, err := f.db.RecentTurns(f.ctx, "api:tester", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestWorkflowStartAndCancel(t *testing.T) {
	f := newFixture(t)

	out := f.say("incident")
	assert.Equal(t, workflow.StateIncidentType, f.state())
	assert.Equal(t, "workflow:incident", out.Action)

	out = f.say("annuler")
	assert.Equal(t, msgCancelled, out.Text)
	require.NotNil(t, out.Interactive)
	assert.Equal(t, session.StateIdle, f.state())
}

func TestUnrelatedQuestionLeavesWorkflow(t *testing.T) {
	f := newFixture(t)
	f.model.RespondWith("Un projet est en cours.")

	f.tap(workflow.SelectionPrefix + string(session.FamilyIncident))
	require.Equal(t, workflow.StateIncidentType, f.state())

	out := f.say("Combien de projets sont en cours ?")
	assert.Equal(t, "Un projet est en cours.", out.Text)
	assert.Equal(t, session.StateIdle, f.state())
	assert.Equal(t, 1, f.model.GetCompleteCallCount())
}

func TestWorkflowSwitchByMenuSelection(t *testing.T) {
	f := newFixture(t)

	f.say("incident")
	out := f.tap(workflow.SelectionPrefix + string(session.FamilyStock))
	assert.Equal(t, workflow.StateStockQuery, f.state())
	assert.Equal(t, "workflow:stock", out.Action)
}

func TestModelFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.model.FailCompleteWith(errors.New("upstream unavailable"))

	out := f.say("Quels sont les incidents ouverts ?")
	assert.Equal(t, msgUnavailable, out.Text)
	assert.Nil(t, out.Interactive)

	turns, err := f.db.RecentTurns(f.ctx, identity, 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestModelFailureAfterToolsFallsBackToSummaries(t *testing.T) {
	f := newFixture(t)
	f.model.RespondWithSequence(
		mocks.Step{Response: mocks.ToolCallResponse(tools.ToolQueryProjects, map[string]any{"status": "en_cours", "count_only": true})},
		mocks.Step{Err: errors.New("rate limited")},
	)

	out := f.say("Combien de projets en cours ?")
	assert.Equal(t, "1 projet(s) en cours", out.Text)
}

func TestUnknownToolIsFedBack(t *testing.T) {
	f := newFixture(t)
	f.model.RespondWithSequence(
		mocks.Step{Response: mocks.ToolCallResponse("launch_crane", map[string]any{})},
		mocks.Step{Response: mocks.TextResponse("Je ne peux pas faire cela.")},
	)

	out := f.say("Démarre la grue")
	assert.Equal(t, "Je ne peux pas faire cela.", out.Text)
	assert.True(t, f.model.AssertCompleteCalledWith(string(tools.KindUnknownTool)))
	assert.Nil(t, out.Data)
}

func TestToolRoundsAreBounded(t *testing.T) {
	f := newFixture(t)
	f.model.RespondWithToolCall(tools.ToolSearchStock, map[string]any{"query": "ciment"})

	out := f.say("Il reste du ciment ?")
	require.Equal(t, 3, f.model.GetCompleteCallCount())
	assert.Empty(t, f.model.LastCompleteCall().Tools)
	assert.NotEqual(t, msgUnavailable, out.Text)
	assert.NotEmpty(t, out.Text)
}

func TestDuplicateDeliveryIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.model.RespondWith("Réponse.")
	in := &proto.Inbound{Channel: proto.ChannelWhatsApp, Identity: identity, Text: "Quoi de neuf ?", DeliveryID: "wamid.1"}

	first := f.orch.HandleTurn(f.ctx, in)
	second := f.orch.HandleTurn(f.ctx, in)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, f.model.GetCompleteCallCount())
}

func TestPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.model.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		panic("provider bug")
	})

	out := f.say("Quels projets sont suspendus ?")
	assert.Equal(t, msgUnavailable, out.Text)
}

func TestProjectSelectionMintsLink(t *testing.T) {
	f := newFixture(t)

	out := f.tap(tools.RowProject + "p1")
	assert.Contains(t, out.Text, "Route de Bouaké")
	assert.True(t, strings.HasPrefix(out.MagicLink, "https://sgi.example.org/l/"), out.MagicLink)
	assert.Equal(t, tools.ToolGetProject, out.Action)
	assert.Zero(t, f.model.GetCompleteCallCount())
}

func TestDetailSelections(t *testing.T) {
	f := newFixture(t)

	out := f.tap(tools.RowStock + "st1")
	assert.Contains(t, out.Text, "Ciment CPJ 45")
	assert.Empty(t, out.MagicLink)

	out = f.tap(tools.RowIncident + "i1")
	assert.Contains(t, out.Text, "Chute bloc B")
	assert.NotEmpty(t, out.MagicLink)

	out = f.tap(tools.RowSignalement + "missing")
	assert.Equal(t, msgNotFound, out.Text)
}

func TestStaleSelectionShowsMenu(t *testing.T) {
	f := newFixture(t)

	out := f.tap("opt:securite")
	assert.Contains(t, out.Text, msgStaleChoice)
	require.NotNil(t, out.Interactive)
	assert.Equal(t, session.StateIdle, f.state())
}

func TestCannedQuestionGoesToModel(t *testing.T) {
	f := newFixture(t)
	f.model.RespondWith("Un projet.")

	out := f.tap(askPrefix + "projets_en_cours")
	assert.Equal(t, "Un projet.", out.Text)
	assert.True(t, f.model.AssertCompleteCalledWith("Combien de projets sont en cours ?"))
}

func TestMediaWhileIdle(t *testing.T) {
	f := newFixture(t)

	out := f.orch.HandleTurn(f.ctx, &proto.Inbound{
		Channel:  proto.ChannelWhatsApp,
		Identity: identity,
		Media:    &proto.MediaRef{ID: "m1", MimeType: "image/jpeg"},
	})
	assert.Equal(t, msgMediaIdle, out.Text)
	assert.Zero(t, f.model.GetCompleteCallCount())
}

func TestMissingIdentityIsRejected(t *testing.T) {
	f := newFixture(t)
	out := f.orch.HandleTurn(f.ctx, &proto.Inbound{Text: "Bonjour"})
	assert.Equal(t, msgUnavailable, out.Text)
}

func TestAssembleAttachesFirstMenu(t *testing.T) {
	menu := proto.NewList("3 projets", "Voir", proto.Section{Rows: []proto.Row{{ID: "project:p1", Title: "Route"}}})
	results := []tools.CallResult{
		{Tool: "broken", Err: &tools.CallError{Kind: tools.KindExecution}},
		{Tool: tools.ToolQueryProjects, Result: &tools.Result{Summary: "3 projets", Menu: menu, Link: &proto.LinkRequest{ResourceType: proto.ResourceProjects}}},
	}

	out, link := assemble("Voici les projets.", results)
	require.NotNil(t, out.Interactive)
	assert.Equal(t, "Voici les projets.", out.Interactive.Body)
	assert.Equal(t, "3 projets", menu.Body)
	require.NotNil(t, link)
	assert.Equal(t, proto.ResourceProjects, link.ResourceType)
	assert.Equal(t, tools.ToolQueryProjects, out.Action)
}

func TestIdentityLocks(t *testing.T) {
	locks := newIdentityLocks()

	release, err := locks.acquire(context.Background(), identity)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, identity)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := locks.acquire(context.Background(), "someone-else")
	require.NoError(t, err)
	other()

	release()
	assert.Zero(t, locks.size())
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"sgi/pkg/datastore"
	"sgi/pkg/domain"
	"sgi/pkg/logx"
	"sgi/pkg/proto"
	"sgi/pkg/session"
	"sgi/pkg/tools"
	"sgi/pkg/utils"
	"sgi/pkg/workflow"
)

const askPrefix = "ask:"

// question is a canned main-menu question answered by the model.
type question struct {
	key, title, text string
}

var questions = []question{
	{"projets_en_cours", "Projets en cours", "Combien de projets sont en cours ?"},
	{"incidents_ouverts", "Incidents ouverts", "Quels sont les incidents ouverts ?"},
	{"top_budget", "Plus gros budgets", "Quels sont les 5 projets avec le plus gros budget ?"},
	{"signalements", "Derniers signalements", "Quels sont les derniers signalements ?"},
}

var greetings = []string{
	"bonjour", "bonsoir", "salut", "hello", "hi", "coucou", "menu", "aide", "help", "start", "accueil",
}

const (
	msgMenu         = "Bonjour 👋 Que souhaitez-vous faire ?"
	msgCancelled    = "D'accord, c'est annulé."
	msgMediaIdle    = "J'ai bien reçu votre fichier, mais aucune opération n'est en cours. Choisissez *Envoyer une photo* pour l'ajouter à un projet."
	msgStaleChoice  = "Ce choix n'est plus valide."
	msgNotFound     = "Je ne retrouve pas cet élément, il a peut-être été supprimé."
	mainMenuButton  = "Menu"
	mainMenuActions = "Actions"
	mainMenuAsk     = "Questions"
)

// MainMenu is the entry list shown on greetings and after cancellations.
func MainMenu(body string) *proto.Interactive {
	asks := make([]proto.Row, len(questions))
	for i, q := range questions {
		asks[i] = proto.Row{ID: askPrefix + q.key, Title: utils.Truncate(q.title, proto.MaxRowTitle)}
	}
	return proto.NewList(body, mainMenuButton,
		proto.Section{Title: mainMenuActions, Rows: workflow.MenuRows()},
		proto.Section{Title: mainMenuAsk, Rows: asks},
	)
}

func menuReply(body string) proto.Outbound {
	return proto.Outbound{Text: body, Interactive: MainMenu(body), Action: "menu"}
}

func isGreeting(text string) bool {
	t := strings.Trim(utils.Fold(text), " .!")
	return slices.Contains(greetings, t)
}

// freeForm handles a turn with no active workflow.
func (o *Orchestrator) freeForm(ctx context.Context, in *proto.Inbound) reply {
	if in.Media != nil && in.SelectionID == "" && strings.TrimSpace(in.Text) == "" {
		return reply{out: menuReply(msgMediaIdle), path: PathShortcut}
	}
	if fam, ok := workflow.MatchStarter(in); ok {
		return o.startWorkflow(ctx, in.Identity, fam)
	}
	if in.SelectionID == "" {
		switch {
		case isGreeting(in.Text):
			return reply{out: menuReply(msgMenu), path: PathGreeting}
		case workflow.IsCancel(in.Text):
			return reply{out: menuReply(msgCancelled), path: PathShortcut}
		}
		return o.converse(ctx, in, in.Text)
	}
	return o.selection(ctx, in)
}

func (o *Orchestrator) startWorkflow(ctx context.Context, identity string, fam session.Family) reply {
	res, err := o.Workflows.Start(ctx, identity, fam)
	if err != nil {
		o.logger.WithIdentity(identity).Error("🚨 failed to start %s workflow: %v", fam, err)
		return reply{out: proto.Outbound{Text: msgUnavailable}, path: PathWorkflow, failed: true}
	}
	res.Reply.Action = "workflow:" + string(fam)
	return reply{out: res.Reply, link: res.Link, path: PathWorkflow}
}

// selection answers a tapped row outside any workflow.
func (o *Orchestrator) selection(ctx context.Context, in *proto.Inbound) reply {
	id := in.SelectionID
	if key, ok := strings.CutPrefix(id, askPrefix); ok {
		for _, q := range questions {
			if q.key == key {
				return o.converse(ctx, in, q.text)
			}
		}
	}
	if ref, ok := strings.CutPrefix(id, tools.RowProject); ok {
		return o.dispatchDirect(ctx, tools.ToolGetProject, map[string]any{"project_id": ref})
	}

	details := []struct {
		prefix, collection string
		render             func(datastore.Record) string
	}{
		{tools.RowIncident, datastore.Incidents, tools.IncidentDetail},
		{tools.RowSignalement, datastore.Signalements, signalementDetail},
		{tools.RowStock, datastore.Stock, tools.StockDetail},
	}
	for _, d := range details {
		ref, ok := strings.CutPrefix(id, d.prefix)
		if !ok {
			continue
		}
		rec, err := o.Store.Get(ctx, d.collection, ref)
		switch {
		case errors.Is(err, datastore.ErrNotFound):
			return reply{out: proto.Outbound{Text: msgNotFound}, path: PathShortcut}
		case err != nil:
			o.logger.WithIdentity(in.Identity).Warn("failed to load %s %s: %v", d.collection, ref, err)
			return reply{out: proto.Outbound{Text: msgUnavailable}, path: PathShortcut, failed: true}
		}
		out := proto.Outbound{Text: d.render(rec), Data: rec, Action: "detail:" + strings.TrimSuffix(d.prefix, ":")}
		var link *proto.LinkRequest
		if d.collection == datastore.Incidents {
			link = &proto.LinkRequest{ResourceType: proto.ResourceIncident, ResourceID: rec.ID()}
		}
		return reply{out: out, link: link, path: PathShortcut}
	}

	logx.Debug(ctx, "orchestrator", "stale selection %q", id)
	return reply{out: menuReply(msgStaleChoice + " Que souhaitez-vous faire ?"), path: PathShortcut}
}

// dispatchDirect runs a single tool without the model and renders its summary.
func (o *Orchestrator) dispatchDirect(ctx context.Context, name string, args map[string]any) reply {
	results := o.Dispatcher.Dispatch(ctx, []tools.Call{{ID: "direct", Name: name, Args: args}})
	res := results[0]
	if !res.OK() {
		o.logger.Warn("direct %s call failed: %v", name, res.Err)
		return reply{out: proto.Outbound{Text: msgUnavailable}, path: PathShortcut, failed: true}
	}
	out, link := assemble(res.Result.Summary, results)
	return reply{out: out, link: link, path: PathShortcut}
}

func signalementDetail(r datastore.Record) string {
	s := fmt.Sprintf("*%s*\nStatut: %s", r.String("title"), domain.Label(domain.SignalementStatuses, r.String("status")))
	if d := r.String("description"); d != "" {
		s += "\n" + d
	}
	if c := r.String("comment"); c != "" {
		s += "\nCommentaire: " + c
	}
	return s
}

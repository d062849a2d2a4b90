// Package orchestrator answers one conversational turn: it routes the
// message to the active workflow, a canned shortcut or the model-driven tool
// loop, and assembles the channel-neutral reply.
//
// HandleTurn never fails. Upstream failures, timeouts and panics all end in
// a degraded text answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"sgi/pkg/config"
	"sgi/pkg/datastore"
	"sgi/pkg/llm"
	"sgi/pkg/logx"
	"sgi/pkg/magiclink"
	"sgi/pkg/metrics"
	"sgi/pkg/persistence"
	"sgi/pkg/proto"
	"sgi/pkg/session"
	"sgi/pkg/tools"
	"sgi/pkg/utils"
	"sgi/pkg/workflow"
)

// Answer paths, used as the metrics "path" label.
const (
	PathWorkflow  = "workflow"
	PathGreeting  = "greeting"
	PathShortcut  = "shortcut"
	PathDispatch  = "dispatch"
	PathDuplicate = "duplicate"
)

const msgUnavailable = "Désolé, je n'ai pas pu traiter cette demande pour le moment. Réessayez dans un instant."

// Deliveries records inbound delivery keys. *persistence.Store implements it.
type Deliveries interface {
	MarkDelivery(ctx context.Context, key, identity string, ttl time.Duration) (bool, error)
}

// History keeps the per-identity conversation window. *persistence.Store
// implements it.
type History interface {
	AppendTurns(ctx context.Context, identity string, keep int, turns ...persistence.Turn) error
	RecentTurns(ctx context.Context, identity string, limit int) ([]persistence.Turn, error)
}

// LinkMinter mints magic links. *magiclink.Service implements it.
type LinkMinter interface {
	Mint(ctx context.Context, req magiclink.Request) (string, error)
	URL(token string) string
}

// Deps are the collaborators of an Orchestrator. Links, History and
// Deliveries are optional.
type Deps struct {
	Sessions   session.Store
	Workflows  *workflow.Engine
	Dispatcher *tools.Dispatcher
	Store      datastore.Store
	LLM        llm.LLMClient
	Links      LinkMinter
	History    History
	Deliveries Deliveries
	Recorder   metrics.Recorder
	Tokens     *utils.TokenCounter
}

// Options bound a turn.
type Options struct {
	TurnTimeout   time.Duration
	HistoryTurns  int
	HistoryTokens int
	MaxToolRounds int
	DeliveryTTL   time.Duration
	MaxTokens     int
	Temperature   float32
	DashboardURL  string
	Now           func() time.Time
}

// OptionsFromConfig maps the configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	o, l := &cfg.Orchestrator, &cfg.LLM
	return Options{
		TurnTimeout:   o.TurnTimeout,
		HistoryTurns:  o.HistoryTurns,
		HistoryTokens: o.HistoryTokens,
		MaxToolRounds: o.MaxToolRounds,
		DeliveryTTL:   o.DeliveryTTL,
		MaxTokens:     l.MaxTokens,
		Temperature:   l.Temperature,
		DashboardURL:  cfg.DashboardBase(),
	}
}

func (o Options) withDefaults() Options {
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = 60 * time.Second
	}
	if o.HistoryTurns <= 0 {
		o.HistoryTurns = 10
	}
	if o.HistoryTokens <= 0 {
		o.HistoryTokens = 2000
	}
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = 2
	}
	if o.DeliveryTTL <= 0 {
		o.DeliveryTTL = 24 * time.Hour
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = llm.DefaultMaxTokens
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Orchestrator handles turns.
type Orchestrator struct {
	Deps
	opts   Options
	locks  *identityLocks
	logger *logx.Logger
}

// New creates an orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("orchestrator needs a session store")
	case deps.Workflows == nil:
		return nil, errors.New("orchestrator needs a workflow engine")
	case deps.Dispatcher == nil:
		return nil, errors.New("orchestrator needs a tool dispatcher")
	case deps.Store == nil:
		return nil, errors.New("orchestrator needs a data store")
	case deps.LLM == nil:
		return nil, errors.New("orchestrator needs a model client")
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop()
	}
	return &Orchestrator{
		Deps:   deps,
		opts:   opts.withDefaults(),
		locks:  newIdentityLocks(),
		logger: logx.NewLogger("orchestrator"),
	}, nil
}

// reply is the routed answer of one turn before link minting.
type reply struct {
	out    proto.Outbound
	link   *proto.LinkRequest
	path   string
	failed bool
}

// HandleTurn answers one inbound message.
func (o *Orchestrator) HandleTurn(ctx context.Context, in *proto.Inbound) (out proto.Outbound) {
	start := o.opts.Now()
	path, outcome := PathDispatch, "ok"
	logger := o.logger.WithIdentity(in.Identity)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("🚨 turn panicked: %v\n%s", r, debug.Stack())
			out = proto.Outbound{Text: msgUnavailable}
			outcome = "panic"
		}
		o.Recorder.ObserveTurn(string(in.Channel), path, outcome, o.opts.Now().Sub(start))
	}()

	if in.Identity == "" {
		outcome = "rejected"
		return proto.Outbound{Text: msgUnavailable}
	}

	ctx = logx.ContextWithIdentity(ctx, in.Identity)
	ctx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
	defer cancel()

	if o.isReplay(ctx, in) {
		path, outcome = PathDuplicate, "skipped"
		return proto.Outbound{Duplicate: true}
	}

	release, err := o.locks.acquire(ctx, in.Identity)
	if err != nil {
		logger.Warn("gave up waiting for the previous turn: %v", err)
		outcome = "timeout"
		return proto.Outbound{Text: msgUnavailable}
	}
	defer release()

	r := o.route(ctx, in)
	path = r.path
	if r.failed {
		outcome = "degraded"
	}
	if ctx.Err() != nil {
		outcome = "timeout"
	}
	out = r.out
	if r.link != nil {
		out.MagicLink = o.mintLink(ctx, r.link)
	}
	logx.Debug(ctx, "orchestrator", "turn answered via %s in %s", path, o.opts.Now().Sub(start).Round(time.Millisecond))
	return out
}

// isReplay records the delivery key and reports whether it was seen before.
// A failing delivery table never blocks the turn.
func (o *Orchestrator) isReplay(ctx context.Context, in *proto.Inbound) bool {
	if in.DeliveryID == "" || o.Deliveries == nil {
		return false
	}
	key := fmt.Sprintf("%s:%s", in.Channel, in.DeliveryID)
	fresh, err := o.Deliveries.MarkDelivery(ctx, key, in.Identity, o.opts.DeliveryTTL)
	if err != nil {
		o.logger.WithIdentity(in.Identity).Warn("failed to record delivery %s: %v", key, err)
		return false
	}
	if !fresh {
		o.logger.WithIdentity(in.Identity).Info("ignoring replayed delivery %s", key)
	}
	return !fresh
}

// route implements the per-turn algorithm: active workflow first, then
// free-form handling.
func (o *Orchestrator) route(ctx context.Context, in *proto.Inbound) reply {
	sess := o.Sessions.Get(ctx, in.Identity)
	if !sess.IsIdle() {
		res := o.Workflows.Advance(ctx, sess, workflow.InputFrom(in))
		if !res.Abandoned {
			res.Reply.Action = "workflow:" + string(sess.Family())
			return reply{out: res.Reply, link: res.Link, path: PathWorkflow}
		}
		if in.SelectionID == "" && workflow.IsCancel(in.Text) {
			return reply{out: menuReply(msgCancelled), path: PathWorkflow}
		}
		logx.Debug(ctx, "orchestrator", "left %s workflow, handling input as free-form", sess.Family())
	}
	return o.freeForm(ctx, in)
}

// mintLink mints a link for lr. Failure degrades to no link.
func (o *Orchestrator) mintLink(ctx context.Context, lr *proto.LinkRequest) string {
	if o.Links == nil {
		return ""
	}
	req, err := magiclink.RequestFromLink(lr)
	if err != nil {
		o.logger.Warn("cannot build link request for %s: %v", lr.ResourceType, err)
		return ""
	}
	token, err := o.Links.Mint(ctx, req)
	if err != nil {
		o.logger.Warn("failed to mint %s link: %v", lr.ResourceType, err)
		return ""
	}
	return o.Links.URL(token)
}

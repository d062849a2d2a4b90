// Package workflow drives the guided conversations (incident filing, media
// upload, stock lookup, signalement handling, project finance and project
// updates) as per-identity state machines persisted in a session.Store.
//
// Every step either advances along the TransitionTable or leaves the session
// exactly as it was: validation failures re-prompt, handler failures apologise,
// and only a successful outcome writes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sgi/pkg/datastore"
	"sgi/pkg/logx"
	"sgi/pkg/metrics"
	"sgi/pkg/proto"
	"sgi/pkg/session"
)

// InputKind is a bit set of the input shapes a step accepts.
type InputKind uint8

const (
	AcceptText InputKind = 1 << iota
	AcceptSelection
	AcceptMedia
)

var (
	// ErrInvalidTransition is a step outcome outside the TransitionTable.
	ErrInvalidTransition = errors.New("invalid workflow transition")
	// ErrUnknownState is a session state no step handles.
	ErrUnknownState = errors.New("unknown workflow state")
	// ErrUnknownFamily is returned by Start for a family with no workflow.
	ErrUnknownFamily = errors.New("unknown workflow family")
)

// Replies shared by every family.
const (
	msgDegraded  = "Désolé, je n'ai pas pu traiter votre demande. Envoyez *menu* pour recommencer."
	msgRetry     = "Désolé, l'opération n'a pas abouti. Vos réponses sont conservées, réessayez dans un instant."
	msgCancelled = "Opération annulée."
)

// Input is one user message as seen by a step.
type Input struct {
	Text        string
	SelectionID string
	Media       *proto.MediaRef
}

// InputFrom extracts the step input from an inbound message.
func InputFrom(in *proto.Inbound) Input {
	return Input{Text: in.Text, SelectionID: in.SelectionID, Media: in.Media}
}

// Kind classifies the input. A media attachment wins over its caption.
func (in Input) Kind() InputKind {
	switch {
	case in.Media != nil:
		return AcceptMedia
	case in.SelectionID != "":
		return AcceptSelection
	default:
		return AcceptText
	}
}

// Value returns the tapped option id, or the trimmed text.
func (in Input) Value() string {
	return (&proto.Inbound{Text: in.Text, SelectionID: in.SelectionID}).Input()
}

// Step is one workflow state.
type Step struct {
	State   session.State
	Family  session.Family
	Accepts InputKind
	// Resumable steps come after the family's media step. A re-sent
	// attachment replaces the media slot and re-prompts the same step.
	Resumable bool
	Prompt    func(ctx context.Context, s *session.Session) (proto.Outbound, error)
	Handle    func(ctx context.Context, s *session.Session, in Input) (Outcome, error)
}

// Outcome is what a step handler decided.
type Outcome struct {
	Next  session.State
	Slots session.Slots      // partial slots merged into the session
	Reply *proto.Outbound    // replaces the next step's prompt
	Link  *proto.LinkRequest // view the caller should mint a link for
	Clear bool               // workflow finished; back to IDLE
}

// Result is the answer to one workflow turn.
type Result struct {
	Reply proto.Outbound
	Link  *proto.LinkRequest
	State session.State
	// Abandoned means the input was not for the workflow. The session has
	// been cleared and the caller should answer the input as free-form.
	Abandoned bool
}

// InputError rejects a user input. The step re-prompts with Message.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

func reject(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// finished is returned by a prompt when the workflow has nothing left to ask.
type finished struct {
	text string
}

func (f *finished) Error() string {
	return "workflow finished: " + f.text
}

// Options tune menus.
type Options struct {
	MenuMaxRows int // candidate rows shown in a selection list
}

// Engine runs the workflows.
type Engine struct {
	sessions session.Store
	store    datastore.Store
	recorder metrics.Recorder
	opts     Options
	steps    map[session.State]*Step
	first    map[session.Family]session.State
	now      func() time.Time
	logger   *logx.Logger
}

// New builds an engine with every family registered.
func New(sessions session.Store, store datastore.Store, recorder metrics.Recorder, opts Options) *Engine {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if opts.MenuMaxRows <= 0 || opts.MenuMaxRows > proto.MaxListRows {
		opts.MenuMaxRows = proto.MaxListRows
	}
	e := &Engine{
		sessions: sessions,
		store:    store,
		recorder: recorder,
		opts:     opts,
		steps:    make(map[session.State]*Step),
		first:    make(map[session.Family]session.State),
		now:      time.Now,
		logger:   logx.NewLogger("workflow"),
	}
	for _, family := range [][]*Step{
		e.incidentSteps(),
		e.mediaSteps(),
		e.stockSteps(),
		e.signalementSteps(),
		e.financeSteps(),
		e.projectUpdateSteps(),
	} {
		for i, st := range family {
			if i == 0 {
				e.first[st.Family] = st.State
			}
			e.steps[st.State] = st
		}
	}
	return e
}

// Step returns the step for a state.
func (e *Engine) Step(state session.State) (*Step, bool) {
	st, ok := e.steps[state]
	return st, ok
}

// Start enters the first state of family with fresh slots and returns its
// prompt. Any workflow in progress is discarded.
func (e *Engine) Start(ctx context.Context, identity string, family session.Family) (Result, error) {
	state, ok := e.first[family]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	blank := blankSlots(family)
	logger := e.logger.WithIdentity(identity)

	view := &session.Session{Identity: identity, State: state, Data: blank}
	reply, done, err := e.prompt(ctx, e.steps[state], view)
	if err != nil {
		return Result{}, fmt.Errorf("failed to prompt %s: %w", state, err)
	}
	if err := e.sessions.Clear(ctx, identity); err != nil {
		return Result{}, fmt.Errorf("failed to reset session: %w", err)
	}
	if done != nil {
		logx.DebugFlow(ctx, "workflow", string(state), "nothing to do")
		return Result{Reply: proto.Outbound{Text: done.text}, State: session.StateIdle}, nil
	}
	if err := e.sessions.Update(ctx, identity, state, blank); err != nil {
		return Result{}, fmt.Errorf("failed to start %s workflow: %w", family, err)
	}
	e.recorder.IncWorkflowTransition(string(family), string(session.StateIdle), string(state))
	logger.Info("started %s workflow at %s", family, state)
	return Result{Reply: reply, State: state}, nil
}

// Advance interprets in as the answer to the session's current step.
func (e *Engine) Advance(ctx context.Context, s *session.Session, in Input) Result {
	logger := e.logger.WithIdentity(s.Identity)
	from := s.State

	if IsCancel(in.Value()) || isForeign(in) {
		if err := e.sessions.Clear(ctx, s.Identity); err != nil {
			logger.Warn("failed to clear abandoned session: %v", err)
		}
		e.recorder.IncWorkflowTransition(string(s.Family()), string(from), string(session.StateIdle))
		logger.Info("abandoned %s workflow at %s", s.Family(), from)
		return Result{Abandoned: true, State: session.StateIdle}
	}

	step, ok := e.steps[from]
	if !ok {
		logger.Error("🚨 %v: %q (session cleared)", ErrUnknownState, from)
		if err := e.sessions.Clear(ctx, s.Identity); err != nil {
			logger.Warn("failed to clear session: %v", err)
		}
		return Result{Reply: proto.Outbound{Text: msgDegraded}, State: session.StateIdle}
	}

	if in.Media != nil && step.Resumable && step.Accepts&AcceptMedia == 0 {
		return e.replaceMedia(ctx, s, step, in.Media)
	}
	if in.Kind()&step.Accepts == 0 {
		return e.reprompt(ctx, s, step, kindHint(step.Accepts))
	}

	out, err := step.Handle(ctx, s, in)
	if err != nil {
		var ie *InputError
		if errors.As(err, &ie) {
			logx.Debug(ctx, "workflow", "%s rejected input: %s", from, ie.Message)
			return e.reprompt(ctx, s, step, ie.Message)
		}
		logger.Error("step %s failed: %v", from, err)
		return Result{Reply: proto.Outbound{Text: msgRetry}, State: from}
	}
	return e.apply(ctx, s, step, out)
}

func (e *Engine) apply(ctx context.Context, s *session.Session, step *Step, out Outcome) Result {
	logger := e.logger.WithIdentity(s.Identity)
	to := out.Next
	if out.Clear {
		to = session.StateIdle
	}
	if !IsValidTransition(step.State, to) {
		logger.Error("🚨 %v: %s -> %s", ErrInvalidTransition, step.State, to)
		return Result{Reply: proto.Outbound{Text: msgDegraded}, State: step.State}
	}

	res := Result{State: to, Link: out.Link}
	switch {
	case out.Reply != nil:
		res.Reply = *out.Reply
	case out.Clear:
		res.Reply = proto.Outbound{Text: "C'est fait."}
	default:
		// The next prompt is rendered before anything is written so a
		// failing lookup leaves the session at the current step.
		merged, err := session.Merge(s.Data, out.Slots)
		if err != nil {
			merged = s.Data
		}
		view := &session.Session{Identity: s.Identity, State: to, Data: merged}
		reply, done, err := e.prompt(ctx, e.steps[to], view)
		switch {
		case err != nil:
			logger.Error("failed to prompt %s, staying at %s: %v", to, step.State, err)
			return Result{Reply: proto.Outbound{Text: msgRetry}, State: step.State}
		case done != nil:
			out.Clear = true
			res.State = session.StateIdle
			res.Reply = proto.Outbound{Text: done.text}
		default:
			res.Reply = reply
		}
	}

	var err error
	if out.Clear {
		err = e.sessions.Clear(ctx, s.Identity)
	} else {
		err = e.sessions.Update(ctx, s.Identity, to, out.Slots)
	}
	if err != nil {
		logger.Error("failed to persist %s -> %s: %v", step.State, res.State, err)
		return Result{Reply: proto.Outbound{Text: msgRetry}, State: step.State}
	}
	e.recorder.IncWorkflowTransition(string(step.Family), string(step.State), string(res.State))
	logx.DebugFlow(ctx, "workflow", string(step.State), "-> "+string(res.State))
	return res
}

// prompt renders the prompt of step for the session view. A non-nil
// *finished means the workflow has nothing left to ask.
func (e *Engine) prompt(ctx context.Context, step *Step, s *session.Session) (proto.Outbound, *finished, error) {
	out, err := step.Prompt(ctx, s)
	if err == nil {
		return out, nil, nil
	}
	var done *finished
	if errors.As(err, &done) {
		return proto.Outbound{}, done, nil
	}
	return proto.Outbound{}, nil, err
}

// reprompt repeats the current step without writing.
func (e *Engine) reprompt(ctx context.Context, s *session.Session, step *Step, notice string) Result {
	out, err := step.Prompt(ctx, s)
	if err != nil {
		e.logger.WithIdentity(s.Identity).Error("failed to re-prompt %s: %v", step.State, err)
		return Result{Reply: proto.Outbound{Text: msgRetry}, State: s.State}
	}
	return Result{Reply: withNotice(out, notice), State: s.State}
}

func (e *Engine) replaceMedia(ctx context.Context, s *session.Session, step *Step, ref *proto.MediaRef) Result {
	partial := mediaSlots(step.Family, ref)
	if partial == nil {
		return e.reprompt(ctx, s, step, kindHint(step.Accepts))
	}
	if err := e.sessions.Update(ctx, s.Identity, s.State, partial); err != nil {
		e.logger.WithIdentity(s.Identity).Error("failed to replace media at %s: %v", s.State, err)
		return Result{Reply: proto.Outbound{Text: msgRetry}, State: s.State}
	}
	merged, err := session.Merge(s.Data, partial)
	if err != nil {
		merged = s.Data
	}
	view := &session.Session{Identity: s.Identity, State: s.State, Data: merged}
	return e.reprompt(ctx, view, step, "📎 Fichier remplacé.")
}

func withNotice(out proto.Outbound, notice string) proto.Outbound {
	if notice == "" {
		return out
	}
	out.Text = notice + "\n\n" + out.Text
	if out.Interactive != nil {
		menu := *out.Interactive
		menu.Body = notice + "\n\n" + menu.Body
		out.Interactive = &menu
	}
	return out
}

func kindHint(accepts InputKind) string {
	switch {
	case accepts&AcceptMedia != 0 && accepts&AcceptText == 0:
		return "J'attends une photo ou un document."
	case accepts&AcceptSelection != 0:
		return "Choisissez une option dans la liste ou répondez par son numéro."
	default:
		return "J'attends une réponse écrite."
	}
}

func blankSlots(f session.Family) session.Slots {
	switch f {
	case session.FamilyIncident:
		return session.IncidentSlots{}
	case session.FamilyMedia:
		return session.MediaSlots{}
	case session.FamilyStock:
		return session.StockSlots{}
	case session.FamilySignalement:
		return session.SignalementSlots{}
	case session.FamilyFinance:
		return session.FinanceSlots{}
	case session.FamilyProjectUpdate:
		return session.ProjectUpdateSlots{}
	}
	return nil
}

// mediaSlots maps an attachment onto the media slot of family.
func mediaSlots(f session.Family, ref *proto.MediaRef) session.Slots {
	switch f {
	case session.FamilyIncident:
		return session.IncidentSlots{PhotoID: ref.ID, PhotoURL: ref.URL, PhotoMime: ref.MimeType, PhotoDone: true}
	case session.FamilyMedia:
		return session.MediaSlots{MediaID: ref.ID, MediaURL: ref.URL, MimeType: ref.MimeType}
	}
	return nil
}

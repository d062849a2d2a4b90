package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"sgi/pkg/datastore"
	"sgi/pkg/domain"
	"sgi/pkg/proto"
	"sgi/pkg/session"
	"sgi/pkg/utils"
)

const maxComment = 500

func (e *Engine) signalementSteps() []*Step {
	fam := session.FamilySignalement
	return []*Step{
		{
			State:   StateSignalementSelect,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(ctx context.Context, _ *session.Session) (proto.Outbound, error) {
				open, err := e.pendingSignalements(ctx)
				if err != nil {
					return proto.Outbound{}, err
				}
				if len(open) == 0 {
					return proto.Outbound{}, &finished{text: "👍 Aucun signalement en attente de traitement."}
				}
				rows := make([]proto.Row, len(open))
				for i, r := range open {
					rows[i] = proto.Row{
						ID:          optPrefix + r.ID(),
						Title:       utils.Truncate(r.String("title"), proto.MaxRowTitle),
						Description: domain.Label(domain.SignalementStatuses, r.String("status")),
					}
				}
				return listMenu("Quel signalement voulez-vous traiter ?", "Signalements", rows), nil
			},
			Handle: e.selectSignalement,
		},
		{
			State:   StateSignalementAction,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(_ context.Context, s *session.Session) (proto.Outbound, error) {
				return optionMenu(fmt.Sprintf("*%s*\nQuelle action ?", slotsOf[session.SignalementSlots](s).Title),
					"Actions", domain.SignalementActions), nil
			},
			Handle: func(_ context.Context, _ *session.Session, in Input) (Outcome, error) {
				o, ok := matchOption(domain.SignalementActions, in)
				if !ok {
					return Outcome{}, reject("Action non reconnue.")
				}
				return Outcome{Next: StateSignalementComment, Slots: session.SignalementSlots{Action: o.Code}}, nil
			},
		},
		{
			State:   StateSignalementComment,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(context.Context, *session.Session) (proto.Outbound, error) {
				return skipMenu("Un commentaire pour le déclarant ? Sinon touchez *Passer*."), nil
			},
			Handle: func(_ context.Context, _ *session.Session, in Input) (Outcome, error) {
				if isSkip(in) {
					return Outcome{Next: StateSignalementConfirm}, nil
				}
				return Outcome{Next: StateSignalementConfirm, Slots: session.SignalementSlots{Comment: truncateRunes(in.Value(), maxComment)}}, nil
			},
		},
		confirmStep(StateSignalementConfirm, fam, signalementSummary, signalementMissing, e.handleSignalement),
	}
}

// pendingSignalements lists the signalements still awaiting a decision,
// newest first.
func (e *Engine) pendingSignalements(ctx context.Context) ([]datastore.Record, error) {
	records, err := e.store.Find(ctx, datastore.Query{
		Collection: datastore.Signalements,
		Filters: []datastore.Filter{
			{Field: "status", Op: datastore.OpNe, Value: "resolu"},
			{Field: "status", Op: datastore.OpNe, Value: "rejete"},
		},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   e.opts.MenuMaxRows,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending signalements: %w", err)
	}
	return records, nil
}

func (e *Engine) selectSignalement(ctx context.Context, _ *session.Session, in Input) (Outcome, error) {
	open, err := e.pendingSignalements(ctx)
	if err != nil {
		return Outcome{}, err
	}
	ids := make([]string, len(open))
	for i, r := range open {
		ids[i] = r.ID()
	}

	value := optionValue(in)
	if n, convErr := strconv.Atoi(value); convErr == nil && n >= 1 && n <= len(ids) {
		value = ids[n-1]
	}

	var r datastore.Record
	if in.SelectionID != "" || slices.Contains(ids, value) {
		// A tapped row may have dropped off the first page since the prompt.
		r, err = e.store.Get(ctx, datastore.Signalements, value)
		if errors.Is(err, datastore.ErrNotFound) {
			return Outcome{}, reject("Signalement introuvable.")
		}
	} else {
		r, err = e.matchCandidate(ctx, datastore.Signalements, ids, func(r datastore.Record) string { return r.String("title") }, in)
	}
	if err != nil {
		return Outcome{}, err
	}

	switch r.String("status") {
	case "resolu", "rejete":
		return Outcome{}, reject("Ce signalement est déjà clôturé.")
	}
	return Outcome{Next: StateSignalementAction, Slots: session.SignalementSlots{SignalementID: r.ID(), Title: r.String("title")}}, nil
}

func signalementSummary(s *session.Session) string {
	sl := slotsOf[session.SignalementSlots](s)
	text := fmt.Sprintf("*%s*\nAction: %s", sl.Title, domain.Label(domain.SignalementActions, sl.Action))
	if sl.Comment != "" {
		text += "\nCommentaire: " + sl.Comment
	}
	return text
}

func signalementMissing(s *session.Session) session.State {
	sl := slotsOf[session.SignalementSlots](s)
	switch {
	case sl.SignalementID == "":
		return StateSignalementSelect
	case sl.Action == "":
		return StateSignalementAction
	}
	return ""
}

func (e *Engine) handleSignalement(ctx context.Context, s *session.Session) (string, error) {
	sl := slotsOf[session.SignalementSlots](s)
	status, ok := domain.StatusForAction(sl.Action)
	if !ok {
		return "", fmt.Errorf("no status for signalement action %q", sl.Action)
	}
	fields := datastore.Record{
		"status":     status,
		"handled_by": s.Identity,
		"handled_at": e.now().UTC().Format(time.RFC3339),
	}
	if sl.Comment != "" {
		fields["comment"] = sl.Comment
	}
	if err := e.store.Update(ctx, datastore.Signalements, sl.SignalementID, fields); err != nil {
		return "", fmt.Errorf("failed to update signalement %s: %w", sl.SignalementID, err)
	}
	e.logger.WithIdentity(s.Identity).Info("signalement %s -> %s", sl.SignalementID, status)
	return fmt.Sprintf("✅ Signalement « %s » : %s.", sl.Title, domain.Label(domain.SignalementStatuses, status)), nil
}

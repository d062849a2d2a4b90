package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sgi/pkg/datastore"
	"sgi/pkg/domain"
	"sgi/pkg/proto"
	"sgi/pkg/session"
)

func (e *Engine) projectUpdateSteps() []*Step {
	fam := session.FamilyProjectUpdate
	return []*Step{
		{
			State:   StateUpdateProject,
			Family:  fam,
			Accepts: AcceptText,
			Prompt: func(context.Context, *session.Session) (proto.Outbound, error) {
				return proto.Outbound{Text: "✏️ Mise à jour de projet. Quel projet ? (nom ou code)"}, nil
			},
			Handle: func(ctx context.Context, _ *session.Session, in Input) (Outcome, error) {
				p, ids, err := e.resolveProject(ctx, in.Text)
				if err != nil {
					return Outcome{}, err
				}
				if p == nil {
					return Outcome{Next: StateUpdateProjectSelect, Slots: session.ProjectUpdateSlots{Candidates: ids}}, nil
				}
				return Outcome{Next: StateUpdateField, Slots: session.ProjectUpdateSlots{ProjectID: p.ID(), ProjectName: domain.ProjectTitle(p)}}, nil
			},
		},
		{
			State:   StateUpdateProjectSelect,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(ctx context.Context, s *session.Session) (proto.Outbound, error) {
				return e.projectChoice(ctx, slotsOf[session.ProjectUpdateSlots](s).Candidates)
			},
			Handle: func(ctx context.Context, s *session.Session, in Input) (Outcome, error) {
				p, err := e.pickProject(ctx, slotsOf[session.ProjectUpdateSlots](s).Candidates, in)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Next: StateUpdateField, Slots: session.ProjectUpdateSlots{ProjectID: p.ID(), ProjectName: domain.ProjectTitle(p)}}, nil
			},
		},
		{
			State:   StateUpdateField,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(_ context.Context, s *session.Session) (proto.Outbound, error) {
				return optionMenu(fmt.Sprintf("*%s*\nQuel champ modifier ?", slotsOf[session.ProjectUpdateSlots](s).ProjectName),
					"Champs", domain.ProjectFields), nil
			},
			Handle: func(_ context.Context, _ *session.Session, in Input) (Outcome, error) {
				o, ok := matchOption(domain.ProjectFields, in)
				if !ok {
					return Outcome{}, reject("Champ non modifiable.")
				}
				return Outcome{Next: StateUpdateValue, Slots: session.ProjectUpdateSlots{Field: o.Code}}, nil
			},
		},
		{
			State:   StateUpdateValue,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(_ context.Context, s *session.Session) (proto.Outbound, error) {
				field := slotsOf[session.ProjectUpdateSlots](s).Field
				if field == domain.FieldStatus {
					return optionMenu("Nouveau statut ?", "Statuts", domain.ProjectStatuses), nil
				}
				return proto.Outbound{Text: valueHint(field)}, nil
			},
			Handle: func(_ context.Context, s *session.Session, in Input) (Outcome, error) {
				field := slotsOf[session.ProjectUpdateSlots](s).Field
				v, err := domain.NormalizeProjectField(field, optionValue(in))
				if err != nil {
					return Outcome{}, invalidValue(err)
				}
				return Outcome{Next: StateUpdateConfirm, Slots: session.ProjectUpdateSlots{Value: fmt.Sprint(v)}}, nil
			},
		},
		confirmStep(StateUpdateConfirm, fam, updateSummary, updateMissing, e.updateProject),
	}
}

func valueHint(field string) string {
	switch field {
	case domain.FieldProgress:
		return "Nouvel avancement, en pourcentage (0 à 100) ?"
	case domain.FieldEndDate:
		return "Nouvelle date de fin ? (AAAA-MM-JJ ou JJ/MM/AAAA)"
	case domain.FieldManager:
		return "Nom du nouveau responsable ?"
	}
	return "Nouvelle valeur ?"
}

// invalidValue turns a domain validation error into a re-prompt.
func invalidValue(err error) error {
	if errors.Is(err, domain.ErrInvalidValue) {
		msg := strings.TrimPrefix(err.Error(), domain.ErrInvalidValue.Error()+": ")
		return reject("Valeur refusée : %s.", msg)
	}
	return err
}

func updateSummary(s *session.Session) string {
	sl := slotsOf[session.ProjectUpdateSlots](s)
	value := sl.Value
	if sl.Field == domain.FieldStatus {
		value = domain.Label(domain.ProjectStatuses, value)
	}
	return fmt.Sprintf("*%s*\n%s → %s", sl.ProjectName, domain.Label(domain.ProjectFields, sl.Field), value)
}

func updateMissing(s *session.Session) session.State {
	sl := slotsOf[session.ProjectUpdateSlots](s)
	switch {
	case sl.ProjectID == "":
		return StateUpdateProject
	case sl.Field == "":
		return StateUpdateField
	case sl.Value == "":
		return StateUpdateValue
	}
	return ""
}

func (e *Engine) updateProject(ctx context.Context, s *session.Session) (string, error) {
	sl := slotsOf[session.ProjectUpdateSlots](s)
	v, err := domain.NormalizeProjectField(sl.Field, sl.Value)
	if err != nil {
		return "", fmt.Errorf("stored value for %s no longer valid: %w", sl.Field, err)
	}
	err = e.store.Update(ctx, datastore.Projects, sl.ProjectID, datastore.Record{
		sl.Field:     v,
		"updated_at": e.now().UTC().Format(time.RFC3339),
		"updated_by": s.Identity,
	})
	if err != nil {
		return "", fmt.Errorf("failed to update project %s: %w", sl.ProjectID, err)
	}
	e.logger.WithIdentity(s.Identity).Info("project %s: %s set to %v", sl.ProjectID, sl.Field, v)
	return "✅ Projet mis à jour.\n" + updateSummary(s), nil
}

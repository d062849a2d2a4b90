package workflow

import (
	"context"
	"fmt"
	"strings"

	"sgi/pkg/datastore"
	"sgi/pkg/domain"
	"sgi/pkg/proto"
	"sgi/pkg/session"
)

const (
	minDescription = 5
	maxDescription = 1000
)

// slotsOf returns the session slots as T, or the zero T when the session
// holds another family.
func slotsOf[T session.Slots](s *session.Session) T {
	v, _ := s.Data.(T)
	return v
}

func (e *Engine) incidentSteps() []*Step {
	fam := session.FamilyIncident
	return []*Step{
		{
			State:   StateIncidentType,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(context.Context, *session.Session) (proto.Outbound, error) {
				return optionMenu("🚧 Nouvel incident. Quel type ?", "Types", domain.IncidentTypes), nil
			},
			Handle: func(_ context.Context, _ *session.Session, in Input) (Outcome, error) {
				o, ok := matchOption(domain.IncidentTypes, in)
				if !ok {
					return Outcome{}, reject("Type d'incident non reconnu.")
				}
				return Outcome{Next: StateIncidentCategory, Slots: session.IncidentSlots{Type: o.Code}}, nil
			},
		},
		{
			State:   StateIncidentCategory,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(_ context.Context, s *session.Session) (proto.Outbound, error) {
				typ := slotsOf[session.IncidentSlots](s).Type
				return optionMenu(
					fmt.Sprintf("Incident %s. Quelle catégorie ?", strings.ToLower(domain.Label(domain.IncidentTypes, typ))),
					"Catégories", domain.IncidentCategories[typ]), nil
			},
			Handle: func(_ context.Context, s *session.Session, in Input) (Outcome, error) {
				opts, ok := domain.IncidentCategories[slotsOf[session.IncidentSlots](s).Type]
				if !ok {
					return Outcome{Next: StateIncidentType}, nil
				}
				o, ok := matchOption(opts, in)
				if !ok {
					return Outcome{}, reject("Catégorie non reconnue.")
				}
				return Outcome{Next: StateIncidentSeverity, Slots: session.IncidentSlots{Category: o.Code}}, nil
			},
		},
		{
			State:   StateIncidentSeverity,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(context.Context, *session.Session) (proto.Outbound, error) {
				return optionMenu("Quelle est la gravité ?", "Gravité", domain.Severities), nil
			},
			Handle: func(_ context.Context, _ *session.Session, in Input) (Outcome, error) {
				o, ok := matchOption(domain.Severities, in)
				if !ok {
					return Outcome{}, reject("Gravité non reconnue.")
				}
				return Outcome{Next: StateIncidentDescription, Slots: session.IncidentSlots{Severity: o.Code}}, nil
			},
		},
		{
			State:   StateIncidentDescription,
			Family:  fam,
			Accepts: AcceptText,
			Prompt: func(context.Context, *session.Session) (proto.Outbound, error) {
				return proto.Outbound{Text: "Décrivez l'incident en quelques mots (lieu, personnes, circonstances)."}, nil
			},
			Handle: func(_ context.Context, _ *session.Session, in Input) (Outcome, error) {
				text := strings.TrimSpace(in.Text)
				n := len([]rune(text))
				switch {
				case n < minDescription:
					return Outcome{}, reject("La description est trop courte.")
				case n > maxDescription:
					return Outcome{}, reject("La description est trop longue (%d caractères max).", maxDescription)
				}
				return Outcome{Next: StateIncidentPhoto, Slots: session.IncidentSlots{Description: text}}, nil
			},
		},
		{
			State:   StateIncidentPhoto,
			Family:  fam,
			Accepts: AcceptMedia | AcceptText | AcceptSelection,
			Prompt: func(context.Context, *session.Session) (proto.Outbound, error) {
				return skipMenu("📷 Envoyez une photo de l'incident, ou touchez *Passer*."), nil
			},
			Handle: func(_ context.Context, _ *session.Session, in Input) (Outcome, error) {
				switch {
				case in.Media != nil:
					return Outcome{Next: StateIncidentConfirm, Slots: mediaSlots(session.FamilyIncident, in.Media)}, nil
				case isSkip(in):
					return Outcome{Next: StateIncidentConfirm, Slots: session.IncidentSlots{PhotoDone: true}}, nil
				}
				return Outcome{}, reject("Envoyez une photo ou répondez *passer*.")
			},
		},
		confirmStep(StateIncidentConfirm, fam, incidentSummary, incidentMissing, e.fileIncident),
	}
}

func incidentSummary(s *session.Session) string {
	sl := slotsOf[session.IncidentSlots](s)
	var b strings.Builder
	b.WriteString("*Récapitulatif de l'incident*\n")
	fmt.Fprintf(&b, "Type: %s\n", domain.Label(domain.IncidentTypes, sl.Type))
	fmt.Fprintf(&b, "Catégorie: %s\n", domain.Label(domain.IncidentCategories[sl.Type], sl.Category))
	fmt.Fprintf(&b, "Gravité: %s\n", domain.Label(domain.Severities, sl.Severity))
	fmt.Fprintf(&b, "Description: %s", sl.Description)
	if sl.PhotoID != "" {
		b.WriteString("\nPhoto: jointe")
	}
	return b.String()
}

func incidentMissing(s *session.Session) session.State {
	sl := slotsOf[session.IncidentSlots](s)
	switch {
	case sl.Type == "":
		return StateIncidentType
	case sl.Category == "":
		return StateIncidentCategory
	case sl.Severity == "":
		return StateIncidentSeverity
	case sl.Description == "":
		return StateIncidentDescription
	}
	return ""
}

func (e *Engine) fileIncident(ctx context.Context, s *session.Session) (string, error) {
	sl := slotsOf[session.IncidentSlots](s)
	rec := datastore.Record{
		"type":        sl.Type,
		"category":    sl.Category,
		"severity":    sl.Severity,
		"description": sl.Description,
		"status":      "ouvert",
		"reported_by": s.Identity,
	}
	if sl.PhotoID != "" {
		rec["photo_id"] = sl.PhotoID
		rec["photo_url"] = sl.PhotoURL
		rec["photo_mime"] = sl.PhotoMime
	}
	id, err := e.store.Insert(ctx, datastore.Incidents, rec)
	if err != nil {
		return "", fmt.Errorf("failed to create incident: %w", err)
	}
	e.logger.WithIdentity(s.Identity).Info("incident %s filed (%s/%s, %s)", id, sl.Type, sl.Category, sl.Severity)
	return fmt.Sprintf("✅ Incident enregistré (réf. %s). L'équipe HSE est prévenue.", id), nil
}

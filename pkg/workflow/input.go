package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"sgi/pkg/datastore"
	"sgi/pkg/domain"
	"sgi/pkg/proto"
	"sgi/pkg/session"
	"sgi/pkg/utils"
)

// Selection ids owned by workflow menus. Any other tapped id belongs to
// another menu and abandons the workflow.
const (
	optPrefix  = "opt:"
	optSkip    = optPrefix + "skip"
	ConfirmYes = "confirm_yes"
	ConfirmNo  = "confirm_no"
)

var (
	cancelPhrases = []string{
		"annuler", "annule", "annulation", "stop", "quitter", "quit", "cancel",
		"abandonner", "laisse tomber", "menu", "retour",
	}
	yesPhrases  = []string{"oui", "o", "yes", "y", "ok", "d'accord", "confirmer", "je confirme", "valider", "c'est bon"}
	noPhrases   = []string{"non", "n", "no", "ne pas confirmer"}
	skipPhrases = []string{"passer", "skip", "aucun", "aucune", "sans", "non", "pas de photo", "rien"}

	interrogatives = []string{
		"combien", "quel", "quelle", "quels", "quelles", "ou", "quand", "comment",
		"pourquoi", "qui", "est-ce", "liste", "montre", "montre-moi", "donne-moi",
	}
)

// IsCancel reports whether text is a cancel phrase.
func IsCancel(text string) bool {
	return slices.Contains(cancelPhrases, normalizePhrase(text))
}

// IsUnrelatedQuestion reports whether text is, with high confidence, a
// free-form question rather than a slot value: it ends with a question mark,
// opens with an interrogative and has at least three words.
func IsUnrelatedQuestion(text string) bool {
	t := strings.TrimSpace(text)
	if !strings.HasSuffix(t, "?") {
		return false
	}
	words := strings.Fields(utils.Fold(strings.TrimSuffix(t, "?")))
	if len(words) < 3 {
		return false
	}
	return slices.Contains(interrogatives, strings.Trim(words[0], ",;:"))
}

// isForeign reports input aimed somewhere other than the current step.
func isForeign(in Input) bool {
	if in.Media != nil {
		return false
	}
	if id := in.SelectionID; id != "" {
		return !strings.HasPrefix(id, optPrefix) && id != ConfirmYes && id != ConfirmNo
	}
	return IsUnrelatedQuestion(in.Text)
}

func normalizePhrase(s string) string {
	return strings.Trim(utils.Fold(s), " .!")
}

func isYes(in Input) bool {
	return in.SelectionID == ConfirmYes || slices.Contains(yesPhrases, normalizePhrase(in.Value()))
}

func isNo(in Input) bool {
	return in.SelectionID == ConfirmNo || slices.Contains(noPhrases, normalizePhrase(in.Value()))
}

func isSkip(in Input) bool {
	return in.SelectionID == optSkip || slices.Contains(skipPhrases, normalizePhrase(in.Value()))
}

// optionValue strips the menu prefix from a tapped option id.
func optionValue(in Input) string {
	return strings.TrimPrefix(in.Value(), optPrefix)
}

// matchOption resolves the input against a fixed option set.
func matchOption(opts []domain.Option, in Input) (domain.Option, bool) {
	return domain.Lookup(opts, optionValue(in))
}

// optionMenu renders opts as buttons when they fit, otherwise as a list.
func optionMenu(body, label string, opts []domain.Option) proto.Outbound {
	if len(opts) <= proto.MaxButtons {
		buttons := make([]proto.Button, len(opts))
		for i, o := range opts {
			buttons[i] = proto.Button{ID: optPrefix + o.Code, Title: utils.Truncate(o.Label, proto.MaxButtonTitle)}
		}
		return proto.Outbound{Text: body, Interactive: proto.NewButtons(body, buttons...)}
	}
	rows := make([]proto.Row, len(opts))
	for i, o := range opts {
		rows[i] = proto.Row{ID: optPrefix + o.Code, Title: utils.Truncate(o.Label, proto.MaxRowTitle)}
	}
	return listMenu(body, label, rows)
}

func listMenu(body, label string, rows []proto.Row) proto.Outbound {
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = fmt.Sprintf("%d. %s", i+1, r.Title)
	}
	text := body + "\n" + strings.Join(lines, "\n")
	return proto.Outbound{
		Text:        text,
		Interactive: proto.NewList(body, "Choisir", proto.Section{Title: utils.Truncate(label, proto.MaxSectionTitle), Rows: rows}),
	}
}

func confirmMenu(summary string) proto.Outbound {
	body := summary + "\n\nConfirmer ?"
	return proto.Outbound{
		Text: body,
		Interactive: proto.NewButtons(body,
			proto.Button{ID: ConfirmYes, Title: "Oui"},
			proto.Button{ID: ConfirmNo, Title: "Non"},
		),
	}
}

func skipMenu(body string) proto.Outbound {
	return proto.Outbound{Text: body, Interactive: proto.NewButtons(body, proto.Button{ID: optSkip, Title: "Passer"})}
}

// confirmStep builds a yes/no confirmation state. missing returns the state
// to go back to when a required slot is absent; commit performs the effect
// and returns the success summary.
func confirmStep(
	state session.State,
	family session.Family,
	summary func(s *session.Session) string,
	missing func(s *session.Session) session.State,
	commit func(ctx context.Context, s *session.Session) (string, error),
) *Step {
	return &Step{
		State:     state,
		Family:    family,
		Accepts:   AcceptText | AcceptSelection,
		Resumable: true,
		Prompt: func(_ context.Context, s *session.Session) (proto.Outbound, error) {
			return confirmMenu(summary(s)), nil
		},
		Handle: func(ctx context.Context, s *session.Session, in Input) (Outcome, error) {
			switch {
			case isNo(in):
				return Outcome{Clear: true, Reply: &proto.Outbound{Text: msgCancelled}}, nil
			case !isYes(in):
				return Outcome{}, reject("Répondez *oui* pour confirmer ou *non* pour annuler.")
			}
			if back := missing(s); back != "" {
				return Outcome{Next: back}, nil
			}
			text, err := commit(ctx, s)
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Clear: true, Reply: &proto.Outbound{Text: text}}, nil
		},
	}
}

// candidateRows loads candidate records for a selection menu. Records that
// disappeared since the search are skipped.
func (e *Engine) candidateRows(ctx context.Context, collection string, ids []string, render func(datastore.Record) proto.Row) ([]proto.Row, error) {
	rows := make([]proto.Row, 0, len(ids))
	for _, id := range ids {
		r, err := e.store.Get(ctx, collection, id)
		if errors.Is(err, datastore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s/%s: %w", collection, id, err)
		}
		row := render(r)
		row.ID = optPrefix + r.ID()
		rows = append(rows, row)
	}
	return rows, nil
}

// matchCandidate picks one of ids from a tapped row, a 1-based position or a
// title fragment that matches exactly one candidate.
func (e *Engine) matchCandidate(ctx context.Context, collection string, ids []string, title func(datastore.Record) string, in Input) (datastore.Record, error) {
	value := optionValue(in)
	pick := ""
	switch {
	case slices.Contains(ids, value):
		pick = value
	default:
		if n, err := strconv.Atoi(value); err == nil && n >= 1 && n <= len(ids) {
			pick = ids[n-1]
		}
	}
	if pick != "" {
		r, err := e.store.Get(ctx, collection, pick)
		if errors.Is(err, datastore.ErrNotFound) {
			return nil, reject("Cet élément n'existe plus, choisissez-en un autre.")
		}
		return r, err
	}

	var found []datastore.Record
	for _, id := range ids {
		r, err := e.store.Get(ctx, collection, id)
		if errors.Is(err, datastore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s/%s: %w", collection, id, err)
		}
		if utils.ContainsFold(title(r), value) {
			found = append(found, r)
		}
	}
	if len(found) != 1 {
		return nil, reject("Je n'ai pas reconnu votre choix.")
	}
	return found[0], nil
}

// resolveProject runs a project search for a workflow step. It returns the
// single match, or the candidate ids when the reference is ambiguous.
func (e *Engine) resolveProject(ctx context.Context, ref string) (datastore.Record, []string, error) {
	ref = strings.TrimSpace(ref)
	if len([]rune(ref)) < 2 {
		return nil, nil, reject("Indiquez le nom ou le code du projet.")
	}
	matches, err := domain.ResolveProject(ctx, e.store, ref, e.opts.MenuMaxRows)
	if err != nil {
		return nil, nil, err
	}
	switch len(matches) {
	case 0:
		return nil, nil, reject("Aucun projet ne correspond à « %s ».", ref)
	case 1:
		return matches[0], nil, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID()
	}
	return nil, ids, nil
}

func projectRow(r datastore.Record) proto.Row {
	return proto.Row{
		ID:          optPrefix + r.ID(),
		Title:       utils.Truncate(r.String("name"), proto.MaxRowTitle),
		Description: utils.Truncate(strings.TrimSpace(r.String("code")+" "+domain.Label(domain.ProjectStatuses, r.String("status"))), proto.MaxRowDesc),
	}
}

func (e *Engine) projectChoice(ctx context.Context, ids []string) (proto.Outbound, error) {
	rows, err := e.candidateRows(ctx, datastore.Projects, ids, projectRow)
	if err != nil {
		return proto.Outbound{}, err
	}
	if len(rows) == 0 {
		return proto.Outbound{}, &finished{text: "Les projets proposés ne sont plus disponibles. Envoyez *menu* pour recommencer."}
	}
	return listMenu("Plusieurs projets correspondent. Lequel ?", "Projets", rows), nil
}

func (e *Engine) pickProject(ctx context.Context, ids []string, in Input) (datastore.Record, error) {
	return e.matchCandidate(ctx, datastore.Projects, ids, domain.ProjectTitle, in)
}

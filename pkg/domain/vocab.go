// Package domain holds the operational vocabulary shared by tools and
// workflows: status codes, incident taxonomy, editable project fields and
// display formatting.
package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"sgi/pkg/utils"
)

// Option is a stored code with its French display label.
type Option struct {
	Code  string
	Label string
}

// ErrInvalidValue is returned when user input does not fit a field.
var ErrInvalidValue = errors.New("invalid value")

// Project statuses.
var ProjectStatuses = []Option{
	{"planifie", "Planifié"},
	{"en_cours", "En cours"},
	{"suspendu", "Suspendu"},
	{"termine", "Terminé"},
}

// Incident taxonomy.
var (
	IncidentTypes = []Option{
		{"securite", "Sécurité"},
		{"qualite", "Qualité"},
		{"environnement", "Environnement"},
		{"materiel", "Matériel"},
	}

	IncidentCategories = map[string][]Option{
		"securite": {
			{"chute", "Chute"},
			{"epi", "EPI manquant"},
			{"circulation", "Circulation engins"},
			{"electrique", "Risque électrique"},
		},
		"qualite": {
			{"malfacon", "Malfaçon"},
			{"materiau", "Matériau non conforme"},
			{"retard", "Retard d'exécution"},
		},
		"environnement": {
			{"pollution", "Pollution"},
			{"dechets", "Déchets"},
			{"bruit", "Nuisance sonore"},
		},
		"materiel": {
			{"panne", "Panne"},
			{"vol", "Vol"},
			{"casse", "Casse"},
		},
	}

	Severities = []Option{
		{"faible", "Faible"},
		{"moyenne", "Moyenne"},
		{"haute", "Haute"},
		{"critique", "Critique"},
	}

	IncidentStatuses = []Option{
		{"ouvert", "Ouvert"},
		{"en_cours", "En traitement"},
		{"clos", "Clos"},
	}
)

// Signalement lifecycle.
var (
	SignalementStatuses = []Option{
		{"ouvert", "Ouvert"},
		{"en_cours", "Pris en charge"},
		{"resolu", "Résolu"},
		{"rejete", "Rejeté"},
	}

	SignalementActions = []Option{
		{"prendre", "Prendre en charge"},
		{"resoudre", "Marquer résolu"},
		{"rejeter", "Rejeter"},
	}

	actionStatus = map[string]string{
		"prendre":  "en_cours",
		"resoudre": "resolu",
		"rejeter":  "rejete",
	}
)

// Editable project fields.
const (
	FieldStatus   = "status"
	FieldProgress = "progress"
	FieldEndDate  = "end_date"
	FieldManager  = "manager"
)

// ProjectFields lists the fields a chat user may change.
var ProjectFields = []Option{
	{FieldStatus, "Statut"},
	{FieldProgress, "Avancement (%)"},
	{FieldEndDate, "Date de fin"},
	{FieldManager, "Responsable"},
}

// Codes returns the codes of opts in order.
func Codes(opts []Option) []string {
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = o.Code
	}
	return out
}

// Label returns the label for code, or code itself when unknown.
func Label(opts []Option, code string) string {
	for _, o := range opts {
		if o.Code == code {
			return o.Label
		}
	}
	return code
}

// Lookup resolves user input against opts. The input may be the code, the
// label (accent- and case-insensitive) or a 1-based position.
func Lookup(opts []Option, input string) (Option, bool) {
	in := utils.Fold(input)
	if in == "" {
		return Option{}, false
	}
	for _, o := range opts {
		if in == utils.Fold(o.Code) || in == utils.Fold(o.Label) {
			return o, true
		}
	}
	if n, err := strconv.Atoi(in); err == nil && n >= 1 && n <= len(opts) {
		return opts[n-1], true
	}
	return Option{}, false
}

// StatusForAction maps a signalement action to the status it sets.
func StatusForAction(action string) (string, bool) {
	s, ok := actionStatus[action]
	return s, ok
}

// NormalizeProjectField validates a raw value for one editable project
// field and returns the value to store.
func NormalizeProjectField(field, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch field {
	case FieldStatus:
		o, ok := Lookup(ProjectStatuses, raw)
		if !ok {
			return nil, fmt.Errorf("%w: statut attendu parmi %s", ErrInvalidValue, strings.Join(Codes(ProjectStatuses), ", "))
		}
		return o.Code, nil
	case FieldProgress:
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(raw, "%")))
		if err != nil || n < 0 || n > 100 {
			return nil, fmt.Errorf("%w: avancement entre 0 et 100", ErrInvalidValue)
		}
		return n, nil
	case FieldEndDate:
		for _, layout := range []string{"2006-01-02", "02/01/2006"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.Format("2006-01-02"), nil
			}
		}
		return nil, fmt.Errorf("%w: date au format AAAA-MM-JJ ou JJ/MM/AAAA", ErrInvalidValue)
	case FieldManager:
		if raw == "" || len([]rune(raw)) > 80 {
			return nil, fmt.Errorf("%w: nom du responsable requis (80 caractères max)", ErrInvalidValue)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: champ %q non modifiable", ErrInvalidValue, field)
	}
}

var printer = message.NewPrinter(language.French)

// FormatAmount renders a CFA franc amount with French digit grouping.
func FormatAmount(v float64) string {
	return printer.Sprintf("%d FCFA", int64(v))
}

// FormatNumber renders an integer with French digit grouping.
func FormatNumber(v float64) string {
	return printer.Sprintf("%d", int64(v))
}

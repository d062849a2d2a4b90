package workflow

import (
	"slices"
	"strings"

	"sgi/pkg/proto"
	"sgi/pkg/session"
	"sgi/pkg/utils"
)

// SelectionPrefix marks main-menu rows that start a workflow.
const SelectionPrefix = "wf:"

// Entry describes a startable workflow.
type Entry struct {
	Family      session.Family
	Title       string
	Description string
	Phrases     []string // folded trigger phrases
}

// Catalog lists the workflows in main-menu order.
var Catalog = []Entry{
	{
		Family:      session.FamilyIncident,
		Title:       "Signaler un incident",
		Description: "Sécurité, qualité, environnement, matériel",
		Phrases:     []string{"signaler un incident", "nouvel incident", "declarer un incident", "incident"},
	},
	{
		Family:      session.FamilyMedia,
		Title:       "Envoyer une photo",
		Description: "Ajouter un média à un projet",
		Phrases:     []string{"envoyer une photo", "ajouter une photo", "ajouter un media", "photo"},
	},
	{
		Family:      session.FamilyStock,
		Title:       "Rechercher en stock",
		Description: "Quantité et emplacement d'un article",
		Phrases:     []string{"rechercher en stock", "recherche stock", "stock"},
	},
	{
		Family:      session.FamilySignalement,
		Title:       "Traiter un signalement",
		Description: "Prendre en charge, résoudre ou rejeter",
		Phrases:     []string{"traiter un signalement", "signalements", "signalement"},
	},
	{
		Family:      session.FamilyFinance,
		Title:       "Finances d'un projet",
		Description: "Budget, engagé, payé",
		Phrases:     []string{"finances d'un projet", "finances", "finance"},
	},
	{
		Family:      session.FamilyProjectUpdate,
		Title:       "Mettre à jour un projet",
		Description: "Statut, avancement, date de fin, responsable",
		Phrases:     []string{"mettre a jour un projet", "mise a jour projet", "modifier un projet"},
	},
}

// MatchStarter returns the workflow a message starts: a tapped "wf:" row or
// one of the trigger phrases.
func MatchStarter(in *proto.Inbound) (session.Family, bool) {
	if id, ok := strings.CutPrefix(in.SelectionID, SelectionPrefix); ok {
		for _, e := range Catalog {
			if string(e.Family) == id {
				return e.Family, true
			}
		}
		return session.FamilyNone, false
	}
	text := normalizePhrase(in.Text)
	for _, e := range Catalog {
		if slices.Contains(e.Phrases, text) || text == utils.Fold(e.Title) {
			return e.Family, true
		}
	}
	return session.FamilyNone, false
}

// MenuRows renders the catalog as main-menu rows.
func MenuRows() []proto.Row {
	rows := make([]proto.Row, len(Catalog))
	for i, e := range Catalog {
		rows[i] = proto.Row{
			ID:          SelectionPrefix + string(e.Family),
			Title:       utils.Truncate(e.Title, proto.MaxRowTitle),
			Description: utils.Truncate(e.Description, proto.MaxRowDesc),
		}
	}
	return rows
}

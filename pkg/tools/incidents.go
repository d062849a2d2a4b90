package tools

import (
	"context"
	"fmt"
	"time"

	"sgi/pkg/datastore"
	"sgi/pkg/domain"
	"sgi/pkg/proto"
)

// QueryIncidentsTool lists incidents, newest first.
type QueryIncidentsTool struct {
	store datastore.Store
	opts  Options
}

func (t *QueryIncidentsTool) Name() string { return ToolQueryIncidents }

func (t *QueryIncidentsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolQueryIncidents,
		Description: "Liste ou compte les incidents de chantier.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"project_id": {Type: "string", Description: "Identifiant du projet"},
				"severity":   {Type: "string", Description: "Gravité", Enum: domain.Codes(domain.Severities)},
				"status":     {Type: "string", Description: "Statut", Enum: domain.Codes(domain.IncidentStatuses)},
				"type":       {Type: "string", Description: "Type d'incident", Enum: domain.Codes(domain.IncidentTypes)},
				"since":      {Type: "string", Description: "Date minimale de déclaration (AAAA-MM-JJ)"},
				"limit":      {Type: "integer", Description: "Nombre maximum d'incidents", Default: defaultLimit, Minimum: ptr(1), Maximum: ptr(100)},
			},
		},
	}
}

func (t *QueryIncidentsTool) PromptDocumentation() string {
	return `- **query_incidents** - incidents déclarés
  - Paramètres: project_id, severity (faible|moyenne|haute|critique), status (ouvert|en_cours|clos), type, since (AAAA-MM-JJ), limit`
}

func (t *QueryIncidentsTool) Exec(ctx context.Context, args Args) (*Result, error) {
	q := datastore.Query{Collection: datastore.Incidents}
	filters := map[string]string{}
	for _, field := range []string{"project_id", "severity", "status", "type"} {
		if v := args.String(field); v != "" {
			q.Filters = append(q.Filters, datastore.Eq(field, v))
			filters[field] = v
		}
	}
	if since := args.String("since"); since != "" {
		if _, err := time.Parse("2006-01-02", since); err != nil {
			return nil, validationError(ToolQueryIncidents, "since", "expected date AAAA-MM-JJ")
		}
		q.Filters = append(q.Filters, datastore.Filter{Field: "created_at", Op: datastore.OpGte, Value: since})
		filters["since"] = since
	}

	total, err := t.store.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents: %w", err)
	}
	q.OrderBy = "created_at"
	q.Desc = true
	q.Limit = args.Int("limit", defaultLimit)
	records, err := t.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}

	views := make([]map[string]any, 0, len(records))
	rows := make([]proto.Row, 0, len(records))
	for _, r := range records {
		views = append(views, incidentView(r))
		rows = append(rows, row(RowIncident, r.ID(),
			domain.Label(domain.IncidentTypes, r.String("type"))+" · "+domain.Label(domain.Severities, r.String("severity")),
			r.String("description")))
	}

	summary := fmt.Sprintf("%s trouvé(s)", plural(total, "incident"))
	res := &Result{
		Summary: summary,
		Data:    map[string]any{"count": total, "incidents": views},
		Count:   total,
		Menu:    t.opts.menu(summary, "Incidents", rows),
	}
	if t.opts.needsLink(total) {
		res.Link = &proto.LinkRequest{ResourceType: proto.ResourceIncidents, Filters: notNil(filters), Tool: ToolQueryIncidents}
	}
	return res, nil
}

func incidentView(r datastore.Record) map[string]any {
	out := map[string]any{"id": r.ID()}
	for _, k := range []string{"project_id", "type", "category", "severity", "status", "description", "reported_by", "created_at"} {
		if v := r.String(k); v != "" {
			out[k] = v
		}
	}
	return out
}

// IncidentDetail renders one incident for chat.
func IncidentDetail(r datastore.Record) string {
	s := fmt.Sprintf("*Incident %s*\n%s / %s · gravité %s\nStatut: %s",
		r.ID(),
		domain.Label(domain.IncidentTypes, r.String("type")),
		domain.Label(domain.IncidentCategories[r.String("type")], r.String("category")),
		domain.Label(domain.Severities, r.String("severity")),
		domain.Label(domain.IncidentStatuses, r.String("status")),
	)
	if d := r.String("description"); d != "" {
		s += "\n" + d
	}
	return s
}

// QuerySignalementsTool lists field reports.
type QuerySignalementsTool struct {
	store datastore.Store
	opts  Options
}

func (t *QuerySignalementsTool) Name() string { return ToolQuerySignalements }

func (t *QuerySignalementsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolQuerySignalements,
		Description: "Liste les signalements remontés du terrain.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"status":     {Type: "string", Description: "Statut", Enum: domain.Codes(domain.SignalementStatuses)},
				"project_id": {Type: "string", Description: "Identifiant du projet"},
				"limit":      {Type: "integer", Description: "Nombre maximum", Default: defaultLimit, Minimum: ptr(1), Maximum: ptr(100)},
			},
		},
	}
}

func (t *QuerySignalementsTool) PromptDocumentation() string {
	return `- **query_signalements** - signalements terrain
  - Paramètres: status (ouvert|en_cours|resolu|rejete), project_id, limit`
}

func (t *QuerySignalementsTool) Exec(ctx context.Context, args Args) (*Result, error) {
	q := datastore.Query{Collection: datastore.Signalements}
	for _, field := range []string{"status", "project_id"} {
		if v := args.String(field); v != "" {
			q.Filters = append(q.Filters, datastore.Eq(field, v))
		}
	}
	total, err := t.store.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to count signalements: %w", err)
	}
	q.OrderBy = "created_at"
	q.Desc = true
	q.Limit = args.Int("limit", defaultLimit)
	records, err := t.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list signalements: %w", err)
	}

	views := make([]map[string]any, 0, len(records))
	rows := make([]proto.Row, 0, len(records))
	for _, r := range records {
		views = append(views, map[string]any{
			"id":         r.ID(),
			"title":      r.String("title"),
			"status":     r.String("status"),
			"project_id": r.String("project_id"),
			"created_at": r.String("created_at"),
		})
		rows = append(rows, row(RowSignalement, r.ID(), r.String("title"),
			domain.Label(domain.SignalementStatuses, r.String("status"))))
	}
	summary := fmt.Sprintf("%s trouvé(s)", plural(total, "signalement"))
	return &Result{
		Summary: summary,
		Data:    map[string]any{"count": total, "signalements": views},
		Count:   total,
		Menu:    t.opts.menu(summary, "Signalements", rows),
	}, nil
}

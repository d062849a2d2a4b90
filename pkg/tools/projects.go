package tools

import (
	"context"
	"fmt"
	"strings"

	"sgi/pkg/datastore"
	"sgi/pkg/domain"
	"sgi/pkg/proto"
)

// QueryProjectsTool lists or counts projects.
type QueryProjectsTool struct {
	store datastore.Store
	opts  Options
}

func (t *QueryProjectsTool) Name() string { return ToolQueryProjects }

func (t *QueryProjectsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolQueryProjects,
		Description: "Liste ou compte les projets, filtrés par statut, région ou nom.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"status": {
					Type:        "string",
					Description: "Statut du projet",
					Enum:        domain.Codes(domain.ProjectStatuses),
				},
				"region": {Type: "string", Description: "Région (recherche partielle)"},
				"search": {Type: "string", Description: "Fragment du nom du projet"},
				"order_by": {
					Type:        "string",
					Description: "Champ de tri",
					Enum:        []string{"name", "budget", "progress", "end_date"},
					Default:     "name",
				},
				"desc":       {Type: "boolean", Description: "Tri décroissant", Default: false},
				"limit":      {Type: "integer", Description: "Nombre maximum de projets", Default: defaultLimit, Minimum: ptr(1), Maximum: ptr(100)},
				"count_only": {Type: "boolean", Description: "Ne renvoyer que le nombre", Default: false},
			},
		},
	}
}

func (t *QueryProjectsTool) PromptDocumentation() string {
	return `- **query_projects** - compter ou lister des projets
  - Paramètres: status (planifie|en_cours|suspendu|termine), region, search, order_by, desc, limit (défaut 20), count_only
  - "Combien de projets en cours ?" => query_projects({"status":"en_cours","count_only":true})`
}

func (t *QueryProjectsTool) Exec(ctx context.Context, args Args) (*Result, error) {
	q := datastore.Query{Collection: datastore.Projects}
	filters := map[string]string{}
	if s := args.String("status"); s != "" {
		q.Filters = append(q.Filters, datastore.Eq("status", s))
		filters["status"] = s
	}
	if s := args.String("region"); s != "" {
		q.Filters = append(q.Filters, datastore.Filter{Field: "region", Op: datastore.OpLike, Value: s})
		filters["region"] = s
	}
	if s := args.String("search"); s != "" {
		q.Filters = append(q.Filters, datastore.Filter{Field: "name", Op: datastore.OpLike, Value: s})
		filters["q"] = s
	}

	total, err := t.store.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to count projects: %w", err)
	}

	qualifier := ""
	if s := args.String("status"); s != "" {
		qualifier = " " + strings.ToLower(domain.Label(domain.ProjectStatuses, s))
	}
	res := &Result{
		Summary: fmt.Sprintf("%s trouvé(s)", plural(total, "projet")),
		Count:   total,
	}
	if t.opts.needsLink(total) {
		res.Link = &proto.LinkRequest{ResourceType: proto.ResourceProjects, Filters: notNil(filters), Tool: ToolQueryProjects}
	}

	if args.Bool("count_only") {
		res.Data = map[string]any{"count": total, "filters": filters}
		res.Summary = fmt.Sprintf("%d projet(s)%s", total, qualifier)
		return res, nil
	}

	q.OrderBy = args.String("order_by")
	q.Desc = args.Bool("desc")
	q.Limit = args.Int("limit", defaultLimit)
	records, err := t.store.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	views := make([]map[string]any, 0, len(records))
	rows := make([]proto.Row, 0, len(records))
	for _, r := range records {
		views = append(views, projectView(r))
		rows = append(rows, projectRow(r))
	}
	res.Data = map[string]any{"count": total, "projects": views}
	res.Menu = t.opts.menu(res.Summary, "Projets", rows)
	return res, nil
}

// GetProjectTool fetches one project by id, code or name.
type GetProjectTool struct {
	store datastore.Store
}

func (t *GetProjectTool) Name() string { return ToolGetProject }

func (t *GetProjectTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolGetProject,
		Description: "Détail d'un projet à partir de son identifiant, de son code ou de son nom.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"project_id": {Type: "string", Description: "Identifiant, code ou nom du projet"},
			},
			Required: []string{"project_id"},
		},
	}
}

func (t *GetProjectTool) PromptDocumentation() string {
	return `- **get_project** - détail d'un projet
  - Paramètres: project_id (REQUIS: identifiant, code ou nom)`
}

func (t *GetProjectTool) Exec(ctx context.Context, args Args) (*Result, error) {
	ref := args.String("project_id")
	matches, err := domain.ResolveProject(ctx, t.store, ref, proto.MaxListRows)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return &Result{Summary: fmt.Sprintf("Aucun projet ne correspond à %q", ref)}, nil
	case 1:
	default:
		rows := make([]proto.Row, 0, len(matches))
		for _, r := range matches {
			rows = append(rows, projectRow(r))
		}
		summary := fmt.Sprintf("%s correspondent à %q, précisez lequel", plural(len(matches), "projet"), ref)
		return &Result{
			Summary: summary,
			Count:   len(matches),
			Data:    map[string]any{"candidates": len(matches)},
			Menu:    Options{MenuMaxRows: proto.MaxListRows}.menu(summary, "Projets", rows),
		}, nil
	}

	p := matches[0]
	return &Result{
		Summary: ProjectDetail(p),
		Data:    projectView(p),
		Count:   1,
		Link:    &proto.LinkRequest{ResourceType: proto.ResourceProject, ResourceID: p.ID(), Tool: ToolGetProject},
	}, nil
}

// ProjectDetail renders a short multi-line project summary.
func ProjectDetail(p datastore.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", domain.ProjectTitle(p))
	fmt.Fprintf(&b, "Statut: %s", domain.Label(domain.ProjectStatuses, p.String("status")))
	if _, ok := p["progress"]; ok {
		fmt.Fprintf(&b, " · avancement %.0f%%", p.Number("progress"))
	}
	if region := p.String("region"); region != "" {
		fmt.Fprintf(&b, "\nRégion: %s", region)
	}
	if m := p.String("manager"); m != "" {
		fmt.Fprintf(&b, "\nResponsable: %s", m)
	}
	if _, ok := p["budget"]; ok {
		fmt.Fprintf(&b, "\nBudget: %s", domain.FormatAmount(p.Number("budget")))
	}
	if end := p.String("end_date"); end != "" {
		fmt.Fprintf(&b, "\nFin prévue: %s", end)
	}
	return b.String()
}

// TopProjectsTool ranks projects by a metric.
type TopProjectsTool struct {
	store datastore.Store
	opts  Options
}

var topMetrics = map[string]string{
	"budget":    "budget",
	"incidents": "incident_count",
	"progress":  "progress",
}

func (t *TopProjectsTool) Name() string { return ToolTopProjects }

func (t *TopProjectsTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolTopProjects,
		Description: "Classement des projets selon le budget, le nombre d'incidents ou l'avancement.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"metric": {
					Type:        "string",
					Description: "Critère de classement",
					Enum:        []string{"budget", "incidents", "progress"},
					Default:     "budget",
				},
				"limit": {Type: "integer", Description: "Taille du classement", Default: defaultLimit, Minimum: ptr(1), Maximum: ptr(50)},
			},
		},
	}
}

func (t *TopProjectsTool) PromptDocumentation() string {
	return `- **top_projects** - classement des projets
  - Paramètres: metric (budget|incidents|progress, défaut budget), limit (défaut 20)`
}

func (t *TopProjectsTool) Exec(ctx context.Context, args Args) (*Result, error) {
	metric := args.String("metric")
	if metric == "" {
		metric = "budget"
	}
	limit := args.Int("limit", defaultLimit)

	records, err := t.store.Find(ctx, datastore.Query{
		Collection: datastore.Projects,
		OrderBy:    topMetrics[metric],
		Desc:       true,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to rank projects: %w", err)
	}

	views := make([]map[string]any, 0, len(records))
	rows := make([]proto.Row, 0, len(records))
	for _, r := range records {
		views = append(views, projectView(r))
		rows = append(rows, projectRow(r))
	}

	filters := map[string]string{}
	if metric != "budget" {
		filters["metric"] = metric
	}
	if limit != defaultLimit {
		filters["limit"] = fmt.Sprint(limit)
	}

	summary := fmt.Sprintf("Top %d des projets par %s", len(records), metric)
	return &Result{
		Summary: summary,
		Data:    map[string]any{"metric": metric, "projects": views},
		Count:   len(records),
		Menu:    t.opts.menu(summary, "Classement", rows),
		Link: &proto.LinkRequest{
			ResourceType: proto.ResourceTopProjects,
			Filters:      notNil(filters),
			Tool:         ToolTopProjects,
			Snapshot:     views,
		},
	}, nil
}

// ProjectFinanceTool summarizes a project's budget consumption.
type ProjectFinanceTool struct {
	store datastore.Store
	opts  Options
}

func (t *ProjectFinanceTool) Name() string { return ToolProjectFinance }

func (t *ProjectFinanceTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolProjectFinance,
		Description: "Situation financière d'un projet: budget, engagé, payé, reste.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"project_id": {Type: "string", Description: "Identifiant, code ou nom du projet"},
			},
			Required: []string{"project_id"},
		},
	}
}

func (t *ProjectFinanceTool) PromptDocumentation() string {
	return `- **project_finance** - situation financière d'un projet
  - Paramètres: project_id (REQUIS)`
}

func (t *ProjectFinanceTool) Exec(ctx context.Context, args Args) (*Result, error) {
	ref := args.String("project_id")
	matches, err := domain.ResolveProject(ctx, t.store, ref, t.opts.MenuMaxRows)
	if err != nil {
		return nil, err
	}
	if len(matches) != 1 {
		rows := make([]proto.Row, 0, len(matches))
		for _, r := range matches {
			rows = append(rows, projectRow(r))
		}
		summary := fmt.Sprintf("Aucun projet unique ne correspond à %q", ref)
		return &Result{Summary: summary, Count: len(matches), Menu: t.opts.menu(summary, "Projets", rows)}, nil
	}

	p := matches[0]
	fin := Finance(p)
	return &Result{
		Summary: FinanceSummary(p),
		Data:    fin,
		Count:   1,
		Link:    &proto.LinkRequest{ResourceType: proto.ResourceFinance, ResourceID: p.ID(), Tool: ToolProjectFinance},
	}, nil
}

// Finance computes the finance figures of a project record.
func Finance(p datastore.Record) map[string]any {
	budget := p.Number("budget")
	engaged := p.Number("engaged")
	paid := p.Number("paid")
	rate := 0.0
	if budget > 0 {
		rate = engaged / budget * 100
	}
	return map[string]any{
		"project_id":   p.ID(),
		"name":         p.String("name"),
		"budget":       budget,
		"engaged":      engaged,
		"paid":         paid,
		"remaining":    budget - paid,
		"engaged_rate": rate,
	}
}

// FinanceSummary renders the finance figures for chat.
func FinanceSummary(p datastore.Record) string {
	f := Finance(p)
	return fmt.Sprintf("*%s*\nBudget: %s\nEngagé: %s (%.0f%%)\nPayé: %s\nReste à payer: %s",
		domain.ProjectTitle(p),
		domain.FormatAmount(f["budget"].(float64)),
		domain.FormatAmount(f["engaged"].(float64)),
		f["engaged_rate"].(float64),
		domain.FormatAmount(f["paid"].(float64)),
		domain.FormatAmount(f["remaining"].(float64)),
	)
}

// UpdateProjectFieldTool changes one editable project field.
type UpdateProjectFieldTool struct {
	store datastore.Store
}

func (t *UpdateProjectFieldTool) Name() string { return ToolUpdateProjectField }

func (t *UpdateProjectFieldTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolUpdateProjectField,
		Description: "Modifie un champ d'un projet (statut, avancement, date de fin, responsable).",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"project_id": {Type: "string", Description: "Identifiant ou code du projet"},
				"field": {
					Type:        "string",
					Description: "Champ à modifier",
					Enum:        domain.Codes(domain.ProjectFields),
				},
				"value": {Type: "string", Description: "Nouvelle valeur"},
			},
			Required: []string{"project_id", "field", "value"},
		},
	}
}

func (t *UpdateProjectFieldTool) PromptDocumentation() string {
	return `- **update_project_field** - modifier un projet (uniquement sur demande explicite)
  - Paramètres: project_id, field (status|progress|end_date|manager), value (tous REQUIS)`
}

func (t *UpdateProjectFieldTool) Exec(ctx context.Context, args Args) (*Result, error) {
	field := args.String("field")
	value, err := domain.NormalizeProjectField(field, args.String("value"))
	if err != nil {
		return nil, validationError(ToolUpdateProjectField, "value", err.Error())
	}

	ref := args.String("project_id")
	matches, err := domain.ResolveProject(ctx, t.store, ref, 2)
	if err != nil {
		return nil, err
	}
	if len(matches) != 1 {
		return nil, validationError(ToolUpdateProjectField, "project_id", fmt.Sprintf("no single project matches %q", ref))
	}

	p := matches[0]
	if err := t.store.Update(ctx, datastore.Projects, p.ID(), datastore.Record{field: value}); err != nil {
		return nil, fmt.Errorf("failed to update project %s: %w", p.ID(), err)
	}
	return &Result{
		Summary: fmt.Sprintf("%s: %s mis à jour (%v)", domain.ProjectTitle(p), domain.Label(domain.ProjectFields, field), value),
		Data:    map[string]any{"project_id": p.ID(), "field": field, "value": value},
		Count:   1,
		Action:  "project_updated",
	}, nil
}

package tools

import (
	"fmt"
	"strings"

	"sgi/pkg/datastore"
	"sgi/pkg/domain"
	"sgi/pkg/proto"
	"sgi/pkg/utils"
)

// Tool names.
const (
	ToolQueryProjects      = "query_projects"
	ToolGetProject         = "get_project"
	ToolTopProjects        = "top_projects"
	ToolQueryIncidents     = "query_incidents"
	ToolQuerySignalements  = "query_signalements"
	ToolSearchStock        = "search_stock"
	ToolProjectFinance     = "project_finance"
	ToolUpdateProjectField = "update_project_field"
	ToolCreateMagicLink    = "create_magic_link"
)

// Row id prefixes carried by result menus.
const (
	RowProject     = "project:"
	RowIncident    = "incident:"
	RowSignalement = "signalement:"
	RowStock       = "stock:"
)

const defaultLimit = 20

// Options shape how result sets are presented.
type Options struct {
	MenuMaxRows      int // results with at most this many rows carry a menu
	LinkRowThreshold int // results with more rows than this carry a link request
}

func (o Options) withDefaults() Options {
	if o.MenuMaxRows <= 0 || o.MenuMaxRows > proto.MaxListRows {
		o.MenuMaxRows = proto.MaxListRows
	}
	if o.LinkRowThreshold <= 0 {
		o.LinkRowThreshold = 10
	}
	return o
}

// RegisterCatalog registers every data tool bound to store.
func RegisterCatalog(r *Registry, store datastore.Store, opts Options) error {
	opts = opts.withDefaults()
	catalog := []Tool{
		&QueryProjectsTool{store: store, opts: opts},
		&GetProjectTool{store: store},
		&TopProjectsTool{store: store, opts: opts},
		&QueryIncidentsTool{store: store, opts: opts},
		&QuerySignalementsTool{store: store, opts: opts},
		&SearchStockTool{store: store, opts: opts},
		&ProjectFinanceTool{store: store, opts: opts},
		&UpdateProjectFieldTool{store: store},
		&CreateMagicLinkTool{},
	}
	for _, t := range catalog {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// menu builds a list menu when rows fit the cap.
func (o Options) menu(body, section string, rows []proto.Row) *proto.Interactive {
	if len(rows) == 0 || len(rows) > o.MenuMaxRows {
		return nil
	}
	return proto.NewList(
		utils.Truncate(body, 1024),
		"Voir",
		proto.Section{Title: utils.Truncate(section, proto.MaxSectionTitle), Rows: rows},
	)
}

func (o Options) needsLink(total int) bool {
	return total > o.LinkRowThreshold
}

func row(prefix, id, title, desc string) proto.Row {
	return proto.Row{
		ID:          prefix + id,
		Title:       utils.Truncate(title, proto.MaxRowTitle),
		Description: utils.Truncate(desc, proto.MaxRowDesc),
	}
}

func projectRow(r datastore.Record) proto.Row {
	desc := []string{}
	if code := r.String("code"); code != "" {
		desc = append(desc, code)
	}
	desc = append(desc, domain.Label(domain.ProjectStatuses, r.String("status")))
	if _, ok := r["progress"]; ok {
		desc = append(desc, fmt.Sprintf("%.0f%%", r.Number("progress")))
	}
	return row(RowProject, r.ID(), r.String("name"), strings.Join(desc, " · "))
}

// projectView is the compact project shape handed to the model.
func projectView(r datastore.Record) map[string]any {
	out := map[string]any{"id": r.ID()}
	for _, k := range []string{"code", "name", "status", "region", "manager", "start_date", "end_date"} {
		if v := r.String(k); v != "" {
			out[k] = v
		}
	}
	for _, k := range []string{"budget", "progress", "incident_count"} {
		if _, ok := r[k]; ok {
			out[k] = r.Number(k)
		}
	}
	return out
}

func plural(n int, word string) string {
	if n > 1 {
		return fmt.Sprintf("%d %ss", n, word)
	}
	return fmt.Sprintf("%d %s", n, word)
}

func validationError(tool, field, msg string) *CallError {
	return &CallError{
		Kind:    KindValidation,
		Tool:    tool,
		Message: "invalid arguments",
		Fields:  []FieldError{{Field: field, Message: msg}},
	}
}

func notNil(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

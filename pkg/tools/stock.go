package tools

import (
	"context"
	"fmt"

	"sgi/pkg/datastore"
	"sgi/pkg/domain"
	"sgi/pkg/proto"
)

// SearchStockTool finds stock items by name or reference.
type SearchStockTool struct {
	store datastore.Store
	opts  Options
}

func (t *SearchStockTool) Name() string { return ToolSearchStock }

func (t *SearchStockTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSearchStock,
		Description: "Recherche un article en stock par nom ou référence.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {Type: "string", Description: "Nom ou référence de l'article"},
				"limit": {Type: "integer", Description: "Nombre maximum d'articles", Default: 10, Minimum: ptr(1), Maximum: ptr(50)},
			},
			Required: []string{"query"},
		},
	}
}

func (t *SearchStockTool) PromptDocumentation() string {
	return `- **search_stock** - disponibilité d'un article
  - Paramètres: query (REQUIS), limit (défaut 10)`
}

func (t *SearchStockTool) Exec(ctx context.Context, args Args) (*Result, error) {
	query := args.String("query")
	if query == "" {
		return nil, validationError(ToolSearchStock, "query", "must not be empty")
	}
	matches, err := SearchStock(ctx, t.store, query)
	if err != nil {
		return nil, err
	}

	total := len(matches)
	if limit := args.Int("limit", 10); len(matches) > limit {
		matches = matches[:limit]
	}
	views := make([]map[string]any, 0, len(matches))
	rows := make([]proto.Row, 0, len(matches))
	for _, r := range matches {
		views = append(views, stockView(r))
		rows = append(rows, StockRow(r))
	}

	summary := fmt.Sprintf("%s correspondant à %q", plural(total, "article"), query)
	res := &Result{
		Summary: summary,
		Data:    map[string]any{"count": total, "items": views},
		Count:   total,
		Menu:    t.opts.menu(summary, "Stock", rows),
	}
	if t.opts.needsLink(total) {
		res.Link = &proto.LinkRequest{ResourceType: proto.ResourceStock, Filters: map[string]string{"q": query}, Tool: ToolSearchStock}
	}
	return res, nil
}

// SearchStock matches query against item names and references, name
// matches first, without duplicates.
func SearchStock(ctx context.Context, store datastore.Store, query string) ([]datastore.Record, error) {
	seen := map[string]bool{}
	var out []datastore.Record
	for _, field := range []string{"name", "reference"} {
		records, err := store.Find(ctx, datastore.Query{
			Collection: datastore.Stock,
			Filters:    []datastore.Filter{{Field: field, Op: datastore.OpLike, Value: query}},
			OrderBy:    "name",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to search stock: %w", err)
		}
		for _, r := range records {
			if !seen[r.ID()] {
				seen[r.ID()] = true
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// StockRow renders a stock item as a menu row.
func StockRow(r datastore.Record) proto.Row {
	return row(RowStock, r.ID(), r.String("name"),
		fmt.Sprintf("%s %s · %s", domain.FormatNumber(r.Number("quantity")), r.String("unit"), r.String("location")))
}

func stockView(r datastore.Record) map[string]any {
	return map[string]any{
		"id":        r.ID(),
		"reference": r.String("reference"),
		"name":      r.String("name"),
		"quantity":  r.Number("quantity"),
		"unit":      r.String("unit"),
		"location":  r.String("location"),
	}
}

// StockDetail renders one item for chat.
func StockDetail(r datastore.Record) string {
	s := fmt.Sprintf("*%s*", r.String("name"))
	if ref := r.String("reference"); ref != "" {
		s += " (" + ref + ")"
	}
	s += fmt.Sprintf("\nQuantité: %s %s", domain.FormatNumber(r.Number("quantity")), r.String("unit"))
	if loc := r.String("location"); loc != "" {
		s += "\nEmplacement: " + loc
	}
	if _, ok := r["threshold"]; ok && r.Number("quantity") <= r.Number("threshold") {
		s += "\n⚠️ Sous le seuil d'alerte"
	}
	return s
}

package workflow

import (
	"context"
	"strings"

	"sgi/pkg/datastore"
	"sgi/pkg/proto"
	"sgi/pkg/session"
	"sgi/pkg/tools"
)

func (e *Engine) stockSteps() []*Step {
	fam := session.FamilyStock
	return []*Step{
		{
			State:   StateStockQuery,
			Family:  fam,
			Accepts: AcceptText,
			Prompt: func(context.Context, *session.Session) (proto.Outbound, error) {
				return proto.Outbound{Text: "📦 Quel article cherchez-vous ? (nom ou référence)"}, nil
			},
			Handle: e.searchStock,
		},
		{
			State:   StateStockSelect,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(ctx context.Context, s *session.Session) (proto.Outbound, error) {
				rows, err := e.candidateRows(ctx, datastore.Stock, slotsOf[session.StockSlots](s).Candidates, tools.StockRow)
				if err != nil {
					return proto.Outbound{}, err
				}
				if len(rows) == 0 {
					return proto.Outbound{}, &finished{text: "Ces articles ne sont plus disponibles."}
				}
				return listMenu("Plusieurs articles correspondent. Lequel ?", "Stock", rows), nil
			},
			Handle: func(ctx context.Context, s *session.Session, in Input) (Outcome, error) {
				r, err := e.matchCandidate(ctx, datastore.Stock, slotsOf[session.StockSlots](s).Candidates,
					func(r datastore.Record) string { return r.String("name") }, in)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{Clear: true, Reply: &proto.Outbound{Text: tools.StockDetail(r)}}, nil
			},
		},
	}
}

func (e *Engine) searchStock(ctx context.Context, _ *session.Session, in Input) (Outcome, error) {
	query := strings.TrimSpace(in.Text)
	if len([]rune(query)) < 2 {
		return Outcome{}, reject("Indiquez au moins deux caractères.")
	}
	records, err := tools.SearchStock(ctx, e.store, query)
	if err != nil {
		return Outcome{}, err
	}

	switch len(records) {
	case 0:
		return Outcome{}, reject("Aucun article ne correspond à « %s ».", query)
	case 1:
		return Outcome{Clear: true, Reply: &proto.Outbound{Text: tools.StockDetail(records[0])}}, nil
	}

	out := Outcome{Next: StateStockSelect}
	shown := records
	if len(records) > e.opts.MenuMaxRows {
		shown = records[:e.opts.MenuMaxRows]
		out.Link = &proto.LinkRequest{
			ResourceType: proto.ResourceStock,
			Filters:      map[string]string{"q": query},
			Tool:         tools.ToolSearchStock,
		}
		e.logger.Debug("stock search %q matched %d items, showing %d", query, len(records), len(shown))
	}
	ids := make([]string, len(shown))
	for i, r := range shown {
		ids[i] = r.ID()
	}
	out.Slots = session.StockSlots{Query: query, Candidates: ids}
	return out, nil
}

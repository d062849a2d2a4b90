package workflow

import (
	"context"

	"sgi/pkg/datastore"
	"sgi/pkg/proto"
	"sgi/pkg/session"
	"sgi/pkg/tools"
)

func (e *Engine) financeSteps() []*Step {
	fam := session.FamilyFinance
	return []*Step{
		{
			State:   StateFinanceProject,
			Family:  fam,
			Accepts: AcceptText,
			Prompt: func(context.Context, *session.Session) (proto.Outbound, error) {
				return proto.Outbound{Text: "💰 Situation financière. Quel projet ? (nom ou code)"}, nil
			},
			Handle: func(ctx context.Context, _ *session.Session, in Input) (Outcome, error) {
				p, ids, err := e.resolveProject(ctx, in.Text)
				if err != nil {
					return Outcome{}, err
				}
				if p == nil {
					return Outcome{Next: StateFinanceSelect, Slots: session.FinanceSlots{Query: in.Text, Candidates: ids}}, nil
				}
				return financeOutcome(p), nil
			},
		},
		{
			State:   StateFinanceSelect,
			Family:  fam,
			Accepts: AcceptText | AcceptSelection,
			Prompt: func(ctx context.Context, s *session.Session) (proto.Outbound, error) {
				return e.projectChoice(ctx, slotsOf[session.FinanceSlots](s).Candidates)
			},
			Handle: func(ctx context.Context, s *session.Session, in Input) (Outcome, error) {
				p, err := e.pickProject(ctx, slotsOf[session.FinanceSlots](s).Candidates, in)
				if err != nil {
					return Outcome{}, err
				}
				return financeOutcome(p), nil
			},
		},
	}
}

func financeOutcome(p datastore.Record) Outcome {
	return Outcome{
		Clear: true,
		Reply: &proto.Outbound{Text: tools.FinanceSummary(p), Data: tools.Finance(p)},
		Link:  &proto.LinkRequest{ResourceType: proto.ResourceFinance, ResourceID: p.ID(), Tool: tools.ToolProjectFinance},
	}
}

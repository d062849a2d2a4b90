package orchestrator

import (
	"context"

	"sgi/pkg/llm"
	"sgi/pkg/persistence"
	"sgi/pkg/proto"
)

// loadHistory returns the prior turns to prepend: the caller-supplied
// history when present, otherwise the stored window. Either is trimmed to
// the token budget, oldest turns first.
func (o *Orchestrator) loadHistory(ctx context.Context, in *proto.Inbound) []llm.CompletionMessage {
	var turns []proto.Turn
	switch {
	case in.History != nil:
		turns = in.History
		if n := len(turns); n > o.opts.HistoryTurns {
			turns = turns[n-o.opts.HistoryTurns:]
		}
	case o.History != nil:
		stored, err := o.History.RecentTurns(ctx, in.Identity, o.opts.HistoryTurns)
		if err != nil {
			o.logger.WithIdentity(in.Identity).Warn("failed to load history, answering without it: %v", err)
			return nil
		}
		for _, t := range stored {
			turns = append(turns, proto.Turn{Role: proto.Role(t.Role), Content: t.Content})
		}
	}
	if len(turns) == 0 {
		return nil
	}

	contents := make([]string, len(turns))
	for i, t := range turns {
		contents[i] = t.Content
	}
	turns = turns[o.Tokens.KeepWithinBudget(contents, o.opts.HistoryTokens):]

	msgs := make([]llm.CompletionMessage, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case proto.RoleAssistant:
			msgs = append(msgs, llm.NewAssistantMessage(t.Content))
		case proto.RoleUser:
			msgs = append(msgs, llm.NewUserMessage(t.Content))
		}
	}
	return msgs
}

// saveHistory appends the exchange to the stored window. Callers that
// supply their own history keep it themselves.
func (o *Orchestrator) saveHistory(ctx context.Context, in *proto.Inbound, question, answer string) {
	if in.History != nil || o.History == nil {
		return
	}
	err := o.History.AppendTurns(ctx, in.Identity, o.opts.HistoryTurns,
		persistence.Turn{Role: string(proto.RoleUser), Content: question},
		persistence.Turn{Role: string(proto.RoleAssistant), Content: answer},
	)
	if err != nil {
		o.logger.WithIdentity(in.Identity).Warn("failed to store history: %v", err)
	}
}

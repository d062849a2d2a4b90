package orchestrator

import (
	"sgi/pkg/proto"
	"sgi/pkg/tools"
)

// maxInteractiveBody is the platform limit on a menu body.
const maxInteractiveBody = 1024

// ToolData is one tool payload surfaced to API callers.
type ToolData struct {
	Tool string `json:"tool"`
	Data any    `json:"data,omitempty"`
}

// assemble builds the reply from the answer text and the tool results. The
// first result carrying a menu provides the interactive, the first carrying
// a link request provides the link.
func assemble(answer string, results []tools.CallResult) (proto.Outbound, *proto.LinkRequest) {
	out := proto.Outbound{Text: answer}
	var (
		link *proto.LinkRequest
		data []ToolData
	)
	for i := range results {
		r := &results[i]
		if !r.OK() {
			continue
		}
		data = append(data, ToolData{Tool: r.Tool, Data: r.Result.Data})
		if out.Action == "" {
			out.Action = r.Result.Action
			if out.Action == "" {
				out.Action = r.Tool
			}
		}
		if out.Interactive == nil && r.Result.Menu != nil {
			menu := *r.Result.Menu
			if answer != "" && len([]rune(answer)) <= maxInteractiveBody {
				menu.Body = answer
			}
			if menu.Validate() == nil {
				out.Interactive = &menu
			}
		}
		if link == nil && r.Result.Link != nil {
			link = r.Result.Link
		}
	}
	if len(data) > 0 {
		out.Data = data
	}
	return out, link
}

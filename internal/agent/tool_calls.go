package agent

import (
	"strings"

	"github.com/haasonsaas/agentbridge/internal/agent/stream"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// callAccumulator assembles tool call fragments by call id, remembering the
// order in which the model first mentioned each call.
type callAccumulator struct {
	order []string
	byID  map[string]*callParts
}

type callParts struct {
	name string
	args strings.Builder
}

func newCallAccumulator() *callAccumulator {
	return &callAccumulator{byID: make(map[string]*callParts)}
}

func (a *callAccumulator) add(ev stream.Event) {
	id := ev.ToolCallID
	if id == "" {
		// Fragments without an id continue the most recent call.
		if len(a.order) == 0 {
			id = "call_0"
		} else {
			id = a.order[len(a.order)-1]
		}
	}
	parts, ok := a.byID[id]
	if !ok {
		parts = &callParts{}
		a.byID[id] = parts
		a.order = append(a.order, id)
	}
	if ev.ToolName != "" {
		parts.name = ev.ToolName
	}
	parts.args.WriteString(ev.ArgsFragment)
}

func (a *callAccumulator) list() []models.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	calls := make([]models.ToolCall, 0, len(a.order))
	for _, id := range a.order {
		parts := a.byID[id]
		calls = append(calls, models.ToolCall{
			ID:        id,
			Name:      parts.name,
			Arguments: parts.args.String(),
		})
	}
	return calls
}

package selection

import (
	"log/slog"

	"divecli/internal/dive"
	"divecli/internal/operations"
	"divecli/pkg/contracts/events"
)

// ActiveColorAlpha is the alpha used when rendering stack colors for clients
const ActiveColorAlpha = 1.0

// NodeView renders n for clients
func NodeView(n *operations.Node) events.OperationView {
	if n == nil {
		return events.OperationView{}
	}
	return events.OperationView{
		Kind:        string(n.Kind()),
		Name:        n.Name(),
		QueryID:     n.QueryID(),
		Fingerprint: n.Fingerprint(),
	}
}

// View renders s for clients
func (s *Stack) View(active bool) events.StackView {
	history := s.History()
	ops := make([]events.OperationView, len(history))
	for i, n := range history {
		ops[i] = NodeView(n)
	}
	return events.StackView{
		ID:      s.ID(),
		Name:    s.Name(),
		Color:   s.Color(ActiveColorAlpha),
		Active:  active,
		History: ops,
	}
}

// Views renders stacks in slot order. The first is the active stack.
func Views(stacks []*Stack) []events.StackView {
	out := make([]events.StackView, len(stacks))
	for i, s := range stacks {
		out[i] = s.View(i == 0)
	}
	return out
}

// CountViews renders counted values with the names of the stacks they were
// taken from. Values without a decodable count are skipped.
func (c *Collection) CountViews(values []dive.StackValue) []events.StackCount {
	out := make([]events.StackCount, 0, len(values))
	for _, v := range values {
		count, err := v.Count()
		if err != nil {
			c.logger.Warn("count without result", slog.Int("stack", v.Stack), slog.String("error", err.Error()))
			continue
		}
		sc := events.StackCount{Stack: v.Stack, Name: c.StackName(v.Stack), Count: count}
		if v.Node != nil {
			sc.QueryID = v.Node.QueryID()
		}
		out = append(out, sc)
	}
	return out
}

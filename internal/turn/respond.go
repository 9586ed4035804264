package turn

import (
	"context"

	"github.com/aleksvoss/murmur/internal/agent"
)

// respond invokes the agent with the full message list and appends only the
// newly produced suffix. Collaborator failure becomes an ai-authored apology
// so synthesis is never skipped on this path.
func (g *Graph) respond(ctx context.Context, state State) (State, Status) {
	next := state.Clone()

	reply, err := g.agent.Respond(ctx, agent.Request{Messages: toAgentMessages(state.Messages)})
	if err != nil {
		g.observeIndicator("apology_agent")
		if g.metrics != nil {
			g.metrics.ProviderFailures.WithLabelValues("agent", agent.FailureClass(err)).Inc()
		}
		next.Messages = append(next.Messages, Message{Role: RoleAI, Content: agentApology})
		return next, StatusDegraded
	}

	contributed := newSuffix(state.Messages, reply.Messages)
	if len(contributed) == 0 {
		g.observeIndicator("apology_agent")
		next.Messages = append(next.Messages, Message{Role: RoleAI, Content: agentApology})
		return next, StatusDegraded
	}

	next.Messages = append(next.Messages, contributed...)
	return next, StatusOK
}

// newSuffix slices the shared prefix off an adapter reply so history is never
// re-appended. Adapters that return only their contribution are tolerated.
func newSuffix(sent []Message, reply []agent.Message) []Message {
	if len(reply) >= len(sent) && prefixMatches(sent, reply) {
		return fromAgentMessages(reply[len(sent):])
	}
	return fromAgentMessages(reply)
}

func prefixMatches(sent []Message, reply []agent.Message) bool {
	for i := range sent {
		if string(sent[i].Role) != reply[i].Role || sent[i].Content != reply[i].Content {
			return false
		}
	}
	return true
}

func toAgentMessages(in []Message) []agent.Message {
	out := make([]agent.Message, len(in))
	for i, m := range in {
		out[i] = agent.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func fromAgentMessages(in []agent.Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		role := RoleAI
		if m.Role == agent.RoleHuman {
			role = RoleHuman
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}

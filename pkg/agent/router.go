package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/origin/pkg/graph"
	"github.com/kadirpekel/origin/pkg/protocol"
)

// routerNode classifies the turn as CHAT or TASK.
//
// The knowledge flag short-circuits to TASK without an LLM call: the turn
// must run a search tool, so the agent path is mandatory. On classifier
// failure the router also defaults to TASK — the safe direction, since it
// only grants tool access.
func (s *Service) routerNode(ctx context.Context, st *State) (graph.Update, error) {
	if st.UseKnowledge {
		return graph.Update{ChIntent: IntentTask}, nil
	}

	excerpt := conversationExcerpt(st.Messages, 2)
	resp, err := s.llm.Active().Invoke(ctx, []*protocol.Message{
		protocol.NewSystemMessage(routerPrompt),
		protocol.NewUserMessage(excerpt),
	}, nil)
	if err != nil {
		slog.Warn("Router classification failed, defaulting to TASK", "error", err)
		return graph.Update{ChIntent: IntentTask}, nil
	}

	first := firstWord(resp.Content)
	intent := IntentChat
	if strings.Contains(strings.ToUpper(first), IntentTask) {
		intent = IntentTask
	}
	slog.Debug("Routed turn", "intent", intent)
	return graph.Update{ChIntent: intent}, nil
}

// conversationExcerpt renders the last n non-status messages for the
// classifier prompts.
func conversationExcerpt(messages []*protocol.Message, n int) string {
	filtered := protocol.FilterStatus(messages)
	if len(filtered) > n {
		filtered = filtered[len(filtered)-n:]
	}
	var b strings.Builder
	for _, m := range filtered {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

func firstWord(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/origin/pkg/graph"
	"github.com/kadirpekel/origin/pkg/protocol"
)

// fastChatNode answers a CHAT turn with a single non-tool LLM invocation.
// Tokens stream to the client attributed to this node; the graph ends after
// the assistant message is appended.
func (s *Service) fastChatNode(ctx context.Context, st *State) (graph.Update, error) {
	guardrail := agentModeGuardrail
	if st.AgentMode == ModeAsk {
		guardrail = askModeGuardrail
	}

	messages := []*protocol.Message{
		protocol.NewSystemMessage(systemPolicyPrompt),
		protocol.NewSystemMessage(guardrail),
		protocol.NewSystemMessage(languageInstruction(st.LastUserText())),
	}
	messages = append(messages, s.preparedHistory(st)...)

	ch, err := s.llm.Active().StreamInvoke(ctx, messages, nil)
	if err != nil {
		return nil, fmt.Errorf("fast chat invocation failed: %w", err)
	}

	var text strings.Builder
	for chunk := range ch {
		switch chunk.Type {
		case "text":
			text.WriteString(chunk.Text)
			graph.EmitToken(ctx, chunk.Text)
		case "error":
			return nil, chunk.Err
		}
	}

	return graph.Update{
		ChMessages: protocol.NewAssistantMessage(text.String()),
	}, nil
}

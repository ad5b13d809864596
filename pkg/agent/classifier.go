package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kadirpekel/origin/pkg/protocol"
)

// classifyWriteAuthorization decides whether the last user text asks to
// modify persisted notes. Ambiguity, empty responses, and provider errors
// all map to deny: a missed write is recoverable, an unwanted one is not.
func (s *Service) classifyWriteAuthorization(ctx context.Context, userText string) bool {
	if strings.TrimSpace(userText) == "" {
		return false
	}

	resp, err := s.llm.Active().Invoke(ctx, []*protocol.Message{
		protocol.NewSystemMessage(writeClassifierPrompt),
		protocol.NewUserMessage(userText),
	}, nil)
	if err != nil {
		slog.Warn("Write classifier failed, denying write", "error", err)
		return false
	}
	return parseWriteClassifierAnswer(resp.Content)
}

// parseWriteClassifierAnswer extracts the first recognized verdict token.
// Accepted: ALLOW_WRITE / DENY_WRITE / ALLOW / DENY; anything else denies.
func parseWriteClassifierAnswer(answer string) bool {
	for _, field := range strings.Fields(strings.ToUpper(answer)) {
		token := strings.Trim(field, ".,:;!?\"'()[]")
		switch token {
		case "ALLOW_WRITE", "ALLOW":
			return true
		case "DENY_WRITE", "DENY":
			return false
		}
	}
	return false
}

package llm

import (
	"context"

	"github.com/ahmkhn/klaviyo-nexus/session"
	"github.com/ahmkhn/klaviyo-nexus/tools"
)

// LLMClient is the interface for interacting with a Large Language Model.
// With availableTools set, the provider runs with automatic tool selection;
// with nil tools it produces a plain reply, which is how the orchestrator
// obtains the end-of-turn summary.
type LLMClient interface {
	Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error)
}

// ScriptedLLMClient replays a fixed sequence of assistant messages, one per
// Chat call. Used by tests that drive the orchestrator without a provider.
type ScriptedLLMClient struct {
	Responses []session.Message
	// Calls records the tool slice passed to each Chat invocation so tests
	// can distinguish tool-enabled calls from summary calls.
	Calls [][]tools.Tool
}

func (m *ScriptedLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool) (*session.Message, error) {
	m.Calls = append(m.Calls, availableTools)
	if len(m.Responses) == 0 {
		return &session.Message{Role: "assistant", Content: "I am a mock assistant."}, nil
	}
	next := m.Responses[0]
	m.Responses = m.Responses[1:]
	return &next, nil
}

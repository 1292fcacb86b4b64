package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ToolCall records a single tool invocation requested by the model, or, on a
// tool-role message, identifies which invocation the result answers.
type ToolCall struct {
	ToolCallID string                 `json:"tool_call_id"`
	Name       string                 `json:"name"`
	Args       map[string]interface{} `json:"args,omitempty"`
	// RawArgs preserves the provider's argument payload verbatim so a
	// malformed payload can be reported instead of silently dropped.
	RawArgs string `json:"raw_args,omitempty"`
}

// Message is one entry of a conversation history.
type Message struct {
	Role      string     `json:"role"` // "user", "assistant", "tool", "system"
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ValidateHistory checks the tool-message invariant: every tool message must
// answer a call id declared by a preceding assistant message, with only other
// tool messages in between.
func ValidateHistory(messages []Message) error {
	pending := map[string]bool{}
	for i, msg := range messages {
		switch msg.Role {
		case "assistant":
			pending = map[string]bool{}
			for _, tc := range msg.ToolCalls {
				pending[tc.ToolCallID] = true
			}
		case "tool":
			if len(msg.ToolCalls) != 1 {
				return fmt.Errorf("history[%d]: tool message must carry exactly one call id, has %d", i, len(msg.ToolCalls))
			}
			id := msg.ToolCalls[0].ToolCallID
			if !pending[id] {
				return fmt.Errorf("history[%d]: tool message answers undeclared call id %q", i, id)
			}
		default:
			pending = map[string]bool{}
		}
	}
	return nil
}

// Session is a named, disk-persisted conversation transcript. The HTTP chat
// flow keeps history on the caller side; sessions back the local REPL.
type Session struct {
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
	path     string
}

// New creates a new session.
func New(name string) (*Session, error) {
	path, err := getSessionPath(name)
	if err != nil {
		return nil, err
	}
	return &Session{
		Name:     name,
		Messages: []Message{},
		path:     path,
	}, nil
}

// Load loads an existing session from disk.
func Load(name string) (*Session, error) {
	path, err := getSessionPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read session file %s: %w", path, err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not parse session file %s: %w", path, err)
	}
	s.path = path
	return &s, nil
}

// Save writes the current session state to disk.
func (s *Session) Save() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}

// AddMessage appends a message to the session history.
func (s *Session) AddMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
}

func getSessionPath(name string) (string, error) {
	sessionDir := filepath.Join(".nexus", "sessions")
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return "", fmt.Errorf("could not create session directory: %w", err)
	}
	return filepath.Join(sessionDir, fmt.Sprintf("%s.json", name)), nil
}

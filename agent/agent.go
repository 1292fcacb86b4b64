package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ahmkhn/klaviyo-nexus/auth"
	"github.com/ahmkhn/klaviyo-nexus/config"
	"github.com/ahmkhn/klaviyo-nexus/errors"
	"github.com/ahmkhn/klaviyo-nexus/llm"
	"github.com/ahmkhn/klaviyo-nexus/session"
	"github.com/ahmkhn/klaviyo-nexus/tools"
)

// maxTraceResult caps how much of a tool result lands in the trace.
const maxTraceResult = 500

// ActionRequired tells the caller to render an approve/deny control for a
// staged action.
type ActionRequired struct {
	Type       string                 `json:"type"` // always "approval"
	ApprovalID string                 `json:"approval_id"`
	Label      string                 `json:"label"`
	Params     map[string]interface{} `json:"params"`
}

// TurnResult is the outcome of one chat turn.
type TurnResult struct {
	Reply          session.Message `json:"reply"`
	Trace          []string        `json:"trace,omitempty"`
	ActionRequired *ActionRequired `json:"action_required,omitempty"`
}

// Agent runs the turn-taking loop between the user, the model, and the tool
// dispatch table.
type Agent struct {
	llm      llm.LLMClient
	tools    []tools.Tool
	registry *tools.Registry
	log      *slog.Logger
}

// New assembles an agent from the registry and the named toolset.
func New(cfg *config.Config, registry *tools.Registry, client llm.LLMClient, toolset string, log *slog.Logger) (*Agent, error) {
	active, err := registry.ActiveTools(cfg.GetToolset(toolset))
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		llm:      client,
		tools:    active,
		registry: registry,
		log:      log,
	}, nil
}

// RunChatTurn processes one user message. It appends to history in place,
// asks the model to reply or pick tools, executes requested tools in order,
// and either short-circuits on a proposal or asks the model for a closing
// summary. The access token is bound to the derived context only, so nothing
// about the credential outlives the call.
func (a *Agent) RunChatTurn(ctx context.Context, userMessage string, history *[]session.Message, accessToken string) (*TurnResult, error) {
	ctx = auth.WithAccessToken(ctx, accessToken)

	*history = append(*history, session.Message{Role: "user", Content: userMessage})

	assistant, err := a.llm.Chat(ctx, *history, a.tools)
	if err != nil {
		return nil, errors.Wrapf(err, "LLM chat failed")
	}

	// The model answered directly; no tools, no trace.
	if len(assistant.ToolCalls) == 0 {
		return &TurnResult{
			Reply: session.Message{Role: "assistant", Content: assistant.Content},
		}, nil
	}

	// Record the model's intent before any tool result enters history.
	*history = append(*history, *assistant)
	intentIdx := len(*history) - 1

	var trace []string
	for i, tc := range assistant.ToolCalls {
		args, err := parseArgs(tc)
		if err != nil {
			return nil, err
		}
		trace = append(trace, fmt.Sprintf("> Tool Call: %s(%v)", tc.Name, args))
		a.log.Debug("dispatching tool", "tool", tc.Name, "call_id", tc.ToolCallID)

		result, err := a.registry.Dispatch(ctx, tc.Name, args)
		if err != nil {
			return nil, errors.Wrapf(err, "tool %s failed", tc.Name)
		}
		trace = append(trace, "> Result: "+truncate(result.Text, maxTraceResult))

		// A proposal goes straight back to the human. The staged-action
		// text still answers the call in history, and any later calls the
		// model requested are dropped from the intent message: every
		// provider rejects a replayed history in which an assistant tool
		// call has no tool message answering it.
		if result.IsProposal() {
			p := result.Proposal
			(*history)[intentIdx].ToolCalls = (*history)[intentIdx].ToolCalls[:i+1]
			*history = append(*history, session.Message{
				Role:    "tool",
				Content: result.Text,
				ToolCalls: []session.ToolCall{
					{ToolCallID: tc.ToolCallID, Name: tc.Name},
				},
			})
			return &TurnResult{
				Reply: session.Message{
					Role:    "assistant",
					Content: fmt.Sprintf("Approval required: %s", p.Label),
				},
				Trace: trace,
				ActionRequired: &ActionRequired{
					Type:       "approval",
					ApprovalID: p.ApprovalID,
					Label:      p.Label,
					Params:     p.Params,
				},
			}, nil
		}

		*history = append(*history, session.Message{
			Role:    "tool",
			Content: result.Text,
			ToolCalls: []session.ToolCall{
				{ToolCallID: tc.ToolCallID, Name: tc.Name},
			},
		})
	}

	// Second, tool-less call: the model summarizes the tool outcomes.
	final, err := a.llm.Chat(ctx, *history, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "LLM summary failed")
	}
	return &TurnResult{
		Reply: session.Message{Role: "assistant", Content: final.Content},
		Trace: trace,
	}, nil
}

// parseArgs extracts a tool call's arguments. A parameterless call yields an
// empty map; an argument payload that is not a JSON object is a hard
// per-call error that fails the turn.
func parseArgs(tc session.ToolCall) (map[string]interface{}, error) {
	if tc.Args != nil {
		return tc.Args, nil
	}
	if tc.RawArgs == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(tc.RawArgs), &args); err != nil {
		return nil, errors.Wrapf(err, "malformed arguments for tool %s", tc.Name)
	}
	return args, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

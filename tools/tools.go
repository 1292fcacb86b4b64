package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ahmkhn/klaviyo-nexus/approval"
	"github.com/ahmkhn/klaviyo-nexus/config"
	"github.com/ahmkhn/klaviyo-nexus/errors"
	"github.com/ahmkhn/klaviyo-nexus/identity"
	"github.com/ahmkhn/klaviyo-nexus/klaviyo"
	"github.com/ahmkhn/klaviyo-nexus/tools/mcp"
	"github.com/bmatcuk/doublestar/v4"
)

// Tool defines the interface for any capability the model may invoke.
type Tool interface {
	Name() string
	Description() string
	InputSchema() Schema
	Execute(ctx context.Context, args map[string]interface{}) (Result, error)
}

// Proposal is the structured signal a propose_action call returns instead of
// performing any write.
type Proposal struct {
	ApprovalID string                 `json:"approval_id"`
	ActionType string                 `json:"action_type"`
	Label      string                 `json:"label"`
	Params     map[string]interface{} `json:"params"`
}

// Result is a tagged tool outcome: a plain text result the model may see, or
// a proposal that must short-circuit the turn back to the human. Branching
// on the tag replaces re-parsing tool output for a "proposed" marker.
type Result struct {
	Text     string
	Proposal *Proposal
}

// Plain wraps ordinary text output.
func Plain(text string) Result {
	return Result{Text: text}
}

// IsProposal reports whether the result carries a staged action.
func (r Result) IsProposal() bool {
	return r.Proposal != nil
}

// proposalResult renders the signal both ways: the tagged Proposal for the
// orchestrator and a JSON text form for traces.
func proposalResult(p *Proposal, description string) Result {
	payload := map[string]interface{}{
		"status":      "proposed",
		"approval_id": p.ApprovalID,
		"description": description,
		"params":      p.Params,
	}
	text, err := json.Marshal(payload)
	if err != nil {
		text = []byte(`{"status":"proposed"}`)
	}
	return Result{Text: string(text), Proposal: p}
}

// resultFromError maps classified failures to in-band text the model (or the
// end user) can act on; unclassified errors stay hard errors and fail the
// turn.
func resultFromError(err error) (Result, error) {
	switch errors.KindOf(err) {
	case errors.KindAuth:
		return Plain("Error: OAuth Token Expired. Please re-login."), nil
	case errors.KindValidation, errors.KindUpstream, errors.KindApproval:
		return Plain(fmt.Sprintf("Error: %v", err)), nil
	}
	return Result{}, err
}

const notAuthenticatedText = "Error: User is not authenticated via OAuth."

// Deps carries the collaborators the built-in tools are wired to.
type Deps struct {
	Klaviyo   *klaviyo.Client
	Approvals approval.Store
	Identity  identity.Cache
	Defaults  approval.Defaults
	// AllowStatelessExecute enables the execute_action fallback that
	// synthesizes an action from literal fields when the approval id is
	// unknown (e.g. wiped by a restart).
	AllowStatelessExecute bool
}

// Registry holds all available tools.
type Registry struct {
	tools      map[string]Tool
	order      []string
	mcpClients []*mcp.MCPClient
}

// NewRegistry registers the built-in Klaviyo tools.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.Register(&accountDetailsTool{client: deps.Klaviyo})
	r.Register(&campaignsTool{client: deps.Klaviyo})
	r.Register(&listsTool{client: deps.Klaviyo})
	r.Register(&segmentsTool{client: deps.Klaviyo})
	r.Register(&proposeTool{
		approvals: deps.Approvals,
		identity:  deps.Identity,
		defaults:  deps.Defaults,
	})
	r.Register(&executeTool{
		client:        deps.Klaviyo,
		approvals:     deps.Approvals,
		identity:      deps.Identity,
		defaults:      deps.Defaults,
		allowFallback: deps.AllowStatelessExecute,
	})
	return r
}

// Register adds a tool. Duplicate names replace the earlier registration.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// GetTool returns a tool by name.
func (r *Registry) GetTool(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ActiveTools returns the tools selected by a toolset, in registration
// order. A nil toolset activates everything. Entries may be doublestar
// patterns, which is how MCP-contributed tools ("crm.*") are pulled in.
func (r *Registry) ActiveTools(ts *config.Toolset) ([]Tool, error) {
	if ts == nil {
		active := make([]Tool, 0, len(r.order))
		for _, name := range r.order {
			active = append(active, r.tools[name])
		}
		return active, nil
	}
	var active []Tool
	for _, entry := range ts.Tools {
		if t, ok := r.tools[entry]; ok {
			active = append(active, t)
			continue
		}
		matched := false
		for _, name := range r.order {
			ok, err := doublestar.Match(entry, name)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid tool pattern %q in toolset %q", entry, ts.Name)
			}
			if ok {
				active = append(active, r.tools[name])
				matched = true
			}
		}
		if !matched {
			return nil, errors.New("tool %q from toolset %q is not registered", entry, ts.Name)
		}
	}
	return active, nil
}

// Dispatch validates the arguments against the named tool's schema and
// executes it. Validation failures come back as in-band text results so the
// model can correct itself; an undeclared tool name is a hard error.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]interface{}) (Result, error) {
	t, ok := r.tools[name]
	if !ok {
		return Result{}, errors.New("unknown tool %q", name)
	}
	if err := t.InputSchema().Validate(args); err != nil {
		return Plain(fmt.Sprintf("Error: invalid arguments for %s: %v", name, err)), nil
	}
	return t.Execute(ctx, args)
}

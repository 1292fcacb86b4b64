package tools

import (
	"context"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/approval"
	"github.com/ahmkhn/klaviyo-nexus/auth"
	"github.com/ahmkhn/klaviyo-nexus/identity"
)

// proposeTool stages a mutating action for human approval. It never touches
// the upstream API.
type proposeTool struct {
	approvals approval.Store
	identity  identity.Cache
	defaults  approval.Defaults
}

func (t *proposeTool) Name() string { return "propose_action" }

func (t *proposeTool) Description() string {
	return "Stage a write action (create_list, create_vip_audience, create_campaign_draft) for user approval. " +
		"Returns an approval id; the action only runs after the user approves it with execute_action."
}

func (t *proposeTool) InputSchema() Schema {
	return Schema{
		Properties: map[string]Property{
			"action_type": {Type: "string", Description: "One of: create_list, create_vip_audience, create_campaign_draft."},
			"parameters":  {Type: "object", Description: "Action-specific parameters (e.g. list_name for create_list)."},
		},
		Required: []string{"action_type"},
	}
}

func (t *proposeTool) Execute(ctx context.Context, args map[string]interface{}) (Result, error) {
	token := auth.AccessTokenFromContext(ctx)
	if token == "" {
		return Plain(notAuthenticatedText), nil
	}

	actionType, _ := args["action_type"].(string)
	if !approval.KnownType(approval.ActionType(actionType)) {
		return Plain("Error: unsupported action type '" + actionType + "'. Supported: create_list, create_vip_audience, create_campaign_draft."), nil
	}
	params, _ := args["parameters"].(map[string]interface{})

	// Implicit chaining: a campaign draft without a list id targets the
	// list this identity most recently created.
	lastListID := ""
	if approval.ActionType(actionType) == approval.ActionCreateCampaignDraft {
		if id, ok, err := t.identity.LastListID(ctx, identity.KeyForToken(token)); err != nil {
			return Result{}, err
		} else if ok {
			lastListID = id
		}
	}

	resolved, err := approval.ResolveParams(approval.ActionType(actionType), params, t.defaults, lastListID)
	if err != nil {
		return resultFromError(err)
	}

	action := approval.PendingAction{
		ID:          approval.NewID(),
		Type:        approval.ActionType(actionType),
		Params:      resolved,
		Description: approval.Describe(approval.ActionType(actionType), resolved),
		CreatedAt:   time.Now(),
	}
	if err := t.approvals.Put(ctx, action); err != nil {
		return Result{}, err
	}

	return proposalResult(&Proposal{
		ApprovalID: action.ID,
		ActionType: actionType,
		Label:      action.Description,
		Params:     resolved,
	}, action.Description), nil
}

package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/approval"
	"github.com/ahmkhn/klaviyo-nexus/auth"
	"github.com/ahmkhn/klaviyo-nexus/errors"
	"github.com/ahmkhn/klaviyo-nexus/identity"
	"github.com/ahmkhn/klaviyo-nexus/klaviyo"
)

const invalidApprovalText = "Error: invalid or expired approval id."

// executeTool performs a previously approved action. The approval id is
// single-use: consuming it and running the writes happen on the same call.
type executeTool struct {
	client        *klaviyo.Client
	approvals     approval.Store
	identity      identity.Cache
	defaults      approval.Defaults
	allowFallback bool
}

func (t *executeTool) Name() string { return "execute_action" }

func (t *executeTool) Description() string {
	return "Execute an action the user has approved, identified by its approval id. " +
		"Only call this after the user explicitly approves a proposed action."
}

func (t *executeTool) InputSchema() Schema {
	return Schema{
		Properties: map[string]Property{
			"approval_id":   {Type: "string", Description: "The id returned by propose_action."},
			"action_type":   {Type: "string", Description: "Fallback action type if the approval id is no longer known."},
			"list_name":     {Type: "string", Description: "Fallback: name for create_list."},
			"list_id":       {Type: "string", Description: "Fallback: target list for create_campaign_draft."},
			"campaign_name": {Type: "string", Description: "Fallback: name for create_campaign_draft."},
			"subject":       {Type: "string"},
			"preview_text":  {Type: "string"},
			"from_email":    {Type: "string"},
			"from_label":    {Type: "string"},
		},
		Required: []string{"approval_id"},
	}
}

func (t *executeTool) Execute(ctx context.Context, args map[string]interface{}) (Result, error) {
	token := auth.AccessTokenFromContext(ctx)
	if token == "" {
		return Plain(notAuthenticatedText), nil
	}

	approvalID, _ := args["approval_id"].(string)
	action, ok, err := t.approvals.Consume(ctx, approvalID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		// The pending action may have been wiped by a restart. When enough
		// literal fields were supplied we synthesize an equivalent action in
		// place; a documented trade-off of resilience against a forged id.
		if !t.allowFallback {
			return Plain(invalidApprovalText), nil
		}
		synth, synthErr := t.synthesize(ctx, token, args)
		if synthErr != nil {
			return resultFromError(synthErr)
		}
		if synth == nil {
			return Plain(invalidApprovalText), nil
		}
		action = *synth
	}

	return t.perform(ctx, token, action)
}

// synthesize rebuilds an action from literal arguments. Returns nil when the
// supplied fields are not sufficient for any action type.
func (t *executeTool) synthesize(ctx context.Context, token string, args map[string]interface{}) (*approval.PendingAction, error) {
	params := map[string]interface{}{}
	for key, value := range args {
		if key == "approval_id" || key == "action_type" {
			continue
		}
		params[key] = value
	}

	var actionType approval.ActionType
	switch {
	case stringArg(args, "list_name") != "":
		actionType = approval.ActionCreateList
	case stringArg(args, "list_id") != "" && stringArg(args, "campaign_name") != "":
		actionType = approval.ActionCreateCampaignDraft
	default:
		return nil, nil
	}
	if explicit := stringArg(args, "action_type"); explicit != "" && explicit != string(actionType) {
		return nil, nil
	}

	resolved, err := approval.ResolveParams(actionType, params, t.defaults, "")
	if err != nil {
		return nil, err
	}
	return &approval.PendingAction{
		ID:          approvalID(args),
		Type:        actionType,
		Params:      resolved,
		Description: approval.Describe(actionType, resolved),
		CreatedAt:   time.Now(),
	}, nil
}

func (t *executeTool) perform(ctx context.Context, token string, action approval.PendingAction) (Result, error) {
	key := identity.KeyForToken(token)

	switch action.Type {
	case approval.ActionCreateList:
		name := stringArgFromParams(action.Params, "list_name")
		listID, err := t.client.CreateList(ctx, token, name)
		if err != nil {
			return resultFromError(err)
		}
		if err := t.identity.RememberListID(ctx, key, listID); err != nil {
			return Result{}, err
		}
		return Plain(fmt.Sprintf("SUCCESS: Created list '%s' with ID: %s", name, listID)), nil

	case approval.ActionCreateVIPAudience:
		params := klaviyo.VIPAudienceParams{
			Name:      stringArgFromParams(action.Params, "audience_name"),
			MinSpend:  floatFromParams(action.Params, "min_spend"),
			SeedCount: int(floatFromParams(action.Params, "seed_count")),
		}
		res, err := t.client.CreateVIPAudience(ctx, token, params)
		if err != nil {
			return resultFromError(err)
		}
		if err := t.identity.RememberListID(ctx, key, res.ListID); err != nil {
			return Result{}, err
		}
		text := fmt.Sprintf("SUCCESS: Created VIP audience '%s' with ID: %s and seeded %d of %d profiles.",
			params.Name, res.ListID, res.Seeded, params.SeedCount)
		if len(res.SeedFailures) > 0 {
			text += "\nSeed failures:\n" + strings.Join(res.SeedFailures, "\n")
		}
		return Plain(text), nil

	case approval.ActionCreateCampaignDraft:
		params := klaviyo.CampaignDraftParams{
			ListID:      stringArgFromParams(action.Params, "list_id"),
			Name:        stringArgFromParams(action.Params, "campaign_name"),
			Subject:     stringArgFromParams(action.Params, "subject"),
			PreviewText: stringArgFromParams(action.Params, "preview_text"),
			FromEmail:   stringArgFromParams(action.Params, "from_email"),
			FromLabel:   stringArgFromParams(action.Params, "from_label"),
		}
		res, err := t.client.CreateCampaignDraft(ctx, token, params)
		if err != nil {
			return resultFromError(err)
		}
		return Plain(fmt.Sprintf("SUCCESS: Created campaign draft '%s' (campaign %s, template %s) targeting list %s.",
			params.Name, res.CampaignID, res.TemplateID, params.ListID)), nil
	}

	return resultFromError(errors.NewKind(errors.KindApproval, "pending action %s has unsupported type %q", action.ID, action.Type))
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func stringArgFromParams(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}

func floatFromParams(params map[string]interface{}, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func approvalID(args map[string]interface{}) string {
	if id := stringArg(args, "approval_id"); id != "" {
		return id
	}
	return approval.NewID()
}

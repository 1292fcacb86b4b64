package approval

import (
	"fmt"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/errors"
)

// ActionType is the closed set of mutating actions that can be staged for
// approval.
type ActionType string

const (
	ActionCreateList          ActionType = "create_list"
	ActionCreateVIPAudience   ActionType = "create_vip_audience"
	ActionCreateCampaignDraft ActionType = "create_campaign_draft"
)

// KnownType reports whether t names a supported action.
func KnownType(t ActionType) bool {
	switch t {
	case ActionCreateList, ActionCreateVIPAudience, ActionCreateCampaignDraft:
		return true
	}
	return false
}

// PendingAction is a staged mutating action awaiting human approval. It is
// created only by propose_action and consumed at most once by execute_action.
type PendingAction struct {
	ID          string                 `json:"id"`
	Type        ActionType             `json:"type"`
	Params      map[string]interface{} `json:"params"`
	Description string                 `json:"description"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Defaults supplies environment-level fallbacks applied while resolving
// campaign-draft parameters.
type Defaults struct {
	FromEmail string
	FromLabel string
}

const (
	defaultMinSpend  = 300.0
	defaultSeedCount = 3
)

// ResolveParams validates the type-specific fields of a proposal and fills
// in defaults, returning the fully resolved parameter record. lastListID is
// the identity cache's most recent list id, used when create_campaign_draft
// omits list_id.
func ResolveParams(t ActionType, params map[string]interface{}, defaults Defaults, lastListID string) (map[string]interface{}, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	switch t {
	case ActionCreateList:
		name := stringField(params, "list_name")
		if name == "" {
			return nil, errors.NewKind(errors.KindValidation, "create_list requires a non-empty 'list_name'")
		}
		return map[string]interface{}{"list_name": name}, nil

	case ActionCreateVIPAudience:
		name := stringField(params, "audience_name")
		if name == "" {
			name = stringField(params, "list_name")
		}
		if name == "" {
			return nil, errors.NewKind(errors.KindValidation, "create_vip_audience requires a non-empty 'audience_name'")
		}
		minSpend, err := numberField(params, "min_spend", defaultMinSpend)
		if err != nil {
			return nil, err
		}
		seedCount, err := numberField(params, "seed_count", defaultSeedCount)
		if err != nil {
			return nil, err
		}
		if seedCount < 0 || seedCount != float64(int(seedCount)) {
			return nil, errors.NewKind(errors.KindValidation, "'seed_count' must be a non-negative integer")
		}
		return map[string]interface{}{
			"audience_name": name,
			"min_spend":     minSpend,
			"seed_count":    float64(int(seedCount)),
		}, nil

	case ActionCreateCampaignDraft:
		listID := stringField(params, "list_id")
		if listID == "" {
			listID = lastListID
		}
		if listID == "" {
			return nil, errors.NewKind(errors.KindValidation, "create_campaign_draft requires 'list_id' (no recently created list to fall back on)")
		}
		name := stringField(params, "campaign_name")
		if name == "" {
			return nil, errors.NewKind(errors.KindValidation, "create_campaign_draft requires a non-empty 'campaign_name'")
		}
		subject := stringField(params, "subject")
		if subject == "" {
			subject = name
		}
		preview := stringField(params, "preview_text")
		if preview == "" {
			preview = subject
		}
		fromEmail := stringField(params, "from_email")
		if fromEmail == "" {
			fromEmail = defaults.FromEmail
		}
		if fromEmail == "" {
			return nil, errors.NewKind(errors.KindValidation, "create_campaign_draft requires 'from_email' (no default sender configured)")
		}
		fromLabel := stringField(params, "from_label")
		if fromLabel == "" {
			fromLabel = defaults.FromLabel
		}
		return map[string]interface{}{
			"list_id":       listID,
			"campaign_name": name,
			"subject":       subject,
			"preview_text":  preview,
			"from_email":    fromEmail,
			"from_label":    fromLabel,
		}, nil
	}
	return nil, errors.NewKind(errors.KindValidation, "unsupported action type %q", t)
}

// Describe builds the human-readable summary shown on the approval card.
// Params must already be resolved.
func Describe(t ActionType, params map[string]interface{}) string {
	switch t {
	case ActionCreateList:
		return fmt.Sprintf("Create list %q", stringField(params, "list_name"))
	case ActionCreateVIPAudience:
		return fmt.Sprintf("Create VIP audience %q (min spend %v, %v seed profiles)",
			stringField(params, "audience_name"), params["min_spend"], params["seed_count"])
	case ActionCreateCampaignDraft:
		return fmt.Sprintf("Create campaign draft %q for list %s (subject: %q)",
			stringField(params, "campaign_name"), stringField(params, "list_id"), stringField(params, "subject"))
	}
	return string(t)
}

func stringField(params map[string]interface{}, key string) string {
	v, _ := params[key].(string)
	return v
}

func numberField(params map[string]interface{}, key string, fallback float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, errors.NewKind(errors.KindValidation, "'%s' must be a number", key)
	}
}

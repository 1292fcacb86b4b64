package tools

import (
	"context"

	"github.com/ahmkhn/klaviyo-nexus/auth"
	"github.com/ahmkhn/klaviyo-nexus/klaviyo"
)

func emptySchema() Schema {
	return Schema{Properties: map[string]Property{}}
}

type accountDetailsTool struct {
	client *klaviyo.Client
}

func (t *accountDetailsTool) Name() string { return "get_account_details" }
func (t *accountDetailsTool) Description() string {
	return "Get details of the connected Klaviyo account (ID, Organization Name, Timezone)."
}
func (t *accountDetailsTool) InputSchema() Schema { return emptySchema() }

func (t *accountDetailsTool) Execute(ctx context.Context, args map[string]interface{}) (Result, error) {
	token := auth.AccessTokenFromContext(ctx)
	if token == "" {
		return Plain(notAuthenticatedText), nil
	}
	summary, err := t.client.AccountSummary(ctx, token)
	if err != nil {
		return resultFromError(err)
	}
	return Plain(summary), nil
}

type campaignsTool struct {
	client *klaviyo.Client
}

func (t *campaignsTool) Name() string { return "get_campaigns" }
func (t *campaignsTool) Description() string {
	return "Fetch recent email marketing campaigns with their IDs and Status."
}
func (t *campaignsTool) InputSchema() Schema { return emptySchema() }

func (t *campaignsTool) Execute(ctx context.Context, args map[string]interface{}) (Result, error) {
	token := auth.AccessTokenFromContext(ctx)
	if token == "" {
		return Plain(notAuthenticatedText), nil
	}
	summary, err := t.client.CampaignSummary(ctx, token)
	if err != nil {
		return resultFromError(err)
	}
	return Plain(summary), nil
}

type listsTool struct {
	client *klaviyo.Client
}

func (t *listsTool) Name() string { return "get_lists" }
func (t *listsTool) Description() string {
	return "Fetch existing subscriber lists with their IDs and profile counts."
}
func (t *listsTool) InputSchema() Schema { return emptySchema() }

func (t *listsTool) Execute(ctx context.Context, args map[string]interface{}) (Result, error) {
	token := auth.AccessTokenFromContext(ctx)
	if token == "" {
		return Plain(notAuthenticatedText), nil
	}
	summary, err := t.client.ListSummary(ctx, token)
	if err != nil {
		return resultFromError(err)
	}
	return Plain(summary), nil
}

type segmentsTool struct {
	client *klaviyo.Client
}

func (t *segmentsTool) Name() string { return "get_segments" }
func (t *segmentsTool) Description() string {
	return "Fetch available segments with their IDs and profile counts."
}
func (t *segmentsTool) InputSchema() Schema { return emptySchema() }

func (t *segmentsTool) Execute(ctx context.Context, args map[string]interface{}) (Result, error) {
	token := auth.AccessTokenFromContext(ctx)
	if token == "" {
		return Plain(notAuthenticatedText), nil
	}
	summary, err := t.client.SegmentSummary(ctx, token)
	if err != nil {
		return resultFromError(err)
	}
	return Plain(summary), nil
}

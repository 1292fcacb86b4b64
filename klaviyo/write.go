package klaviyo

import (
	"context"
	"fmt"

	"github.com/ahmkhn/klaviyo-nexus/errors"
)

// CreateList creates a subscriber list and returns its id.
func (c *Client) CreateList(ctx context.Context, token, name string) (string, error) {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "list",
			"attributes": map[string]interface{}{
				"name": name,
			},
		},
	}
	rec, err := c.post(ctx, token, "/api/lists/", payload)
	if err != nil {
		return "", errors.Wrapf(err, "creating list %q", name)
	}
	return rec.ID, nil
}

// CreateProfile creates a profile and returns its id. Properties become
// custom profile properties.
func (c *Client) CreateProfile(ctx context.Context, token, email string, properties map[string]interface{}) (string, error) {
	attrs := map[string]interface{}{
		"email": email,
	}
	if len(properties) > 0 {
		attrs["properties"] = properties
	}
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"type":       "profile",
			"attributes": attrs,
		},
	}
	rec, err := c.post(ctx, token, "/api/profiles/", payload)
	if err != nil {
		return "", errors.Wrapf(err, "creating profile %q", email)
	}
	return rec.ID, nil
}

// AddProfileToList links an existing profile to a list through the
// list-membership relationship.
func (c *Client) AddProfileToList(ctx context.Context, token, listID, profileID string) error {
	payload := map[string]interface{}{
		"data": []map[string]interface{}{
			{"type": "profile", "id": profileID},
		},
	}
	_, err := c.post(ctx, token, fmt.Sprintf("/api/lists/%s/relationships/profiles/", listID), payload)
	return errors.Wrapf(err, "adding profile %s to list %s", profileID, listID)
}

// CampaignDraftParams are the resolved inputs for a campaign draft. All
// fields are required; defaults are applied before proposal time.
type CampaignDraftParams struct {
	ListID      string
	Name        string
	Subject     string
	PreviewText string
	FromEmail   string
	FromLabel   string
}

// CampaignDraftResult reports what a draft creation produced. StepsCompleted
// counts the POSTs that succeeded before any failure, so a partial failure
// is reported with context instead of being swallowed.
type CampaignDraftResult struct {
	CampaignID     string
	MessageID      string
	TemplateID     string
	StepsCompleted int
}

// CreateCampaignDraft creates a draft campaign in a fixed three-step
// sequence: campaign (with its message envelope), template, then template
// assignment. The first failing step aborts the sequence.
func (c *Client) CreateCampaignDraft(ctx context.Context, token string, p CampaignDraftParams) (CampaignDraftResult, error) {
	res := CampaignDraftResult{}

	campaignPayload := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "campaign",
			"attributes": map[string]interface{}{
				"name": p.Name,
				"audiences": map[string]interface{}{
					"included": []string{p.ListID},
				},
				"campaign-messages": map[string]interface{}{
					"data": []map[string]interface{}{
						{
							"type": "campaign-message",
							"attributes": map[string]interface{}{
								"channel": "email",
								"label":   p.Name,
								"content": map[string]interface{}{
									"subject":        p.Subject,
									"preview_text":   p.PreviewText,
									"from_email":     p.FromEmail,
									"from_label":     p.FromLabel,
									"reply_to_email": p.FromEmail,
								},
							},
						},
					},
				},
			},
		},
	}
	campaign, err := c.post(ctx, token, "/api/campaigns/", campaignPayload)
	if err != nil {
		return res, errors.Wrapf(err, "campaign draft aborted after %d of 3 steps", res.StepsCompleted)
	}
	res.CampaignID = campaign.ID
	if ids := campaign.relatedIDs("campaign-messages"); len(ids) > 0 {
		res.MessageID = ids[0]
	}
	res.StepsCompleted = 1

	templatePayload := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "template",
			"attributes": map[string]interface{}{
				"name":        p.Name + " Template",
				"editor_type": "CODE",
				"html":        fmt.Sprintf("<html><body><h1>%s</h1><p>%s</p></body></html>", p.Subject, p.PreviewText),
			},
		},
	}
	template, err := c.post(ctx, token, "/api/templates/", templatePayload)
	if err != nil {
		return res, errors.Wrapf(err, "campaign draft aborted after %d of 3 steps", res.StepsCompleted)
	}
	res.TemplateID = template.ID
	res.StepsCompleted = 2

	if res.MessageID == "" {
		return res, errors.NewKind(errors.KindUpstream, "campaign draft aborted after %d of 3 steps: campaign %s has no message to assign the template to", res.StepsCompleted, res.CampaignID)
	}

	assignPayload := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "campaign-message",
			"id":   res.MessageID,
			"relationships": map[string]interface{}{
				"template": map[string]interface{}{
					"data": map[string]interface{}{
						"type": "template",
						"id":   res.TemplateID,
					},
				},
			},
		},
	}
	if _, err := c.post(ctx, token, "/api/campaign-message-assign-template/", assignPayload); err != nil {
		return res, errors.Wrapf(err, "campaign draft aborted after %d of 3 steps", res.StepsCompleted)
	}
	res.StepsCompleted = 3
	return res, nil
}

// VIPAudienceParams are the resolved inputs for a seeded VIP audience.
type VIPAudienceParams struct {
	Name      string
	MinSpend  float64
	SeedCount int
}

// VIPAudienceResult reports how the seeding went. Seed profile failures are
// collected rather than failing the operation; only the list creation itself
// is fatal.
type VIPAudienceResult struct {
	ListID       string
	Seeded       int
	SeedFailures []string
}

// CreateVIPAudience creates a list and seeds it with synthetic VIP profiles,
// linking each successfully created profile to the list.
func (c *Client) CreateVIPAudience(ctx context.Context, token string, p VIPAudienceParams) (VIPAudienceResult, error) {
	res := VIPAudienceResult{}

	listID, err := c.CreateList(ctx, token, p.Name)
	if err != nil {
		return res, err
	}
	res.ListID = listID

	for i := 1; i <= p.SeedCount; i++ {
		email := fmt.Sprintf("vip.seed%d@example.com", i)
		profileID, err := c.CreateProfile(ctx, token, email, map[string]interface{}{
			"vip_min_spend": p.MinSpend,
		})
		if err != nil {
			res.SeedFailures = append(res.SeedFailures, fmt.Sprintf("%s: %v", email, err))
			continue
		}
		if err := c.AddProfileToList(ctx, token, listID, profileID); err != nil {
			res.SeedFailures = append(res.SeedFailures, fmt.Sprintf("%s: %v", email, err))
			continue
		}
		res.Seeded++
	}
	return res, nil
}

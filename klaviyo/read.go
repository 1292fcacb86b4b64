package klaviyo

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// AccountSummary fetches the connected accounts and formats one line per
// account.
func (c *Client) AccountSummary(ctx context.Context, token string) (string, error) {
	records, err := c.get(ctx, token, "/api/accounts/", nil)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No account details found.", nil
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		org := attrString(rec.Attributes, "Unknown", "contact_information", "organization_name")
		lines = append(lines, fmt.Sprintf("Org: %s (ID: %s)", org, rec.ID))
	}
	return strings.Join(lines, "\n"), nil
}

// CampaignSummary fetches email campaigns and formats one line per campaign.
func (c *Client) CampaignSummary(ctx context.Context, token string) (string, error) {
	query := url.Values{}
	query.Set("filter", "equals(messages.channel,'email')")
	records, err := c.get(ctx, token, "/api/campaigns/", query)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No email campaigns found.", nil
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("ID: %s | Name: %s | Status: %s",
			rec.ID,
			attrString(rec.Attributes, "Unknown", "name"),
			attrString(rec.Attributes, "Unknown", "status")))
	}
	return strings.Join(lines, "\n"), nil
}

// ListSummary fetches subscriber lists and formats one line per list.
func (c *Client) ListSummary(ctx context.Context, token string) (string, error) {
	records, err := c.get(ctx, token, "/api/lists/", nil)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No lists found.", nil
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("ID: %s | Name: %s | Profiles: %s",
			rec.ID,
			attrString(rec.Attributes, "Unknown", "name"),
			attrString(rec.Attributes, "n/a", "profile_count")))
	}
	return strings.Join(lines, "\n"), nil
}

// SegmentSummary fetches segments and formats one line per segment.
func (c *Client) SegmentSummary(ctx context.Context, token string) (string, error) {
	records, err := c.get(ctx, token, "/api/segments/", nil)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No segments found.", nil
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("ID: %s | Name: %s | Profiles: %s",
			rec.ID,
			attrString(rec.Attributes, "Unknown", "name"),
			attrString(rec.Attributes, "n/a", "profile_count")))
	}
	return strings.Join(lines, "\n"), nil
}

package klaviyo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/config"
	"github.com/ahmkhn/klaviyo-nexus/errors"
)

// Client issues authenticated calls against the Klaviyo JSON:API. The access
// token is supplied per call; the client itself holds no credentials.
type Client struct {
	http     *http.Client
	baseURL  string
	revision string
}

// NewClient builds a Client from the Klaviyo section of the configuration.
// The HTTP timeout bounds every call so a hung upstream never blocks a turn.
func NewClient(cfg config.Klaviyo) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "https://a.klaviyo.com"
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		baseURL:  base,
		revision: cfg.Revision,
	}
}

// resource is one entry of Klaviyo's JSON:API data envelope.
type resource struct {
	Type          string                     `json:"type"`
	ID            string                     `json:"id"`
	Attributes    map[string]interface{}     `json:"attributes"`
	Relationships map[string]json.RawMessage `json:"relationships"`
}

type listEnvelope struct {
	Data []resource `json:"data"`
}

type singleEnvelope struct {
	Data resource `json:"data"`
}

func (c *Client) newRequest(ctx context.Context, method, token, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s %s", method, path)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("revision", c.revision)
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")
	return req, nil
}

// get performs one authenticated GET and decodes the list envelope. A 401 is
// reported as an auth-kind error, any other non-200 as an upstream error
// carrying the status and body.
func (c *Client) get(ctx context.Context, token, path string, query url.Values) ([]resource, error) {
	p := path
	if len(query) > 0 {
		p += "?" + query.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, token, p, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WrapKind(errors.KindUpstream, err, "GET %s failed", path)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errors.NewKind(errors.KindAuth, "OAuth token expired or revoked")
	case resp.StatusCode != http.StatusOK:
		return nil, errors.NewKind(errors.KindUpstream, "API Error %d: %s", resp.StatusCode, string(raw))
	}

	var env listEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.WrapKind(errors.KindUpstream, err, "decoding GET %s response", path)
	}
	return env.Data, nil
}

// post performs one authenticated POST and decodes the created resource.
func (c *Client) post(ctx context.Context, token, path string, payload interface{}) (*resource, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding POST %s payload", path)
	}
	req, err := c.newRequest(ctx, http.MethodPost, token, path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.WrapKind(errors.KindUpstream, err, "POST %s failed", path)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errors.NewKind(errors.KindAuth, "OAuth token expired or revoked")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, errors.NewKind(errors.KindUpstream, "API Error %d: %s", resp.StatusCode, string(raw))
	}

	if resp.StatusCode == http.StatusNoContent || len(raw) == 0 {
		return &resource{}, nil
	}
	var env singleEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.WrapKind(errors.KindUpstream, err, "decoding POST %s response", path)
	}
	return &env.Data, nil
}

// attrString digs a (possibly nested) attribute out of a record, degrading to
// a placeholder so one sparse record never fails a whole summary.
func attrString(attrs map[string]interface{}, placeholder string, path ...string) string {
	cur := attrs
	for i, key := range path {
		v, ok := cur[key]
		if !ok || v == nil {
			return placeholder
		}
		if i == len(path)-1 {
			switch t := v.(type) {
			case string:
				return t
			case float64:
				if t == float64(int64(t)) {
					return fmt.Sprintf("%d", int64(t))
				}
				return fmt.Sprintf("%v", t)
			default:
				return fmt.Sprintf("%v", t)
			}
		}
		next, ok := v.(map[string]interface{})
		if !ok {
			return placeholder
		}
		cur = next
	}
	return placeholder
}

// relatedIDs extracts the ids referenced by a named relationship.
func (r *resource) relatedIDs(name string) []string {
	raw, ok := r.Relationships[name]
	if !ok {
		return nil
	}
	var rel struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &rel); err == nil && len(rel.Data) > 0 {
		ids := make([]string, 0, len(rel.Data))
		for _, d := range rel.Data {
			ids = append(ids, d.ID)
		}
		return ids
	}
	// Single-resource relationships decode to an object, not an array.
	var one struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &one); err == nil && one.Data.ID != "" {
		return []string{one.Data.ID}
	}
	return nil
}

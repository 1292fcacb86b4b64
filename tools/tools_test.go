package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/approval"
	"github.com/ahmkhn/klaviyo-nexus/auth"
	"github.com/ahmkhn/klaviyo-nexus/config"
	"github.com/ahmkhn/klaviyo-nexus/identity"
	"github.com/ahmkhn/klaviyo-nexus/klaviyo"
)

// testEnv wires a registry against a fake Klaviyo backend.
type testEnv struct {
	registry  *Registry
	approvals *approval.MemoryStore
	identity  *identity.MemoryCache
	requests  *[]string
}

func newTestEnv(t *testing.T, handler http.HandlerFunc, allowFallback bool) testEnv {
	t.Helper()
	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.Method+" "+r.URL.Path)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	approvals := approval.NewMemoryStore(time.Hour)
	idCache := identity.NewMemoryCache(time.Hour)
	registry := NewRegistry(Deps{
		Klaviyo:               klaviyo.NewClient(config.Klaviyo{BaseURL: srv.URL, Timeout: 2 * time.Second}),
		Approvals:             approvals,
		Identity:              idCache,
		Defaults:              approval.Defaults{FromEmail: "store@example.com", FromLabel: "The Store"},
		AllowStatelessExecute: allowFallback,
	})
	return testEnv{registry: registry, approvals: approvals, identity: idCache, requests: &requests}
}

func okListBackend(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet:
		w.Write([]byte(`{"data":[]}`))
	case r.URL.Path == "/api/lists/":
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"type":"list","id":"L1"}}`))
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func authedCtx() context.Context {
	return auth.WithAccessToken(context.Background(), "test-token")
}

func TestActiveToolsDefaultsToAll(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	active, err := env.registry.ActiveTools(nil)
	if err != nil {
		t.Fatalf("ActiveTools: %v", err)
	}
	if len(active) != 6 {
		t.Fatalf("expected 6 builtin tools, got %d", len(active))
	}
	names := map[string]bool{}
	for _, tool := range active {
		names[tool.Name()] = true
	}
	for _, want := range []string{"get_account_details", "get_campaigns", "get_lists", "get_segments", "propose_action", "execute_action"} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func TestActiveToolsByNameAndPattern(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	active, err := env.registry.ActiveTools(&config.Toolset{
		Name:  "reads",
		Tools: []string{"get_*", "propose_action"},
	})
	if err != nil {
		t.Fatalf("ActiveTools: %v", err)
	}
	if len(active) != 5 {
		t.Fatalf("expected 5 tools, got %d", len(active))
	}
}

func TestActiveToolsUnknownEntry(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	_, err := env.registry.ActiveTools(&config.Toolset{Name: "bad", Tools: []string{"delete_everything"}})
	if err == nil || !strings.Contains(err.Error(), "not registered") {
		t.Errorf("expected an unknown-tool error, got: %v", err)
	}
}

func TestDispatchUnknownToolIsHardError(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	_, err := env.registry.Dispatch(authedCtx(), "no_such_tool", nil)
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("expected a hard error for an unknown tool, got: %v", err)
	}
}

func TestDispatchValidationFailureIsInBand(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	res, err := env.registry.Dispatch(authedCtx(), "propose_action", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(res.Text, "invalid arguments for propose_action") ||
		!strings.Contains(res.Text, "missing required field: action_type") {
		t.Errorf("result = %q", res.Text)
	}
}

func TestReadToolWithoutToken(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	res, err := env.registry.Dispatch(context.Background(), "get_lists", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Text != "Error: User is not authenticated via OAuth." {
		t.Errorf("result = %q", res.Text)
	}
}

func TestReadToolExpiredToken(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, true)
	res, err := env.registry.Dispatch(authedCtx(), "get_campaigns", nil)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Text != "Error: OAuth Token Expired. Please re-login." {
		t.Errorf("result = %q", res.Text)
	}
}

func TestProposeStagesWithoutWriting(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	res, err := env.registry.Dispatch(authedCtx(), "propose_action", map[string]interface{}{
		"action_type": "create_list",
		"parameters":  map[string]interface{}{"list_name": "Newsletter"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.IsProposal() {
		t.Fatalf("expected a proposal, got %q", res.Text)
	}
	if res.Proposal.ActionType != "create_list" || res.Proposal.ApprovalID == "" {
		t.Errorf("proposal = %+v", res.Proposal)
	}
	if len(*env.requests) != 0 {
		t.Errorf("propose must not touch the upstream API, saw %v", *env.requests)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(res.Text), &payload); err != nil {
		t.Fatalf("proposal text is not JSON: %v", err)
	}
	if payload["status"] != "proposed" || payload["approval_id"] != res.Proposal.ApprovalID {
		t.Errorf("proposal text = %q", res.Text)
	}
}

func TestProposeUnsupportedType(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	res, err := env.registry.Dispatch(authedCtx(), "propose_action", map[string]interface{}{
		"action_type": "delete_account",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.IsProposal() || !strings.Contains(res.Text, "unsupported action type") {
		t.Errorf("result = %q", res.Text)
	}
}

func TestProposeCampaignDraftUsesLastListID(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	key := identity.KeyForToken("test-token")
	if err := env.identity.RememberListID(context.Background(), key, "L77"); err != nil {
		t.Fatalf("RememberListID: %v", err)
	}

	res, err := env.registry.Dispatch(authedCtx(), "propose_action", map[string]interface{}{
		"action_type": "create_campaign_draft",
		"parameters":  map[string]interface{}{"campaign_name": "Summer Sale"},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.IsProposal() {
		t.Fatalf("expected a proposal, got %q", res.Text)
	}
	if res.Proposal.Params["list_id"] != "L77" {
		t.Errorf("list_id = %v, want the remembered list", res.Proposal.Params["list_id"])
	}
}

func TestProposeValidationErrorIsInBand(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	res, err := env.registry.Dispatch(authedCtx(), "propose_action", map[string]interface{}{
		"action_type": "create_list",
		"parameters":  map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.IsProposal() || !strings.Contains(res.Text, "list_name") {
		t.Errorf("result = %q", res.Text)
	}
}

func TestExecuteConsumesApprovalOnce(t *testing.T) {
	env := newTestEnv(t, okListBackend, false)
	propose, err := env.registry.Dispatch(authedCtx(), "propose_action", map[string]interface{}{
		"action_type": "create_list",
		"parameters":  map[string]interface{}{"list_name": "Newsletter"},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	res, err := env.registry.Dispatch(authedCtx(), "execute_action", map[string]interface{}{
		"approval_id": propose.Proposal.ApprovalID,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(res.Text, "SUCCESS: Created list 'Newsletter' with ID: L1") {
		t.Errorf("result = %q", res.Text)
	}

	// The id is spent; a replay must not reach the upstream again.
	writes := len(*env.requests)
	res, err = env.registry.Dispatch(authedCtx(), "execute_action", map[string]interface{}{
		"approval_id": propose.Proposal.ApprovalID,
	})
	if err != nil {
		t.Fatalf("execute replay: %v", err)
	}
	if res.Text != invalidApprovalText {
		t.Errorf("replay result = %q", res.Text)
	}
	if len(*env.requests) != writes {
		t.Errorf("replay must not call the upstream, saw %v", *env.requests)
	}
}

func TestExecuteRejectsMismatchedApprovalID(t *testing.T) {
	env := newTestEnv(t, okListBackend, false)
	if _, err := env.registry.Dispatch(authedCtx(), "propose_action", map[string]interface{}{
		"action_type": "create_list",
		"parameters":  map[string]interface{}{"list_name": "Newsletter"},
	}); err != nil {
		t.Fatalf("propose: %v", err)
	}

	res, err := env.registry.Dispatch(authedCtx(), "execute_action", map[string]interface{}{
		"approval_id": "not-the-minted-one",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Text != invalidApprovalText {
		t.Errorf("result = %q", res.Text)
	}
	if len(*env.requests) != 0 {
		t.Errorf("a rejected execute must not call the upstream, saw %v", *env.requests)
	}
}

func TestExecuteRemembersCreatedList(t *testing.T) {
	env := newTestEnv(t, okListBackend, false)
	propose, _ := env.registry.Dispatch(authedCtx(), "propose_action", map[string]interface{}{
		"action_type": "create_list",
		"parameters":  map[string]interface{}{"list_name": "Newsletter"},
	})
	if _, err := env.registry.Dispatch(authedCtx(), "execute_action", map[string]interface{}{
		"approval_id": propose.Proposal.ApprovalID,
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	id, ok, err := env.identity.LastListID(context.Background(), identity.KeyForToken("test-token"))
	if err != nil || !ok || id != "L1" {
		t.Errorf("LastListID = %q, %v, %v; want L1", id, ok, err)
	}
}

func TestExecuteFallbackDisabled(t *testing.T) {
	env := newTestEnv(t, okListBackend, false)
	res, err := env.registry.Dispatch(authedCtx(), "execute_action", map[string]interface{}{
		"approval_id": "gone-after-restart",
		"list_name":   "Newsletter",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Text != invalidApprovalText {
		t.Errorf("result = %q", res.Text)
	}
	if len(*env.requests) != 0 {
		t.Errorf("a rejected execute must not call the upstream, saw %v", *env.requests)
	}
}

func TestExecuteFallbackSynthesizesCreateList(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	res, err := env.registry.Dispatch(authedCtx(), "execute_action", map[string]interface{}{
		"approval_id": "gone-after-restart",
		"list_name":   "Newsletter",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(res.Text, "SUCCESS: Created list 'Newsletter'") {
		t.Errorf("result = %q", res.Text)
	}
}

func TestExecuteFallbackRejectsMismatchedType(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	res, err := env.registry.Dispatch(authedCtx(), "execute_action", map[string]interface{}{
		"approval_id": "gone",
		"list_name":   "Newsletter",
		"action_type": "create_vip_audience",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Text != invalidApprovalText {
		t.Errorf("result = %q", res.Text)
	}
}

func TestExecuteFallbackInsufficientFields(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	res, err := env.registry.Dispatch(authedCtx(), "execute_action", map[string]interface{}{
		"approval_id": "gone",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Text != invalidApprovalText {
		t.Errorf("result = %q", res.Text)
	}
}

func TestExecuteVIPAudienceReportsSeeding(t *testing.T) {
	profileCalls := 0
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/lists/" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"data":{"type":"list","id":"L5"}}`))
		case r.URL.Path == "/api/profiles/":
			profileCalls++
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"data":{"type":"profile","id":"P1"}}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}, false)

	propose, err := env.registry.Dispatch(authedCtx(), "propose_action", map[string]interface{}{
		"action_type": "create_vip_audience",
		"parameters":  map[string]interface{}{"audience_name": "VIPs"},
	})
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	res, err := env.registry.Dispatch(authedCtx(), "execute_action", map[string]interface{}{
		"approval_id": propose.Proposal.ApprovalID,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(res.Text, "seeded 3 of 3 profiles") {
		t.Errorf("result = %q", res.Text)
	}
	if profileCalls != 3 {
		t.Errorf("profileCalls = %d, want the default seed count", profileCalls)
	}
}

func TestExecuteWithoutToken(t *testing.T) {
	env := newTestEnv(t, okListBackend, true)
	res, err := env.registry.Dispatch(context.Background(), "execute_action", map[string]interface{}{
		"approval_id": "any",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Text != "Error: User is not authenticated via OAuth." {
		t.Errorf("result = %q", res.Text)
	}
}

package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ahmkhn/klaviyo-nexus/config"
	"github.com/ahmkhn/klaviyo-nexus/errors"
	"github.com/google/uuid"
)

// Scopes requested during the OAuth authorization flow.
const Scopes = "accounts:read campaigns:read profiles:read lists:read segments:read lists:write profiles:write campaigns:write"

const (
	authorizeURL = "https://www.klaviyo.com/oauth/authorize"
	tokenURL     = "https://a.klaviyo.com/oauth/token"
)

// TokenResponse is the token endpoint's reply for both the code exchange and
// the refresh grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Service drives the OAuth/PKCE flow and resolves session ids to valid
// upstream access tokens, refreshing them when expired.
type Service struct {
	cfg   config.OAuth
	store Store
	http  *http.Client
}

// NewService builds the auth service. The token endpoint gets a generous
// timeout since it is only hit during login and refresh.
func NewService(cfg config.OAuth, store Store) *Service {
	return &Service{
		cfg:   cfg,
		store: store,
		http:  &http.Client{Timeout: 20 * time.Second},
	}
}

// Begin starts a login attempt: it persists a fresh PKCE state and returns
// the authorization URL to redirect the browser to.
func (s *Service) Begin(ctx context.Context) (string, error) {
	if s.cfg.ClientID == "" || s.cfg.ClientSecret == "" {
		return "", errors.New("missing Klaviyo OAuth client credentials")
	}
	verifier, challenge, err := GeneratePKCEPair()
	if err != nil {
		return "", err
	}
	state := uuid.NewString()
	if err := s.store.SaveState(ctx, State{State: state, CodeVerifier: verifier}); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", s.cfg.ClientID)
	params.Set("redirect_uri", s.cfg.RedirectURI)
	params.Set("scope", Scopes)
	params.Set("state", state)
	params.Set("code_challenge_method", "S256")
	params.Set("code_challenge", challenge)
	return authorizeURL + "?" + params.Encode(), nil
}

// Complete finishes the flow: it validates the state, exchanges the code,
// and upserts the installation under the session id. The returned session id
// is the cookie value to set (a fresh one is minted when the browser had
// none).
func (s *Service) Complete(ctx context.Context, state, code, sessionID string) (string, error) {
	st, ok, err := s.store.TakeState(ctx, state)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.NewKind(errors.KindAuth, "invalid or expired oauth state")
	}

	tok, err := s.exchange(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {st.CodeVerifier},
		"redirect_uri":  {s.cfg.RedirectURI},
	})
	if err != nil {
		return "", err
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	inst := Installation{
		SessionID:      sessionID,
		AccessToken:    tok.AccessToken,
		RefreshToken:   tok.RefreshToken,
		TokenExpiresAt: time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
		Scopes:         tok.Scope,
	}
	if err := s.store.UpsertInstallation(ctx, inst); err != nil {
		return "", err
	}
	return sessionID, nil
}

// ResolveToken maps a session id to a currently-valid access token,
// refreshing through the stored refresh token when the access token has
// expired. An unknown session or a failed refresh is an auth-kind error.
func (s *Service) ResolveToken(ctx context.Context, sessionID string) (string, error) {
	inst, ok, err := s.store.FindInstallation(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !ok || inst.AccessToken == "" {
		return "", errors.NewKind(errors.KindAuth, "Klaviyo login required")
	}

	// A minute of slack avoids handing out a token that expires mid-turn.
	if inst.TokenExpiresAt.IsZero() || time.Until(inst.TokenExpiresAt) > time.Minute {
		return inst.AccessToken, nil
	}
	if inst.RefreshToken == "" {
		return "", errors.NewKind(errors.KindAuth, "Klaviyo login required")
	}

	tok, err := s.exchange(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {inst.RefreshToken},
	})
	if err != nil {
		return "", errors.WrapKind(errors.KindAuth, err, "token refresh failed")
	}
	inst.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		inst.RefreshToken = tok.RefreshToken
	}
	inst.TokenExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if err := s.store.UpsertInstallation(ctx, inst); err != nil {
		return "", err
	}
	return inst.AccessToken, nil
}

func (s *Service) exchange(ctx context.Context, form url.Values) (*TokenResponse, error) {
	endpoint := tokenURL
	if s.cfg.TokenURL != "" {
		endpoint = s.cfg.TokenURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrapf(err, "building token request")
	}
	req.Header.Set("Authorization", BasicAuthHeader(s.cfg.ClientID, s.cfg.ClientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "calling token endpoint")
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("token exchange failed (%d): %s", resp.StatusCode, string(raw))
	}
	var tok TokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, errors.Wrapf(err, "parsing token response")
	}
	return &tok, nil
}

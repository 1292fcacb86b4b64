package auth

import "context"

// tokenKey is the context key type for the per-turn access token.
type tokenKey struct{}

// WithAccessToken binds the caller's upstream access token to the context
// for the duration of one chat turn. The binding lives and dies with the
// derived context, so concurrent turns can never observe each other's token
// and nothing survives the turn.
func WithAccessToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// AccessTokenFromContext extracts the turn's access token. The empty string
// means the caller is not authenticated.
func AccessTokenFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if token, ok := ctx.Value(tokenKey{}).(string); ok {
		return token
	}
	return ""
}

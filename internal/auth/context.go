package auth

import "context"

type contextKey string

const authContextKey contextKey = "relay_auth"

// AuthInfo identifies the gateway key that authenticated a request.
type AuthInfo struct {
	KeyID           string
	Name            string
	RPMLimit        *int
	MaxBudgetTokens *int
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}

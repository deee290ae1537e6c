package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/relay-gateway/internal/httputil"
)

// Middleware authenticates requests with a gateway key sent as a Bearer token.
func Middleware(store KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteAuthError(w, reqID, "Missing Authorization header. Use: Authorization: Bearer <gateway-key>")
				return
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <gateway-key>")
				return
			}
			token = strings.TrimSpace(token)
			if token == "" {
				httputil.WriteAuthError(w, reqID, "Empty gateway key")
				return
			}

			meta, err := store.Lookup(r.Context(), HashKey(token))
			if err != nil {
				slog.Error("key lookup failed", "request_id", reqID, "error", err, "key_prefix", KeyPrefix(token))
				httputil.WriteInternalError(w, reqID, "Internal error during authentication")
				return
			}
			if meta == nil {
				slog.Warn("auth failed: key not found", "request_id", reqID, "key_prefix", KeyPrefix(token))
				httputil.WriteAuthError(w, reqID, "Invalid gateway key")
				return
			}

			info := &AuthInfo{
				KeyID:           meta.ID,
				Name:            meta.Name,
				RPMLimit:        meta.RPMLimit,
				MaxBudgetTokens: meta.MaxBudgetTokens,
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), info)))
		})
	}
}

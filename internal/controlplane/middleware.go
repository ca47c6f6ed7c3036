package controlplane

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"canvashub/internal/identity"
	"canvashub/internal/models"
)

type contextKey string

const claimsContextKey = contextKey("claims")

// ClaimsFromContext retrieves the identity injected by RequireAuth.
func ClaimsFromContext(ctx context.Context) (models.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(models.Claims)
	return claims, ok
}

// RequireAuth verifies the access_token cookie and injects the caller's
// claims into the request context, mirroring the teacher's AuthMiddleware
// but reading the cookie the streaming handshake also reads, rather than an
// Authorization header.
func RequireAuth(extractor *identity.Extractor, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := extractor.FromRequest(r)
			if err != nil {
				respondError(w, log, http.StatusUnauthorized, "authorization token is missing or invalid")
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Maintenance gates every request behind a live maintenance flag. Unlike
// the teacher's middleware, there is no HTML fallback path: that branch
// depended on a template renderer the teacher repo never actually defines,
// so every response here is JSON.
func Maintenance(isEnabled func() bool, message string, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || !isEnabled() {
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/status" || r.URL.Path == "/api/status" {
				next.ServeHTTP(w, r)
				return
			}
			msg := message
			if msg == "" {
				msg = "service is temporarily unavailable due to maintenance"
			}
			respondError(w, log, http.StatusServiceUnavailable, msg)
		})
	}
}

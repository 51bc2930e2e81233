package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/erpcore/automation-engine/pkg/auth"
	"github.com/erpcore/automation-engine/pkg/logger"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// JWTAuth validates the bearer token and stores its claims in the
// request context
func JWTAuth(verifier *auth.TokenVerifier, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				http.Error(w, "Bearer token required", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.ValidateToken(token)
			if err != nil {
				log.Debugf("Token validation failed: %v", err)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithClaims returns a context carrying the given claims. Handler
// tests use it to bypass token validation.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetClaims returns the authenticated claims from the request context
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*auth.Claims)
	return claims
}

// RequireCapability rejects requests whose token lacks the capability
func RequireCapability(capability string, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}

			if !claims.HasCapability(capability) {
				log.Debugf("User %s lacks capability %s", claims.UserID, capability)
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"context"
	"net/http"
	"strings"

	"model_gateway/internal/auth"
	"model_gateway/internal/config"
	"model_gateway/internal/utils"
)

// ContextKey is the type for authentication values stored on the request
// context
type ContextKey string

const (
	// ClaimsKey holds the validated operator claims
	ClaimsKey ContextKey = "operatorClaims"

	// SubjectKey holds the operator identity
	SubjectKey ContextKey = "operatorSubject"

	// RolesKey holds the operator roles
	RolesKey ContextKey = "operatorRoles"
)

// JWTMiddleware validates operator tokens and enforces role-based access
func JWTMiddleware(cfg *config.Config, requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}

			// Remove "Bearer " prefix if present
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			claims, err := auth.ValidateToken(tokenString, cfg)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			if len(requiredRoles) > 0 && !hasAnyRole(claims.Roles, requiredRoles) {
				utils.RespondWithError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			ctx = context.WithValue(ctx, SubjectKey, claims.Subject)
			ctx = context.WithValue(ctx, RolesKey, claims.Roles)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasAnyRole(userRoles, requiredRoles []string) bool {
	for _, requiredStr := range requiredRoles {
		required := auth.Role(requiredStr)
		for _, userStr := range userRoles {
			if auth.Role(userStr).HasPermission(required) {
				return true
			}
		}
	}
	return false
}

// GetClaims retrieves the operator claims from the request context
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

// GetSubject retrieves the operator identity from the request context
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(SubjectKey).(string)
	return subject, ok
}

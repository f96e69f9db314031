package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"distribution-order-services/internal/auth"
)

// ServiceAuth marks requests carrying the service-role key as service calls.
// Anything else is left for UserAuth to judge.
func ServiceAuth(serviceRoleKey string) func(http.Handler) http.Handler {
	key := strings.TrimSpace(serviceRoleKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			token := auth.ParseBearerToken(r.Header.Get("Authorization"))
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
				next.ServeHTTP(w, r)
				return
			}
			ctx := WithAuthContext(r.Context(), &AuthContext{Service: true})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireService rejects anything ServiceAuth did not recognise.
func RequireService() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ac, ok := GetAuthContext(r.Context()); !ok || !ac.Service {
				writeAuthError(w, http.StatusUnauthorized, "Invalid service token", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

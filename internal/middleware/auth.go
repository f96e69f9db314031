package middleware

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"distribution-order-services/internal/auth"
	"distribution-order-services/internal/store"
	"distribution-order-services/pkg/response"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type contextKey string

const authContextKey contextKey = "authContext"

type AuthContext struct {
	UserID   uuid.UUID
	Role     auth.UserRole
	Email    string
	UplineID *uuid.UUID
	// Service is set for server-to-server calls made with the service-role key.
	Service bool
}

func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	value := ctx.Value(authContextKey)
	if value == nil {
		return nil, false
	}
	ac, ok := value.(*AuthContext)
	return ac, ok
}

// ProfileLoader is the slice of the store UserAuth needs.
type ProfileLoader interface {
	GetProfile(ctx context.Context, id uuid.UUID) (store.Profile, error)
}

func writeAuthError(w http.ResponseWriter, status int, message string, debug string) {
	if os.Getenv("APP_ENV") == "development" && strings.TrimSpace(debug) != "" {
		message = message + " (" + debug + ")"
	}
	code := "UNAUTHORIZED"
	if status == http.StatusForbidden {
		code = "FORBIDDEN"
	}
	response.Error(w, status, code, message)
}

// UserAuth verifies a Supabase access token and loads the caller's profile.
// Requests already authenticated by ServiceAuth pass straight through.
func UserAuth(profiles ProfileLoader, jwtSecret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ac, ok := GetAuthContext(r.Context()); ok && ac.Service {
				next.ServeHTTP(w, r)
				return
			}

			token := auth.ParseBearerToken(r.Header.Get("Authorization"))
			claims, err := auth.VerifyAccessToken(token, jwtSecret)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Authorization token required", err.Error())
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid token", err.Error())
				return
			}

			profile, err := profiles.GetProfile(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeAuthError(w, http.StatusForbidden, "Profile not found", "")
					return
				}
				if logger != nil {
					logger.Error("profile lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
				}
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load profile")
				return
			}
			if !profile.IsActive {
				writeAuthError(w, http.StatusForbidden, "Account is inactive", "")
				return
			}

			email := profile.Email
			if email == "" {
				email = claims.Email
			}
			authCtx := &AuthContext{
				UserID:   profile.ID,
				Role:     profile.Role,
				Email:    email,
				UplineID: profile.UplineID,
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), authCtx)))
		})
	}
}

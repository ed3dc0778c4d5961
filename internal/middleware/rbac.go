package middleware

import (
	"context"
	"net/http"
	"slices"

	"github.com/rjsadow/folio/internal/plugins"
)

// ProfileContextKey holds the caller's profile once RequireRole has loaded it.
const ProfileContextKey contextKey = "profile"

// RequireRole returns middleware that checks if the session user's profile
// has one of the specified roles. The session must already be resolved
// (use RequireSession first in the chain).
// Admin role always grants access regardless of required roles.
func RequireRole(store plugins.ProfileStore, roles ...plugins.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := GetSession(r.Context())
			if session == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			profile, err := store.GetProfile(r.Context(), session.User.ID)
			if err != nil {
				Logger(r.Context()).Error("profile lookup failed", "user_id", session.User.ID, "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			if profile == nil || !HasRole(profile.Role, roles...) {
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ProfileContextKey, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetProfile retrieves the profile loaded by RequireRole.
func GetProfile(ctx context.Context) *plugins.UserProfile {
	profile, ok := ctx.Value(ProfileContextKey).(*plugins.UserProfile)
	if !ok {
		return nil
	}
	return profile
}

// HasRole checks if role is one of the required roles.
// Admin role always returns true (admins have access to everything).
func HasRole(role plugins.Role, required ...plugins.Role) bool {
	if role == plugins.RoleAdmin {
		return true
	}
	return slices.Contains(required, role)
}

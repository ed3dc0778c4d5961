// Package storage provides ProfileStore plugin implementations for the
// CMS-owned user profile records.
//
// Built-in providers:
//   - database: profiles in the application database (default)
//   - memory: In-memory storage (for testing)
//
// To add a new storage provider:
//  1. Create a new file implementing plugins.ProfileStore
//  2. Register a factory with the plugins.Registry in main
//  3. Configure via FOLIO_PROFILE_STORE environment variable
package storage

import (
	"errors"
	"maps"

	"github.com/rjsadow/folio/internal/plugins"
)

// ErrInvalidRole is returned when a role outside admin, editor and viewer
// is written.
var ErrInvalidRole = errors.New("invalid role")

// cloneProfile copies p so callers cannot mutate stored state.
func cloneProfile(p *plugins.UserProfile) *plugins.UserProfile {
	clone := *p
	clone.Preferences = clonePreferences(p.Preferences)
	return &clone
}

// clonePreferences returns a non-nil shallow copy.
func clonePreferences(prefs map[string]any) map[string]any {
	out := make(map[string]any, len(prefs))
	maps.Copy(out, prefs)
	return out
}

func validRole(role plugins.Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	return nil
}

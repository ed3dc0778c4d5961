// Package plugins defines the contracts the CMS core depends on and a registry
// for the implementations behind them.
//
// Plugin Types:
//   - AuthProvider: resolves sessions and API keys from inbound requests
//   - ProfileStore: persists CMS-owned user profiles
//
// Adding new plugins:
//  1. Implement the appropriate interface (AuthProvider or ProfileStore)
//  2. Register a factory with a Registry in main
//  3. Select it via FOLIO_AUTH_PROVIDER or FOLIO_PROFILE_STORE
package plugins

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"
)

// Common errors returned by plugins.
var (
	ErrPluginNotFound   = errors.New("plugin not found")
	ErrInvalidConfig    = errors.New("invalid plugin configuration")
	ErrResourceNotFound = errors.New("resource not found")
	ErrResourceExists   = errors.New("resource already exists")

	// ErrUnauthorized is returned by Require* operations when no valid
	// credential was presented. Routes map it to 401.
	ErrUnauthorized = errors.New("authentication required")

	// ErrForbidden is returned by RequireAPIKey when the key is valid but
	// lacks a required permission. Routes map it to 403.
	ErrForbidden = errors.New("permission denied")
)

// PluginType represents the category of a plugin.
type PluginType string

const (
	PluginTypeAuth    PluginType = "auth"
	PluginTypeStorage PluginType = "storage"
)

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	// Name returns the unique identifier for this plugin.
	Name() string

	// Type returns the plugin type (auth, storage).
	Type() PluginType

	// Version returns the plugin version.
	Version() string

	// Description returns a human-readable description.
	Description() string

	// Initialize sets up the plugin with the given configuration.
	// Called once during application startup.
	Initialize(ctx context.Context, config map[string]string) error

	// Healthy returns true if the plugin is operational.
	Healthy(ctx context.Context) bool

	// Close releases any resources held by the plugin.
	Close() error
}

// PluginInfo contains metadata about a registered plugin.
type PluginInfo struct {
	Name        string     `json:"name"`
	Type        PluginType `json:"type"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Active      bool       `json:"active"`
}

// HealthStatus represents the health check result for a plugin.
type HealthStatus struct {
	PluginName string     `json:"plugin_name"`
	PluginType PluginType `json:"plugin_type"`
	Healthy    bool       `json:"healthy"`
	Message    string     `json:"message,omitempty"`
	CheckedAt  time.Time  `json:"checked_at"`
}

// PluginFactory is a function that creates a new instance of a plugin.
type PluginFactory func() Plugin

// Permission is an action an API key may be granted.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionWrite
}

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions, skipping unknown values.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		if p.Valid() {
			set[p] = struct{}{}
		}
	}
	return set
}

// Has reports whether the set contains p.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// HasAll reports whether the set contains every p. An empty list is
// always satisfied.
func (s PermissionSet) HasAll(perms ...Permission) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// List returns the permissions in sorted order.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes an array of permissions, dropping unknown values.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var perms []Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	*s = NewPermissionSet(perms...)
	return nil
}

// AuthKind discriminates the two identity shapes.
type AuthKind string

const (
	AuthKindSession AuthKind = "session"
	AuthKindAPIKey  AuthKind = "api_key"
)

// SessionUser is the user half of a SessionAuth.
type SessionUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// SessionInfo is the session half of a SessionAuth.
type SessionInfo struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionAuth is a browser-originated identity resolved for one request.
// It is built fresh on every call and must not be mutated or cached.
type SessionAuth struct {
	Kind    AuthKind    `json:"kind"`
	User    SessionUser `json:"user"`
	Session SessionInfo `json:"session"`
}

// NewSessionAuth builds a SessionAuth with its kind set.
func NewSessionAuth(user SessionUser, session SessionInfo) *SessionAuth {
	return &SessionAuth{Kind: AuthKindSession, User: user, Session: session}
}

// APIKeyAuth is a programmatic caller resolved for one request.
type APIKeyAuth struct {
	Kind        AuthKind      `json:"kind"`
	KeyID       string        `json:"keyId"`
	Name        string        `json:"name"`
	Permissions PermissionSet `json:"permissions"`
	LastUsedAt  *time.Time    `json:"lastUsedAt,omitempty"`
}

// NewAPIKeyAuth builds an APIKeyAuth with its kind set.
func NewAPIKeyAuth(keyID, name string, perms PermissionSet, lastUsedAt *time.Time) *APIKeyAuth {
	if perms == nil {
		perms = PermissionSet{}
	}
	return &APIKeyAuth{
		Kind:        AuthKindAPIKey,
		KeyID:       keyID,
		Name:        name,
		Permissions: perms,
		LastUsedAt:  lastUsedAt,
	}
}

// AuthProvider is the boundary between the CMS core and whichever identity
// provider is configured. Implementations never expose provider-specific
// errors: a credential is either resolved, absent, or rejected with
// ErrUnauthorized / ErrForbidden.
type AuthProvider interface {
	Plugin

	// GetSession resolves the request's session. It returns (nil, nil) when
	// no valid session exists.
	GetSession(ctx context.Context, r *http.Request) (*SessionAuth, error)

	// RequireSession is GetSession that fails with ErrUnauthorized instead of
	// returning nil.
	RequireSession(ctx context.Context, r *http.Request) (*SessionAuth, error)

	// ValidateAPIKey resolves the request's API key. Missing and invalid keys
	// both yield (nil, nil).
	ValidateAPIKey(ctx context.Context, r *http.Request) (*APIKeyAuth, error)

	// RequireAPIKey fails with ErrUnauthorized when no key validates and with
	// ErrForbidden when any of the given permissions is missing. With no
	// permissions it accepts any valid key.
	RequireAPIKey(ctx context.Context, r *http.Request, perms ...Permission) (*APIKeyAuth, error)
}

// CredentialKind names the credential a FailureRecorder is told about.
type CredentialKind string

const (
	CredentialSession CredentialKind = "session"
	CredentialAPIKey  CredentialKind = "api_key"
)

// FailureRecorder receives presented-but-invalid credentials. The boundary
// still reports them as absent; this hook exists for auditing only.
type FailureRecorder interface {
	RecordAuthFailure(ctx context.Context, kind CredentialKind, reason string)
}

// FailureRecorders fans a failure out to several recorders. Nil entries are
// skipped.
type FailureRecorders []FailureRecorder

func (rs FailureRecorders) RecordAuthFailure(ctx context.Context, kind CredentialKind, reason string) {
	for _, r := range rs {
		if r != nil {
			r.RecordAuthFailure(ctx, kind, reason)
		}
	}
}

// Role is a CMS role stored on a user profile.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// DefaultRole is assigned to profiles created on sign-up.
const DefaultRole = RoleEditor

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// UserProfile is the CMS-owned record for a user. UserID is the identity
// provider's opaque id; there is no foreign key into the provider's schema.
type UserProfile struct {
	UserID      string         `json:"userId"`
	Role        Role           `json:"role"`
	Preferences map[string]any `json:"preferences"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ProfileStore persists user profiles.
type ProfileStore interface {
	Plugin

	// CreateProfile inserts a profile. Returns ErrResourceExists if one is
	// already present for the user.
	CreateProfile(ctx context.Context, profile *UserProfile) error

	// GetProfile returns (nil, nil) when the user has no profile.
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)

	// EnsureProfile returns the existing profile or creates one with DefaultRole.
	EnsureProfile(ctx context.Context, userID string) (*UserProfile, error)

	UpdateRole(ctx context.Context, userID string, role Role) error
	UpdatePreferences(ctx context.Context, userID string, prefs map[string]any) error
	ListProfiles(ctx context.Context) ([]*UserProfile, error)
	DeleteProfile(ctx context.Context, userID string) error
}

package storage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rjsadow/folio/internal/plugins"
)

// MemoryStorage implements ProfileStore using in-memory storage.
// Useful for testing and development only.
//
// WARNING: NOT suitable for multi-replica deployments. Use the database
// store for anything that must survive a restart.
type MemoryStorage struct {
	mu       sync.RWMutex
	profiles map[string]*plugins.UserProfile
	now      func() time.Time
}

// NewMemoryStorage creates a new in-memory storage provider.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		profiles: make(map[string]*plugins.UserProfile),
		now:      time.Now,
	}
}

// Name returns the plugin name.
func (s *MemoryStorage) Name() string {
	return "memory"
}

// Type returns the plugin type.
func (s *MemoryStorage) Type() plugins.PluginType {
	return plugins.PluginTypeStorage
}

// Version returns the plugin version.
func (s *MemoryStorage) Version() string {
	return "1.0.0"
}

// Description returns a human-readable description.
func (s *MemoryStorage) Description() string {
	return "In-memory profile store for testing and development"
}

// Initialize sets up the plugin with configuration.
func (s *MemoryStorage) Initialize(ctx context.Context, config map[string]string) error {
	slog.Info("memory profile store initialized")
	return nil
}

// Healthy returns true if the plugin is operational.
func (s *MemoryStorage) Healthy(ctx context.Context) bool {
	return true
}

// Close releases resources.
func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = make(map[string]*plugins.UserProfile)
	return nil
}

// CreateProfile stores a new profile. An empty role becomes DefaultRole.
func (s *MemoryStorage) CreateProfile(ctx context.Context, profile *plugins.UserProfile) error {
	if profile.Role == "" {
		profile.Role = plugins.DefaultRole
	}
	if err := validRole(profile.Role); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[profile.UserID]; exists {
		return plugins.ErrResourceExists
	}

	// Clone the profile to prevent external modification
	clone := cloneProfile(profile)
	clone.CreatedAt = s.now().UTC()
	clone.UpdatedAt = clone.CreatedAt
	profile.CreatedAt, profile.UpdatedAt = clone.CreatedAt, clone.UpdatedAt

	s.profiles[profile.UserID] = clone
	return nil
}

// GetProfile retrieves a profile by user ID.
func (s *MemoryStorage) GetProfile(ctx context.Context, userID string) (*plugins.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, exists := s.profiles[userID]
	if !exists {
		return nil, nil
	}
	return cloneProfile(profile), nil
}

// EnsureProfile returns the user's profile, creating a default one first if
// none exists.
func (s *MemoryStorage) EnsureProfile(ctx context.Context, userID string) (*plugins.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if profile, exists := s.profiles[userID]; exists {
		return cloneProfile(profile), nil
	}

	now := s.now().UTC()
	profile := &plugins.UserProfile{
		UserID:      userID,
		Role:        plugins.DefaultRole,
		Preferences: map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.profiles[userID] = profile
	return cloneProfile(profile), nil
}

// UpdateRole changes a user's role.
func (s *MemoryStorage) UpdateRole(ctx context.Context, userID string, role plugins.Role) error {
	if err := validRole(role); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profile, exists := s.profiles[userID]
	if !exists {
		return plugins.ErrResourceNotFound
	}
	profile.Role = role
	profile.UpdatedAt = s.now().UTC()
	return nil
}

// UpdatePreferences replaces a user's preferences.
func (s *MemoryStorage) UpdatePreferences(ctx context.Context, userID string, prefs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, exists := s.profiles[userID]
	if !exists {
		return plugins.ErrResourceNotFound
	}
	profile.Preferences = clonePreferences(prefs)
	profile.UpdatedAt = s.now().UTC()
	return nil
}

// ListProfiles returns all profiles ordered by creation time.
func (s *MemoryStorage) ListProfiles(ctx context.Context) ([]*plugins.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plugins.UserProfile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		result = append(result, cloneProfile(profile))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

// DeleteProfile removes a profile.
func (s *MemoryStorage) DeleteProfile(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[userID]; !exists {
		return plugins.ErrResourceNotFound
	}
	delete(s.profiles, userID)
	return nil
}

// Verify interface compliance
var _ plugins.ProfileStore = (*MemoryStorage)(nil)

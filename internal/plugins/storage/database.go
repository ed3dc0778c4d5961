package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rjsadow/folio/internal/db"
	"github.com/rjsadow/folio/internal/plugins"
)

// DatabaseStorage implements ProfileStore on the application database. The
// connection and its migrations are owned by the application; this plugin
// only reads and writes the user_profiles table.
type DatabaseStorage struct {
	db *db.DB
}

// NewDatabaseStorage creates a profile store wrapping the given database.
func NewDatabaseStorage(database *db.DB) *DatabaseStorage {
	return &DatabaseStorage{db: database}
}

// Name returns the plugin name.
func (s *DatabaseStorage) Name() string {
	return "database"
}

// Type returns the plugin type.
func (s *DatabaseStorage) Type() plugins.PluginType {
	return plugins.PluginTypeStorage
}

// Version returns the plugin version.
func (s *DatabaseStorage) Version() string {
	return "1.0.0"
}

// Description returns a human-readable description.
func (s *DatabaseStorage) Description() string {
	return "Profile store backed by the application database (SQLite or Postgres)"
}

// Initialize checks that a database was injected.
func (s *DatabaseStorage) Initialize(ctx context.Context, config map[string]string) error {
	if s.db == nil {
		return fmt.Errorf("database storage: %w: no database", plugins.ErrInvalidConfig)
	}
	slog.Info("database profile store initialized", "db_type", s.db.DBType())
	return nil
}

// Healthy returns true if the underlying database is reachable.
func (s *DatabaseStorage) Healthy(ctx context.Context) bool {
	if s.db == nil {
		return false
	}
	return s.db.Ping(ctx) == nil
}

// Close is a no-op; the shared db.DB connection is owned by the application.
func (s *DatabaseStorage) Close() error {
	return nil
}

// CreateProfile inserts a profile, failing with ErrResourceExists when the
// user already has one.
func (s *DatabaseStorage) CreateProfile(ctx context.Context, profile *plugins.UserProfile) error {
	if profile.Role == "" {
		profile.Role = plugins.DefaultRole
	}
	if err := validRole(profile.Role); err != nil {
		return err
	}

	row := toRow(profile)
	inserted, err := s.db.InsertProfileIfAbsent(ctx, row)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	if !inserted {
		return plugins.ErrResourceExists
	}
	profile.CreatedAt, profile.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

func (s *DatabaseStorage) GetProfile(ctx context.Context, userID string) (*plugins.UserProfile, error) {
	row, err := s.db.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return fromRow(row), nil
}

// EnsureProfile inserts a default profile if none exists and returns the
// stored one. Concurrent callers race on the insert, not on the read.
func (s *DatabaseStorage) EnsureProfile(ctx context.Context, userID string) (*plugins.UserProfile, error) {
	_, err := s.db.InsertProfileIfAbsent(ctx, &db.UserProfile{
		UserID: userID,
		Role:   string(plugins.DefaultRole),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile: %w", err)
	}
	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, plugins.ErrResourceNotFound
	}
	return profile, nil
}

func (s *DatabaseStorage) UpdateRole(ctx context.Context, userID string, role plugins.Role) error {
	if err := validRole(role); err != nil {
		return err
	}
	return notFound(s.db.UpdateProfileRole(ctx, userID, string(role)))
}

func (s *DatabaseStorage) UpdatePreferences(ctx context.Context, userID string, prefs map[string]any) error {
	return notFound(s.db.UpdateProfilePreferences(ctx, userID, prefs))
}

func (s *DatabaseStorage) ListProfiles(ctx context.Context) ([]*plugins.UserProfile, error) {
	rows, err := s.db.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	result := make([]*plugins.UserProfile, 0, len(rows))
	for i := range rows {
		result = append(result, fromRow(&rows[i]))
	}
	return result, nil
}

func (s *DatabaseStorage) DeleteProfile(ctx context.Context, userID string) error {
	return notFound(s.db.DeleteProfile(ctx, userID))
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return plugins.ErrResourceNotFound
	}
	return err
}

func toRow(p *plugins.UserProfile) *db.UserProfile {
	return &db.UserProfile{
		UserID:      p.UserID,
		Role:        string(p.Role),
		Preferences: clonePreferences(p.Preferences),
	}
}

func fromRow(row *db.UserProfile) *plugins.UserProfile {
	return &plugins.UserProfile{
		UserID:      row.UserID,
		Role:        plugins.Role(row.Role),
		Preferences: clonePreferences(row.Preferences),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

// Verify interface compliance
var _ plugins.ProfileStore = (*DatabaseStorage)(nil)

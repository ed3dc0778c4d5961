package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CreateProfile inserts a profile row. Timestamps are set here.
func (db *DB) CreateProfile(ctx context.Context, profile *UserProfile) error {
	now := nowUTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	_, err := db.bun.NewInsert().Model(profile).Exec(ctx)
	return err
}

// GetProfile returns the profile for userID, or nil if not found.
func (db *DB) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var profile UserProfile
	err := db.bun.NewSelect().Model(&profile).Where("user_id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// InsertProfileIfAbsent inserts a profile unless one already exists for the
// user. It reports whether a row was inserted.
func (db *DB) InsertProfileIfAbsent(ctx context.Context, profile *UserProfile) (bool, error) {
	now := nowUTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	result, err := db.bun.NewInsert().Model(profile).
		On("CONFLICT (user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// UpdateProfileRole sets a user's role.
func (db *DB) UpdateProfileRole(ctx context.Context, userID, role string) error {
	return affected(db.bun.NewUpdate().Model((*UserProfile)(nil)).
		Set("role = ?", role).
		Set("updated_at = ?", nowUTC()).
		Where("user_id = ?", userID).
		Exec(ctx))
}

// UpdateProfilePreferences replaces a user's preferences.
func (db *DB) UpdateProfilePreferences(ctx context.Context, userID string, prefs map[string]any) error {
	data := []byte("{}")
	if len(prefs) > 0 {
		var err error
		data, err = json.Marshal(prefs)
		if err != nil {
			return fmt.Errorf("failed to marshal preferences: %w", err)
		}
	}
	return affected(db.bun.NewUpdate().Model((*UserProfile)(nil)).
		Set("preferences = ?", string(data)).
		Set("updated_at = ?", nowUTC()).
		Where("user_id = ?", userID).
		Exec(ctx))
}

// ListProfiles returns all profiles ordered by creation time.
func (db *DB) ListProfiles(ctx context.Context) ([]UserProfile, error) {
	var profiles []UserProfile
	err := db.bun.NewSelect().Model(&profiles).
		OrderExpr("created_at ASC, user_id ASC").
		Scan(ctx)
	return profiles, err
}

// DeleteProfile removes a profile.
func (db *DB) DeleteProfile(ctx context.Context, userID string) error {
	return affected(db.bun.NewDelete().Model((*UserProfile)(nil)).Where("user_id = ?", userID).Exec(ctx))
}

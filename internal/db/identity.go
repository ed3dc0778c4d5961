package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func nowUTC() time.Time { return time.Now().UTC() }

// CreateIdentityUser inserts a new identity user.
func (db *DB) CreateIdentityUser(ctx context.Context, user *IdentityUser) error {
	_, err := db.bun.NewInsert().Model(user).Exec(ctx)
	return err
}

// GetIdentityUser returns a user by ID, or nil if not found.
func (db *DB) GetIdentityUser(ctx context.Context, id string) (*IdentityUser, error) {
	var user IdentityUser
	err := db.bun.NewSelect().Model(&user).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetIdentityUserByEmail returns a user by e-mail address, or nil if not found.
func (db *DB) GetIdentityUserByEmail(ctx context.Context, email string) (*IdentityUser, error) {
	var user IdentityUser
	err := db.bun.NewSelect().Model(&user).Where("email = ?", email).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ListIdentityUsers returns all users, newest first.
func (db *DB) ListIdentityUsers(ctx context.Context) ([]IdentityUser, error) {
	var users []IdentityUser
	err := db.bun.NewSelect().Model(&users).
		OrderExpr("created_at DESC").
		Scan(ctx)
	return users, err
}

// CreateIdentitySession inserts a session row.
func (db *DB) CreateIdentitySession(ctx context.Context, session *IdentitySession) error {
	now := nowUTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	_, err := db.bun.NewInsert().Model(session).Exec(ctx)
	return err
}

// GetIdentitySessionByTokenHash returns the session with the given token hash,
// or nil if not found. Expiry is not checked here.
func (db *DB) GetIdentitySessionByTokenHash(ctx context.Context, tokenHash string) (*IdentitySession, error) {
	var session IdentitySession
	err := db.bun.NewSelect().Model(&session).Where("token_hash = ?", tokenHash).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListIdentitySessionsByUser returns all sessions for a user.
func (db *DB) ListIdentitySessionsByUser(ctx context.Context, userID string) ([]IdentitySession, error) {
	var sessions []IdentitySession
	err := db.bun.NewSelect().Model(&sessions).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	return sessions, err
}

// DeleteIdentitySession removes a session by ID.
func (db *DB) DeleteIdentitySession(ctx context.Context, id string) error {
	return affected(db.bun.NewDelete().Model((*IdentitySession)(nil)).Where("id = ?", id).Exec(ctx))
}

// DeleteIdentitySessionsByUser removes every session for a user and returns
// how many were removed.
func (db *DB) DeleteIdentitySessionsByUser(ctx context.Context, userID string) (int64, error) {
	result, err := db.bun.NewDelete().Model((*IdentitySession)(nil)).Where("user_id = ?", userID).Exec(ctx)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteExpiredIdentitySessions removes sessions that expired before now.
func (db *DB) DeleteExpiredIdentitySessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.bun.NewDelete().Model((*IdentitySession)(nil)).
		Where("expires_at < ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CreateAPIKey inserts an API key record.
func (db *DB) CreateAPIKey(ctx context.Context, key *IdentityAPIKey) error {
	_, err := db.bun.NewInsert().Model(key).Exec(ctx)
	return err
}

// GetAPIKeyByHash returns the key with the given hash, or nil if not found.
func (db *DB) GetAPIKeyByHash(ctx context.Context, keyHash string) (*IdentityAPIKey, error) {
	var key IdentityAPIKey
	err := db.bun.NewSelect().Model(&key).Where("key_hash = ?", keyHash).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetAPIKey returns a key by ID, or nil if not found.
func (db *DB) GetAPIKey(ctx context.Context, id string) (*IdentityAPIKey, error) {
	var key IdentityAPIKey
	err := db.bun.NewSelect().Model(&key).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeysByUser returns a user's keys, newest first.
func (db *DB) ListAPIKeysByUser(ctx context.Context, userID string) ([]IdentityAPIKey, error) {
	var keys []IdentityAPIKey
	err := db.bun.NewSelect().Model(&keys).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	return keys, err
}

// TouchAPIKey records a successful use of a key.
func (db *DB) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	usedAt = usedAt.UTC()
	return affected(db.bun.NewUpdate().Model((*IdentityAPIKey)(nil)).
		Set("last_used_at = ?", usedAt).
		Set("request_count = request_count + 1").
		Set("updated_at = ?", usedAt).
		Where("id = ?", id).
		Exec(ctx))
}

// SetAPIKeyEnabled enables or disables a key owned by userID.
func (db *DB) SetAPIKeyEnabled(ctx context.Context, userID, id string, enabled bool) error {
	return affected(db.bun.NewUpdate().Model((*IdentityAPIKey)(nil)).
		Set("enabled = ?", enabled).
		Set("updated_at = ?", nowUTC()).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx))
}

// DeleteAPIKey removes a key owned by userID.
func (db *DB) DeleteAPIKey(ctx context.Context, userID, id string) error {
	return affected(db.bun.NewDelete().Model((*IdentityAPIKey)(nil)).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Exec(ctx))
}

package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rjsadow/folio/internal/db"
)

// Verification error codes.
const (
	CodeKeyNotFound = "KEY_NOT_FOUND"
	CodeKeyDisabled = "KEY_DISABLED"
	CodeKeyExpired  = "KEY_EXPIRED"
	CodeRateLimited = "RATE_LIMITED"
)

// APIKey is the provider's API key object. Permissions map a resource to its
// allowed actions.
type APIKey struct {
	ID           string              `json:"id"`
	UserID       string              `json:"userId"`
	Name         string              `json:"name"`
	Prefix       string              `json:"prefix"`
	Start        string              `json:"start"`
	Permissions  map[string][]string `json:"permissions"`
	Enabled      bool                `json:"enabled"`
	ExpiresAt    *time.Time          `json:"expiresAt,omitempty"`
	LastUsedAt   *time.Time          `json:"lastUsedAt,omitempty"`
	RequestCount int64               `json:"requestCount"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// CreatedAPIKey carries the raw key. It is returned once, at creation.
type CreatedAPIKey struct {
	APIKey
	Key string `json:"key"`
}

// KeyError explains why a key did not verify.
type KeyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// KeyVerification is the result of VerifyAPIKey. When Valid is false, Error
// is set and Key is nil.
type KeyVerification struct {
	Valid bool      `json:"valid"`
	Error *KeyError `json:"error,omitempty"`
	Key   *APIKey   `json:"key,omitempty"`
}

func invalidKey(code, message string) *KeyVerification {
	return &KeyVerification{Error: &KeyError{Code: code, Message: message}}
}

// CreateAPIKey issues a new key for userID. A zero expiresIn means the key
// never expires.
func (s *Service) CreateAPIKey(ctx context.Context, userID, name string, permissions map[string][]string, expiresIn time.Duration) (*CreatedAPIKey, error) {
	user, err := s.db.GetIdentityUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	secret, err := generateToken()
	if err != nil {
		return nil, err
	}
	raw := s.cfg.APIKeyPrefix + secret

	row := &db.IdentityAPIKey{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        strings.TrimSpace(name),
		Prefix:      s.cfg.APIKeyPrefix,
		Start:       keyStart(s.cfg.APIKeyPrefix, raw),
		KeyHash:     hashToken(raw),
		Permissions: clonePermissions(permissions),
		Enabled:     true,
	}
	if expiresIn > 0 {
		exp := s.now().Add(expiresIn)
		row.ExpiresAt = &exp
	}

	if err := s.db.CreateAPIKey(ctx, row); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}

	slog.Info("api key created", "key_id", row.ID, "user_id", userID)
	return &CreatedAPIKey{APIKey: *apiKeyFromRow(row), Key: raw}, nil
}

// VerifyAPIKey checks a raw key. A nil error with Valid=false means the key
// was rejected; a non-nil error means the provider itself failed.
func (s *Service) VerifyAPIKey(ctx context.Context, key string) (*KeyVerification, error) {
	if key == "" {
		return invalidKey(CodeKeyNotFound, "API key not found"), nil
	}

	row, err := s.db.GetAPIKeyByHash(ctx, hashToken(key))
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if row == nil {
		return invalidKey(CodeKeyNotFound, "API key not found"), nil
	}
	if !row.Enabled {
		return invalidKey(CodeKeyDisabled, "API key is disabled"), nil
	}

	now := s.now()
	if row.ExpiresAt != nil && !now.Before(*row.ExpiresAt) {
		return invalidKey(CodeKeyExpired, "API key has expired"), nil
	}
	if !s.limiter.Allow(row.ID, now) {
		return invalidKey(CodeRateLimited, "Rate limit exceeded"), nil
	}

	if err := s.db.TouchAPIKey(ctx, row.ID, now); err != nil {
		return nil, fmt.Errorf("update api key usage: %w", err)
	}
	row.LastUsedAt = &now
	row.RequestCount++

	return &KeyVerification{Valid: true, Key: apiKeyFromRow(row)}, nil
}

// ListAPIKeys returns a user's keys without their secrets.
func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]APIKey, error) {
	rows, err := s.db.ListAPIKeysByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	keys := make([]APIKey, 0, len(rows))
	for i := range rows {
		keys = append(keys, *apiKeyFromRow(&rows[i]))
	}
	return keys, nil
}

// RevokeAPIKey deletes a key owned by userID.
func (s *Service) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	err := s.db.DeleteAPIKey(ctx, userID, keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	s.limiter.Forget(keyID)
	slog.Info("api key revoked", "key_id", keyID, "user_id", userID)
	return nil
}

// SetAPIKeyEnabled toggles a key owned by userID without deleting it.
func (s *Service) SetAPIKeyEnabled(ctx context.Context, userID, keyID string, enabled bool) error {
	err := s.db.SetAPIKeyEnabled(ctx, userID, keyID, enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrKeyNotFound
	}
	return err
}

func clonePermissions(in map[string][]string) db.PermissionMap {
	out := make(db.PermissionMap, len(in))
	for resource, actions := range in {
		out[resource] = append([]string(nil), actions...)
	}
	return out
}

func apiKeyFromRow(row *db.IdentityAPIKey) *APIKey {
	return &APIKey{
		ID:           row.ID,
		UserID:       row.UserID,
		Name:         row.Name,
		Prefix:       row.Prefix,
		Start:        row.Start,
		Permissions:  clonePermissions(row.Permissions),
		Enabled:      row.Enabled,
		ExpiresAt:    row.ExpiresAt,
		LastUsedAt:   row.LastUsedAt,
		RequestCount: row.RequestCount,
		CreatedAt:    row.CreatedAt,
	}
}

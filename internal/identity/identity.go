// Package identity is Folio's built-in identity provider. It owns users,
// sessions and API keys, and exposes them through its own native API. The
// CMS core never calls it directly; the "local" auth adapter translates its
// results into the plugins.AuthProvider contract.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/rjsadow/folio/internal/db"
)

// Errors returned by the native API.
var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session expired")
	ErrKeyNotFound        = errors.New("api key not found")
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// Defaults used when Config fields are zero.
const (
	DefaultSessionTTL   = 7 * 24 * time.Hour
	DefaultAPIKeyPrefix = "folio_"
)

// Config controls the provider.
type Config struct {
	SessionTTL time.Duration

	// APIKeyPrefix is prepended to every generated key.
	APIKeyPrefix string

	// APIKeyRateLimit is requests per second allowed per key. Zero disables
	// per-key limiting.
	APIKeyRateLimit float64
	APIKeyBurst     int

	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// User is the provider's user object.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name,omitempty"`
	Image         string    `json:"image,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Session is the provider's session object.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SessionResult is what GetSession and SignIn return.
type SessionResult struct {
	Session Session `json:"session"`
	User    User    `json:"user"`
}

// SignUpHook runs after a user row is created.
type SignUpHook func(ctx context.Context, user *User) error

// Service implements the native API on top of the database.
type Service struct {
	db       *db.DB
	cfg      Config
	limiter  *keyLimiter
	hooksMu  sync.RWMutex
	onSignUp []SignUpHook
}

// NewService creates the provider.
func NewService(database *db.DB, cfg Config) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.APIKeyPrefix == "" {
		cfg.APIKeyPrefix = DefaultAPIKeyPrefix
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		db:      database,
		cfg:     cfg,
		limiter: newKeyLimiter(rate.Limit(cfg.APIKeyRateLimit), cfg.APIKeyBurst),
	}
}

func (s *Service) now() time.Time { return s.cfg.Now().UTC() }

// OnSignUp registers a hook that runs after every successful sign-up.
func (s *Service) OnSignUp(hook SignUpHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onSignUp = append(s.onSignUp, hook)
}

// Healthy reports whether the backing database answers.
func (s *Service) Healthy(ctx context.Context) bool {
	return s.db.Ping(ctx) == nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// SignUp creates a user with a bcrypt-hashed password and runs the sign-up
// hooks. Hook failures are logged; the user is still created.
func (s *Service) SignUp(ctx context.Context, email, password, name string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	existing, err := s.db.GetIdentityUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	row := &db.IdentityUser{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: string(hash),
	}
	if err := s.db.CreateIdentityUser(ctx, row); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	user := userFromRow(row)

	s.hooksMu.RLock()
	hooks := append([]SignUpHook(nil), s.onSignUp...)
	s.hooksMu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, user); err != nil {
			slog.Error("sign-up hook failed", "user_id", user.ID, "error", err)
		}
	}

	slog.Info("user signed up", "user_id", user.ID)
	return user, nil
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	row, err := s.db.GetIdentityUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrUserNotFound
	}
	return userFromRow(row), nil
}

// GetUserByEmail returns a user by e-mail address.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	row, err := s.db.GetIdentityUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrUserNotFound
	}
	return userFromRow(row), nil
}

type clientInfoKey struct{}

type clientInfo struct {
	ip        string
	userAgent string
}

// WithClientInfo attaches the caller's address and user agent to ctx so
// SignIn can record them on the session.
func WithClientInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, clientInfo{ip: ip, userAgent: userAgent})
}

// SignIn checks the password and opens a session. The returned token is the
// only copy of the raw credential; the database keeps its hash.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, *SessionResult, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}

	row, err := s.db.GetIdentityUserByEmail(ctx, email)
	if err != nil {
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}
	if row == nil || row.PasswordHash == "" {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := generateToken()
	if err != nil {
		return "", nil, err
	}

	info, _ := ctx.Value(clientInfoKey{}).(clientInfo)
	now := s.now()
	session := &db.IdentitySession{
		ID:        uuid.NewString(),
		UserID:    row.ID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.cfg.SessionTTL),
		IPAddress: info.ip,
		UserAgent: info.userAgent,
	}
	if err := s.db.CreateIdentitySession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("create session: %w", err)
	}

	return token, &SessionResult{Session: sessionFromRow(session), User: *userFromRow(row)}, nil
}

// GetSession resolves a raw session token. Expired sessions are deleted on
// sight.
func (s *Service) GetSession(ctx context.Context, token string) (*SessionResult, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	row, err := s.db.GetIdentitySessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if row == nil {
		return nil, ErrSessionNotFound
	}

	if !s.now().Before(row.ExpiresAt) {
		if err := s.db.DeleteIdentitySession(ctx, row.ID); err != nil {
			slog.Debug("failed to delete expired session", "session_id", row.ID, "error", err)
		}
		return nil, ErrSessionExpired
	}

	user, err := s.db.GetIdentityUser(ctx, row.UserID)
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return nil, ErrSessionNotFound
	}

	return &SessionResult{Session: sessionFromRow(row), User: *userFromRow(user)}, nil
}

// SignOut ends the session identified by token.
func (s *Service) SignOut(ctx context.Context, token string) error {
	row, err := s.db.GetIdentitySessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if row == nil {
		return ErrSessionNotFound
	}
	if err := s.db.DeleteIdentitySession(ctx, row.ID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListUsers returns every account, newest first.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.ListIdentityUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]User, 0, len(rows))
	for i := range rows {
		users = append(users, *userFromRow(&rows[i]))
	}
	return users, nil
}

// ListSessions returns the unexpired sessions of a user.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	rows, err := s.db.ListIdentitySessionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sessions := make([]Session, 0, len(rows))
	for i := range rows {
		if rows[i].ExpiresAt.After(now) {
			sessions = append(sessions, sessionFromRow(&rows[i]))
		}
	}
	return sessions, nil
}

// RevokeUserSessions ends every session of a user.
func (s *Service) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	return s.db.DeleteIdentitySessionsByUser(ctx, userID)
}

// StartCleanup periodically deletes expired sessions and idle rate limiters
// until ctx is cancelled.
func (s *Service) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup(ctx)
			}
		}
	}()
}

func (s *Service) cleanup(ctx context.Context) {
	now := s.now()
	n, err := s.db.DeleteExpiredIdentitySessions(ctx, now)
	if err != nil {
		slog.Warn("session cleanup failed", "error", err)
	} else if n > 0 {
		slog.Info("removed expired sessions", "count", n)
	}
	s.limiter.sweep(now)
}

func userFromRow(row *db.IdentityUser) *User {
	return &User{
		ID:            row.ID,
		Email:         row.Email,
		Name:          row.Name,
		Image:         row.Image,
		EmailVerified: row.EmailVerified,
		CreatedAt:     row.CreatedAt,
	}
}

func sessionFromRow(row *db.IdentitySession) Session {
	return Session{
		ID:        row.ID,
		UserID:    row.UserID,
		ExpiresAt: row.ExpiresAt,
		IPAddress: row.IPAddress,
		UserAgent: row.UserAgent,
		CreatedAt: row.CreatedAt,
	}
}

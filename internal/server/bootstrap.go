package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/plugins"
)

// ProfileOnSignUp returns a sign-up hook that inserts a profile with the
// default role for every new user. A profile that already exists is kept.
func ProfileOnSignUp(store plugins.ProfileStore) identity.SignUpHook {
	return func(ctx context.Context, user *identity.User) error {
		err := store.CreateProfile(ctx, &plugins.UserProfile{
			UserID: user.ID,
			Role:   plugins.DefaultRole,
		})
		if errors.Is(err, plugins.ErrResourceExists) {
			return nil
		}
		return err
	}
}

// SeedAdmin makes sure a local account with the given credentials exists and
// that its profile has the admin role. An existing account keeps its
// password.
func SeedAdmin(ctx context.Context, svc *identity.Service, store plugins.ProfileStore, email, password string) (*identity.User, error) {
	user, err := svc.GetUserByEmail(ctx, email)
	if errors.Is(err, identity.ErrUserNotFound) {
		user, err = svc.SignUp(ctx, email, password, "Administrator")
		if err == nil {
			slog.Info("created admin account", "email", user.Email)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}

	profile, err := store.EnsureProfile(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("seed admin profile: %w", err)
	}
	if profile.Role != plugins.RoleAdmin {
		if err := store.UpdateRole(ctx, user.ID, plugins.RoleAdmin); err != nil {
			return nil, fmt.Errorf("seed admin role: %w", err)
		}
	}
	return user, nil
}

package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/rjsadow/folio/internal/db/dbtest"
	"github.com/rjsadow/folio/internal/plugins"
)

// stores returns each ProfileStore implementation, initialized and empty.
func stores(t *testing.T) map[string]plugins.ProfileStore {
	t.Helper()
	result := map[string]plugins.ProfileStore{
		"memory":   NewMemoryStorage(),
		"database": NewDatabaseStorage(dbtest.NewTestDB(t)),
	}
	for name, s := range result {
		if err := s.Initialize(context.Background(), map[string]string{}); err != nil {
			t.Fatalf("%s: Initialize() error = %v", name, err)
		}
		if !s.Healthy(context.Background()) {
			t.Fatalf("%s: expected healthy store", name)
		}
	}
	return result
}

func TestProfileStore_CreateAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			profile := &plugins.UserProfile{UserID: "u1", Preferences: map[string]any{"theme": "dark"}}
			if err := s.CreateProfile(ctx, profile); err != nil {
				t.Fatalf("CreateProfile() error = %v", err)
			}
			if profile.Role != plugins.DefaultRole {
				t.Errorf("Role = %q, want default %q", profile.Role, plugins.DefaultRole)
			}
			if profile.CreatedAt.IsZero() {
				t.Error("expected CreatedAt to be set")
			}

			// Create duplicate should fail
			if err := s.CreateProfile(ctx, &plugins.UserProfile{UserID: "u1", Role: plugins.RoleAdmin}); !errors.Is(err, plugins.ErrResourceExists) {
				t.Errorf("expected ErrResourceExists, got %v", err)
			}

			got, err := s.GetProfile(ctx, "u1")
			if err != nil {
				t.Fatalf("GetProfile() error = %v", err)
			}
			if got == nil {
				t.Fatal("profile not found")
			}
			if got.Role != plugins.RoleEditor {
				t.Errorf("Role = %q, want editor", got.Role)
			}
			if got.Preferences["theme"] != "dark" {
				t.Errorf("Preferences = %v", got.Preferences)
			}

			// Get non-existent
			missing, err := s.GetProfile(ctx, "nobody")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if missing != nil {
				t.Error("expected nil for non-existent profile")
			}
		})
	}
}

func TestProfileStore_InvalidRole(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.CreateProfile(ctx, &plugins.UserProfile{UserID: "u1", Role: "owner"})
			if !errors.Is(err, ErrInvalidRole) {
				t.Errorf("CreateProfile() error = %v, want ErrInvalidRole", err)
			}
			if _, err := s.EnsureProfile(ctx, "u1"); err != nil {
				t.Fatal(err)
			}
			if err := s.UpdateRole(ctx, "u1", "root"); !errors.Is(err, ErrInvalidRole) {
				t.Errorf("UpdateRole() error = %v, want ErrInvalidRole", err)
			}
		})
	}
}

func TestProfileStore_EnsureProfile(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := s.EnsureProfile(ctx, "u2")
			if err != nil {
				t.Fatalf("EnsureProfile() error = %v", err)
			}
			if first.Role != plugins.DefaultRole || first.Preferences == nil {
				t.Errorf("first = %+v", first)
			}

			if err := s.UpdateRole(ctx, "u2", plugins.RoleViewer); err != nil {
				t.Fatal(err)
			}
			second, err := s.EnsureProfile(ctx, "u2")
			if err != nil {
				t.Fatal(err)
			}
			if second.Role != plugins.RoleViewer {
				t.Errorf("EnsureProfile overwrote role: %q", second.Role)
			}
		})
	}
}

func TestProfileStore_Updates(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := s.CreateProfile(ctx, &plugins.UserProfile{UserID: "u3"}); err != nil {
				t.Fatal(err)
			}

			if err := s.UpdateRole(ctx, "u3", plugins.RoleAdmin); err != nil {
				t.Fatalf("UpdateRole() error = %v", err)
			}
			prefs := map[string]any{"locale": "fr", "pageSize": float64(25)}
			if err := s.UpdatePreferences(ctx, "u3", prefs); err != nil {
				t.Fatalf("UpdatePreferences() error = %v", err)
			}
			prefs["locale"] = "mutated"

			got, _ := s.GetProfile(ctx, "u3")
			if got.Role != plugins.RoleAdmin {
				t.Errorf("Role = %q, want admin", got.Role)
			}
			if got.Preferences["locale"] != "fr" || got.Preferences["pageSize"] != float64(25) {
				t.Errorf("Preferences = %v", got.Preferences)
			}

			if err := s.UpdateRole(ctx, "missing", plugins.RoleAdmin); !errors.Is(err, plugins.ErrResourceNotFound) {
				t.Errorf("UpdateRole(missing) error = %v", err)
			}
			if err := s.UpdatePreferences(ctx, "missing", nil); !errors.Is(err, plugins.ErrResourceNotFound) {
				t.Errorf("UpdatePreferences(missing) error = %v", err)
			}
		})
	}
}

func TestProfileStore_ListAndDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				if err := s.CreateProfile(ctx, &plugins.UserProfile{UserID: id}); err != nil {
					t.Fatal(err)
				}
			}

			list, err := s.ListProfiles(ctx)
			if err != nil {
				t.Fatalf("ListProfiles() error = %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("len = %d, want 3", len(list))
			}

			if err := s.DeleteProfile(ctx, "b"); err != nil {
				t.Fatalf("DeleteProfile() error = %v", err)
			}
			if err := s.DeleteProfile(ctx, "b"); !errors.Is(err, plugins.ErrResourceNotFound) {
				t.Errorf("second DeleteProfile() error = %v", err)
			}
			list, _ = s.ListProfiles(ctx)
			if len(list) != 2 {
				t.Errorf("len = %d, want 2", len(list))
			}
		})
	}
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	if err := s.CreateProfile(ctx, &plugins.UserProfile{UserID: "u1"}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetProfile(ctx, "u1")
	got.Role = plugins.RoleAdmin
	got.Preferences["x"] = 1

	again, _ := s.GetProfile(ctx, "u1")
	if again.Role != plugins.RoleEditor || len(again.Preferences) != 0 {
		t.Errorf("stored profile was mutated: %+v", again)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if p, _ := s.GetProfile(ctx, "u1"); p != nil {
		t.Error("Close should clear profiles")
	}
}

func TestDatabaseStorage_RequiresDB(t *testing.T) {
	s := NewDatabaseStorage(nil)
	if err := s.Initialize(context.Background(), nil); !errors.Is(err, plugins.ErrInvalidConfig) {
		t.Errorf("Initialize() error = %v, want ErrInvalidConfig", err)
	}
	if s.Healthy(context.Background()) {
		t.Error("store without db should be unhealthy")
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/plugins"
	"github.com/rjsadow/folio/internal/server"
)

// userView is a user together with its role.
type userView struct {
	identity.User
	Role plugins.Role `json:"role"`
}

func userTable(views ...userView) *table {
	t := &table{header: []string{"ID", "EMAIL", "NAME", "ROLE", "CREATED"}}
	for _, v := range views {
		t.add(v.ID, v.Email, orDash(v.Name), string(v.Role), v.CreatedAt.Format(time.RFC3339))
	}
	return t
}

// lookupUser resolves an email to a user, with a readable error when absent.
func lookupUser(ctx context.Context, b *backend, email string) (*identity.User, error) {
	user, err := b.identity.GetUserByEmail(ctx, email)
	if errors.Is(err, identity.ErrUserNotFound) {
		return nil, fmt.Errorf("no user with email %q", email)
	}
	return user, err
}

func newUserCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage local accounts",
	}

	var (
		password string
		name     string
		admin    bool
	)
	create := &cobra.Command{
		Use:   "create EMAIL",
		Short: "Create a local account",
		Long: `Create a local account with an email and password. The account gets
the editor role unless --admin is given. With --admin an existing account is
promoted instead of failing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				var (
					user *identity.User
					err  error
				)
				if admin {
					user, err = server.SeedAdmin(ctx, b.identity, b.profiles, args[0], password)
				} else {
					user, err = b.identity.SignUp(ctx, args[0], password, name)
				}
				if err != nil {
					return err
				}

				profile, err := b.profiles.EnsureProfile(ctx, user.ID)
				if err != nil {
					return err
				}
				view := userView{User: *user, Role: profile.Role}
				return c.print(view, userTable(view))
			})
		},
	}
	create.Flags().StringVar(&password, "password", "", "Account password (at least 8 characters)")
	create.Flags().StringVar(&name, "name", "", "Display name")
	create.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	_ = create.MarkFlagRequired("password")

	get := &cobra.Command{
		Use:   "get EMAIL",
		Short: "Show an account and its role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				user, err := lookupUser(ctx, b, args[0])
				if err != nil {
					return err
				}
				view := userView{User: *user}
				profile, err := b.profiles.GetProfile(ctx, user.ID)
				if err != nil {
					return err
				}
				if profile != nil {
					view.Role = profile.Role
				}
				return c.print(view, userTable(view))
			})
		},
	}

	signOut := &cobra.Command{
		Use:   "sign-out EMAIL",
		Short: "Revoke every session of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				user, err := lookupUser(ctx, b, args[0])
				if err != nil {
					return err
				}
				n, err := b.identity.RevokeUserSessions(ctx, user.ID)
				if err != nil {
					return err
				}
				result := map[string]any{"userId": user.ID, "revoked": n}
				t := &table{header: []string{"USER", "REVOKED"}}
				t.add(user.ID, fmt.Sprint(n))
				return c.print(result, t)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				users, err := b.identity.ListUsers(ctx)
				if err != nil {
					return err
				}
				views := make([]userView, 0, len(users))
				for _, u := range users {
					view := userView{User: u}
					profile, err := b.profiles.GetProfile(ctx, u.ID)
					if err != nil {
						return err
					}
					if profile != nil {
						view.Role = profile.Role
					}
					views = append(views, view)
				}
				return c.print(views, userTable(views...))
			})
		},
	}

	sessions := &cobra.Command{
		Use:   "sessions EMAIL",
		Short: "List the active sessions of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				user, err := lookupUser(ctx, b, args[0])
				if err != nil {
					return err
				}
				active, err := b.identity.ListSessions(ctx, user.ID)
				if err != nil {
					return err
				}
				t := &table{header: []string{"ID", "EXPIRES", "IP", "USER AGENT"}}
				for _, s := range active {
					t.add(s.ID, s.ExpiresAt.Format(time.RFC3339), orDash(s.IPAddress), orDash(s.UserAgent))
				}
				return c.print(active, t)
			})
		},
	}

	cmd.AddCommand(create, get, list, sessions, signOut)
	return cmd
}

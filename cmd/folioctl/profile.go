package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjsadow/folio/internal/db"
	"github.com/rjsadow/folio/internal/plugins"
)

func profileTable(profiles ...*plugins.UserProfile) *table {
	t := &table{header: []string{"USER", "ROLE", "PREFERENCES", "UPDATED"}}
	for _, p := range profiles {
		t.add(p.UserID, string(p.Role), fmt.Sprint(len(p.Preferences)), p.UpdatedAt.Format(time.RFC3339))
	}
	return t
}

func newProfileCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect and change user profiles",
	}

	get := &cobra.Command{
		Use:   "get EMAIL",
		Short: "Show the profile of an account, creating it if missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				user, err := lookupUser(ctx, b, args[0])
				if err != nil {
					return err
				}
				profile, err := b.profiles.EnsureProfile(ctx, user.ID)
				if err != nil {
					return err
				}
				return c.print(profile, profileTable(profile))
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				profiles, err := b.profiles.ListProfiles(ctx)
				if err != nil {
					return err
				}
				sort.Slice(profiles, func(i, j int) bool {
					return profiles[i].CreatedAt.Before(profiles[j].CreatedAt)
				})
				return c.print(profiles, profileTable(profiles...))
			})
		},
	}

	setRole := &cobra.Command{
		Use:   "set-role EMAIL ROLE",
		Short: "Change the role of an account (admin, editor or viewer)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := plugins.Role(args[1])
			if !role.Valid() {
				return fmt.Errorf("invalid role %q (valid: admin, editor, viewer)", args[1])
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				user, err := lookupUser(ctx, b, args[0])
				if err != nil {
					return err
				}
				if _, err := b.profiles.EnsureProfile(ctx, user.ID); err != nil {
					return err
				}
				err = b.profiles.UpdateRole(ctx, user.ID, role)
				if errors.Is(err, plugins.ErrResourceNotFound) {
					return fmt.Errorf("no profile for %s", user.Email)
				}
				if err != nil {
					return err
				}

				details := fmt.Sprintf("user=%s role=%s", user.ID, role)
				if err := b.db.LogAudit(ctx, auditActor, db.AuditProfileRoleChange, details); err != nil {
					return err
				}

				profile, err := b.profiles.GetProfile(ctx, user.ID)
				if err != nil {
					return err
				}
				return c.print(profile, profileTable(profile))
			})
		},
	}

	cmd.AddCommand(get, list, setRole)
	return cmd
}

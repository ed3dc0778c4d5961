package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjsadow/folio/internal/db"
	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/plugins"
	"github.com/rjsadow/folio/internal/plugins/auth"
)

func keyTable(keys ...identity.APIKey) *table {
	t := &table{header: []string{"ID", "NAME", "START", "PERMISSIONS", "ENABLED", "EXPIRES", "LAST USED"}}
	for _, k := range keys {
		t.add(k.ID, k.Name, k.Start+"...",
			strings.Join(k.Permissions[auth.PermissionResource], ","),
			fmt.Sprint(k.Enabled), formatTime(k.ExpiresAt), formatTime(k.LastUsedAt))
	}
	return t
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func parsePermissions(values []string) ([]plugins.Permission, error) {
	perms := make([]plugins.Permission, 0, len(values))
	for _, v := range values {
		p := plugins.Permission(strings.TrimSpace(v))
		if !p.Valid() {
			return nil, fmt.Errorf("unknown permission %q (valid: read, write)", v)
		}
		perms = append(perms, p)
	}
	return perms, nil
}

func newAPIKeyCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "apikey",
		Aliases: []string{"key"},
		Short:   "Manage API keys",
	}

	var (
		name      string
		perms     []string
		expiresIn time.Duration
	)
	create := &cobra.Command{
		Use:   "create EMAIL",
		Short: "Issue an API key for an account",
		Long: `Issue an API key owned by the account. The raw key is printed once and
cannot be recovered afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			granted, err := parsePermissions(perms)
			if err != nil {
				return err
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				user, err := lookupUser(ctx, b, args[0])
				if err != nil {
					return err
				}
				created, err := b.identity.CreateAPIKey(ctx, user.ID, name, auth.NativePermissions(granted...), expiresIn)
				if err != nil {
					return err
				}
				details := fmt.Sprintf("key=%s user=%s", created.ID, user.ID)
				if err := b.db.LogAudit(ctx, auditActor, db.AuditAPIKeyCreated, details); err != nil {
					return err
				}
				t := keyTable(created.APIKey)
				t.header = append(t.header, "KEY")
				t.rows[0] = append(t.rows[0], created.Key)
				return c.print(created, t)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "Key name")
	create.Flags().StringSliceVar(&perms, "permissions", []string{string(plugins.PermissionRead)}, "Granted permissions (read, write)")
	create.Flags().DurationVar(&expiresIn, "expires-in", 0, "Lifetime of the key; 0 never expires")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list EMAIL",
		Short: "List the API keys of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				user, err := lookupUser(ctx, b, args[0])
				if err != nil {
					return err
				}
				keys, err := b.identity.ListAPIKeys(ctx, user.ID)
				if err != nil {
					return err
				}
				return c.print(keys, keyTable(keys...))
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke EMAIL KEY_ID",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				user, err := lookupUser(ctx, b, args[0])
				if err != nil {
					return err
				}
				err = b.identity.RevokeAPIKey(ctx, user.ID, args[1])
				if errors.Is(err, identity.ErrKeyNotFound) {
					return fmt.Errorf("no key %q for %s", args[1], user.Email)
				}
				if err != nil {
					return err
				}
				details := fmt.Sprintf("key=%s user=%s", args[1], user.ID)
				if err := b.db.LogAudit(ctx, auditActor, db.AuditAPIKeyRevoked, details); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "revoked key %s\n", args[1])
				return nil
			})
		},
	}

	setEnabled := func(use, short string, enabled bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " EMAIL KEY_ID",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
					user, err := lookupUser(ctx, b, args[0])
					if err != nil {
						return err
					}
					if err := b.identity.SetAPIKeyEnabled(ctx, user.ID, args[1], enabled); err != nil {
						return err
					}
					fmt.Fprintf(c.out, "%sd key %s\n", use, args[1])
					return nil
				})
			},
		}
	}

	cmd.AddCommand(create, list, revoke,
		setEnabled("disable", "Stop an API key from verifying", false),
		setEnabled("enable", "Allow a disabled API key to verify again", true),
	)
	return cmd
}

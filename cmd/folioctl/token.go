package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjsadow/folio/internal/plugins"
	"github.com/rjsadow/folio/internal/plugins/auth"
)

func newTokenCmd(c *cli) *cobra.Command {
	var (
		secret string
		expiry time.Duration
		issuer string
	)

	cmd := &cobra.Command{
		Use:   "token EMAIL",
		Short: "Mint a session token for the jwt provider",
		Long: `Mint a signed session token for an existing account, for deployments
that run with FOLIO_AUTH_PROVIDER=jwt. The secret defaults to FOLIO_JWT_SECRET.
Tokens cannot be revoked before they expire.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("FOLIO_JWT_SECRET")
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				user, err := lookupUser(ctx, b, args[0])
				if err != nil {
					return err
				}

				provider := auth.NewJWTAuthProvider(b.identity)
				settings := map[string]string{"jwt_secret": secret, "issuer": issuer}
				if expiry > 0 {
					settings["session_expiry"] = expiry.String()
				}
				if err := provider.Initialize(ctx, settings); err != nil {
					return err
				}
				defer provider.Close()

				token, expiresAt, err := provider.IssueSession(plugins.SessionUser{
					ID:    user.ID,
					Email: user.Email,
					Name:  user.Name,
					Image: user.Image,
				})
				if err != nil {
					return err
				}

				result := map[string]any{"token": token, "expiresAt": expiresAt, "userId": user.ID}
				t := &table{header: []string{"USER", "EXPIRES", "TOKEN"}}
				t.add(user.ID, expiresAt.Format(time.RFC3339), token)
				return c.print(result, t)
			})
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (default $FOLIO_JWT_SECRET)")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "Token lifetime (default the provider's)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "Issuer claim")
	return cmd
}

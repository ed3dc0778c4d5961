// Command folioctl administers a Folio database directly: it creates
// accounts, manages API keys and roles, and reads the audit log without
// going through the HTTP server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rjsadow/folio/internal/config"
	"github.com/rjsadow/folio/internal/db"
	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/plugins/storage"
	"github.com/rjsadow/folio/internal/server"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// auditActor is recorded as the actor of changes made from the command line.
const auditActor = "folioctl"

// cli holds the global flags shared by every subcommand.
type cli struct {
	dbType string
	dsn    string
	output string
	out    io.Writer

	// identity matches the server's key prefix and session lifetime
	identity identity.Config
}

// backend is an open database with the services folioctl works through.
type backend struct {
	db       *db.DB
	identity *identity.Service
	profiles *storage.DatabaseStorage
}

func (b *backend) Close() error {
	return b.db.Close()
}

func (c *cli) open(ctx context.Context) (*backend, error) {
	database, err := db.OpenDB(c.dbType, c.dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	profiles := storage.NewDatabaseStorage(database)
	if err := profiles.Initialize(ctx, nil); err != nil {
		database.Close()
		return nil, err
	}

	svc := identity.NewService(database, c.identity)
	svc.OnSignUp(server.ProfileOnSignUp(profiles))

	return &backend{db: database, identity: svc, profiles: profiles}, nil
}

// withBackend opens the database for the duration of fn.
func (c *cli) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b *backend) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	defType, defDSN := config.DefaultDBType, config.DefaultDBPath
	if cfg, err := config.Load(); err == nil {
		defType, defDSN = cfg.DBType, cfg.DSN()
		c.identity = identity.Config{
			SessionTTL:   cfg.SessionTTL,
			APIKeyPrefix: cfg.APIKeyPrefix,
		}
	}

	root := &cobra.Command{
		Use:           "folioctl",
		Short:         "Administer a Folio database",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch c.output {
			case outputTable, outputJSON, outputYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (valid: table, json, yaml)", c.output)
			}
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&c.dbType, "db-type", defType, "Database type: sqlite or postgres")
	flags.StringVar(&c.dsn, "dsn", defDSN, "Database DSN (file path for sqlite, connection string for postgres)")
	flags.StringVarP(&c.output, "output", "o", outputTable, "Output format: table, json or yaml")

	root.AddCommand(
		newUserCmd(c),
		newAPIKeyCmd(c),
		newProfileCmd(c),
		newAuditCmd(c),
		newTokenCmd(c),
	)
	return root
}

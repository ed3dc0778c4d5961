package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjsadow/folio/internal/db"
)

func newAuditCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit log",
	}

	var (
		filter db.AuditLogFilter
		since  time.Duration
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since > 0 {
				filter.From = time.Now().Add(-since)
			}
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				page, err := b.db.QueryAuditLogs(ctx, filter)
				if err != nil {
					return err
				}
				t := &table{header: []string{"ID", "TIME", "ACTOR", "ACTION", "DETAILS"}}
				for _, l := range page.Logs {
					t.add(fmt.Sprint(l.ID), l.Timestamp.Format(time.RFC3339), orDash(l.Actor), l.Action, orDash(l.Details))
				}
				return c.print(page, t)
			})
		},
	}
	list.Flags().StringVar(&filter.Actor, "actor", "", "Only entries by this actor")
	list.Flags().StringVar(&filter.Action, "action", "", "Only entries with this action")
	list.Flags().DurationVar(&since, "since", 0, "Only entries newer than this")
	list.Flags().IntVar(&filter.Limit, "limit", 50, "Maximum number of entries")
	list.Flags().IntVar(&filter.Offset, "offset", 0, "Entries to skip")

	actions := &cobra.Command{
		Use:   "actions",
		Short: "List the distinct actions recorded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withBackend(cmd, func(ctx context.Context, b *backend) error {
				names, err := b.db.GetAuditLogActions(ctx)
				if err != nil {
					return err
				}
				t := &table{header: []string{"ACTION"}}
				for _, n := range names {
					t.add(n)
				}
				return c.print(names, t)
			})
		},
	}

	cmd.AddCommand(list, actions)
	return cmd
}

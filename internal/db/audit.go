package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rjsadow/folio/internal/plugins"
)

// Audit actions written by the server and the auth adapters.
const (
	AuditSignUp            = "AUTH_SIGN_UP"
	AuditSignIn            = "AUTH_SIGN_IN"
	AuditSignOut           = "AUTH_SIGN_OUT"
	AuditInvalidSession    = "AUTH_INVALID_SESSION"
	AuditInvalidAPIKey     = "AUTH_INVALID_API_KEY"
	AuditAPIKeyCreated     = "API_KEY_CREATED"
	AuditAPIKeyRevoked     = "API_KEY_REVOKED"
	AuditProfileRoleChange = "PROFILE_ROLE_CHANGED"
	AuditContentCreated    = "CONTENT_CREATED"
)

// LogAudit creates an audit log entry
func (db *DB) LogAudit(ctx context.Context, actor, action, details string) error {
	entry := AuditLog{
		Timestamp: nowUTC(),
		Actor:     actor,
		Action:    action,
		Details:   details,
	}
	_, err := db.bun.NewInsert().Model(&entry).Exec(ctx)
	return err
}

// AuditLogFilter holds query parameters for filtering audit logs
type AuditLogFilter struct {
	Actor  string
	Action string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// AuditLogPage holds a page of audit log results with total count
type AuditLogPage struct {
	Logs  []AuditLog `json:"logs"`
	Total int        `json:"total"`
}

// QueryAuditLogs returns audit logs matching the given filter with pagination
func (db *DB) QueryAuditLogs(ctx context.Context, filter AuditLogFilter) (*AuditLogPage, error) {
	q := db.bun.NewSelect().Model((*AuditLog)(nil))

	if filter.Actor != "" {
		q = q.Where("actor = ?", filter.Actor)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if !filter.From.IsZero() {
		q = q.Where("timestamp >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("timestamp <= ?", filter.To.UTC())
	}

	total, err := q.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	// Apply pagination defaults
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := max(filter.Offset, 0)

	var logs []AuditLog
	err = q.OrderExpr("timestamp DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx, &logs)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	return &AuditLogPage{Logs: logs, Total: total}, nil
}

// GetAuditLogActions returns all distinct action values in the audit log
func (db *DB) GetAuditLogActions(ctx context.Context) ([]string, error) {
	var actions []string
	err := db.bun.NewSelect().Model((*AuditLog)(nil)).
		ColumnExpr("DISTINCT action").
		OrderExpr("action").
		Scan(ctx, &actions)
	return actions, err
}

// AuditRecorder writes rejected credentials to the audit log. It implements
// plugins.FailureRecorder.
type AuditRecorder struct {
	db *DB
}

// NewAuditRecorder returns a FailureRecorder backed by the audit log.
func NewAuditRecorder(database *DB) *AuditRecorder {
	return &AuditRecorder{db: database}
}

var _ plugins.FailureRecorder = (*AuditRecorder)(nil)

// RecordAuthFailure logs the failure. Write errors are logged and dropped so
// the request path is never affected.
func (r *AuditRecorder) RecordAuthFailure(ctx context.Context, kind plugins.CredentialKind, reason string) {
	action := AuditInvalidSession
	if kind == plugins.CredentialAPIKey {
		action = AuditInvalidAPIKey
	}
	if err := r.db.LogAudit(context.WithoutCancel(ctx), "", action, reason); err != nil {
		slog.Warn("failed to record auth failure", "kind", kind, "error", err)
	}
}

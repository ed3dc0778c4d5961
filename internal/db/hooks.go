package db

import (
	"context"
	"encoding/json"

	"github.com/uptrace/bun"
)

// DefaultProfileRole is written when a profile row is inserted without a role.
const DefaultProfileRole = "editor"

var _ bun.BeforeAppendModelHook = (*UserProfile)(nil)
var _ bun.AfterScanRowHook = (*UserProfile)(nil)

func (p *UserProfile) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if p.Role == "" {
		p.Role = DefaultProfileRole
	}

	// Marshal Preferences → PreferencesJSON
	p.PreferencesJSON = "{}"
	if len(p.Preferences) > 0 {
		if b, err := json.Marshal(p.Preferences); err == nil {
			p.PreferencesJSON = string(b)
		}
	}

	return nil
}

func (p *UserProfile) AfterScanRow(_ context.Context) error {
	p.Preferences = map[string]any{}
	if p.PreferencesJSON != "" && p.PreferencesJSON != "{}" {
		json.Unmarshal([]byte(p.PreferencesJSON), &p.Preferences)
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*IdentityUser)(nil)

func (u *IdentityUser) BeforeAppendModel(_ context.Context, query bun.Query) error {
	now := nowUTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		u.UpdatedAt = now
	case *bun.UpdateQuery:
		u.UpdatedAt = now
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*IdentityAPIKey)(nil)

func (k *IdentityAPIKey) BeforeAppendModel(_ context.Context, query bun.Query) error {
	if k.Permissions == nil {
		k.Permissions = PermissionMap{}
	}
	now := nowUTC()
	if _, ok := query.(*bun.InsertQuery); ok && k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	k.UpdatedAt = now
	return nil
}

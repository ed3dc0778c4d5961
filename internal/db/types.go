package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// PermissionMap is the identity provider's native permission shape, a map of
// resource to allowed actions (for example {"cms": ["read", "write"]}). It
// serializes to/from a JSON object in the database.
type PermissionMap map[string][]string

// Value implements driver.Valuer for database storage.
func (p PermissionMap) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PermissionMap: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval.
func (p *PermissionMap) Scan(src any) error {
	if src == nil {
		*p = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into PermissionMap", src)
	}

	if len(data) == 0 || string(data) == "{}" {
		*p = PermissionMap{}
		return nil
	}

	m := PermissionMap{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*p = m
	return nil
}

// Allows reports whether action is granted on resource.
func (p PermissionMap) Allows(resource, action string) bool {
	for _, a := range p[resource] {
		if a == action {
			return true
		}
	}
	return false
}

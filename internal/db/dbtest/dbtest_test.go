package dbtest

import (
	"testing"

	"github.com/rjsadow/folio/internal/db"
)

func TestNewTestDB_ReturnsWorkingDatabase(t *testing.T) {
	database := NewTestDB(t)

	if err := database.Ping(t.Context()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	if database.DBType() != testDBType() {
		t.Errorf("DBType() = %q, want %q", database.DBType(), testDBType())
	}
}

func TestNewTestDB_SchemaApplied(t *testing.T) {
	database := NewTestDB(t)

	_, err := database.ExecRaw(
		"INSERT INTO audit_log (actor, action, details) VALUES (?, ?, ?)",
		"dbtest", "CHECK", "ok",
	)
	if err != nil {
		t.Fatalf("failed to insert into audit_log: %v", err)
	}
}

func TestNewTestDB_IsolatedBetweenTests(t *testing.T) {
	database := NewTestDB(t)

	got, err := database.GetProfile(t.Context(), "isolation-check")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if got != nil {
		t.Fatal("fresh database should have no profiles")
	}

	if err := database.CreateProfile(t.Context(), &db.UserProfile{UserID: "isolation-check"}); err != nil {
		t.Fatalf("CreateProfile() error = %v", err)
	}
}

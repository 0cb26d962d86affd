package migrate

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"trade-identity/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	if err := Run("", Up); !errors.Is(err, ErrNoDSN) {
		t.Fatalf("Run with empty DSN: want ErrNoDSN, got %v", err)
	}
	if _, _, err := Version(""); !errors.Is(err, ErrNoDSN) {
		t.Fatalf("Version with empty DSN: want ErrNoDSN, got %v", err)
	}
}

func TestParseDirection(t *testing.T) {
	testCases := []struct {
		in   string
		want Direction
		err  bool
	}{
		{"up", Up, false},
		{"down", Down, false},
		{"", "", true},
		{"UP", "", true},
		{"sideways", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDirection(tc.in)
			if tc.err {
				if err == nil {
					t.Errorf("ParseDirection(%q) should fail", tc.in)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Errorf("ParseDirection(%q) = %q, %v", tc.in, got, err)
			}
		})
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	if err := Run("postgres://localhost/test", Direction("both")); err == nil {
		t.Error("Run with invalid direction should return error")
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	for _, dsn := range []string{"invalid-dsn", "://localhost/test"} {
		if err := Run(dsn, Up); err == nil {
			t.Errorf("Run with invalid DSN %q should return error", dsn)
		}
	}
}

func TestMigrations_PairedAndPolicyBearing(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}

	rls, err := fs.ReadFile(db.MigrationFS, "migrations/000002_row_level_security.up.sql")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, table := range []string{"users", "memberships", "refresh_tokens", "audit_logs", "password_reset_tokens", "email_verification_tokens"} {
		if !strings.Contains(string(rls), "ALTER TABLE "+table+" FORCE ROW LEVEL SECURITY") {
			t.Errorf("table %s is not forced under row level security", table)
		}
	}
}

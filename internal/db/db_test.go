package db

import (
	"strings"
	"testing"
)

func TestDetectDialectFromDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost/ledger":     DialectPostgres,
		"host=localhost user=u dbname=ledger": DialectPostgres,
		"file:ledger.db":                      DialectSQLite,
		"sqlite://data/ledger.db":             DialectSQLite,
		"data/ledger.db":                      DialectSQLite,
	}
	for dsn, want := range cases {
		got, err := detectDialectFromDSN(dsn)
		if err != nil {
			t.Fatalf("detect %q: %v", dsn, err)
		}
		if got != want {
			t.Fatalf("detect %q = %s, want %s", dsn, got, want)
		}
	}
	if _, err := detectDialectFromDSN("mysql://x"); err == nil {
		t.Fatalf("expected error for mysql dsn")
	}
}

func TestEnsureSQLiteParamsKeepsExisting(t *testing.T) {
	out := ensureSQLiteParams("file:ledger.db?_busy_timeout=100")
	if strings.Count(out, "_busy_timeout") != 1 {
		t.Fatalf("busy timeout duplicated: %s", out)
	}
	for _, key := range []string{"_journal_mode=WAL", "_foreign_keys=on", "_synchronous=NORMAL"} {
		if !strings.Contains(out, key) {
			t.Fatalf("missing %s in %s", key, out)
		}
	}
}

func TestOpenSQLiteFile(t *testing.T) {
	conn, err := Open("sqlite://" + t.TempDir() + "/nested/ledger.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = Close(conn) }()
	if !IsSQLite(conn) {
		t.Fatalf("expected sqlite dialect, got %s", DialectName(conn))
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
}

package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	dbpkg "github.com/router-for-me/CreditLedger/internal/db"
	"gorm.io/gorm"
)

func openSettingsDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:settings_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), dbpkg.GormConfig())
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })
	return conn
}

func TestDBConfigParsers(t *testing.T) {
	StoreDBConfig(time.Now(), map[string]json.RawMessage{
		"STR":      json.RawMessage(`" hello "`),
		"WRAPPED":  json.RawMessage(`{"value":"inner"}`),
		"LIST":     json.RawMessage(`["a"," ", "b"]`),
		"SINGLE":   json.RawMessage(`"only"`),
		"INT":      json.RawMessage(`42`),
		"INT_STR":  json.RawMessage(`"17"`),
		"FRACTION": json.RawMessage(`1.5`),
		"BOOL":     json.RawMessage(`false`),
		"BOOL_STR": json.RawMessage(`"yes"`),
		"  ":       json.RawMessage(`"ignored"`),
	})
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })

	if got := DBConfigString("STR"); got != "hello" {
		t.Fatalf("string = %q", got)
	}
	if got := DBConfigString("WRAPPED"); got != "inner" {
		t.Fatalf("wrapped = %q", got)
	}
	if got := DBConfigStrings("LIST"); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("list = %v", got)
	}
	if got := DBConfigStrings("SINGLE"); len(got) != 1 || got[0] != "only" {
		t.Fatalf("single = %v", got)
	}
	if n, ok := DBConfigInt64("INT"); !ok || n != 42 {
		t.Fatalf("int = %d %v", n, ok)
	}
	if n, ok := DBConfigInt64("INT_STR"); !ok || n != 17 {
		t.Fatalf("int string = %d %v", n, ok)
	}
	if _, ok := DBConfigInt64("FRACTION"); ok {
		t.Fatalf("fraction should not parse as int")
	}
	if DBConfigBool("BOOL", true) {
		t.Fatalf("bool should be false")
	}
	if !DBConfigBool("BOOL_STR", false) {
		t.Fatalf("bool string should be true")
	}
	if !DBConfigBool("MISSING", true) {
		t.Fatalf("missing bool should use fallback")
	}
	if _, ok := DBConfigValue("  "); ok {
		t.Fatalf("blank key should not be stored")
	}
}

func TestUpsertSettingRefreshesSnapshot(t *testing.T) {
	conn := openSettingsDB(t)
	ctx := context.Background()

	if errUpsert := UpsertSetting(ctx, conn, FreeMonthlyCreditsKey, json.RawMessage(`25`)); errUpsert != nil {
		t.Fatalf("upsert: %v", errUpsert)
	}
	if n, ok := DBConfigInt64(FreeMonthlyCreditsKey); !ok || n != 25 {
		t.Fatalf("snapshot = %d %v", n, ok)
	}

	if errUpsert := UpsertSetting(ctx, conn, FreeMonthlyCreditsKey, json.RawMessage(`30`)); errUpsert != nil {
		t.Fatalf("second upsert: %v", errUpsert)
	}
	if n, _ := DBConfigInt64(FreeMonthlyCreditsKey); n != 30 {
		t.Fatalf("snapshot after update = %d", n)
	}

	rows, errList := ListSettings(ctx, conn)
	if errList != nil {
		t.Fatalf("list: %v", errList)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if DBConfigUpdatedAt().IsZero() {
		t.Fatalf("updated at should be set")
	}
}

func TestUpsertSettingRejectsBadInput(t *testing.T) {
	conn := openSettingsDB(t)
	ctx := context.Background()

	if errUpsert := UpsertSetting(ctx, conn, " ", json.RawMessage(`1`)); errUpsert == nil {
		t.Fatalf("expected empty key error")
	}
	if errUpsert := UpsertSetting(ctx, conn, SiteNameKey, json.RawMessage(`{bad`)); errUpsert == nil {
		t.Fatalf("expected invalid json error")
	}
	if errUpsert := UpsertSetting(ctx, nil, SiteNameKey, json.RawMessage(`"x"`)); errUpsert == nil {
		t.Fatalf("expected nil db error")
	}
}

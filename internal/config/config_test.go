package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if errWrite := os.WriteFile(path, []byte(body), 0o600); errWrite != nil {
		t.Fatalf("write config: %v", errWrite)
	}
	return path
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
env: production
database:
  dsn: file:test.db
jwt:
  secret: 0123456789abcdef0123
credits:
  free_monthly_credits: 75
  sweep_interval: 15m
  packages:
    - id: starter
      credits: 100
      price: 2
`)
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production env, got %q", cfg.Env)
	}
	if cfg.Redis.URL != "redis://localhost:6379/1" {
		t.Fatalf("redis url = %q", cfg.Redis.URL)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Credits.SweepInterval != 15*time.Minute {
		t.Fatalf("sweep interval = %s", cfg.Credits.SweepInterval)
	}
	if len(cfg.Credits.Packages) != 1 || cfg.Credits.Packages[0].ID != "starter" {
		t.Fatalf("packages = %+v", cfg.Credits.Packages)
	}
	if got := cfg.Credits.MonthlyCredits(); got != 75 {
		t.Fatalf("monthly credits = %d", got)
	}
	if !cfg.RateLimitEnabled() {
		t.Fatalf("rate limit should default on in production")
	}
}

func TestLoadMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:env.db")
	t.Setenv("AUTH_SECRET", "env-secret-long-enough")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != "file:env.db" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if got := cfg.Credits.MonthlyCredits(); got != 50 {
		t.Fatalf("default monthly credits = %d, want 50", got)
	}
	if cfg.Credits.ExpirationYears != 2 {
		t.Fatalf("expiration years = %d", cfg.Credits.ExpirationYears)
	}
	if cfg.RateLimitEnabled() {
		t.Fatalf("rate limit should be off outside production")
	}
	if cfg.Credits.Location() != time.UTC {
		t.Fatalf("location = %s", cfg.Credits.Location())
	}
}

func TestLoadValidationNamesKey(t *testing.T) {
	cases := map[string]string{
		"missing dsn": `
jwt:
  secret: 0123456789abcdef0123
`,
		"short secret": `
database:
  dsn: file:x.db
jwt:
  secret: short
`,
		"duplicate package": `
database:
  dsn: file:x.db
jwt:
  secret: 0123456789abcdef0123
credits:
  packages:
    - {id: a, credits: 1, price: 1}
    - {id: a, credits: 2, price: 2}
`,
		"bad location": `
database:
  dsn: file:x.db
jwt:
  secret: 0123456789abcdef0123
credits:
  refresh_location: Mars/Olympus
`,
	}
	wantKeys := map[string]string{
		"missing dsn":       "database.dsn",
		"short secret":      "jwt.secret",
		"duplicate package": "credits.packages[1].id",
		"bad location":      "credits.refresh_location",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), wantKeys[name]) {
				t.Fatalf("error %q does not name %s", err, wantKeys[name])
			}
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if got := ResolveConfigPath(""); got != DefaultConfigPath {
		t.Fatalf("default path = %q", got)
	}
	t.Setenv(EnvConfigPath, "/etc/ledger/config.yaml")
	if got := ResolveConfigPath(""); got != "/etc/ledger/config.yaml" {
		t.Fatalf("env path = %q", got)
	}
	if got := ResolveConfigPath(" ./local.yaml "); got != "local.yaml" {
		t.Fatalf("explicit path = %q", got)
	}
}

func TestLoadParsesEventsAndCORS(t *testing.T) {
	path := writeConfig(t, `
site_url: https://app.example.com/
database:
  dsn: file:test.db
jwt:
  secret: 0123456789abcdef0123
events:
  topics:
    credits.granted: ledger.grants
`)
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("SITE_URL", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("brokers = %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Events.Topics["credits.granted"] != "ledger.grants" {
		t.Fatalf("topics = %v", cfg.Events.Topics)
	}
	if origins := cfg.AllowedOrigins(); len(origins) != 1 || origins[0] != "https://app.example.com" {
		t.Fatalf("origins = %v", origins)
	}

	t.Setenv("CORS_ORIGINS", "https://a.example.com,https://b.example.com")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if origins := cfg.AllowedOrigins(); len(origins) != 2 {
		t.Fatalf("origins = %v", origins)
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config path resolution.
const (
	// DefaultConfigPath is used when neither a flag nor CONFIG_PATH is provided.
	DefaultConfigPath = "config.yaml"
	// EnvConfigPath names the environment variable holding the config path.
	EnvConfigPath = "CONFIG_PATH"
)

// Environment names.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// AppConfig carries process-level options resolved from flags.
type AppConfig struct {
	ConfigPath  string
	MigrateOnly bool
}

// Config is the resolved runtime configuration.
type Config struct {
	Env      string `yaml:"env"`       // Runtime environment (production enables emails and rate limits).
	SiteURL  string `yaml:"site_url"`  // Public base URL used in email links.
	SiteName string `yaml:"site_name"` // Display name used in emails and TOTP issuer.

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Session   SessionConfig   `yaml:"session"`
	Logging   LoggingConfig   `yaml:"logging"`
	Credits   CreditsConfig   `yaml:"credits"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Email     EmailConfig     `yaml:"email"`
	Captcha   CaptchaConfig   `yaml:"captcha"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Events    EventsConfig    `yaml:"events"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	CookieSecure bool   `yaml:"cookie_secure"`
	// SettingsPollInterval controls how often DB settings written by other
	// instances are reloaded.
	SettingsPollInterval time.Duration `yaml:"settings_poll_interval"`
	// CORSOrigins lists browser origins allowed to call the API with
	// credentials. Empty means SiteURL only.
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds the database DSN (postgres URL or sqlite path).
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig holds the Redis address as a redis:// URL or host:port.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// JWTConfig configures session cookie signing.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// SessionConfig configures server-side sessions.
type SessionConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	CookieName string        `yaml:"cookie_name"`
}

// LoggingConfig configures logrus output and file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// CreditPackage is a purchasable bundle of credits priced in whole dollars.
type CreditPackage struct {
	ID      string `yaml:"id" json:"id"`
	Credits int64  `yaml:"credits" json:"credits"`
	Price   int64  `yaml:"price" json:"price"`
}

// ItemPrice is a catalog entry for items bought with credits.
type ItemPrice struct {
	Type  string `yaml:"type" json:"type"`
	ID    string `yaml:"id" json:"id"`
	Price int64  `yaml:"price" json:"price"`
}

// CreditsConfig configures the credit ledger.
type CreditsConfig struct {
	FreeMonthlyCredits     int64           `yaml:"free_monthly_credits"`
	ExpirationYears        int             `yaml:"expiration_years"`
	Packages               []CreditPackage `yaml:"packages"`
	Items                  []ItemPrice     `yaml:"items"`
	MaxTransactionsPerPage int             `yaml:"max_transactions_per_page"`
	RefreshLocation        string          `yaml:"refresh_location"`
	SweepInterval          time.Duration   `yaml:"sweep_interval"`
	SweepBatchSize         int             `yaml:"sweep_batch_size"`
	ReconcileInterval      time.Duration   `yaml:"reconcile_interval"`
	ReconcileRepair        bool            `yaml:"reconcile_repair"`
}

// StripeConfig configures the payment provider.
type StripeConfig struct {
	SecretKey      string `yaml:"secret_key"`
	PublishableKey string `yaml:"publishable_key"`
	Currency       string `yaml:"currency"`
}

// SMTPConfig configures the SMTP fallback transport.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Security is implicit, starttls or none. Empty means implicit on port
	// 465 and starttls elsewhere.
	Security string `yaml:"security"`
}

// EmailConfig configures outbound email.
type EmailConfig struct {
	From         string     `yaml:"from"`
	FromName     string     `yaml:"from_name"`
	ReplyTo      string     `yaml:"reply_to"`
	ResendAPIKey string     `yaml:"resend_api_key"`
	BrevoAPIKey  string     `yaml:"brevo_api_key"`
	SMTP         SMTPConfig `yaml:"smtp"`
}

// CaptchaConfig configures Cloudflare Turnstile.
type CaptchaConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SiteKey   string `yaml:"site_key"`
	SecretKey string `yaml:"secret_key"`
	VerifyURL string `yaml:"verify_url"`
}

// EventsConfig configures ledger event publishing. Without brokers events
// are only logged.
type EventsConfig struct {
	KafkaBrokers []string          `yaml:"kafka_brokers"`
	Topics       map[string]string `yaml:"topics"`
}

// RateLimitConfig toggles request throttling. Nil Enabled means production only.
type RateLimitConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// Default returns the configuration used before file and environment values apply.
func Default() Config {
	return Config{
		Env:      EnvDevelopment,
		SiteURL:  "http://localhost:8080",
		SiteName: "Credit Ledger",
		Server: ServerConfig{
			Addr:                 ":8080",
			SettingsPollInterval: 30 * time.Second,
		},
		JWT: JWTConfig{
			Expiry: 30 * 24 * time.Hour,
		},
		Session: SessionConfig{
			TTL:        30 * 24 * time.Hour,
			CookieName: "session",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Credits: CreditsConfig{
			ExpirationYears: 2,
			Packages: []CreditPackage{
				{ID: "package-1", Credits: 500, Price: 5},
				{ID: "package-2", Credits: 1200, Price: 10},
				{ID: "package-3", Credits: 3000, Price: 20},
			},
			MaxTransactionsPerPage: 10,
			RefreshLocation:        "UTC",
			SweepInterval:          time.Hour,
			SweepBatchSize:         500,
			ReconcileInterval:      24 * time.Hour,
		},
		Stripe: StripeConfig{
			Currency: "usd",
		},
		Email: EmailConfig{
			SMTP: SMTPConfig{Port: 587},
		},
		Captcha: CaptchaConfig{
			VerifyURL: "https://challenges.cloudflare.com/turnstile/v0/siteverify",
		},
	}
}

// ResolveConfigPath returns the explicit path, CONFIG_PATH, or the default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return filepath.Clean(trimmed)
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return filepath.Clean(env)
	}
	return DefaultConfigPath
}

// ConfigExists reports whether the config file is present.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads the YAML file at path (if present), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(raw, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
	}

	applyEnv(&cfg)
	if errValidate := cfg.Validate(); errValidate != nil {
		return Config{}, errValidate
	}
	return cfg, nil
}

// LoadDatabaseDSN loads the config and returns the database DSN.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Database.DSN, nil
}

// LoadJWTConfig loads the config and returns the JWT section.
func LoadJWTConfig(path string) (JWTConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return JWTConfig{}, err
	}
	return cfg.JWT, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envOrDefault("APP_ENV", cfg.Env)
	cfg.SiteURL = envOrDefault("SITE_URL", cfg.SiteURL)
	cfg.Server.Addr = envOrDefault("HTTP_ADDR", cfg.Server.Addr)
	cfg.Database.DSN = envOrDefault("DATABASE_URL", cfg.Database.DSN)
	cfg.Redis.URL = envOrDefault("REDIS_URL", cfg.Redis.URL)
	cfg.JWT.Secret = envOrDefault("AUTH_SECRET", cfg.JWT.Secret)
	cfg.Logging.Level = envOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Stripe.SecretKey = envOrDefault("STRIPE_SECRET_KEY", cfg.Stripe.SecretKey)
	cfg.Stripe.PublishableKey = envOrDefault("STRIPE_PUBLISHABLE_KEY", cfg.Stripe.PublishableKey)
	cfg.Captcha.SecretKey = envOrDefault("TURNSTILE_SECRET_KEY", cfg.Captcha.SecretKey)
	cfg.Captcha.SiteKey = envOrDefault("TURNSTILE_SITE_KEY", cfg.Captcha.SiteKey)
	cfg.Email.ResendAPIKey = envOrDefault("RESEND_API_KEY", cfg.Email.ResendAPIKey)
	cfg.Email.BrevoAPIKey = envOrDefault("BREVO_API_KEY", cfg.Email.BrevoAPIKey)
	cfg.Email.From = envOrDefault("EMAIL_FROM", cfg.Email.From)
	cfg.Email.FromName = envOrDefault("EMAIL_FROM_NAME", cfg.Email.FromName)
	cfg.Email.ReplyTo = envOrDefault("EMAIL_REPLY_TO", cfg.Email.ReplyTo)
	cfg.Email.SMTP.Host = envOrDefault("SMTP_HOST", cfg.Email.SMTP.Host)
	cfg.Email.SMTP.Port = envInt("SMTP_PORT", cfg.Email.SMTP.Port)
	cfg.Email.SMTP.Username = envOrDefault("SMTP_USER", cfg.Email.SMTP.Username)
	cfg.Email.SMTP.Password = envOrDefault("SMTP_PASS", cfg.Email.SMTP.Password)
	cfg.Email.SMTP.Security = envOrDefault("SMTP_SECURITY", cfg.Email.SMTP.Security)
	cfg.Server.CORSOrigins = envCSV("CORS_ORIGINS", cfg.Server.CORSOrigins)
	cfg.Events.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.Events.KafkaBrokers)
}

// Validate reports the first invalid key.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	if len(strings.TrimSpace(c.JWT.Secret)) < 16 {
		return fmt.Errorf("config: jwt.secret must be at least 16 characters")
	}
	if c.JWT.Expiry <= 0 {
		return fmt.Errorf("config: jwt.expiry must be positive")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("config: session.ttl must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: logging.format must be text or json")
	}
	return c.Credits.Validate()
}

// Validate checks the credits section.
func (c CreditsConfig) Validate() error {
	if len(c.Packages) == 0 {
		return fmt.Errorf("config: credits.packages must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Packages))
	for i, pkg := range c.Packages {
		if strings.TrimSpace(pkg.ID) == "" {
			return fmt.Errorf("config: credits.packages[%d].id is required", i)
		}
		if _, dup := seen[pkg.ID]; dup {
			return fmt.Errorf("config: credits.packages[%d].id %q is duplicated", i, pkg.ID)
		}
		seen[pkg.ID] = struct{}{}
		if pkg.Credits <= 0 {
			return fmt.Errorf("config: credits.packages[%d].credits must be positive", i)
		}
		if pkg.Price <= 0 {
			return fmt.Errorf("config: credits.packages[%d].price must be positive", i)
		}
	}
	for i, item := range c.Items {
		if strings.TrimSpace(item.Type) == "" || strings.TrimSpace(item.ID) == "" {
			return fmt.Errorf("config: credits.items[%d] needs type and id", i)
		}
		if item.Price <= 0 {
			return fmt.Errorf("config: credits.items[%d].price must be positive", i)
		}
	}
	if c.FreeMonthlyCredits < 0 {
		return fmt.Errorf("config: credits.free_monthly_credits must not be negative")
	}
	if c.ExpirationYears <= 0 {
		return fmt.Errorf("config: credits.expiration_years must be positive")
	}
	if c.MaxTransactionsPerPage <= 0 {
		return fmt.Errorf("config: credits.max_transactions_per_page must be positive")
	}
	if _, errLoad := time.LoadLocation(c.RefreshLocation); errLoad != nil {
		return fmt.Errorf("config: credits.refresh_location: %w", errLoad)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: credits.sweep_interval must be positive")
	}
	return nil
}

// MonthlyCredits returns the free monthly grant; unset means 10% of the first package.
func (c CreditsConfig) MonthlyCredits() int64 {
	if c.FreeMonthlyCredits > 0 {
		return c.FreeMonthlyCredits
	}
	if len(c.Packages) == 0 {
		return 0
	}
	return c.Packages[0].Credits / 10
}

// Location returns the calendar used for monthly refresh, defaulting to UTC.
func (c CreditsConfig) Location() *time.Location {
	if c.RefreshLocation == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.RefreshLocation)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction reports whether the app runs in production mode.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), EnvProduction)
}

// RateLimitEnabled resolves the rate limit toggle.
func (c Config) RateLimitEnabled() bool {
	if c.RateLimit.Enabled != nil {
		return *c.RateLimit.Enabled
	}
	return c.IsProduction()
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// AllowedOrigins returns the CORS origins, defaulting to the site URL.
func (c Config) AllowedOrigins() []string {
	if len(c.Server.CORSOrigins) > 0 {
		return c.Server.CORSOrigins
	}
	if site := strings.TrimRight(strings.TrimSpace(c.SiteURL), "/"); site != "" {
		return []string{site}
	}
	return nil
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

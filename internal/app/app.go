package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/CreditLedger/internal/cache"
	"github.com/router-for-me/CreditLedger/internal/captcha"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/credits"
	"github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/email"
	"github.com/router-for-me/CreditLedger/internal/events"
	apphttp "github.com/router-for-me/CreditLedger/internal/http"
	"github.com/router-for-me/CreditLedger/internal/http/api/admin"
	adminhandlers "github.com/router-for-me/CreditLedger/internal/http/api/admin/handlers"
	"github.com/router-for-me/CreditLedger/internal/http/api/front"
	"github.com/router-for-me/CreditLedger/internal/logging"
	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/payments"
	"github.com/router-for-me/CreditLedger/internal/ratelimit"
	"github.com/router-for-me/CreditLedger/internal/retention"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/session"
	"github.com/router-for-me/CreditLedger/internal/settings"
	"github.com/router-for-me/CreditLedger/internal/util"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const shutdownTimeout = 15 * time.Second

// CreateUserParams holds inputs for account creation from the command line.
type CreateUserParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Admin     bool
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	return db.Migrate(conn.WithContext(ctx))
}

// CreateUser opens the database, migrates it and inserts a verified account.
func CreateUser(ctx context.Context, cfg config.AppConfig, params CreateUserParams) (*models.User, error) {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	return InsertUser(ctx, conn, params)
}

// InsertUser validates params and stores the account with a hashed password.
func InsertUser(ctx context.Context, conn *gorm.DB, params CreateUserParams) (*models.User, error) {
	addr, errParse := mail.ParseAddress(strings.TrimSpace(params.Email))
	if errParse != nil || addr.Name != "" {
		return nil, fmt.Errorf("invalid email address %q", params.Email)
	}
	if len(params.Password) < 6 {
		return nil, errors.New("password must be at least 6 characters")
	}
	hash, errHash := security.HashPassword(params.Password)
	if errHash != nil {
		return nil, fmt.Errorf("hash password: %w", errHash)
	}
	role := models.RoleUser
	if params.Admin {
		role = models.RoleAdmin
	}
	now := db.NowUTC()
	user := models.User{
		Email:           strings.ToLower(addr.Address),
		FirstName:       strings.TrimSpace(params.FirstName),
		LastName:        strings.TrimSpace(params.LastName),
		Password:        hash,
		Role:            role,
		EmailVerifiedAt: &now,
	}
	if errCreate := conn.WithContext(ctx).Create(&user).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("email %s already taken", user.Email)
		}
		return nil, fmt.Errorf("create user: %w", errCreate)
	}
	return &user, nil
}

// RunServer boots the HTTP API with its database, Redis and background workers
// and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	appCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, errLog := logging.Setup(appCfg.Logging)
	if errLog != nil {
		return errLog
	}
	if logCloser != nil {
		defer func() { _ = logCloser.Close() }()
	}

	conn, err := db.Open(appCfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(conn) }()
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSnapshot := settings.RefreshDBConfigSnapshot(ctx, conn); errSnapshot != nil {
		return fmt.Errorf("load settings: %w", errSnapshot)
	}

	rdb, err := cache.Connect(ctx, appCfg.Redis.URL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	ledger := credits.NewLedger(conn, appCfg.Credits)
	if len(appCfg.Events.KafkaBrokers) > 0 {
		publisher, errKafka := events.NewKafkaPublisher(appCfg.Events.KafkaBrokers, appCfg.Events.Topics)
		if errKafka != nil {
			return errKafka
		}
		defer func() { _ = publisher.Close() }()
		ledger.SetPublisher(publisher)
		log.Infof("publishing credit events to kafka (%s)", strings.Join(appCfg.Events.KafkaBrokers, ","))
	} else {
		ledger.SetPublisher(events.LogPublisher{})
	}
	credits.NewExpirationSweepWorker(ledger).Start(ctx)
	retention.NewTokenCleaner(conn).Start(ctx)
	settings.NewPoller(conn, appCfg.Server.SettingsPollInterval).Start(ctx)

	srv := &http.Server{
		Addr:              appCfg.Server.Addr,
		Handler:           NewHandler(appCfg, conn, rdb, ledger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting credit ledger on %s (config=%s env=%s)", appCfg.Server.Addr, configPath, appCfg.Env)
		if errServe := srv.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		return errServe
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// NewHandler returns the engine wrapped with CORS for the configured origins.
func NewHandler(cfg config.Config, conn *gorm.DB, rdb *redis.Client, ledger *credits.Ledger) http.Handler {
	engine := NewEngine(cfg, conn, rdb, ledger)
	return cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})(engine)
}

// NewEngine wires every route onto a fresh gin engine.
func NewEngine(cfg config.Config, conn *gorm.DB, rdb *redis.Client, ledger *credits.Ledger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	metrics.Register()

	engine := gin.New()
	engine.Use(gin.Recovery(), apphttp.RequestLogger(), apphttp.MetricsMiddleware())

	healthHandler := adminhandlers.NewHealthHandler(conn, rdb)
	engine.GET("/healthz", healthHandler.Healthz)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	sessions := session.NewStore(rdb, conn, ledger, cfg.Session.TTL)
	limiter := ratelimit.New(rdb, cfg.RateLimitEnabled())

	var gateway payments.Gateway
	if key := strings.TrimSpace(cfg.Stripe.SecretKey); key != "" {
		gateway = payments.NewStripeGateway(key)
		log.Infof("stripe payments enabled (key=%s)", util.MaskSecret(key))
	} else {
		log.Warn("stripe secret key not set; payments are disabled")
	}

	front.RegisterFrontRoutes(engine, front.Deps{
		DB:         conn,
		Redis:      rdb,
		Config:     cfg,
		Ledger:     ledger,
		Sessions:   sessions,
		Limiter:    limiter,
		Mailer:     email.NewMailer(cfg, email.SenderFromConfig(cfg.Email)),
		Disposable: email.NewDisposableChecker(cfg.IsProduction()),
		Captcha:    captcha.NewVerifier(cfg.Captcha),
		Payments:   payments.NewService(gateway, ledger, cfg.Stripe.Currency),
	})
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:       conn,
		Ledger:   ledger,
		Sessions: sessions,
		Cookie:   front.CookieConfig(cfg),
		Limiter:  limiter,
	})

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/credits"
	dbpkg "github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/security"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:app_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), dbpkg.GormConfig())
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestInsertUserHashesPasswordAndNormalisesEmail(t *testing.T) {
	conn := openTestDB(t)

	user, errInsert := InsertUser(context.Background(), conn, CreateUserParams{
		Email:    " Root@Example.COM ",
		Password: "s3cret-pass",
		Admin:    true,
	})
	if errInsert != nil {
		t.Fatalf("InsertUser: %v", errInsert)
	}
	if user.Email != "root@example.com" || user.Role != models.RoleAdmin || user.EmailVerifiedAt == nil {
		t.Fatalf("user = %+v", user)
	}
	if !security.CheckPassword(user.Password, "s3cret-pass") {
		t.Fatalf("stored password does not verify")
	}

	if _, errDup := InsertUser(context.Background(), conn, CreateUserParams{Email: "root@example.com", Password: "another1"}); errDup == nil || !strings.Contains(errDup.Error(), "already taken") {
		t.Fatalf("duplicate err = %v", errDup)
	}
}

func TestInsertUserRejectsBadInput(t *testing.T) {
	conn := openTestDB(t)
	cases := []CreateUserParams{
		{Email: "not-an-email", Password: "long-enough"},
		{Email: "Name <a@example.com>", Password: "long-enough"},
		{Email: "a@example.com", Password: "short"},
	}
	for _, params := range cases {
		if _, errInsert := InsertUser(context.Background(), conn, params); errInsert == nil {
			t.Fatalf("InsertUser(%+v) succeeded", params)
		}
	}
}

func TestEngineServesHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := openTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Default()
	cfg.JWT.Secret = "0123456789abcdef0123"
	engine := NewEngine(cfg, conn, rdb, credits.NewLedger(conn, cfg.Credits))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v0/front/config", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("config status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "http_request_duration_seconds") {
		t.Fatalf("metrics status = %d", rec.Code)
	}

	mr.Close()
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz without redis status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown route status = %d", rec.Code)
	}
}

func TestHandlerAnswersCORSPreflightForSiteOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := openTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Default()
	cfg.SiteURL = "https://app.example.com/"
	cfg.JWT.Secret = "0123456789abcdef0123"
	handler := NewHandler(cfg, conn, rdb, credits.NewLedger(conn, cfg.Credits))

	req := httptest.NewRequest(http.MethodOptions, "/v0/front/credits", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow origin = %q status = %d", got, rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("credentials header missing")
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin was allowed")
	}
}

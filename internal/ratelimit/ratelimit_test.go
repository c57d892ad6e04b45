package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, enabled bool) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, enabled), mr
}

func TestCheckFixedWindow(t *testing.T) {
	limiter, mr := newLimiter(t, true)
	rule := Rule{Name: "TEST", Limit: 2, Window: 10 * time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := limiter.Check(ctx, rule, "1.2.3.4")
		if err != nil || !res.Allowed {
			t.Fatalf("request %d: %+v %v", i, res, err)
		}
	}
	res, _ := limiter.Check(ctx, rule, "1.2.3.4")
	if res.Allowed {
		t.Fatalf("third request should be limited")
	}
	if res.Message() != "Rate limit exceeded. Try again in 10 minutes." {
		t.Fatalf("message = %q", res.Message())
	}
	if ttl := mr.TTL(Key(rule, "1.2.3.4")); ttl != 10*time.Minute {
		t.Fatalf("window ttl = %s", ttl)
	}

	other, _ := limiter.Check(ctx, rule, "5.6.7.8")
	if !other.Allowed {
		t.Fatalf("other client should have its own window")
	}

	mr.FastForward(11 * time.Minute)
	res, _ = limiter.Check(ctx, rule, "1.2.3.4")
	if !res.Allowed || res.Count != 1 {
		t.Fatalf("window should reset: %+v", res)
	}
}

func TestDisabledLimiterAllows(t *testing.T) {
	limiter, mr := newLimiter(t, false)
	for i := 0; i < 10; i++ {
		res, _ := limiter.Check(context.Background(), SignUp, "ip")
		if !res.Allowed {
			t.Fatalf("disabled limiter rejected request %d", i)
		}
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("disabled limiter should not touch redis")
	}
	var nilLimiter *Limiter
	if res, _ := nilLimiter.Check(context.Background(), SignUp, "ip"); !res.Allowed {
		t.Fatalf("nil limiter should allow")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newLimiter(t, true)
	router := gin.New()
	router.POST("/sign-up", limiter.Middleware(Rule{Name: "SIGN_UP", Limit: 1, Window: time.Hour}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/sign-up", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/sign-up", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", second.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(second.Body.Bytes(), &body)
	if body["error"] != "Rate limit exceeded. Try again in 60 minutes." {
		t.Fatalf("body = %v", body)
	}
	if second.Header().Get("Retry-After") != "3600" {
		t.Fatalf("retry-after = %q", second.Header().Get("Retry-After"))
	}
}

func TestMiddlewareFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, mr := newLimiter(t, true)
	mr.Close()
	router := gin.New()
	router.GET("/", limiter.Middleware(SignIn), func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

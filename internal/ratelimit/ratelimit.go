// Package ratelimit implements per-IP fixed-window request limits in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Rule is a named request budget per window.
type Rule struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// Named budgets for the public endpoints.
var (
	SignIn         = Rule{Name: "SIGN_IN", Limit: 15, Window: time.Hour}
	SignUp         = Rule{Name: "SIGN_UP", Limit: 3, Window: time.Hour}
	SignOut        = Rule{Name: "SIGN_OUT", Limit: 5, Window: 10 * time.Minute}
	ResetPassword  = Rule{Name: "RESET_PASSWORD", Limit: 7, Window: time.Hour}
	Email          = Rule{Name: "EMAIL", Limit: 10, Window: time.Hour}
	ForgotPassword = Rule{Name: "FORGOT_PASSWORD", Limit: 4, Window: time.Hour}
	Settings       = Rule{Name: "SETTINGS", Limit: 15, Window: 5 * time.Minute}
	Purchase       = Rule{Name: "PURCHASE", Limit: 25, Window: 5 * time.Minute}
	DeleteSession  = Rule{Name: "DELETE_SESSION", Limit: 10, Window: 10 * time.Minute}
)

// Result is the outcome of one limit check.
type Result struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

// Message is the client-facing text for a rejected request.
func (r Result) Message() string {
	minutes := int64(math.Ceil(r.RetryAfter.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Rate limit exceeded. Try again in %d minutes.", minutes)
}

// Limiter counts requests in Redis.
type Limiter struct {
	rdb     *redis.Client
	enabled bool
}

// New returns a limiter; a disabled limiter or nil client allows everything.
func New(rdb *redis.Client, enabled bool) *Limiter {
	return &Limiter{rdb: rdb, enabled: enabled}
}

// Key returns the counter key for a rule and client.
func Key(rule Rule, identifier string) string {
	return "ratelimit:" + rule.Name + ":" + identifier
}

// Check records one request for identifier under rule.
func (l *Limiter) Check(ctx context.Context, rule Rule, identifier string) (Result, error) {
	if l == nil || !l.enabled || l.rdb == nil || rule.Limit <= 0 {
		return Result{Allowed: true}, nil
	}
	key := Key(rule, identifier)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, errPipe := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	}); errPipe != nil {
		return Result{Allowed: true}, errPipe
	}

	remaining := ttl.Val()
	if remaining < 0 {
		if errExpire := l.rdb.Expire(ctx, key, rule.Window).Err(); errExpire != nil {
			return Result{Allowed: true}, errExpire
		}
		remaining = rule.Window
	}

	count := incr.Val()
	return Result{
		Allowed:    count <= rule.Limit,
		Count:      count,
		RetryAfter: remaining,
	}, nil
}

// Middleware rejects requests over the rule's budget with 429. Redis
// failures let the request through.
func (l *Limiter) Middleware(rule Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, errCheck := l.Check(c.Request.Context(), rule, c.ClientIP())
		if errCheck != nil {
			log.WithError(errCheck).WithField("rule", rule.Name).Warn("rate limit state unavailable")
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(math.Ceil(res.RetryAfter.Seconds())), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": res.Message()})
			return
		}
		c.Next()
	}
}

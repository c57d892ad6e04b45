package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/session"
	log "github.com/sirupsen/logrus"
)

// Gin context keys set by SessionAuthMiddleware.
const (
	ContextSessionKey = "session"
	ContextUserIDKey  = "userID"
	ContextTokenKey   = "sessionToken"
)

// SessionValidator resolves a raw session token to a live session.
type SessionValidator interface {
	Validate(ctx context.Context, userID uint64, token string) (*session.Session, error)
}

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Secret string
	Secure bool
}

// SessionAuthMiddleware requires a valid session cookie (or bearer token)
// and stores the session in the gin context.
func SessionAuthMiddleware(validator SessionValidator, cookie CookieConfig) gin.HandlerFunc {
	return sessionMiddleware(validator, cookie, true)
}

// OptionalSessionMiddleware loads the session when one is presented.
func OptionalSessionMiddleware(validator SessionValidator, cookie CookieConfig) gin.HandlerFunc {
	return sessionMiddleware(validator, cookie, false)
}

func sessionMiddleware(validator SessionValidator, cookie CookieConfig, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		signed := readSessionValue(c, cookie.Name)
		if signed == "" {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
				return
			}
			c.Next()
			return
		}

		claims, errParse := security.ParseSessionToken(cookie.Secret, signed)
		if errParse != nil {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
				return
			}
			c.Next()
			return
		}

		sess, errValidate := validator.Validate(c.Request.Context(), claims.UserID, claims.Token)
		if errValidate != nil {
			log.WithError(errValidate).WithField("user_id", claims.UserID).Error("session validation failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if sess == nil {
			if required {
				ClearSessionCookie(c, cookie)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
				return
			}
			c.Next()
			return
		}

		c.Set(ContextSessionKey, sess)
		c.Set(ContextUserIDKey, sess.UserID)
		c.Set(ContextTokenKey, claims.Token)
		c.Next()
	}
}

// RequireAdmin rejects sessions whose user is not an admin.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := CurrentSession(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if !sess.User.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

// RequireVerifiedEmail rejects sessions whose email is not verified.
func RequireVerifiedEmail() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := CurrentSession(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}
		if sess.User.EmailVerified == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Please verify your email first"})
			return
		}
		c.Next()
	}
}

// CurrentSession returns the session stored by the middleware.
func CurrentSession(c *gin.Context) (*session.Session, bool) {
	val, exists := c.Get(ContextSessionKey)
	if !exists {
		return nil, false
	}
	sess, ok := val.(*session.Session)
	return sess, ok && sess != nil
}

// CurrentUserID returns the signed-in user's ID or 0.
func CurrentUserID(c *gin.Context) uint64 {
	val, exists := c.Get(ContextUserIDKey)
	if !exists {
		return 0
	}
	id, _ := val.(uint64)
	return id
}

// CurrentToken returns the raw session token of the request.
func CurrentToken(c *gin.Context) string {
	return c.GetString(ContextTokenKey)
}

// SetSessionCookie writes the signed session cookie.
func SetSessionCookie(c *gin.Context, cookie CookieConfig, value string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookie.Name, value, int(ttl.Seconds()), "/", "", cookie.Secure, true)
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c *gin.Context, cookie CookieConfig) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookie.Name, "", -1, "/", "", cookie.Secure, true)
}

func readSessionValue(c *gin.Context, cookieName string) string {
	if value, errCookie := c.Cookie(cookieName); errCookie == nil {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	authHeader := c.GetHeader("Authorization")
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return ""
	}
	return strings.TrimSpace(token)
}

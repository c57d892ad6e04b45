package handlers

import (
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	apphttp "github.com/router-for-me/CreditLedger/internal/http"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/session"
	log "github.com/sirupsen/logrus"
)

// Field limits for account forms.
const (
	minNameLength         = 2
	maxNameLength         = 255
	minPasswordLength     = 6
	minSignInPasswordSize = 4
)

// getUserID extracts the user ID from gin context.
func getUserID(c *gin.Context) uint64 {
	return apphttp.CurrentUserID(c)
}

// currentSession returns the session or writes 401.
func currentSession(c *gin.Context) (*session.Session, bool) {
	sess, ok := apphttp.CurrentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return nil, false
	}
	return sess, true
}

// normalizeEmail lowercases and validates an email address.
func normalizeEmail(raw string) (string, bool) {
	addr := strings.ToLower(strings.TrimSpace(raw))
	if addr == "" || utf8.RuneCountInString(addr) > maxNameLength {
		return "", false
	}
	parsed, errParse := mail.ParseAddress(addr)
	if errParse != nil || parsed.Address != addr {
		return "", false
	}
	return addr, true
}

func validName(name string) bool {
	n := utf8.RuneCountInString(name)
	return n >= minNameLength && n <= maxNameLength
}

// SessionIssuer creates sessions and writes the signed cookie.
type SessionIssuer struct {
	Sessions *session.Store
	Cookie   apphttp.CookieConfig
}

type issueParams struct {
	userID              uint64
	authType            string
	passkeyCredentialID string
}

// issue creates a session for the user and returns the signed cookie value.
func (s SessionIssuer) issue(c *gin.Context, params issueParams) (*session.Session, string, error) {
	token, errToken := session.NewToken()
	if errToken != nil {
		return nil, "", errToken
	}
	sess, errCreate := s.Sessions.Create(c.Request.Context(), session.CreateParams{
		UserID:              params.userID,
		Token:               token,
		AuthenticationType:  params.authType,
		PasskeyCredentialID: params.passkeyCredentialID,
		IPAddress:           c.ClientIP(),
		UserAgent:           c.Request.UserAgent(),
	})
	if errCreate != nil {
		return nil, "", errCreate
	}
	signed, errSign := security.GenerateSessionToken(s.Cookie.Secret, params.userID, token, s.Sessions.TTL())
	if errSign != nil {
		_ = s.Sessions.Delete(c.Request.Context(), params.userID, sess.ID)
		return nil, "", errSign
	}
	apphttp.SetSessionCookie(c, s.Cookie, signed, s.Sessions.TTL())
	return sess, signed, nil
}

// respondWithSession issues a session and writes it as the response body.
func (s SessionIssuer) respondWithSession(c *gin.Context, status int, params issueParams) {
	sess, signed, errIssue := s.issue(c, params)
	if errIssue != nil {
		log.WithError(errIssue).WithField("user_id", params.userID).Error("create session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{
		"user":  sess.User,
		"token": signed,
	})
}

// resyncSessions rebuilds the cached user in every session of the user.
func resyncSessions(c *gin.Context, sessions *session.Store, userID uint64) {
	if sessions == nil {
		return
	}
	if errUpdate := sessions.UpdateAllSessionsOfUser(c.Request.Context(), userID); errUpdate != nil {
		log.WithError(errUpdate).WithField("user_id", userID).Warn("update sessions failed")
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	dbutil "github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/session"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultUsersPageSize = 20
	maxUsersPageSize     = 100
)

// UserHandler manages user accounts.
type UserHandler struct {
	db       *gorm.DB
	sessions *session.Store
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(db *gorm.DB, sessions *session.Store) *UserHandler {
	return &UserHandler{db: db, sessions: sessions}
}

func userView(row models.User) gin.H {
	return gin.H{
		"id":                     row.ID,
		"email":                  row.Email,
		"first_name":             row.FirstName,
		"last_name":              row.LastName,
		"role":                   row.Role,
		"disabled":               row.Disabled,
		"email_verified_at":      row.EmailVerifiedAt,
		"current_credits":        row.CurrentCredits,
		"last_credit_refresh_at": row.LastCreditRefreshAt,
		"mfa_enabled":            row.HasMFA(),
		"created_at":             row.CreatedAt,
		"updated_at":             row.UpdatedAt,
	}
}

// List returns a page of users, optionally filtered by email.
func (h *UserHandler) List(c *gin.Context) {
	var (
		emailQ = strings.TrimSpace(c.Query("email"))
		roleQ  = strings.TrimSpace(c.Query("role"))
	)
	page, errPage := parsePositiveQuery(c, "page", 1)
	limit, errLimit := parsePositiveQuery(c, "limit", defaultUsersPageSize)
	if errPage != nil || errLimit != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page or limit"})
		return
	}
	if limit > maxUsersPageSize {
		limit = maxUsersPageSize
	}

	q := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if emailQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, emailQ)
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "email"), pattern)
	}
	if roleQ != "" {
		q = q.Where("role = ?", roleQ)
	}

	var total int64
	if errCount := q.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	var rows []models.User
	if errFind := q.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * limit).Limit(limit).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, userView(row))
	}
	c.JSON(http.StatusOK, gin.H{
		"users": out,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// Get returns a single user by ID.
func (h *UserHandler) Get(c *gin.Context) {
	user, ok := h.findUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, userView(user))
}

// Disable blocks sign-in and revokes every session of the user.
func (h *UserHandler) Disable(c *gin.Context) {
	h.setDisabled(c, true)
}

// Enable lifts a previous Disable.
func (h *UserHandler) Enable(c *gin.Context) {
	h.setDisabled(c, false)
}

func (h *UserHandler) setDisabled(c *gin.Context, disabled bool) {
	user, ok := h.findUser(c)
	if !ok {
		return
	}
	if disabled && user.ID == currentAdminID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot disable yourself"})
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&user).
		Updates(map[string]any{"disabled": disabled, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("user_id", user.ID).Error("update user disabled flag failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update user failed"})
		return
	}
	if disabled {
		if errDelete := h.sessions.DeleteAllSessionsOfUser(c.Request.Context(), user.ID); errDelete != nil {
			log.WithError(errDelete).WithField("user_id", user.ID).Warn("revoke sessions of disabled user failed")
		}
	}
	user.Disabled = disabled
	c.JSON(http.StatusOK, userView(user))
}

// RevokeSessions signs the user out everywhere.
func (h *UserHandler) RevokeSessions(c *gin.Context) {
	user, ok := h.findUser(c)
	if !ok {
		return
	}
	if errDelete := h.sessions.DeleteAllSessionsOfUser(c.Request.Context(), user.ID); errDelete != nil {
		log.WithError(errDelete).WithField("user_id", user.ID).Error("revoke sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke sessions failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// findUser loads the user named by the :id parameter or writes an error.
func (h *UserHandler) findUser(c *gin.Context) (models.User, bool) {
	return loadUserParam(c, h.db)
}

func loadUserParam(c *gin.Context, db *gorm.DB) (models.User, bool) {
	var user models.User
	id, errParse := parseUintParam(c.Param("id"))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return user, false
	}
	if errFind := db.WithContext(c.Request.Context()).First(&user, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return user, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return user, false
	}
	return user, true
}

func parseUintParam(value string) (uint64, error) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if errParse != nil {
		return 0, errParse
	}
	if id == 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}

func parsePositiveQuery(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	n, errParse := strconv.Atoi(raw)
	if errParse != nil {
		return 0, errParse
	}
	if n < 1 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

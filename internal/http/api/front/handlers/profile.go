package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/security"
	"github.com/router-for-me/CreditLedger/internal/session"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProfileHandler handles user profile endpoints.
type ProfileHandler struct {
	db       *gorm.DB
	sessions *session.Store
}

// NewProfileHandler constructs a ProfileHandler.
func NewProfileHandler(db *gorm.DB, sessions *session.Store) *ProfileHandler {
	return &ProfileHandler{db: db, sessions: sessions}
}

// Get returns the current user's profile.
func (h *ProfileHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	user, ok := loadUser(c, h.db, userID)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"firstName":      user.FirstName,
		"lastName":       user.LastName,
		"role":           user.Role,
		"emailVerified":  user.EmailVerifiedAt,
		"currentCredits": user.CurrentCredits,
		"createdAt":      user.CreatedAt,
	})
}

// updateProfileRequest defines the request body for profile changes.
type updateProfileRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Update changes the user's name and refreshes every session.
func (h *ProfileHandler) Update(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	var body updateProfileRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	firstName := strings.TrimSpace(body.FirstName)
	lastName := strings.TrimSpace(body.LastName)
	if !validName(firstName) || !validName(lastName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name must be between 2 and 255 characters"})
		return
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"first_name": firstName, "last_name": lastName})
	if res.Error != nil {
		log.WithError(res.Error).WithField("user_id", userID).Error("update profile failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	resyncSessions(c, h.sessions, userID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// changePasswordRequest defines the request body for password changes.
type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ChangePassword verifies and updates the user's password.
func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	var body changePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if body.OldPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing password"})
		return
	}
	if len(body.NewPassword) < minPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 6 characters"})
		return
	}

	user, ok := loadUser(c, h.db, userID)
	if !ok {
		return
	}
	if !security.CheckPassword(user.Password, body.OldPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Current password is incorrect"})
		return
	}
	hash, errHash := security.HashPassword(body.NewPassword)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&user).Update("password", hash).Error; errUpdate != nil {
		log.WithError(errUpdate).WithField("user_id", userID).Error("change password failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

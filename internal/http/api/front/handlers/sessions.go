package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/session"
	log "github.com/sirupsen/logrus"
)

// SessionsHandler lists and revokes the user's sessions.
type SessionsHandler struct {
	sessions *session.Store
}

// NewSessionsHandler constructs a SessionsHandler.
func NewSessionsHandler(sessions *session.Store) *SessionsHandler {
	return &SessionsHandler{sessions: sessions}
}

// sessionView is a session as shown to its owner.
type sessionView struct {
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"createdAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
	AuthenticationType string    `json:"authenticationType"`
	IPAddress          string    `json:"ipAddress,omitempty"`
	UserAgent          string    `json:"userAgent,omitempty"`
	Current            bool      `json:"current"`
}

// List returns the user's live sessions, newest first.
func (h *SessionsHandler) List(c *gin.Context) {
	current, ok := currentSession(c)
	if !ok {
		return
	}
	list, errList := h.sessions.ListSessions(c.Request.Context(), current.UserID)
	if errList != nil {
		log.WithError(errList).WithField("user_id", current.UserID).Error("list sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	out := make([]sessionView, 0, len(list))
	for _, s := range list {
		out = append(out, sessionView{
			ID:                 s.ID,
			CreatedAt:          s.CreatedAt,
			ExpiresAt:          s.ExpiresAt,
			AuthenticationType: s.AuthenticationType,
			IPAddress:          s.IPAddress,
			UserAgent:          s.UserAgent,
			Current:            s.ID == current.ID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// Delete revokes one session by id. The current session cannot be revoked
// here; sign out instead.
func (h *SessionsHandler) Delete(c *gin.Context) {
	current, ok := currentSession(c)
	if !ok {
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing session id"})
		return
	}
	if id == current.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot delete the current session"})
		return
	}
	if errDel := h.sessions.Delete(c.Request.Context(), current.UserID, id); errDel != nil {
		log.WithError(errDel).WithField("user_id", current.UserID).Error("delete session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteOthers revokes every session except the current one.
func (h *SessionsHandler) DeleteOthers(c *gin.Context) {
	current, ok := currentSession(c)
	if !ok {
		return
	}
	list, errList := h.sessions.ListSessions(c.Request.Context(), current.UserID)
	if errList != nil {
		log.WithError(errList).WithField("user_id", current.UserID).Error("list sessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	deleted := 0
	for _, s := range list {
		if s.ID == current.ID {
			continue
		}
		if errDel := h.sessions.Delete(c.Request.Context(), current.UserID, s.ID); errDel != nil {
			log.WithError(errDel).WithField("user_id", current.UserID).Error("delete session failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		deleted++
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

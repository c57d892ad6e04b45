package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/credits"
	"github.com/router-for-me/CreditLedger/internal/session"
	log "github.com/sirupsen/logrus"
)

// CreditsHandler exposes the balance, spending and history endpoints.
type CreditsHandler struct {
	ledger   *credits.Ledger
	sessions *session.Store
}

// NewCreditsHandler constructs a CreditsHandler.
func NewCreditsHandler(ledger *credits.Ledger, sessions *session.Store) *CreditsHandler {
	return &CreditsHandler{ledger: ledger, sessions: sessions}
}

// Balance returns the user's current credits as seen by the session.
func (h *CreditsHandler) Balance(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"currentCredits":      sess.User.CurrentCredits,
		"lastCreditRefreshAt": sess.User.LastCreditRefreshAt,
		"freeMonthlyCredits":  h.ledger.FreeMonthlyCredits(),
	})
}

// Check reports whether the user can afford ?amount= credits.
func (h *CreditsHandler) Check(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	amount, errParse := strconv.ParseInt(strings.TrimSpace(c.Query("amount")), 10, 64)
	if errParse != nil || amount < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid amount"})
		return
	}
	enough, errCheck := h.ledger.HasEnoughCredits(c.Request.Context(), userID, amount)
	if errCheck != nil {
		writeLedgerError(c, errCheck)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hasEnoughCredits": enough})
}

// useCreditsRequest defines the request body for spending credits.
type useCreditsRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// Use spends credits oldest grant first.
func (h *CreditsHandler) Use(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	var body useCreditsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	description := strings.TrimSpace(body.Description)
	if description == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Description is required"})
		return
	}
	balance, errUse := h.ledger.UseCredits(c.Request.Context(), credits.UseParams{
		UserID:      userID,
		Amount:      body.Amount,
		Description: description,
	})
	if errUse != nil {
		writeLedgerError(c, errUse)
		return
	}
	resyncSessions(c, h.sessions, userID)
	c.JSON(http.StatusOK, gin.H{"success": true, "remainingCredits": balance})
}

// Transactions returns one page of the user's history.
func (h *CreditsHandler) Transactions(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	page, errPage := queryInt(c, "page", 1)
	limit, errLimit := queryInt(c, "limit", 0)
	if errPage != nil || errLimit != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page or limit"})
		return
	}
	result, errList := h.ledger.ListTransactions(c.Request.Context(), userID, page, limit)
	if errors.Is(errList, credits.ErrLimitTooLarge) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Limit cannot be greater than %d", h.ledger.MaxPageSize())})
		return
	}
	if errList != nil {
		writeLedgerError(c, errList)
		return
	}
	c.JSON(http.StatusOK, result)
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// writeLedgerError maps ledger failures to responses. Anything that is not a
// precondition is logged and reported as a 500.
func writeLedgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient credits"})
	case errors.Is(err, credits.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Amount must be positive"})
	case errors.Is(err, credits.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, credits.ErrInvalidPage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page or limit"})
	case errors.Is(err, credits.ErrLimitTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Limit too large"})
	case errors.Is(err, credits.ErrInvalidPackage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid package"})
	case errors.Is(err, credits.ErrUnknownItem):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown item"})
	case errors.Is(err, credits.ErrItemPriceMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Item price has changed"})
	case errors.Is(err, credits.ErrItemAlreadyOwned):
		c.JSON(http.StatusConflict, gin.H{"error": "Item already purchased"})
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("credit operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

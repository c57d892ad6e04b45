package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/credits"
	apphttp "github.com/router-for-me/CreditLedger/internal/http"
	"github.com/router-for-me/CreditLedger/internal/models"
	"github.com/router-for-me/CreditLedger/internal/session"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreditHandler exposes manual ledger operations to admins.
type CreditHandler struct {
	db       *gorm.DB
	ledger   *credits.Ledger
	sessions *session.Store
}

// NewCreditHandler constructs a CreditHandler.
func NewCreditHandler(db *gorm.DB, ledger *credits.Ledger, sessions *session.Store) *CreditHandler {
	return &CreditHandler{db: db, ledger: ledger, sessions: sessions}
}

// grantRequest defines the request body for a manual grant.
type grantRequest struct {
	Amount      int64      `json:"amount"`
	Description string     `json:"description"`
	ExpiresAt   *time.Time `json:"expires_at"`
	// NoExpiry grants credits that never lapse.
	NoExpiry bool `json:"no_expiry"`
}

// Grant adds PURCHASE credits to a user. Without expires_at the usual
// purchase lifetime applies.
func (h *CreditHandler) Grant(c *gin.Context) {
	userID, errParse := parseUintParam(c.Param("id"))
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body grantRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if body.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	now := h.ledger.Now()
	var expiresAt *time.Time
	switch {
	case body.NoExpiry:
	case body.ExpiresAt != nil:
		if !body.ExpiresAt.After(now) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
			return
		}
		expiresAt = body.ExpiresAt
	default:
		exp := h.ledger.PurchaseExpiration(now)
		expiresAt = &exp
	}
	description := strings.TrimSpace(body.Description)
	if description == "" {
		description = "Granted by admin"
	}

	row, errGrant := h.ledger.Grant(c.Request.Context(), credits.GrantParams{
		UserID:         userID,
		Amount:         body.Amount,
		Type:           models.CreditTransactionTypePurchase,
		Description:    description,
		ExpirationDate: expiresAt,
	})
	if errGrant != nil {
		writeLedgerError(c, errGrant)
		return
	}
	h.resync(c, userID)
	balance, errBalance := h.ledger.Balance(c.Request.Context(), userID)
	if errBalance != nil {
		writeLedgerError(c, errBalance)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction": gin.H{
			"id":              row.ID,
			"amount":          row.Amount,
			"type":            row.Type,
			"description":     row.Description,
			"expiration_date": row.ExpirationDate,
			"created_at":      row.CreatedAt,
		},
		"current_credits": balance,
	})
}

// Sweep runs the expiration sweep for one user immediately.
func (h *CreditHandler) Sweep(c *gin.Context) {
	user, ok := loadUserParam(c, h.db)
	if !ok {
		return
	}
	userID := user.ID
	result, errSweep := h.ledger.ProcessExpiredCredits(c.Request.Context(), userID, time.Time{})
	if errSweep != nil {
		writeLedgerError(c, errSweep)
		return
	}
	if result.Processed > 0 {
		h.resync(c, userID)
	}
	c.JSON(http.StatusOK, result)
}

// reconcileRequest defines the request body for a reconcile run.
type reconcileRequest struct {
	UserID uint64 `json:"user_id"`
	Repair bool   `json:"repair"`
}

// Reconcile reports balances that disagree with their grant rows and,
// with repair set, corrects them.
func (h *CreditHandler) Reconcile(c *gin.Context) {
	var body reconcileRequest
	if c.Request.ContentLength != 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}
	drifts, errReconcile := h.ledger.Reconcile(c.Request.Context(), credits.ReconcileOptions{
		UserID: body.UserID,
		Repair: body.Repair,
	})
	if errReconcile != nil {
		writeLedgerError(c, errReconcile)
		return
	}
	for _, drift := range drifts {
		if drift.Repaired {
			h.resync(c, drift.UserID)
		}
	}
	c.JSON(http.StatusOK, gin.H{"drifts": drifts, "repair": body.Repair})
}

// Transactions returns one page of a user's history.
func (h *CreditHandler) Transactions(c *gin.Context) {
	user, ok := loadUserParam(c, h.db)
	if !ok {
		return
	}
	userID := user.ID
	page, errPage := parsePositiveQuery(c, "page", 1)
	limit, errLimit := parsePositiveQuery(c, "limit", h.ledger.MaxPageSize())
	if errPage != nil || errLimit != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page or limit"})
		return
	}
	if limit > h.ledger.MaxPageSize() {
		limit = h.ledger.MaxPageSize()
	}
	result, errList := h.ledger.ListTransactions(c.Request.Context(), userID, page, limit)
	if errList != nil {
		writeLedgerError(c, errList)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CreditHandler) resync(c *gin.Context, userID uint64) {
	if errResync := h.sessions.UpdateAllSessionsOfUser(c.Request.Context(), userID); errResync != nil {
		log.WithError(errResync).WithField("user_id", userID).Warn("resync sessions failed")
	}
}

func currentAdminID(c *gin.Context) uint64 {
	return apphttp.CurrentUserID(c)
}

func writeLedgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, credits.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.Is(err, credits.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
	case errors.Is(err, credits.ErrInvalidPage), errors.Is(err, credits.ErrLimitTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page or limit"})
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("admin credit operation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credit operation failed"})
	}
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/credits"
	"github.com/router-for-me/CreditLedger/internal/session"
)

// ItemsHandler sells catalog items for credits.
type ItemsHandler struct {
	ledger   *credits.Ledger
	sessions *session.Store
}

// NewItemsHandler constructs an ItemsHandler.
func NewItemsHandler(ledger *credits.Ledger, sessions *session.Store) *ItemsHandler {
	return &ItemsHandler{ledger: ledger, sessions: sessions}
}

// List returns the user's purchased items as "<type>:<id>" keys.
func (h *ItemsHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	items, errList := h.ledger.PurchasedItems(c.Request.Context(), userID)
	if errList != nil {
		writeLedgerError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// purchaseItemRequest describes an item purchase.
type purchaseItemRequest struct {
	ItemType string `json:"itemType"`
	ItemID   string `json:"itemId"`
	Price    int64  `json:"price"`
}

// Purchase buys an item with credits.
func (h *ItemsHandler) Purchase(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	var body purchaseItemRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	balance, errBuy := h.ledger.PurchaseItem(c.Request.Context(), credits.PurchaseItemParams{
		UserID:   userID,
		ItemType: body.ItemType,
		ItemID:   body.ItemID,
		Price:    body.Price,
	})
	if errBuy != nil {
		writeLedgerError(c, errBuy)
		return
	}
	resyncSessions(c, h.sessions, userID)
	c.JSON(http.StatusOK, gin.H{"success": true, "remainingCredits": balance})
}

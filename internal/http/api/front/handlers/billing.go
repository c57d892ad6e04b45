package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CreditLedger/internal/credits"
	"github.com/router-for-me/CreditLedger/internal/payments"
	"github.com/router-for-me/CreditLedger/internal/session"
	log "github.com/sirupsen/logrus"
)

// BillingHandler sells credit packages through the payment provider.
type BillingHandler struct {
	ledger   *credits.Ledger
	payments *payments.Service
	sessions *session.Store
}

// NewBillingHandler constructs a BillingHandler.
func NewBillingHandler(ledger *credits.Ledger, service *payments.Service, sessions *session.Store) *BillingHandler {
	return &BillingHandler{ledger: ledger, payments: service, sessions: sessions}
}

// Packages lists the purchasable credit packages.
func (h *BillingHandler) Packages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packages": h.ledger.Packages()})
}

// packageRequest names a credit package.
type packageRequest struct {
	PackageID string `json:"packageId"`
}

// CreatePaymentIntent opens a payment for a package.
func (h *BillingHandler) CreatePaymentIntent(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	var body packageRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	intent, errCreate := h.payments.CreatePaymentIntent(c.Request.Context(), userID, body.PackageID)
	switch {
	case errors.Is(errCreate, credits.ErrInvalidPackage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid package"})
		return
	case errors.Is(errCreate, payments.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payments are not available"})
		return
	case errCreate != nil:
		log.WithError(errCreate).WithField("user_id", userID).Error("create payment intent failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create payment intent"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clientSecret": intent.ClientSecret, "paymentIntentId": intent.ID})
}

// confirmPaymentRequest identifies a payment to apply.
type confirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	PackageID       string `json:"packageId"`
}

// ConfirmPayment grants the package's credits once the payment succeeded.
func (h *BillingHandler) ConfirmPayment(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	var body confirmPaymentRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if strings.TrimSpace(body.PaymentIntentID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing payment intent"})
		return
	}
	result, errConfirm := h.payments.ConfirmPayment(c.Request.Context(), userID, body.PaymentIntentID, body.PackageID)
	switch {
	case errors.Is(errConfirm, credits.ErrInvalidPackage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid package"})
		return
	case errors.Is(errConfirm, payments.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": "Payment already processed"})
		return
	case errors.Is(errConfirm, payments.ErrPaymentNotCompleted), errors.Is(errConfirm, payments.ErrPaymentMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to process payment"})
		return
	case errConfirm != nil:
		log.WithError(errConfirm).WithField("user_id", userID).Error("confirm payment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process payment"})
		return
	}
	resyncSessions(c, h.sessions, userID)
	c.JSON(http.StatusOK, gin.H{"success": true, "credits": result.Credits, "currentCredits": result.Balance})
}

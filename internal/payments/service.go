package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/router-for-me/CreditLedger/internal/credits"
	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
)

// Payment errors.
var (
	ErrNotConfigured       = errors.New("payments are not configured")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrPaymentMismatch     = errors.New("payment does not match purchase")
	ErrAlreadyProcessed    = errors.New("payment already processed")
)

// Metadata keys written on every intent.
const (
	metaUserID    = "userId"
	metaPackageID = "packageId"
	metaCredits   = "credits"
)

// Service sells credit packages and grants them once payment succeeds.
type Service struct {
	gateway  Gateway
	ledger   *credits.Ledger
	currency string
}

// NewService builds a payment service. A nil gateway disables purchases.
func NewService(gateway Gateway, ledger *credits.Ledger, currency string) *Service {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{gateway: gateway, ledger: ledger, currency: currency}
}

// CreatePaymentIntent opens an intent for the package's price in cents.
func (s *Service) CreatePaymentIntent(ctx context.Context, userID uint64, packageID string) (*Intent, error) {
	if s.gateway == nil {
		return nil, ErrNotConfigured
	}
	pkg, errPkg := s.ledger.Package(packageID)
	if errPkg != nil {
		return nil, errPkg
	}
	intent, errCreate := s.gateway.CreateIntent(ctx, CreateIntentParams{
		AmountCents: pkg.Price * 100,
		Currency:    s.currency,
		Metadata: map[string]string{
			metaUserID:    strconv.FormatUint(userID, 10),
			metaPackageID: pkg.ID,
			metaCredits:   strconv.FormatInt(pkg.Credits, 10),
		},
	})
	if errCreate != nil {
		return nil, fmt.Errorf("payments: create intent: %w", errCreate)
	}
	log.WithFields(log.Fields{
		"user_id":           userID,
		"package_id":        pkg.ID,
		"payment_intent_id": intent.ID,
	}).Info("payment intent created")
	return intent, nil
}

// ConfirmResult reports the credits granted by a confirmed payment.
type ConfirmResult struct {
	Credits int64 `json:"credits"`
	Balance int64 `json:"balance"`
}

// ConfirmPayment verifies a succeeded intent belongs to this user and
// package, then grants its credits. An intent is applied at most once.
func (s *Service) ConfirmPayment(ctx context.Context, userID uint64, paymentIntentID, packageID string) (*ConfirmResult, error) {
	if s.gateway == nil {
		return nil, ErrNotConfigured
	}
	pkg, errPkg := s.ledger.Package(packageID)
	if errPkg != nil {
		return nil, errPkg
	}
	intent, errGet := s.gateway.GetIntent(ctx, strings.TrimSpace(paymentIntentID))
	if errGet != nil {
		return nil, fmt.Errorf("payments: retrieve intent: %w", errGet)
	}
	if intent.Status != StatusSucceeded {
		return nil, ErrPaymentNotCompleted
	}
	if intent.Metadata[metaUserID] != strconv.FormatUint(userID, 10) ||
		intent.Metadata[metaPackageID] != pkg.ID ||
		intent.Metadata[metaCredits] != strconv.FormatInt(pkg.Credits, 10) {
		log.WithFields(log.Fields{
			"user_id":           userID,
			"package_id":        pkg.ID,
			"payment_intent_id": intent.ID,
		}).Warn("payment metadata mismatch")
		return nil, ErrPaymentMismatch
	}

	now := s.ledger.Now()
	expires := s.ledger.PurchaseExpiration(now)
	_, errGrant := s.ledger.Grant(ctx, credits.GrantParams{
		UserID:          userID,
		Amount:          pkg.Credits,
		Type:            models.CreditTransactionTypePurchase,
		Description:     fmt.Sprintf("Purchased %d credits", pkg.Credits),
		ExpirationDate:  &expires,
		PaymentIntentID: intent.ID,
	})
	if errors.Is(errGrant, credits.ErrDuplicatePayment) {
		return nil, ErrAlreadyProcessed
	}
	if errGrant != nil {
		return nil, errGrant
	}
	balance, errBalance := s.ledger.Balance(ctx, userID)
	if errBalance != nil {
		return nil, errBalance
	}
	return &ConfirmResult{Credits: pkg.Credits, Balance: balance}, nil
}

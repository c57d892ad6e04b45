package credits

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/router-for-me/CreditLedger/internal/events"
	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TransactionEntry describes a row to append to the ledger.
type TransactionEntry struct {
	UserID          uint64
	Amount          int64
	Type            string
	Description     string
	ExpirationDate  *time.Time
	PaymentIntentID string
}

// GrantParams describes a positive credit grant.
type GrantParams struct {
	UserID          uint64
	Amount          int64
	Type            string
	Description     string
	ExpirationDate  *time.Time
	PaymentIntentID string
}

// UpdateUserCredits adds delta to the user's running balance. It does not
// check the result; callers that must not go negative use a guarded update.
func (l *Ledger) UpdateUserCredits(ctx context.Context, tx *gorm.DB, userID uint64, delta int64) error {
	res := l.conn(ctx, tx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"current_credits": gorm.Expr("current_credits + ?", delta),
			"updated_at":      l.Now(),
		})
	if res.Error != nil {
		return wrap("update user credits", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// LogTransaction appends one ledger row. Positive grant rows start with the
// full amount remaining; everything else starts at zero.
func (l *Ledger) LogTransaction(ctx context.Context, tx *gorm.DB, entry TransactionEntry) (*models.CreditTransaction, error) {
	now := l.Now()
	row := models.CreditTransaction{
		UserID:         entry.UserID,
		Amount:         entry.Amount,
		Type:           entry.Type,
		Description:    truncateDescription(entry.Description),
		ExpirationDate: utcPtr(entry.ExpirationDate),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if entry.Amount > 0 && entry.Type != models.CreditTransactionTypeUsage {
		row.RemainingAmount = entry.Amount
	}
	if pi := strings.TrimSpace(entry.PaymentIntentID); pi != "" {
		row.PaymentIntentID = &pi
	}
	if errCreate := l.conn(ctx, tx).Create(&row).Error; errCreate != nil {
		return nil, wrap("log transaction", errCreate)
	}
	return &row, nil
}

// Grant credits a user and logs the grant in one database transaction.
// A repeated PaymentIntentID returns ErrDuplicatePayment without changes.
func (l *Ledger) Grant(ctx context.Context, params GrantParams) (*models.CreditTransaction, error) {
	var row *models.CreditTransaction
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, errGrant := l.grantTx(ctx, tx, params)
		if errGrant != nil {
			return errGrant
		}
		row = created
		return nil
	})
	if errTx != nil {
		if IsPrecondition(errTx) {
			return nil, errTx
		}
		if strings.TrimSpace(params.PaymentIntentID) != "" && l.paymentApplied(ctx, params.PaymentIntentID) {
			// lost a race on the unique index
			return nil, ErrDuplicatePayment
		}
		metrics.OperationsFailed.WithLabelValues("grant").Inc()
		return nil, wrap("grant", errTx)
	}
	grantedMetric(params.Type, params.Amount)
	l.emit(ctx, events.Event{
		Type:            events.CreditsGranted,
		UserID:          params.UserID,
		Amount:          params.Amount,
		TransactionType: params.Type,
		TransactionID:   row.ID,
	})
	log.WithFields(log.Fields{
		"user_id": params.UserID,
		"amount":  params.Amount,
		"type":    params.Type,
	}).Info("credits granted")
	return row, nil
}

func (l *Ledger) grantTx(ctx context.Context, tx *gorm.DB, params GrantParams) (*models.CreditTransaction, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	switch params.Type {
	case models.CreditTransactionTypePurchase, models.CreditTransactionTypeMonthlyRefresh:
	default:
		return nil, wrap("grant", errors.New("unsupported grant type "+params.Type))
	}
	if pi := strings.TrimSpace(params.PaymentIntentID); pi != "" {
		var count int64
		if errCount := tx.WithContext(ctx).Model(&models.CreditTransaction{}).
			Where("payment_intent_id = ?", pi).
			Count(&count).Error; errCount != nil {
			return nil, wrap("grant", errCount)
		}
		if count > 0 {
			return nil, ErrDuplicatePayment
		}
	}
	if errUpdate := l.UpdateUserCredits(ctx, tx, params.UserID, params.Amount); errUpdate != nil {
		return nil, errUpdate
	}
	return l.LogTransaction(ctx, tx, TransactionEntry{
		UserID:          params.UserID,
		Amount:          params.Amount,
		Type:            params.Type,
		Description:     params.Description,
		ExpirationDate:  params.ExpirationDate,
		PaymentIntentID: params.PaymentIntentID,
	})
}

func (l *Ledger) paymentApplied(ctx context.Context, paymentIntentID string) bool {
	var count int64
	if errCount := l.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where("payment_intent_id = ?", strings.TrimSpace(paymentIntentID)).
		Count(&count).Error; errCount != nil {
		return false
	}
	return count > 0
}

// Balance returns the user's running balance.
func (l *Ledger) Balance(ctx context.Context, userID uint64) (int64, error) {
	var user models.User
	if errFind := l.db.WithContext(ctx).Select("id", "current_credits").
		Where("id = ?", userID).
		First(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, wrap("balance", errFind)
	}
	return user.CurrentCredits, nil
}

// HasEnoughCredits reports whether the balance covers required.
func (l *Ledger) HasEnoughCredits(ctx context.Context, userID uint64, required int64) (bool, error) {
	balance, err := l.Balance(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}
	return balance >= required, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func grantedMetric(txType string, amount int64) {
	metrics.CreditsGranted.WithLabelValues(txType).Add(float64(amount))
}

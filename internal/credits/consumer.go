package credits

import (
	"context"
	"errors"
	"time"

	dbpkg "github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/events"
	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// UseParams describes a credit spend.
type UseParams struct {
	UserID      uint64
	Amount      int64
	Description string
}

// UseCredits spends credits oldest-grant first and returns the new balance.
func (l *Ledger) UseCredits(ctx context.Context, params UseParams) (int64, error) {
	return l.useCredits(ctx, params, nil)
}

// useCredits runs the spend and, if set, extra inside the same transaction.
// An error from extra rolls back the spend.
func (l *Ledger) useCredits(ctx context.Context, params UseParams, extra func(tx *gorm.DB) error) (int64, error) {
	if params.Amount <= 0 {
		return 0, ErrInvalidAmount
	}
	now := l.Now()

	var balance, lapsed int64
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lapsed = 0
		var user models.User
		if errFind := dbpkg.ForUpdate(tx).
			Select("id", "current_credits").
			Where("id = ?", params.UserID).
			First(&user).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return errFind
		}

		// Grants that lapsed since the last sweep are expired here so the
		// balance checked below only holds spendable credits.
		var lapsedIDs []uint64
		if errFind := tx.Model(&models.CreditTransaction{}).
			Where("user_id = ? AND remaining_amount > 0 AND expiration_date_processed_at IS NULL AND expiration_date <= ?", params.UserID, now).
			Order("id ASC").
			Pluck("id", &lapsedIDs).Error; errFind != nil {
			return errFind
		}
		for _, id := range lapsedIDs {
			expired, _, errExpire := l.expireRowTx(ctx, tx, id, now)
			if errExpire != nil {
				return errExpire
			}
			lapsed += expired
		}
		if len(lapsedIDs) > 0 {
			if errFind := tx.Select("id", "current_credits").Where("id = ?", params.UserID).First(&user).Error; errFind != nil {
				return errFind
			}
		}

		if user.CurrentCredits < params.Amount {
			return ErrInsufficientCredits
		}

		var rows []models.CreditTransaction
		if errFind := dbpkg.ForUpdate(tx).
			Select("id", "remaining_amount").
			Where("user_id = ? AND remaining_amount > 0 AND expiration_date_processed_at IS NULL AND (expiration_date IS NULL OR expiration_date > ?)", params.UserID, now).
			Order("created_at ASC").
			Order("id ASC").
			Find(&rows).Error; errFind != nil {
			return errFind
		}

		stillNeeded := params.Amount
		for _, row := range rows {
			if stillNeeded <= 0 {
				break
			}
			deduct := min(row.RemainingAmount, stillNeeded)
			res := tx.Model(&models.CreditTransaction{}).
				Where("id = ? AND remaining_amount >= ?", row.ID, deduct).
				Updates(map[string]any{
					"remaining_amount": gorm.Expr("remaining_amount - ?", deduct),
					"updated_at":       now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			stillNeeded -= deduct
		}
		if stillNeeded > 0 {
			log.WithFields(log.Fields{
				"user_id":   params.UserID,
				"amount":    params.Amount,
				"uncovered": stillNeeded,
			}).Warn("credit balance exceeds eligible grant rows")
		}

		res := tx.Model(&models.User{}).
			Where("id = ? AND current_credits >= ?", params.UserID, params.Amount).
			Updates(map[string]any{
				"current_credits": gorm.Expr("current_credits - ?", params.Amount),
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientCredits
		}

		if _, errLog := l.LogTransaction(ctx, tx, TransactionEntry{
			UserID:      params.UserID,
			Amount:      -params.Amount,
			Type:        models.CreditTransactionTypeUsage,
			Description: params.Description,
		}); errLog != nil {
			return errLog
		}

		if extra != nil {
			if errExtra := extra(tx); errExtra != nil {
				return errExtra
			}
		}

		if errFind := tx.Select("current_credits").Where("id = ?", params.UserID).First(&user).Error; errFind != nil {
			return errFind
		}
		balance = user.CurrentCredits
		return nil
	})
	if errTx != nil {
		if !IsPrecondition(errTx) {
			metrics.OperationsFailed.WithLabelValues("use").Inc()
		}
		if errors.Is(errTx, ErrInsufficientCredits) {
			l.expireLapsed(ctx, params.UserID, now)
		}
		return 0, wrap("use credits", errTx)
	}
	l.announceLapsed(ctx, params.UserID, lapsed)

	metrics.CreditsConsumed.Add(float64(params.Amount))
	l.emit(ctx, events.Event{
		Type:            events.CreditsConsumed,
		UserID:          params.UserID,
		Amount:          params.Amount,
		TransactionType: models.CreditTransactionTypeUsage,
		Balance:         &balance,
	})
	return balance, nil
}

// expireLapsed sweeps the user after a refused spend; the spend transaction
// rolled back its own expiry of lapsed rows along with everything else.
func (l *Ledger) expireLapsed(ctx context.Context, userID uint64, now time.Time) {
	if _, errSweep := l.ProcessExpiredCredits(ctx, userID, now); errSweep != nil {
		log.WithError(errSweep).WithField("user_id", userID).Warn("expire lapsed credits failed")
	}
}

func (l *Ledger) announceLapsed(ctx context.Context, userID uint64, lapsed int64) {
	if lapsed <= 0 {
		return
	}
	metrics.CreditsExpired.Add(float64(lapsed))
	l.emit(ctx, events.Event{
		Type:   events.CreditsExpired,
		UserID: userID,
		Amount: lapsed,
	})
}

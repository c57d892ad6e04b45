package credits

import (
	"context"
	"errors"
	"time"

	"github.com/router-for-me/CreditLedger/internal/events"
	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SessionUser is the cached view of a user carried by a session.
type SessionUser struct {
	ID                  uint64
	CurrentCredits      int64
	LastCreditRefreshAt *time.Time
}

// ShouldRefreshCredits reports whether last falls in an earlier calendar
// month than now, in the ledger's refresh location.
func (l *Ledger) ShouldRefreshCredits(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	a := last.In(l.loc)
	b := now.In(l.loc)
	return a.Year() != b.Year() || a.Month() != b.Month()
}

// monthStart returns the first instant of now's month in the refresh location, as UTC.
func (l *Ledger) monthStart(now time.Time) time.Time {
	local := now.In(l.loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, l.loc).UTC()
}

// AddFreeMonthlyCreditsIfNeeded grants the free monthly credits once per
// calendar month and returns the balance the session should display.
func (l *Ledger) AddFreeMonthlyCreditsIfNeeded(ctx context.Context, user SessionUser) (int64, error) {
	now := l.Now()
	if !l.ShouldRefreshCredits(user.LastCreditRefreshAt, now) {
		return user.CurrentCredits, nil
	}

	var stored models.User
	if errFind := l.db.WithContext(ctx).
		Select("id", "current_credits", "last_credit_refresh_at").
		Where("id = ?", user.ID).
		First(&stored).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, wrap("load refresh state", errFind)
	}
	if !l.ShouldRefreshCredits(stored.LastCreditRefreshAt, now) {
		return stored.CurrentCredits, nil
	}

	if _, errSweep := l.ProcessExpiredCredits(ctx, user.ID, now); errSweep != nil {
		return 0, errSweep
	}

	amount := l.FreeMonthlyCredits()
	claimed := false
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND (last_credit_refresh_at IS NULL OR last_credit_refresh_at < ?)", user.ID, l.monthStart(now)).
			Updates(map[string]any{
				"last_credit_refresh_at": now,
				"updated_at":             now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true
		if amount <= 0 {
			return nil
		}
		expires := now.AddDate(0, 1, 0)
		_, errGrant := l.grantTx(ctx, tx, GrantParams{
			UserID:         user.ID,
			Amount:         amount,
			Type:           models.CreditTransactionTypeMonthlyRefresh,
			Description:    monthlyRefreshDescription,
			ExpirationDate: &expires,
		})
		return errGrant
	})
	if errTx != nil {
		return 0, wrap("monthly refresh", errTx)
	}
	if claimed && amount > 0 {
		log.WithFields(log.Fields{"user_id": user.ID, "amount": amount}).Info("free monthly credits granted")
		grantedMetric(models.CreditTransactionTypeMonthlyRefresh, amount)
		l.emit(ctx, events.Event{
			Type:            events.CreditsGranted,
			UserID:          user.ID,
			Amount:          amount,
			TransactionType: models.CreditTransactionTypeMonthlyRefresh,
		})
	}

	return l.Balance(ctx, user.ID)
}

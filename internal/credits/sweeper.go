package credits

import (
	"context"
	"errors"
	"sort"
	"time"

	dbpkg "github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/events"
	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SweepResult summarises one expiration sweep for a user.
type SweepResult struct {
	Processed      int   `json:"processed"`
	Failed         int   `json:"failed"`
	ExpiredCredits int64 `json:"expired_credits"`
}

// ProcessExpiredCredits zeroes every lapsed grant row of the user and removes
// its remaining amount from the balance. Rows are handled one transaction at
// a time; a failing row is logged and skipped.
func (l *Ledger) ProcessExpiredCredits(ctx context.Context, userID uint64, now time.Time) (SweepResult, error) {
	var result SweepResult
	if now.IsZero() {
		now = l.Now()
	}
	now = now.UTC()

	var rows []models.CreditTransaction
	if errFind := l.db.WithContext(ctx).
		Select("id", "type", "created_at").
		Where("user_id = ? AND expiration_date < ? AND expiration_date_processed_at IS NULL AND remaining_amount > 0", userID, now).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return result, wrap("find expired credits", errFind)
	}
	orderForSweep(rows)

	for _, row := range rows {
		if errCtx := ctx.Err(); errCtx != nil {
			return result, errCtx
		}
		expired, swept, errExpire := l.expireRow(ctx, row.ID, now)
		if errExpire != nil {
			result.Failed++
			metrics.SweepRowsFailed.Inc()
			log.WithError(errExpire).WithFields(log.Fields{
				"user_id":        userID,
				"transaction_id": row.ID,
			}).Error("failed to expire credit transaction")
			continue
		}
		if !swept {
			continue
		}
		result.Processed++
		result.ExpiredCredits += expired
	}

	if result.ExpiredCredits > 0 {
		metrics.CreditsExpired.Add(float64(result.ExpiredCredits))
		l.emit(ctx, events.Event{
			Type:   events.CreditsExpired,
			UserID: userID,
			Amount: result.ExpiredCredits,
		})
		log.WithFields(log.Fields{
			"user_id": userID,
			"rows":    result.Processed,
			"credits": result.ExpiredCredits,
		}).Info("expired credits processed")
	}
	return result, nil
}

// orderForSweep puts monthly refresh rows first, keeping creation order within each group.
func orderForSweep(rows []models.CreditTransaction) {
	sort.SliceStable(rows, func(i, j int) bool {
		mi := rows[i].Type == models.CreditTransactionTypeMonthlyRefresh
		mj := rows[j].Type == models.CreditTransactionTypeMonthlyRefresh
		return mi && !mj
	})
}

// expireRow stamps one row as processed and debits what it still held.
// swept is false when another sweeper already processed the row.
func (l *Ledger) expireRow(ctx context.Context, id uint64, now time.Time) (expired int64, swept bool, err error) {
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var errExpire error
		expired, swept, errExpire = l.expireRowTx(ctx, tx, id, now)
		return errExpire
	})
	if err != nil {
		return 0, false, wrap("expire credit transaction", err)
	}
	return expired, swept, nil
}

// expireRowTx is expireRow inside a caller's transaction.
func (l *Ledger) expireRowTx(ctx context.Context, tx *gorm.DB, id uint64, now time.Time) (int64, bool, error) {
	var row models.CreditTransaction
	if errFind := dbpkg.ForUpdate(tx).Where("id = ?", id).First(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, errFind
	}
	if row.ExpirationDateProcessedAt != nil {
		return 0, false, nil
	}

	res := tx.Model(&models.CreditTransaction{}).
		Where("id = ? AND expiration_date_processed_at IS NULL", id).
		Updates(map[string]any{
			"expiration_date_processed_at": now,
			"remaining_amount":             0,
			"updated_at":                   now,
		})
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected != 1 {
		return 0, false, nil
	}

	if row.RemainingAmount > 0 {
		if errUpdate := l.UpdateUserCredits(ctx, tx, row.UserID, -row.RemainingAmount); errUpdate != nil {
			return 0, false, errUpdate
		}
	}
	return row.RemainingAmount, true, nil
}

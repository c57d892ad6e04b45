package credits

import (
	"context"

	"github.com/router-for-me/CreditLedger/internal/metrics"
	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
)

// Drift is a user whose running balance disagrees with their grant rows.
type Drift struct {
	UserID   uint64 `json:"user_id"`
	Balance  int64  `json:"balance"`
	Expected int64  `json:"expected"`
	Repaired bool   `json:"repaired"`
}

// ReconcileOptions narrows and controls a reconciliation run.
type ReconcileOptions struct {
	// UserID limits the run to one user when non-zero.
	UserID uint64
	Repair bool
}

type balanceRow struct {
	ID             uint64
	CurrentCredits int64
	Expected       int64
}

// Reconcile compares each balance with the sum of unprocessed remaining
// amounts and, when asked, sets the balance to that sum.
func (l *Ledger) Reconcile(ctx context.Context, opts ReconcileOptions) ([]Drift, error) {
	sums := l.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Select("user_id, SUM(remaining_amount) AS expected").
		Where("expiration_date_processed_at IS NULL AND remaining_amount > 0").
		Group("user_id")

	query := l.db.WithContext(ctx).Table("users").
		Select("users.id AS id, users.current_credits AS current_credits, COALESCE(sums.expected, 0) AS expected").
		Joins("LEFT JOIN (?) AS sums ON sums.user_id = users.id", sums).
		Where("users.current_credits <> COALESCE(sums.expected, 0)")
	if opts.UserID != 0 {
		query = query.Where("users.id = ?", opts.UserID)
	}

	var rows []balanceRow
	if errScan := query.Order("users.id ASC").Scan(&rows).Error; errScan != nil {
		return nil, wrap("reconcile", errScan)
	}

	drifts := make([]Drift, 0, len(rows))
	for _, row := range rows {
		drift := Drift{UserID: row.ID, Balance: row.CurrentCredits, Expected: row.Expected}
		metrics.BalanceDrift.Inc()
		fields := log.Fields{"user_id": row.ID, "balance": row.CurrentCredits, "expected": row.Expected}
		if opts.Repair {
			res := l.db.WithContext(ctx).Model(&models.User{}).
				Where("id = ? AND current_credits = ?", row.ID, row.CurrentCredits).
				Updates(map[string]any{
					"current_credits": row.Expected,
					"updated_at":      l.Now(),
				})
			if res.Error != nil {
				log.WithError(res.Error).WithFields(fields).Error("credit balance repair failed")
			} else if res.RowsAffected == 1 {
				drift.Repaired = true
				log.WithFields(fields).Warn("credit balance repaired")
			}
		} else {
			log.WithFields(fields).Warn("credit balance drift detected")
		}
		drifts = append(drifts, drift)
	}
	return drifts, nil
}

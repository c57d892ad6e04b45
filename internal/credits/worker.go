package credits

import (
	"context"
	"time"

	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
)

const (
	defaultSweepInterval  = time.Hour
	defaultSweepBatchSize = 500
	maxSweepBatchesPerRun = 200
)

// ExpirationSweepWorker periodically expires lapsed credits for every user
// that has them and optionally reconciles balances.
type ExpirationSweepWorker struct {
	ledger            *Ledger
	interval          time.Duration
	batchSize         int
	reconcileInterval time.Duration
	reconcileRepair   bool
	lastReconcile     time.Time
}

// NewExpirationSweepWorker returns nil when ledger is nil.
func NewExpirationSweepWorker(ledger *Ledger) *ExpirationSweepWorker {
	if ledger == nil || ledger.db == nil {
		return nil
	}
	interval := ledger.cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	batchSize := ledger.cfg.SweepBatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &ExpirationSweepWorker{
		ledger:            ledger,
		interval:          interval,
		batchSize:         batchSize,
		reconcileInterval: ledger.cfg.ReconcileInterval,
		reconcileRepair:   ledger.cfg.ReconcileRepair,
	}
}

// Start launches the sweep loop in a background goroutine.
func (w *ExpirationSweepWorker) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go w.run(ctx)
	log.Infof("credit expiration sweeper started (interval=%s)", w.interval)
}

func (w *ExpirationSweepWorker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		w.RunOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// RunOnce sweeps every user with lapsed rows, then reconciles when due.
// It returns the combined sweep totals.
func (w *ExpirationSweepWorker) RunOnce(ctx context.Context) SweepResult {
	var total SweepResult
	if w == nil {
		return total
	}
	now := w.ledger.Now()

	lastUserID := uint64(0)
	users := 0
	for i := 0; i < maxSweepBatchesPerRun; i++ {
		if ctx.Err() != nil {
			return total
		}
		ids, errBatch := w.nextBatch(ctx, lastUserID, now)
		if errBatch != nil {
			log.WithError(errBatch).Warn("credit expiration sweeper: list users failed")
			break
		}
		if len(ids) == 0 {
			break
		}
		for _, userID := range ids {
			result, errSweep := w.ledger.ProcessExpiredCredits(ctx, userID, now)
			if errSweep != nil {
				log.WithError(errSweep).WithField("user_id", userID).Warn("credit expiration sweeper: sweep failed")
				continue
			}
			total.Processed += result.Processed
			total.Failed += result.Failed
			total.ExpiredCredits += result.ExpiredCredits
		}
		users += len(ids)
		lastUserID = ids[len(ids)-1]
		if len(ids) < w.batchSize {
			break
		}
	}

	if total.Processed > 0 || total.Failed > 0 {
		log.Infof("credit expiration sweeper: users=%d rows=%d failed=%d credits=%d", users, total.Processed, total.Failed, total.ExpiredCredits)
	}

	if w.reconcileInterval > 0 && (w.lastReconcile.IsZero() || now.Sub(w.lastReconcile) >= w.reconcileInterval) {
		w.lastReconcile = now
		drifts, errReconcile := w.ledger.Reconcile(ctx, ReconcileOptions{Repair: w.reconcileRepair})
		if errReconcile != nil {
			log.WithError(errReconcile).Warn("credit expiration sweeper: reconcile failed")
		} else if len(drifts) > 0 {
			log.Warnf("credit expiration sweeper: reconcile found %d drifted balances", len(drifts))
		}
	}
	return total
}

func (w *ExpirationSweepWorker) nextBatch(ctx context.Context, afterUserID uint64, now time.Time) ([]uint64, error) {
	var ids []uint64
	err := w.ledger.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Distinct().
		Where("user_id > ? AND expiration_date < ? AND expiration_date_processed_at IS NULL AND remaining_amount > 0", afterUserID, now).
		Order("user_id ASC").
		Limit(w.batchSize).
		Pluck("user_id", &ids).Error
	return ids, err
}

package retention

import (
	"context"
	"time"

	"github.com/router-for-me/CreditLedger/internal/models"
	internalsettings "github.com/router-for-me/CreditLedger/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultTokenCleanupInterval = 6 * time.Hour
	defaultTokenDeleteBatchSize = 1000
	maxDeleteBatchesPerRun      = 200
)

// TokenCleaner periodically deletes verification and password reset tokens
// that expired more than the retention window ago.
type TokenCleaner struct {
	db        *gorm.DB
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewTokenCleaner returns nil when db is nil.
func NewTokenCleaner(db *gorm.DB) *TokenCleaner {
	if db == nil {
		return nil
	}
	return &TokenCleaner{
		db:        db,
		interval:  defaultTokenCleanupInterval,
		batchSize: defaultTokenDeleteBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the cleanup loop in a background goroutine.
func (c *TokenCleaner) Start(ctx context.Context) {
	if c == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.run(ctx)
	log.Infof("token retention cleaner started (interval=%s)", c.interval)
}

func (c *TokenCleaner) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.CleanupOnce(ctx)
		timer := time.NewTimer(c.interval)
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

// CleanupOnce deletes every token past the cutoff and returns the number of
// rows removed.
func (c *TokenCleaner) CleanupOnce(ctx context.Context) int64 {
	if c == nil || c.db == nil {
		return 0
	}
	retentionDays := int64(internalsettings.DefaultTokenRetentionDays)
	if days, ok := internalsettings.DBConfigInt64(internalsettings.TokenRetentionDaysKey); ok && days >= 0 {
		retentionDays = days
	}
	cutoff := c.now().AddDate(0, 0, -int(retentionDays))

	var deletedTotal int64
	for _, table := range []string{
		(models.VerificationToken{}).TableName(),
		(models.PasswordResetToken{}).TableName(),
	} {
		for i := 0; i < maxDeleteBatchesPerRun; i++ {
			if ctx.Err() != nil {
				return deletedTotal
			}
			n, err := c.deleteBatch(ctx, table, cutoff)
			if err != nil {
				log.WithError(err).WithField("table", table).Warn("token retention cleaner: delete batch failed")
				break
			}
			deletedTotal += n
			if n < int64(c.batchSize) {
				break
			}
		}
	}
	if deletedTotal > 0 {
		log.Infof("token retention cleaner: deleted %d rows (cutoff=%s retention_days=%d)", deletedTotal, cutoff.Format(time.RFC3339), retentionDays)
	}
	return deletedTotal
}

func (c *TokenCleaner) deleteBatch(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	// Limited subquery keeps each delete short.
	res := c.db.WithContext(ctx).Exec(`
		DELETE FROM `+table+`
		WHERE id IN (
			SELECT id FROM `+table+`
			WHERE expires_at < ?
			ORDER BY expires_at ASC
			LIMIT ?
		)
	`, cutoff, c.batchSize)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

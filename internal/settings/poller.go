package settings

import (
	"context"
	"time"

	"github.com/router-for-me/CreditLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPollInterval = 30 * time.Second

// Poller reloads the snapshot when another instance has written settings.
type Poller struct {
	db       *gorm.DB
	interval time.Duration
}

// NewPoller returns nil when db is nil. A non-positive interval selects 30s.
func NewPoller(db *gorm.DB, interval time.Duration) *Poller {
	if db == nil {
		return nil
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{db: db, interval: interval}
}

// Start launches the poll loop in a background goroutine.
func (p *Poller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	go p.run(ctx)
	log.Infof("settings poller started (interval=%s)", p.interval)
}

func (p *Poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, errPoll := p.PollOnce(ctx); errPoll != nil {
				log.WithError(errPoll).Warn("settings poller: refresh failed")
			}
		}
	}
}

// PollOnce refreshes the snapshot if the newest stored row is newer than it.
func (p *Poller) PollOnce(ctx context.Context) (bool, error) {
	var latest models.Setting
	res := p.db.WithContext(ctx).Select("updated_at").Order("updated_at DESC").Limit(1).Find(&latest)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 || !latest.UpdatedAt.UTC().After(DBConfigUpdatedAt()) {
		return false, nil
	}
	if errRefresh := RefreshDBConfigSnapshot(ctx, p.db); errRefresh != nil {
		return false, errRefresh
	}
	return true, nil
}

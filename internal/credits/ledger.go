// Package credits implements the credit ledger: balance mutation, transaction
// logging, FIFO consumption, the monthly free-credit refresh and the
// expiration sweep.
//
// Every mutation keeps users.current_credits equal to the sum of
// remaining_amount over the user's unprocessed grant rows by writing both
// inside one database transaction.
package credits

import (
	"context"
	"time"

	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/events"
	internalsettings "github.com/router-for-me/CreditLedger/internal/settings"
	"gorm.io/gorm"
)

// Descriptions written on ledger rows.
const (
	monthlyRefreshDescription = "Free monthly credits"
	maxDescriptionLength      = 255
)

// Ledger owns all credit balance mutations.
type Ledger struct {
	db  *gorm.DB
	cfg config.CreditsConfig
	loc *time.Location
	now func() time.Time

	publisher events.Publisher
}

// NewLedger builds a ledger over db using the credits configuration.
func NewLedger(db *gorm.DB, cfg config.CreditsConfig) *Ledger {
	return &Ledger{
		db:  db,
		cfg: cfg,
		loc: cfg.Location(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Now returns the ledger clock in UTC.
func (l *Ledger) Now() time.Time { return l.now().UTC() }

// SetClock replaces the ledger clock; nil restores the wall clock.
func (l *Ledger) SetClock(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	l.now = now
}

// SetPublisher sets where committed changes are announced; nil disables it.
func (l *Ledger) SetPublisher(p events.Publisher) { l.publisher = p }

func (l *Ledger) emit(ctx context.Context, ev events.Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = l.Now()
	}
	events.Emit(ctx, l.publisher, ev)
}

// FreeMonthlyCredits returns the monthly grant, honouring the runtime override.
func (l *Ledger) FreeMonthlyCredits() int64 {
	if n, ok := internalsettings.DBConfigInt64(internalsettings.FreeMonthlyCreditsKey); ok && n >= 0 {
		return n
	}
	return l.cfg.MonthlyCredits()
}

// PurchaseExpiration returns when credits bought at t lapse.
func (l *Ledger) PurchaseExpiration(t time.Time) time.Time {
	return t.AddDate(l.cfg.ExpirationYears, 0, 0)
}

func (l *Ledger) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return l.db.WithContext(ctx)
}

func truncateDescription(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDescriptionLength {
		return s
	}
	return string(runes[:maxDescriptionLength])
}

package credits

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/CreditLedger/internal/config"
	dbpkg "github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/models"
	"gorm.io/gorm"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func testCreditsConfig() config.CreditsConfig {
	cfg := config.Default().Credits
	cfg.Items = []config.ItemPrice{
		{Type: models.ItemTypeComponent, ID: "hero-section", Price: 40},
		{Type: models.ItemTypeComponent, ID: "pricing-table", Price: 500},
	}
	return cfg
}

func newTestLedger(t *testing.T, start time.Time) (*Ledger, *testClock) {
	t.Helper()
	dsn := fmt.Sprintf("file:credits_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), dbpkg.GormConfig())
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	clock := &testClock{now: start.UTC()}
	ledger := NewLedger(conn, testCreditsConfig())
	ledger.now = clock.Now
	return ledger, clock
}

func createUser(t *testing.T, l *Ledger, email string) models.User {
	t.Helper()
	user := models.User{Email: email, Role: models.RoleUser}
	if errCreate := l.db.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	return user
}

func mustGrant(t *testing.T, l *Ledger, userID uint64, amount int64, txType string, expires *time.Time) *models.CreditTransaction {
	t.Helper()
	row, err := l.Grant(context.Background(), GrantParams{
		UserID:         userID,
		Amount:         amount,
		Type:           txType,
		Description:    fmt.Sprintf("grant %d", amount),
		ExpirationDate: expires,
	})
	if err != nil {
		t.Fatalf("grant %d: %v", amount, err)
	}
	return row
}

func mustBalance(t *testing.T, l *Ledger, userID uint64) int64 {
	t.Helper()
	balance, err := l.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func loadRow(t *testing.T, l *Ledger, id uint64) models.CreditTransaction {
	t.Helper()
	var row models.CreditTransaction
	if errFind := l.db.First(&row, id).Error; errFind != nil {
		t.Fatalf("load row %d: %v", id, errFind)
	}
	return row
}

func sumAmounts(t *testing.T, l *Ledger, userID uint64) int64 {
	t.Helper()
	var rows []models.CreditTransaction
	if errFind := l.db.Where("user_id = ?", userID).Find(&rows).Error; errFind != nil {
		t.Fatalf("load rows: %v", errFind)
	}
	var sum int64
	for _, row := range rows {
		sum += row.Amount
	}
	return sum
}

func timePtr(t time.Time) *time.Time { return &t }

var baseTime = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func sumRemaining(t *testing.T, l *Ledger, userID uint64) int64 {
	t.Helper()
	var sum int64
	if errSum := l.db.Model(&models.CreditTransaction{}).
		Where("user_id = ? AND expiration_date_processed_at IS NULL", userID).
		Select("COALESCE(SUM(remaining_amount), 0)").
		Scan(&sum).Error; errSum != nil {
		t.Fatalf("sum remaining: %v", errSum)
	}
	return sum
}

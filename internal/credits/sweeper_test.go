package credits

import (
	"context"
	"testing"
	"time"

	"github.com/router-for-me/CreditLedger/internal/models"
)

func TestSweepExpiresLapsedMonthlyRefreshOnly(t *testing.T) {
	l, clock := newTestLedger(t, baseTime)
	user := createUser(t, l, "sweep@example.com")

	monthly := mustGrant(t, l, user.ID, 50, models.CreditTransactionTypeMonthlyRefresh, timePtr(baseTime.AddDate(0, 1, 0)))
	clock.Advance(time.Minute)
	purchase := mustGrant(t, l, user.ID, 500, models.CreditTransactionTypePurchase, timePtr(baseTime.AddDate(2, 0, 0)))
	clock.Advance(time.Minute)
	if _, err := l.UseCredits(context.Background(), UseParams{UserID: user.ID, Amount: 30, Description: "spend"}); err != nil {
		t.Fatalf("use: %v", err)
	}

	sweepAt := baseTime.AddDate(0, 1, 0).Add(time.Second)
	result, err := l.ProcessExpiredCredits(context.Background(), user.ID, sweepAt)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Processed != 1 || result.ExpiredCredits != 20 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 1 row / 20 credits", result)
	}

	swept := loadRow(t, l, monthly.ID)
	if swept.RemainingAmount != 0 || swept.ExpirationDateProcessedAt == nil || !swept.ExpirationDateProcessedAt.Equal(sweepAt) {
		t.Fatalf("monthly row after sweep = %+v", swept)
	}
	if got := loadRow(t, l, purchase.ID).RemainingAmount; got != 500 {
		t.Fatalf("purchase remaining = %d, want 500", got)
	}
	if got := mustBalance(t, l, user.ID); got != 500 {
		t.Fatalf("balance = %d, want 500", got)
	}
}

func TestSweepNeverProcessesRowTwice(t *testing.T) {
	l, _ := newTestLedger(t, baseTime)
	user := createUser(t, l, "twice@example.com")
	mustGrant(t, l, user.ID, 80, models.CreditTransactionTypePurchase, timePtr(baseTime.Add(time.Hour)))

	later := baseTime.Add(2 * time.Hour)
	first, err := l.ProcessExpiredCredits(context.Background(), user.ID, later)
	if err != nil || first.Processed != 1 {
		t.Fatalf("first sweep = %+v, err = %v", first, err)
	}
	second, err := l.ProcessExpiredCredits(context.Background(), user.ID, later.Add(time.Hour))
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Processed != 0 || second.ExpiredCredits != 0 {
		t.Fatalf("second sweep = %+v, want nothing", second)
	}
	if got := mustBalance(t, l, user.ID); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestExpireRowSkipsAlreadyProcessed(t *testing.T) {
	l, _ := newTestLedger(t, baseTime)
	user := createUser(t, l, "race@example.com")
	row := mustGrant(t, l, user.ID, 10, models.CreditTransactionTypePurchase, timePtr(baseTime.Add(time.Minute)))

	now := baseTime.Add(time.Hour)
	expired, swept, err := l.expireRow(context.Background(), row.ID, now)
	if err != nil || !swept || expired != 10 {
		t.Fatalf("first expire = %d %v %v", expired, swept, err)
	}
	expired, swept, err = l.expireRow(context.Background(), row.ID, now)
	if err != nil || swept || expired != 0 {
		t.Fatalf("second expire = %d %v %v", expired, swept, err)
	}
	if got := mustBalance(t, l, user.ID); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
}

func TestSweepLeavesUnexpiredAndNeverExpiringRows(t *testing.T) {
	l, _ := newTestLedger(t, baseTime)
	user := createUser(t, l, "keep@example.com")
	mustGrant(t, l, user.ID, 10, models.CreditTransactionTypePurchase, nil)
	mustGrant(t, l, user.ID, 20, models.CreditTransactionTypePurchase, timePtr(baseTime.AddDate(0, 0, 7)))

	result, err := l.ProcessExpiredCredits(context.Background(), user.ID, baseTime.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("processed = %d, want 0", result.Processed)
	}
	if got := mustBalance(t, l, user.ID); got != 30 {
		t.Fatalf("balance = %d, want 30", got)
	}
}

func TestOrderForSweepPutsMonthlyFirst(t *testing.T) {
	rows := []models.CreditTransaction{
		{ID: 1, Type: models.CreditTransactionTypePurchase},
		{ID: 2, Type: models.CreditTransactionTypeMonthlyRefresh},
		{ID: 3, Type: models.CreditTransactionTypePurchase},
		{ID: 4, Type: models.CreditTransactionTypeMonthlyRefresh},
	}
	orderForSweep(rows)
	want := []uint64{2, 4, 1, 3}
	for i, id := range want {
		if rows[i].ID != id {
			t.Fatalf("position %d = %d, want %d", i, rows[i].ID, id)
		}
	}
}

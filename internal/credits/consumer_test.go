package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/router-for-me/CreditLedger/internal/models"
)

func TestUseCreditsConsumesOldestFirst(t *testing.T) {
	l, clock := newTestLedger(t, baseTime)
	user := createUser(t, l, "fifo@example.com")
	expires := baseTime.AddDate(1, 0, 0)

	first := mustGrant(t, l, user.ID, 300, models.CreditTransactionTypePurchase, &expires)
	clock.Advance(time.Minute)
	second := mustGrant(t, l, user.ID, 200, models.CreditTransactionTypePurchase, &expires)
	clock.Advance(time.Minute)

	balance, err := l.UseCredits(context.Background(), UseParams{UserID: user.ID, Amount: 350, Description: "render"})
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if balance != 150 {
		t.Fatalf("balance = %d, want 150", balance)
	}
	if got := loadRow(t, l, first.ID).RemainingAmount; got != 0 {
		t.Fatalf("first remaining = %d, want 0", got)
	}
	if got := loadRow(t, l, second.ID).RemainingAmount; got != 150 {
		t.Fatalf("second remaining = %d, want 150", got)
	}

	var usage []models.CreditTransaction
	l.db.Where("user_id = ? AND type = ?", user.ID, models.CreditTransactionTypeUsage).Find(&usage)
	if len(usage) != 1 || usage[0].Amount != -350 || usage[0].RemainingAmount != 0 || usage[0].Description != "render" {
		t.Fatalf("usage rows = %+v", usage)
	}
	if sum := sumAmounts(t, l, user.ID); sum != balance {
		t.Fatalf("sum of amounts %d != balance %d", sum, balance)
	}
}

func TestUseCreditsExactTotalZeroesEveryRow(t *testing.T) {
	l, clock := newTestLedger(t, baseTime)
	user := createUser(t, l, "exact@example.com")

	var ids []uint64
	for _, amount := range []int64{40, 60, 25} {
		ids = append(ids, mustGrant(t, l, user.ID, amount, models.CreditTransactionTypePurchase, nil).ID)
		clock.Advance(time.Second)
	}

	balance, err := l.UseCredits(context.Background(), UseParams{UserID: user.ID, Amount: 125, Description: "all"})
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
	for _, id := range ids {
		if got := loadRow(t, l, id).RemainingAmount; got != 0 {
			t.Fatalf("row %d remaining = %d, want 0", id, got)
		}
	}
}

func TestUseCreditsInsufficientLeavesStateUnchanged(t *testing.T) {
	l, _ := newTestLedger(t, baseTime)
	user := createUser(t, l, "short@example.com")
	row := mustGrant(t, l, user.ID, 100, models.CreditTransactionTypePurchase, nil)

	_, err := l.UseCredits(context.Background(), UseParams{UserID: user.ID, Amount: 101, Description: "too much"})
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if got := mustBalance(t, l, user.ID); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
	if got := loadRow(t, l, row.ID).RemainingAmount; got != 100 {
		t.Fatalf("remaining = %d, want 100", got)
	}
	var usage int64
	l.db.Model(&models.CreditTransaction{}).Where("type = ?", models.CreditTransactionTypeUsage).Count(&usage)
	if usage != 0 {
		t.Fatalf("usage rows = %d, want 0", usage)
	}
}

func TestUseCreditsRejectsNonPositiveAmount(t *testing.T) {
	l, _ := newTestLedger(t, baseTime)
	user := createUser(t, l, "invalid@example.com")
	for _, amount := range []int64{0, -1} {
		if _, err := l.UseCredits(context.Background(), UseParams{UserID: user.ID, Amount: amount}); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: err = %v", amount, err)
		}
	}
}

func TestUseCreditsUnknownUser(t *testing.T) {
	l, _ := newTestLedger(t, baseTime)
	if _, err := l.UseCredits(context.Background(), UseParams{UserID: 404, Amount: 1}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestUseCreditsSkipsLapsedRows(t *testing.T) {
	l, clock := newTestLedger(t, baseTime)
	user := createUser(t, l, "lapsed@example.com")

	lapsed := mustGrant(t, l, user.ID, 100, models.CreditTransactionTypePurchase, timePtr(baseTime.Add(time.Hour)))
	clock.Advance(time.Minute)
	fresh := mustGrant(t, l, user.ID, 100, models.CreditTransactionTypePurchase, nil)
	clock.Advance(2 * time.Hour)

	if _, err := l.UseCredits(context.Background(), UseParams{UserID: user.ID, Amount: 50, Description: "after lapse"}); err != nil {
		t.Fatalf("use: %v", err)
	}
	lapsedRow := loadRow(t, l, lapsed.ID)
	if lapsedRow.RemainingAmount != 0 || lapsedRow.ExpirationDateProcessedAt == nil {
		t.Fatalf("lapsed row = remaining %d processed %v, want expired", lapsedRow.RemainingAmount, lapsedRow.ExpirationDateProcessedAt)
	}
	if got := loadRow(t, l, fresh.ID).RemainingAmount; got != 50 {
		t.Fatalf("fresh remaining = %d, want 50", got)
	}
	if got := mustBalance(t, l, user.ID); got != 50 {
		t.Fatalf("balance = %d, want 50", got)
	}
}

func TestUseCreditsCannotSpendUnsweptLapsedGrant(t *testing.T) {
	l, clock := newTestLedger(t, baseTime)
	user := createUser(t, l, "unswept@example.com")
	row := mustGrant(t, l, user.ID, 100, models.CreditTransactionTypePurchase, timePtr(baseTime.Add(time.Hour)))
	clock.Advance(2 * time.Hour)

	if _, err := l.UseCredits(context.Background(), UseParams{UserID: user.ID, Amount: 100, Description: "after lapse"}); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	if got := mustBalance(t, l, user.ID); got != 0 {
		t.Fatalf("balance after refused spend = %d, want 0", got)
	}
	stored := loadRow(t, l, row.ID)
	if stored.RemainingAmount != 0 || stored.ExpirationDateProcessedAt == nil {
		t.Fatalf("row = remaining %d processed %v, want expired", stored.RemainingAmount, stored.ExpirationDateProcessedAt)
	}

	result, err := l.ProcessExpiredCredits(context.Background(), user.ID, time.Time{})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("sweep processed %d rows twice", result.Processed)
	}
	if got := mustBalance(t, l, user.ID); got != 0 {
		t.Fatalf("balance after sweep = %d, want 0", got)
	}
	if sum := sumRemaining(t, l, user.ID); sum != 0 {
		t.Fatalf("sum of remaining = %d, want 0", sum)
	}
}

func TestUseCreditsExpiresGrantAtExactExpiry(t *testing.T) {
	l, clock := newTestLedger(t, baseTime)
	user := createUser(t, l, "boundary@example.com")
	mustGrant(t, l, user.ID, 40, models.CreditTransactionTypePurchase, timePtr(baseTime.Add(time.Hour)))
	mustGrant(t, l, user.ID, 60, models.CreditTransactionTypePurchase, nil)
	clock.Advance(time.Hour)

	balance, err := l.UseCredits(context.Background(), UseParams{UserID: user.ID, Amount: 60, Description: "at expiry"})
	if err != nil {
		t.Fatalf("use: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0", balance)
	}
	if sum := sumRemaining(t, l, user.ID); sum != 0 {
		t.Fatalf("sum of remaining = %d, want 0", sum)
	}
}

func TestBalanceEqualsSumAcrossSequence(t *testing.T) {
	l, clock := newTestLedger(t, baseTime)
	user := createUser(t, l, "seq@example.com")

	steps := []struct {
		grant int64
		use   int64
	}{
		{grant: 500}, {use: 120}, {grant: 50}, {use: 300}, {use: 130}, {grant: 1200}, {use: 1}, {use: 1199},
	}
	for i, step := range steps {
		clock.Advance(time.Second)
		if step.grant > 0 {
			mustGrant(t, l, user.ID, step.grant, models.CreditTransactionTypePurchase, nil)
		} else if _, err := l.UseCredits(context.Background(), UseParams{UserID: user.ID, Amount: step.use, Description: "step"}); err != nil {
			t.Fatalf("step %d use %d: %v", i, step.use, err)
		}
		balance := mustBalance(t, l, user.ID)
		if sum := sumAmounts(t, l, user.ID); sum != balance {
			t.Fatalf("step %d: sum %d != balance %d", i, sum, balance)
		}
	}
	if drifts, err := l.Reconcile(context.Background(), ReconcileOptions{UserID: user.ID}); err != nil || len(drifts) != 0 {
		t.Fatalf("reconcile drifts = %+v err = %v", drifts, err)
	}
}

package credits

import (
	"context"
	"testing"
	"time"

	"github.com/router-for-me/CreditLedger/internal/models"
)

func TestNewExpirationSweepWorkerNilLedger(t *testing.T) {
	if w := NewExpirationSweepWorker(nil); w != nil {
		t.Fatalf("expected nil worker")
	}
	var w *ExpirationSweepWorker
	w.Start(context.Background())
	if got := w.RunOnce(context.Background()); got != (SweepResult{}) {
		t.Fatalf("nil worker result = %+v", got)
	}
}

func TestWorkerRunOnceSweepsEveryUserAcrossBatches(t *testing.T) {
	l, clock := newTestLedger(t, baseTime)
	var ids []uint64
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		user := createUser(t, l, email)
		ids = append(ids, user.ID)
		mustGrant(t, l, user.ID, 10, models.CreditTransactionTypePurchase, timePtr(baseTime.Add(time.Hour)))
		mustGrant(t, l, user.ID, 5, models.CreditTransactionTypePurchase, nil)
	}

	w := NewExpirationSweepWorker(l)
	w.batchSize = 2
	w.reconcileInterval = 0
	clock.Advance(2 * time.Hour)

	result := w.RunOnce(context.Background())
	if result.Processed != 3 || result.ExpiredCredits != 30 {
		t.Fatalf("result = %+v, want 3 rows / 30 credits", result)
	}
	for _, id := range ids {
		if got := mustBalance(t, l, id); got != 5 {
			t.Fatalf("user %d balance = %d, want 5", id, got)
		}
	}

	if again := w.RunOnce(context.Background()); again.Processed != 0 {
		t.Fatalf("second run = %+v, want nothing", again)
	}
}

func TestWorkerReconcilesWhenDue(t *testing.T) {
	l, clock := newTestLedger(t, baseTime)
	user := createUser(t, l, "drift@example.com")
	mustGrant(t, l, user.ID, 40, models.CreditTransactionTypePurchase, nil)
	if err := l.UpdateUserCredits(context.Background(), nil, user.ID, 7); err != nil {
		t.Fatalf("skew: %v", err)
	}

	w := NewExpirationSweepWorker(l)
	w.reconcileInterval = time.Hour
	w.reconcileRepair = true

	w.RunOnce(context.Background())
	if got := mustBalance(t, l, user.ID); got != 40 {
		t.Fatalf("balance = %d, want repaired 40", got)
	}

	if err := l.UpdateUserCredits(context.Background(), nil, user.ID, 3); err != nil {
		t.Fatalf("skew again: %v", err)
	}
	clock.Advance(time.Minute)
	w.RunOnce(context.Background())
	if got := mustBalance(t, l, user.ID); got != 43 {
		t.Fatalf("reconcile ran before interval: balance = %d", got)
	}
}

func TestWorkerStartStopsWithContext(t *testing.T) {
	l, _ := newTestLedger(t, baseTime)
	w := NewExpirationSweepWorker(l)
	w.interval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	time.Sleep(5 * time.Millisecond)
	cancel()
}

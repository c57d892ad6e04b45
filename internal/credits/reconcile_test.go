package credits

import (
	"context"
	"testing"

	"github.com/router-for-me/CreditLedger/internal/models"
)

func TestReconcileReportsAndRepairsDrift(t *testing.T) {
	l, _ := newTestLedger(t, baseTime)
	healthy := createUser(t, l, "healthy@example.com")
	drifted := createUser(t, l, "drifted@example.com")
	empty := createUser(t, l, "empty@example.com")

	mustGrant(t, l, healthy.ID, 100, models.CreditTransactionTypePurchase, nil)
	mustGrant(t, l, drifted.ID, 100, models.CreditTransactionTypePurchase, nil)
	if err := l.UpdateUserCredits(context.Background(), nil, drifted.ID, 25); err != nil {
		t.Fatalf("skew balance: %v", err)
	}
	if err := l.UpdateUserCredits(context.Background(), nil, empty.ID, -5); err != nil {
		t.Fatalf("skew empty: %v", err)
	}

	drifts, err := l.Reconcile(context.Background(), ReconcileOptions{})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(drifts) != 2 {
		t.Fatalf("drifts = %+v, want 2", drifts)
	}
	if drifts[0].UserID != drifted.ID || drifts[0].Balance != 125 || drifts[0].Expected != 100 || drifts[0].Repaired {
		t.Fatalf("drift[0] = %+v", drifts[0])
	}
	if drifts[1].UserID != empty.ID || drifts[1].Expected != 0 {
		t.Fatalf("drift[1] = %+v", drifts[1])
	}
	if got := mustBalance(t, l, drifted.ID); got != 125 {
		t.Fatalf("dry run changed balance to %d", got)
	}

	repaired, err := l.Reconcile(context.Background(), ReconcileOptions{UserID: drifted.ID, Repair: true})
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if len(repaired) != 1 || !repaired[0].Repaired {
		t.Fatalf("repaired = %+v", repaired)
	}
	if got := mustBalance(t, l, drifted.ID); got != 100 {
		t.Fatalf("balance after repair = %d, want 100", got)
	}
	if got := mustBalance(t, l, empty.ID); got != -5 {
		t.Fatalf("scoped repair touched other user: %d", got)
	}
}

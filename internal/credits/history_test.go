package credits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/router-for-me/CreditLedger/internal/models"
)

func TestListTransactionsNewestFirstWithPagination(t *testing.T) {
	l, clock := newTestLedger(t, baseTime)
	user := createUser(t, l, "history@example.com")
	other := createUser(t, l, "other@example.com")

	for i := 1; i <= 12; i++ {
		mustGrant(t, l, user.ID, int64(i), models.CreditTransactionTypePurchase, nil)
		clock.Advance(time.Second)
	}
	mustGrant(t, l, other.ID, 999, models.CreditTransactionTypePurchase, nil)

	page1, err := l.ListTransactions(context.Background(), user.ID, 1, 5)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if page1.Pagination.Total != 12 || page1.Pagination.Pages != 3 || page1.Pagination.Current != 1 {
		t.Fatalf("pagination = %+v", page1.Pagination)
	}
	if len(page1.Transactions) != 5 || page1.Transactions[0].Amount != 12 || page1.Transactions[4].Amount != 8 {
		t.Fatalf("page 1 amounts = %+v", page1.Transactions)
	}

	page3, err := l.ListTransactions(context.Background(), user.ID, 3, 5)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3.Transactions) != 2 || page3.Transactions[1].Amount != 1 {
		t.Fatalf("page 3 = %+v", page3.Transactions)
	}

	defaults, err := l.ListTransactions(context.Background(), user.ID, 1, 0)
	if err != nil {
		t.Fatalf("default limit: %v", err)
	}
	if len(defaults.Transactions) != 10 || defaults.Pagination.Pages != 2 {
		t.Fatalf("default page = %d rows, %d pages", len(defaults.Transactions), defaults.Pagination.Pages)
	}
}

func TestListTransactionsValidatesPaging(t *testing.T) {
	l, _ := newTestLedger(t, baseTime)
	user := createUser(t, l, "paging@example.com")

	cases := []struct {
		page, limit int
		want        error
	}{
		{0, 5, ErrInvalidPage},
		{1, -1, ErrInvalidPage},
		{1, 11, ErrLimitTooLarge},
	}
	for _, tc := range cases {
		if _, err := l.ListTransactions(context.Background(), user.ID, tc.page, tc.limit); !errors.Is(err, tc.want) {
			t.Fatalf("page=%d limit=%d: err = %v, want %v", tc.page, tc.limit, err, tc.want)
		}
	}

	empty, err := l.ListTransactions(context.Background(), user.ID, 1, 10)
	if err != nil {
		t.Fatalf("empty: %v", err)
	}
	if empty.Pagination.Total != 0 || empty.Pagination.Pages != 0 || len(empty.Transactions) != 0 {
		t.Fatalf("empty page = %+v", empty)
	}
}

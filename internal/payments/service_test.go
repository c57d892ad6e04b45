package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/CreditLedger/internal/config"
	"github.com/router-for-me/CreditLedger/internal/credits"
	dbpkg "github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/models"
	"gorm.io/gorm"
)

type fakeGateway struct {
	created []CreateIntentParams
	intents map[string]*Intent
	nextID  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]*Intent{}}
}

func (g *fakeGateway) CreateIntent(_ context.Context, params CreateIntentParams) (*Intent, error) {
	g.created = append(g.created, params)
	g.nextID++
	intent := &Intent{
		ID:           fmt.Sprintf("pi_%d", g.nextID),
		ClientSecret: fmt.Sprintf("pi_%d_secret", g.nextID),
		Status:       "requires_payment_method",
		Amount:       params.AmountCents,
		Currency:     params.Currency,
		Metadata:     params.Metadata,
	}
	g.intents[intent.ID] = intent
	return intent, nil
}

func (g *fakeGateway) GetIntent(_ context.Context, id string) (*Intent, error) {
	intent, ok := g.intents[id]
	if !ok {
		return nil, errors.New("no such payment_intent")
	}
	copied := *intent
	return &copied, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:payments_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), dbpkg.GormConfig())
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func newTestService(t *testing.T, conn *gorm.DB) (*Service, *fakeGateway, *credits.Ledger, models.User) {
	t.Helper()
	user := models.User{Email: "buyer@example.com", Role: models.RoleUser}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}
	ledger := credits.NewLedger(conn, config.Default().Credits)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ledger.SetClock(func() time.Time { return now })
	gateway := newFakeGateway()
	return NewService(gateway, ledger, "USD"), gateway, ledger, user
}

func TestCreatePaymentIntentUsesPackagePrice(t *testing.T) {
	svc, gateway, _, user := newTestService(t, openTestDB(t))

	intent, err := svc.CreatePaymentIntent(context.Background(), user.ID, "package-2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if intent.ClientSecret == "" {
		t.Fatalf("missing client secret")
	}
	params := gateway.created[0]
	if params.AmountCents != 1000 || params.Currency != "usd" {
		t.Fatalf("params = %+v", params)
	}
	want := map[string]string{"userId": strconv.FormatUint(user.ID, 10), "packageId": "package-2", "credits": "1200"}
	for k, v := range want {
		if params.Metadata[k] != v {
			t.Fatalf("metadata[%s] = %q, want %q", k, params.Metadata[k], v)
		}
	}

	if _, err := svc.CreatePaymentIntent(context.Background(), user.ID, "package-9"); !errors.Is(err, credits.ErrInvalidPackage) {
		t.Fatalf("unknown package err = %v", err)
	}
}

func TestConfirmPaymentGrantsOnce(t *testing.T) {
	conn := openTestDB(t)
	svc, gateway, ledger, user := newTestService(t, conn)
	ctx := context.Background()

	intent, _ := svc.CreatePaymentIntent(ctx, user.ID, "package-1")
	if _, err := svc.ConfirmPayment(ctx, user.ID, intent.ID, "package-1"); !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("unpaid err = %v", err)
	}

	gateway.intents[intent.ID].Status = StatusSucceeded
	res, err := svc.ConfirmPayment(ctx, user.ID, intent.ID, "package-1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Credits != 500 || res.Balance != 500 {
		t.Fatalf("result = %+v", res)
	}

	var row models.CreditTransaction
	if errFind := conn.Where("user_id = ?", user.ID).First(&row).Error; errFind != nil {
		t.Fatalf("find grant: %v", errFind)
	}
	if row.Type != models.CreditTransactionTypePurchase || row.Description != "Purchased 500 credits" {
		t.Fatalf("row = %+v", row)
	}
	if row.PaymentIntentID == nil || *row.PaymentIntentID != intent.ID {
		t.Fatalf("payment intent id = %v", row.PaymentIntentID)
	}
	wantExpiry := time.Date(2028, 3, 10, 12, 0, 0, 0, time.UTC)
	if row.ExpirationDate == nil || !row.ExpirationDate.Equal(wantExpiry) {
		t.Fatalf("expiration = %v, want %v", row.ExpirationDate, wantExpiry)
	}

	if _, err := svc.ConfirmPayment(ctx, user.ID, intent.ID, "package-1"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("replay err = %v", err)
	}
	balance, _ := ledger.Balance(ctx, user.ID)
	if balance != 500 {
		t.Fatalf("balance after replay = %d", balance)
	}
}

func TestConfirmPaymentRejectsMismatch(t *testing.T) {
	svc, gateway, _, user := newTestService(t, openTestDB(t))
	ctx := context.Background()

	intent, _ := svc.CreatePaymentIntent(ctx, user.ID, "package-1")
	gateway.intents[intent.ID].Status = StatusSucceeded

	if _, err := svc.ConfirmPayment(ctx, user.ID, intent.ID, "package-3"); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("package mismatch err = %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, user.ID+1, intent.ID, "package-1"); !errors.Is(err, ErrPaymentMismatch) {
		t.Fatalf("user mismatch err = %v", err)
	}
	if _, err := svc.ConfirmPayment(ctx, user.ID, "pi_missing", "package-1"); err == nil {
		t.Fatalf("expected retrieve error")
	}
}

func TestServiceWithoutGateway(t *testing.T) {
	svc := NewService(nil, nil, "")
	if _, err := svc.CreatePaymentIntent(context.Background(), 1, "package-1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

package models

import "time"

// Credit transaction types.
const (
	CreditTransactionTypePurchase       = "PURCHASE"
	CreditTransactionTypeUsage          = "USAGE"
	CreditTransactionTypeMonthlyRefresh = "MONTHLY_REFRESH"
)

// CreditTransaction is one append-only ledger row. Positive rows carry a
// RemainingAmount that consumption and expiry drive to zero.
type CreditTransaction struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.
	UserID uint64 `gorm:"not null;index"`           // Owning user.

	Amount          int64  `gorm:"not null"`                                    // Signed credit delta.
	RemainingAmount int64  `gorm:"not null;default:0"`                          // Unconsumed part of a grant; 0 for usage.
	Type            string `gorm:"column:type;type:varchar(32);not null;index"` // PURCHASE, USAGE or MONTHLY_REFRESH.
	Description     string `gorm:"type:varchar(255);not null"`                  // Human-readable reason.

	ExpirationDate            *time.Time `gorm:"index"` // When the grant lapses; nil never expires.
	ExpirationDateProcessedAt *time.Time `gorm:""`      // Set once by the expiration sweep.

	PaymentIntentID *string `gorm:"type:varchar(255);uniqueIndex"` // Stripe payment intent for purchases.

	CreatedAt time.Time `gorm:"not null;index"` // Creation timestamp; FIFO order key.
	UpdatedAt time.Time `gorm:"not null"`       // Last update timestamp.
}

// TableName pins the table name.
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

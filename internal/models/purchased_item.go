package models

import "time"

// Purchasable item types.
const (
	ItemTypeComponent = "COMPONENT"
)

// PurchasedItem records an item a user bought with credits.
type PurchasedItem struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`                                  // Primary key.
	UserID      uint64    `gorm:"not null;uniqueIndex:idx_purchased_items_owner,priority:1"` // Buyer.
	ItemType    string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_purchased_items_owner,priority:2"`
	ItemID      string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_purchased_items_owner,priority:3"`
	PurchasedAt time.Time `gorm:"not null"` // Purchase timestamp.
}

// Key returns the "<type>:<id>" form used by clients.
func (p PurchasedItem) Key() string {
	return p.ItemType + ":" + p.ItemID
}

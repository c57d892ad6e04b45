package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/router-for-me/CreditLedger/internal/models"
	"gorm.io/gorm"
)

// PurchaseItemParams describes buying a catalog item with credits.
type PurchaseItemParams struct {
	UserID   uint64
	ItemType string
	ItemID   string
	// Price is the price the client saw; zero skips the check.
	Price int64
}

// ItemPrice returns the catalog price of an item.
func (l *Ledger) ItemPrice(itemType, itemID string) (int64, error) {
	for _, item := range l.cfg.Items {
		if strings.EqualFold(item.Type, itemType) && item.ID == itemID {
			return item.Price, nil
		}
	}
	return 0, ErrUnknownItem
}

// PurchaseItem spends the item's price and records ownership atomically.
func (l *Ledger) PurchaseItem(ctx context.Context, params PurchaseItemParams) (int64, error) {
	itemType := strings.ToUpper(strings.TrimSpace(params.ItemType))
	itemID := strings.TrimSpace(params.ItemID)
	if itemType != models.ItemTypeComponent || itemID == "" {
		return 0, ErrUnknownItem
	}
	price, errPrice := l.ItemPrice(itemType, itemID)
	if errPrice != nil {
		return 0, errPrice
	}
	if params.Price != 0 && params.Price != price {
		return 0, ErrItemPriceMismatch
	}

	owned, errOwned := l.ownsItem(ctx, params.UserID, itemType, itemID)
	if errOwned != nil {
		return 0, errOwned
	}
	if owned {
		return 0, ErrItemAlreadyOwned
	}

	return l.useCredits(ctx, UseParams{
		UserID:      params.UserID,
		Amount:      price,
		Description: fmt.Sprintf("Purchased %s %s", itemType, itemID),
	}, func(tx *gorm.DB) error {
		var count int64
		if errCount := tx.Model(&models.PurchasedItem{}).
			Where("user_id = ? AND item_type = ? AND item_id = ?", params.UserID, itemType, itemID).
			Count(&count).Error; errCount != nil {
			return errCount
		}
		if count > 0 {
			return ErrItemAlreadyOwned
		}
		errCreate := tx.Create(&models.PurchasedItem{
			UserID:      params.UserID,
			ItemType:    itemType,
			ItemID:      itemID,
			PurchasedAt: l.Now(),
		}).Error
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			return ErrItemAlreadyOwned
		}
		return errCreate
	})
}

func (l *Ledger) ownsItem(ctx context.Context, userID uint64, itemType, itemID string) (bool, error) {
	var count int64
	if errCount := l.db.WithContext(ctx).Model(&models.PurchasedItem{}).
		Where("user_id = ? AND item_type = ? AND item_id = ?", userID, itemType, itemID).
		Count(&count).Error; errCount != nil {
		return false, wrap("check purchased item", errCount)
	}
	return count > 0, nil
}

// PurchasedItems returns the user's items as "<type>:<id>" keys.
func (l *Ledger) PurchasedItems(ctx context.Context, userID uint64) ([]string, error) {
	var rows []models.PurchasedItem
	if errFind := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("purchased_at ASC").
		Order("id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, wrap("list purchased items", errFind)
	}
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.Key())
	}
	return keys, nil
}

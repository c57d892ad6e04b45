package credits

import (
	"context"
	"time"

	"github.com/router-for-me/CreditLedger/internal/models"
)

// TransactionView is a ledger row as shown to its owner.
type TransactionView struct {
	ID             uint64     `json:"id"`
	Amount         int64      `json:"amount"`
	Type           string     `json:"type"`
	Description    string     `json:"description"`
	ExpirationDate *time.Time `json:"expirationDate"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Pagination describes a page of results.
type Pagination struct {
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
	Current int   `json:"current"`
}

// TransactionPage is one page of transaction history.
type TransactionPage struct {
	Transactions []TransactionView `json:"transactions"`
	Pagination   Pagination        `json:"pagination"`
}

// MaxPageSize returns the largest allowed history page.
func (l *Ledger) MaxPageSize() int {
	return l.cfg.MaxTransactionsPerPage
}

// ListTransactions returns the user's history, newest first.
// A zero limit means the maximum page size.
func (l *Ledger) ListTransactions(ctx context.Context, userID uint64, page, limit int) (TransactionPage, error) {
	if limit == 0 {
		limit = l.MaxPageSize()
	}
	if page < 1 || limit < 1 {
		return TransactionPage{}, ErrInvalidPage
	}
	if limit > l.MaxPageSize() {
		return TransactionPage{}, ErrLimitTooLarge
	}

	var total int64
	if errCount := l.db.WithContext(ctx).Model(&models.CreditTransaction{}).
		Where("user_id = ?", userID).
		Count(&total).Error; errCount != nil {
		return TransactionPage{}, wrap("count transactions", errCount)
	}

	var rows []models.CreditTransaction
	if errFind := l.db.WithContext(ctx).
		Select("id", "amount", "type", "description", "expiration_date", "created_at", "updated_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&rows).Error; errFind != nil {
		return TransactionPage{}, wrap("list transactions", errFind)
	}

	views := make([]TransactionView, 0, len(rows))
	for _, row := range rows {
		views = append(views, TransactionView{
			ID:             row.ID,
			Amount:         row.Amount,
			Type:           row.Type,
			Description:    row.Description,
			ExpirationDate: row.ExpirationDate,
			CreatedAt:      row.CreatedAt,
			UpdatedAt:      row.UpdatedAt,
		})
	}

	pages := int((total + int64(limit) - 1) / int64(limit))
	return TransactionPage{
		Transactions: views,
		Pagination: Pagination{
			Total:   total,
			Pages:   pages,
			Current: page,
		},
	}, nil
}

package db

import (
	"fmt"

	"github.com/router-for-me/CreditLedger/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the application owns.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.User{},
		&models.CreditTransaction{},
		&models.PurchasedItem{},
		&models.VerificationToken{},
		&models.PasswordResetToken{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}

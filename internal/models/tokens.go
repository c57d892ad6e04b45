package models

import "time"

// VerificationToken is a pending email verification.
type VerificationToken struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`               // Primary key.
	Identifier string    `gorm:"type:varchar(255);not null;index"`       // Email being verified.
	Token      string    `gorm:"type:varchar(255);not null;uniqueIndex"` // Random token sent by email.
	UserID     uint64    `gorm:"not null;index"`                         // Owning user.
	ExpiresAt  time.Time `gorm:"not null"`                               // Expiry timestamp.
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`                // Creation timestamp.
}

// PasswordResetToken stores the sha256 of a reset token.
type PasswordResetToken struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`              // Primary key.
	UserID    uint64    `gorm:"not null;index"`                        // Owning user.
	TokenHash string    `gorm:"type:varchar(64);not null;uniqueIndex"` // Hex sha256 of the emailed token.
	ExpiresAt time.Time `gorm:"not null"`                              // Expiry timestamp.
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`               // Creation timestamp.
}

// TableName pins the table name.
func (VerificationToken) TableName() string {
	return "verification_tokens"
}

// TableName pins the table name.
func (PasswordResetToken) TableName() string {
	return "password_reset_tokens"
}

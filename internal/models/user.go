package models

import (
	"strings"
	"time"
)

// User roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is an account holder and the owner of a credit balance.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email           string     `gorm:"type:varchar(255);not null;uniqueIndex"`   // Login email, lowercased.
	FirstName       string     `gorm:"type:varchar(255)"`                        // Given name.
	LastName        string     `gorm:"type:varchar(255)"`                        // Family name.
	Password        string     `gorm:"type:text"`                                // Bcrypt password hash.
	Role            string     `gorm:"type:varchar(16);not null;default:'user'"` // admin or user.
	EmailVerifiedAt *time.Time `gorm:""`                                         // Email verification timestamp.
	SignUpIPAddress string     `gorm:"type:varchar(100)"`                        // Client IP captured at sign-up.
	Disabled        bool       `gorm:"not null;default:false"`                   // Blocks sign-in when set.

	CurrentCredits      int64      `gorm:"not null;default:0"` // Running balance mirror of unexpired remaining amounts.
	LastCreditRefreshAt *time.Time `gorm:""`                   // Last free monthly grant.

	TOTPSecret            string  `gorm:"type:text"` // TOTP shared secret; empty when disabled.
	PasskeyID             []byte  `gorm:""`          // WebAuthn credential ID.
	PasskeyPublicKey      []byte  `gorm:""`          // WebAuthn credential public key.
	PasskeySignCount      *uint32 `gorm:""`          // Authenticator signature counter.
	PasskeyBackupEligible *bool   `gorm:""`          // Credential backup eligibility flag.
	PasskeyBackupState    *bool   `gorm:""`          // Credential backup state flag.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// DisplayName joins first and last name, falling back to the email.
func (u User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Email
	}
	return name
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasMFA reports whether any second factor is enrolled.
func (u User) HasMFA() bool {
	return strings.TrimSpace(u.TOTPSecret) != "" || (len(u.PasskeyID) > 0 && len(u.PasskeyPublicKey) > 0)
}

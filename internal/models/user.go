package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a user role
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User represents a system user
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	Username string `json:"username" db:"username"`
	Email    string `json:"email" db:"email"`
	FullName string `json:"fullName" db:"full_name"`

	PasswordHash string `json:"-" db:"password_hash"`

	Role     Role `json:"role" db:"role"`
	IsActive bool `json:"isActive" db:"is_active"`

	LastLoginAt *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`

	// CompanyID is nil for users not affiliated with any company. Such
	// users cannot resolve company-level entitlements.
	CompanyID *uuid.UUID `json:"companyId,omitempty" db:"company_id"`

	Settings Variables `json:"settings" db:"settings"`
}

// IsAdmin reports whether the user has the admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CategoryPermission governs per-dataset-category operations for
// non-admin users. Unique per (user_id, category).
type CategoryPermission struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	UserID   uuid.UUID `json:"userId" db:"user_id"`
	Category string    `json:"category" db:"category"`

	CanRead   bool `json:"canRead" db:"can_read"`
	CanWrite  bool `json:"canWrite" db:"can_write"`
	CanDelete bool `json:"canDelete" db:"can_delete"`
}

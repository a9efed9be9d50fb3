package models

import (
	"time"

	"github.com/google/uuid"
)

// AppWildcard matches any application when used as a license scope.
const AppWildcard = "*"

// Application represents an addressable product surface. Licenses and
// company entitlements reference it by its string app_id.
type Application struct {
	BaseModel

	AppID       string `json:"appId" db:"app_id"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`

	IsActive bool `json:"isActive" db:"is_active"`

	// Integration settings
	HTTPIntegration *Variables `json:"httpIntegration,omitempty" db:"http_integration"`
}

// AccessType represents a user-level override decision
type AccessType string

const (
	AccessAllow   AccessType = "allow"
	AccessDeny    AccessType = "deny"
	AccessInherit AccessType = "inherit"
)

// UserApplicationOverride is a user-level override of the company
// grant. Unique per (user_id, app_id). Takes precedence over the
// company grant except when access_type is inherit.
type UserApplicationOverride struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	UserID uuid.UUID `json:"userId" db:"user_id"`
	AppID  string    `json:"appId" db:"app_id"`

	AccessType AccessType `json:"accessType" db:"access_type"`
	IsEnabled  bool       `json:"isEnabled" db:"is_enabled"`
}

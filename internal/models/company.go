package models

import (
	"time"

	"github.com/google/uuid"
)

// Company represents a tenant company. Companies own users, licenses
// and company-scoped inventory data partitions.
type Company struct {
	BaseModel

	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`

	ContactEmail string `json:"contactEmail,omitempty" db:"contact_email"`

	// Deactivation is advisory; it does not cascade-delete owned data.
	IsActive    bool       `json:"isActive" db:"is_active"`
	SuspendedAt *time.Time `json:"suspendedAt,omitempty" db:"suspended_at"`
}

// CompanyApplicationGrant is the company-level entitlement for an
// application. Unique per (company_id, app_id).
type CompanyApplicationGrant struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	CompanyID uuid.UUID `json:"companyId" db:"company_id"`
	AppID     string    `json:"appId" db:"app_id"`

	IsEnabled        bool       `json:"isEnabled" db:"is_enabled"`
	LicenseExpiresAt *time.Time `json:"licenseExpiresAt,omitempty" db:"license_expires_at"`
	MaxDevices       int        `json:"maxDevices" db:"max_devices"`

	Notes string `json:"notes,omitempty" db:"notes"`
}

// Expired reports whether the grant's license expiry has passed
func (g *CompanyApplicationGrant) Expired(now time.Time) bool {
	return g.LicenseExpiresAt != nil && now.After(*g.LicenseExpiresAt)
}

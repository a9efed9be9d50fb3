package models

import (
	"time"

	"github.com/google/uuid"
)

// License is the sole authorization anchor for field-device
// synchronization. Keys use the TBR-XXXX-XXXX-XXXX-XXXX format.
type License struct {
	BaseModel

	LicenseKey string `json:"licenseKey" db:"license_key"`

	OwnerUserID *uuid.UUID `json:"ownerUserId,omitempty" db:"owner_user_id"`
	CompanyID   *uuid.UUID `json:"companyId,omitempty" db:"company_id"`

	// AppID scopes the license to one application. AppWildcard means
	// valid for any application.
	AppID string `json:"appId" db:"app_id"`

	MaxDevices      int `json:"maxDevices" db:"max_devices"`
	GracePeriodDays int `json:"gracePeriodDays" db:"grace_period_days"`

	// ExpiresAt nil means the license never expires.
	ExpiresAt *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	IsActive  bool       `json:"isActive" db:"is_active"`

	Notes string `json:"notes,omitempty" db:"notes"`

	// ActiveDevices is populated by list queries, not stored.
	ActiveDevices int `json:"activeDevices,omitempty"`
}

// IsUsable is the hard validity check: active and not past the nominal
// expiry. Grace period is deliberately not applied here; the field-sync
// gate extends the deadline separately.
func (l *License) IsUsable(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}

// GraceDeadline returns the expiry extended by the grace period, or nil
// for licenses that never expire.
func (l *License) GraceDeadline() *time.Time {
	if l.ExpiresAt == nil {
		return nil
	}
	deadline := l.ExpiresAt.Add(time.Duration(l.GracePeriodDays) * 24 * time.Hour)
	return &deadline
}

// MatchesApp checks the license scope against a requested application.
// A wildcard-scoped license matches anything. A concretely-scoped
// license requires the request to name the same application; an empty
// requested app is a scope mismatch, not an implicit wildcard.
func (l *License) MatchesApp(appID string) bool {
	if l.AppID == "" || l.AppID == AppWildcard {
		return true
	}
	return l.AppID == appID
}

// ActivatedDevice is one consumed device seat of a license. Unique per
// (license_id, device_id).
type ActivatedDevice struct {
	ID uuid.UUID `json:"id" db:"id"`

	LicenseID uuid.UUID `json:"licenseId" db:"license_id"`
	DeviceID  string    `json:"deviceId" db:"device_id"`

	DeviceName  string `json:"deviceName" db:"device_name"`
	DeviceModel string `json:"deviceModel" db:"device_model"`

	ActivatedAt time.Time `json:"activatedAt" db:"activated_at"`
	LastSeen    time.Time `json:"lastSeen" db:"last_seen"`
}

// Package access implements the hybrid entitlement engine: admin
// bypass, then per-user application overrides, then company-level
// grants, plus the single-tier category permission check.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/storage"
)

// Level tags how an Allow decision was reached
type Level string

const (
	LevelAdmin        Level = "admin"
	LevelUserOverride Level = "user_override_allow"
	LevelCompany      Level = "company"
)

// DenyReason tags why a Deny decision was reached
type DenyReason string

const (
	DenyNoCompany       DenyReason = "no company"
	DenyUserOverride    DenyReason = "user override deny"
	DenyNotAvailable    DenyReason = "not available for company"
	DenyDisabled        DenyReason = "disabled"
	DenyLicenseExpired  DenyReason = "license expired"
	DenyNoPermission    DenyReason = "permission denied for category"
	DenyMissingCategory DenyReason = "category required"
)

// Decision is the resolved entitlement outcome. Deny is a value, not
// an error; the error channel carries only infrastructure failures.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Level   Level      `json:"accessLevel,omitempty"`
	Reason  DenyReason `json:"reason,omitempty"`

	AppID     string     `json:"appId,omitempty"`
	CompanyID *uuid.UUID `json:"companyId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func allow(level Level, appID string, companyID *uuid.UUID) Decision {
	return Decision{Allowed: true, Level: level, AppID: appID, CompanyID: companyID}
}

func deny(reason DenyReason, appID string) Decision {
	return Decision{Allowed: false, Reason: reason, AppID: appID}
}

// Permission names one of the per-category capability flags
type Permission string

const (
	PermRead   Permission = "can_read"
	PermWrite  Permission = "can_write"
	PermDelete Permission = "can_delete"
)

// Store is the subset of the storage interface the resolver reads.
// Lookups are pure; the resolver never writes.
type Store interface {
	GetUserOverride(ctx context.Context, userID uuid.UUID, appID string) (*models.UserApplicationOverride, error)
	GetCompanyGrant(ctx context.Context, companyID uuid.UUID, appID string) (*models.CompanyApplicationGrant, error)
	GetCategoryPermission(ctx context.Context, userID uuid.UUID, category string) (*models.CategoryPermission, error)
}

// Resolver computes application and category entitlements
type Resolver struct {
	store Store
	now   func() time.Time
}

// NewResolver creates a resolver backed by the given store
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// Resolve runs the three-tier hybrid check, first match wins:
// admin bypass, user override, company grant.
func (r *Resolver) Resolve(ctx context.Context, user *models.User, appID string) (Decision, error) {
	if user.IsAdmin() {
		return allow(LevelAdmin, appID, nil), nil
	}

	if user.CompanyID == nil {
		return deny(DenyNoCompany, appID), nil
	}

	override, err := r.store.GetUserOverride(ctx, user.ID, appID)
	switch {
	case err == nil:
		if override.AccessType == models.AccessAllow && override.IsEnabled {
			return allow(LevelUserOverride, appID, user.CompanyID), nil
		}
		// An explicit deny wins even when the row is disabled.
		if override.AccessType == models.AccessDeny {
			return deny(DenyUserOverride, appID), nil
		}
		// inherit, or a disabled allow: fall through to the company grant
	case errors.Is(err, storage.ErrNotFound):
		// no override, fall through
	default:
		return Decision{}, fmt.Errorf("lookup user override: %w", err)
	}

	grant, err := r.store.GetCompanyGrant(ctx, *user.CompanyID, appID)
	if errors.Is(err, storage.ErrNotFound) {
		return deny(DenyNotAvailable, appID), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("lookup company grant: %w", err)
	}

	if !grant.IsEnabled {
		return deny(DenyDisabled, appID), nil
	}

	if grant.Expired(r.now()) {
		d := deny(DenyLicenseExpired, appID)
		d.ExpiresAt = grant.LicenseExpiresAt
		return d, nil
	}

	return allow(LevelCompany, appID, user.CompanyID), nil
}

// CheckCategoryAccess is the single-tier category variant: admins
// bypass, everyone else needs an exact permission row with the named
// flag set.
func (r *Resolver) CheckCategoryAccess(ctx context.Context, user *models.User, category string, perm Permission) (Decision, error) {
	if user.IsAdmin() {
		return allow(LevelAdmin, "", nil), nil
	}

	if category == "" {
		return deny(DenyMissingCategory, ""), nil
	}

	row, err := r.store.GetCategoryPermission(ctx, user.ID, category)
	if errors.Is(err, storage.ErrNotFound) {
		return deny(DenyNoPermission, ""), nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("lookup category permission: %w", err)
	}

	var granted bool
	switch perm {
	case PermRead:
		granted = row.CanRead
	case PermWrite:
		granted = row.CanWrite
	case PermDelete:
		granted = row.CanDelete
	}

	if !granted {
		return deny(DenyNoPermission, ""), nil
	}

	return Decision{Allowed: true, CompanyID: user.CompanyID}, nil
}

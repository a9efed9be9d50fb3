// Package license owns license records, device-seat admission and the
// sync authorization gate for field devices.
package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timber-server/timber-server-pro/internal/config"
	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/storage"
	"github.com/timber-server/timber-server-pro/pkg/licensekey"
)

const (
	// DefaultMaxDevices is the device-seat quota for new licenses
	DefaultMaxDevices = 3
	// DefaultGracePeriodDays is the post-expiry sync tolerance window
	DefaultGracePeriodDays = 7

	keyGenerationAttempts = 5
)

// CreateSpec describes a license to create
type CreateSpec struct {
	OwnerUserID     *uuid.UUID
	CompanyID       *uuid.UUID
	AppID           string
	MaxDevices      int
	GracePeriodDays int
	ExpiresAt       *time.Time
	Notes           string
}

// Registry manages license records
type Registry struct {
	store    storage.Store
	defaults config.LicenseConfig
}

// NewRegistry creates a license registry. Unset defaults fall back to
// the package constants.
func NewRegistry(store storage.Store, defaults config.LicenseConfig) *Registry {
	if defaults.DefaultMaxDevices <= 0 {
		defaults.DefaultMaxDevices = DefaultMaxDevices
	}
	if defaults.DefaultGracePeriodDays <= 0 {
		defaults.DefaultGracePeriodDays = DefaultGracePeriodDays
	}
	return &Registry{store: store, defaults: defaults}
}

// Create generates a fresh license key and inserts the license.
// Key collisions are resolved by regenerating; the keyspace is 32^16
// so more than one retry is effectively unreachable.
func (r *Registry) Create(ctx context.Context, spec CreateSpec) (*models.License, error) {
	license := &models.License{
		OwnerUserID:     spec.OwnerUserID,
		CompanyID:       spec.CompanyID,
		AppID:           spec.AppID,
		MaxDevices:      spec.MaxDevices,
		GracePeriodDays: spec.GracePeriodDays,
		ExpiresAt:       spec.ExpiresAt,
		IsActive:        true,
		Notes:           spec.Notes,
	}

	if license.AppID == "" {
		license.AppID = models.AppWildcard
	}
	if license.MaxDevices <= 0 {
		license.MaxDevices = r.defaults.DefaultMaxDevices
	}
	if license.GracePeriodDays <= 0 {
		license.GracePeriodDays = r.defaults.DefaultGracePeriodDays
	}

	for attempt := 0; attempt < keyGenerationAttempts; attempt++ {
		key, err := licensekey.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate license key: %w", err)
		}

		license.LicenseKey = key
		license.ID = uuid.Nil

		err = r.store.CreateLicense(ctx, license)
		if err == nil {
			return license, nil
		}
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("license key collision after %d attempts", keyGenerationAttempts)
}

// FindByKey looks up a license by its normalized key
func (r *Registry) FindByKey(ctx context.Context, key string) (*models.License, error) {
	return r.store.GetLicenseByKey(ctx, licensekey.Normalize(key))
}

// Get looks up a license by ID
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return r.store.GetLicense(ctx, id)
}

// Update persists edits to a license
func (r *Registry) Update(ctx context.Context, license *models.License) error {
	if license.GracePeriodDays <= 0 {
		license.GracePeriodDays = r.defaults.DefaultGracePeriodDays
	}
	return r.store.UpdateLicense(ctx, license)
}

// Delete removes a license and, through the schema cascade, its
// activated devices
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.DeleteLicense(ctx, id)
}

// List returns licenses with activated-device counts
func (r *Registry) List(ctx context.Context, limit, offset int) ([]*models.License, int64, error) {
	return r.store.ListLicenses(ctx, limit, offset)
}

package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/storage"
	"github.com/timber-server/timber-server-pro/pkg/licensekey"
)

// ActivationStatus classifies the outcome of an activation attempt
type ActivationStatus string

const (
	StatusActivated     ActivationStatus = "activated"
	StatusAlreadyActive ActivationStatus = "already_active"
	StatusDenied        ActivationStatus = "denied"
)

// Denial reasons shared by activation, verification and sync
// authorization.
const (
	ReasonInvalidKey         = "invalid license key"
	ReasonInactive           = "license is inactive"
	ReasonExpired            = "license has expired"
	ReasonWrongApplication   = "license not valid for this application"
	ReasonDeviceLimit        = "device limit reached"
	ReasonDeviceNotActivated = "device not activated"
)

// ActivationResult is the outcome of Activate. Denials are values;
// the error channel is reserved for infrastructure failures.
type ActivationResult struct {
	Status ActivationStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`

	// MaxDevices is set on quota denials so clients can show the cap
	MaxDevices int `json:"maxDevices,omitempty"`
	// ValidFor is set on scope denials
	ValidFor string `json:"validFor,omitempty"`

	License *models.License         `json:"license,omitempty"`
	Device  *models.ActivatedDevice `json:"device,omitempty"`
}

func denied(reason string) *ActivationResult {
	return &ActivationResult{Status: StatusDenied, Reason: reason}
}

// VerifyResult is the outcome of Verify. Retryable marks
// infrastructure failures so offline clients keep the cached license
// instead of treating it as revoked.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable"`

	ExpiredAt *time.Time      `json:"expiredAt,omitempty"`
	License   *models.License `json:"license,omitempty"`
}

// Manager enforces device-seat admission against the license registry
type Manager struct {
	store storage.Store
	now   func() time.Time
}

// NewManager creates a device activation manager
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Activate admits a device onto a license. Re-activating an already
// activated device touches last_seen and reports AlreadyActive. The
// quota check runs behind a row lock on the license inside one
// transaction, so concurrent activations at the seat boundary cannot
// overshoot max_devices.
func (m *Manager) Activate(ctx context.Context, key, deviceID, deviceName, deviceModel, requestedAppID string) (*ActivationResult, error) {
	license, err := m.store.GetLicenseByKey(ctx, licensekey.Normalize(key))
	if errors.Is(err, storage.ErrNotFound) {
		return denied(ReasonInvalidKey), nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve license: %w", err)
	}

	if !license.MatchesApp(requestedAppID) {
		result := denied(ReasonWrongApplication)
		result.ValidFor = license.AppID
		return result, nil
	}

	if !license.IsActive {
		return denied(ReasonInactive), nil
	}
	if !license.IsUsable(m.now()) {
		return denied(ReasonExpired), nil
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin activation: %w", err)
	}
	defer tx.Rollback()

	// Re-read under the row lock; the pre-checks above may be stale.
	license, err = tx.GetLicenseForUpdate(ctx, license.ID)
	if err != nil {
		return nil, fmt.Errorf("lock license: %w", err)
	}
	if !license.IsActive {
		return denied(ReasonInactive), nil
	}
	if !license.IsUsable(m.now()) {
		return denied(ReasonExpired), nil
	}

	existing, err := tx.GetActivatedDevice(ctx, license.ID, deviceID)
	if err == nil {
		if err := tx.TouchActivatedDevice(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("touch device: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit activation: %w", err)
		}
		return &ActivationResult{
			Status:  StatusAlreadyActive,
			License: license,
			Device:  existing,
		}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup device: %w", err)
	}

	count, err := tx.CountActivatedDevices(ctx, license.ID)
	if err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}

	if count >= license.MaxDevices {
		result := denied(ReasonDeviceLimit)
		result.MaxDevices = license.MaxDevices
		return result, nil
	}

	device := &models.ActivatedDevice{
		LicenseID:   license.ID,
		DeviceID:    deviceID,
		DeviceName:  deviceName,
		DeviceModel: deviceModel,
	}
	if device.DeviceName == "" {
		device.DeviceName = "Unknown"
	}
	if device.DeviceModel == "" {
		device.DeviceModel = "Unknown"
	}

	if err := tx.CreateActivatedDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit activation: %w", err)
	}

	log.Info().
		Str("license_key", license.LicenseKey).
		Str("device_id", deviceID).
		Int("seats_used", count+1).
		Int("max_devices", license.MaxDevices).
		Msg("Device activated")

	return &ActivationResult{
		Status:  StatusActivated,
		License: license,
		Device:  device,
	}, nil
}

// Verify checks a (license, device) pair with the hard expiry check;
// the grace period is deliberately not applied here. Infrastructure
// failures come back as Retryable rather than on the error channel so
// the HTTP layer can encode them without inspecting error types.
func (m *Manager) Verify(ctx context.Context, key, deviceID string) *VerifyResult {
	license, err := m.store.GetLicenseByKey(ctx, licensekey.Normalize(key))
	if errors.Is(err, storage.ErrNotFound) {
		return &VerifyResult{Reason: ReasonInvalidKey}
	}
	if err != nil {
		log.Error().Err(err).Msg("License verification failed")
		return &VerifyResult{Reason: "verification failed", Retryable: true}
	}

	if !license.IsActive {
		return &VerifyResult{Reason: ReasonInactive}
	}

	if license.ExpiresAt != nil && m.now().After(*license.ExpiresAt) {
		return &VerifyResult{Reason: ReasonExpired, ExpiredAt: license.ExpiresAt}
	}

	device, err := m.store.GetActivatedDevice(ctx, license.ID, deviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return &VerifyResult{Reason: ReasonDeviceNotActivated}
	}
	if err != nil {
		log.Error().Err(err).Msg("License verification failed")
		return &VerifyResult{Reason: "verification failed", Retryable: true}
	}

	if err := m.store.TouchActivatedDevice(ctx, device.ID); err != nil {
		log.Error().Err(err).Msg("License verification failed")
		return &VerifyResult{Reason: "verification failed", Retryable: true}
	}

	return &VerifyResult{Valid: true, License: license}
}

// Deactivate releases a device seat. The device row being absent is
// not an error.
func (m *Manager) Deactivate(ctx context.Context, key, deviceID string) error {
	license, err := m.store.GetLicenseByKey(ctx, licensekey.Normalize(key))
	if err != nil {
		return err
	}
	return m.store.DeleteActivatedDevice(ctx, license.ID, deviceID)
}

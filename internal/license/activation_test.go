package license

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timber-server/timber-server-pro/internal/models"
)

func activeLicense(key string, maxDevices int) *models.License {
	return &models.License{
		LicenseKey:      key,
		AppID:           models.AppWildcard,
		MaxDevices:      maxDevices,
		GracePeriodDays: DefaultGracePeriodDays,
		IsActive:        true,
	}
}

func TestActivate(t *testing.T) {
	store := newFakeStore()
	store.addLicense(activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 3))
	m := NewManager(store)

	result, err := m.Activate(context.Background(), "TBR-AAAA-AAAA-AAAA-AAAA", "device-1", "Field Tablet", "TAB-9", "")
	require.NoError(t, err)

	assert.Equal(t, StatusActivated, result.Status)
	require.NotNil(t, result.Device)
	assert.Equal(t, "device-1", result.Device.DeviceID)
	assert.Equal(t, "Field Tablet", result.Device.DeviceName)

	count, err := store.CountActivatedDevices(context.Background(), result.License.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestActivate_KeyNormalization(t *testing.T) {
	store := newFakeStore()
	store.addLicense(activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 3))
	m := NewManager(store)

	result, err := m.Activate(context.Background(), "  tbr-aaaa-aaaa-aaaa-aaaa ", "device-1", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusActivated, result.Status)
	assert.Equal(t, "Unknown", result.Device.DeviceName)
	assert.Equal(t, "Unknown", result.Device.DeviceModel)
}

func TestActivate_Idempotent(t *testing.T) {
	store := newFakeStore()
	lic := store.addLicense(activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 1))
	m := NewManager(store)

	first, err := m.Activate(context.Background(), lic.LicenseKey, "device-1", "", "", "")
	require.NoError(t, err)
	require.Equal(t, StatusActivated, first.Status)

	// Re-activation touches last_seen instead of consuming the seat
	second, err := m.Activate(context.Background(), lic.LicenseKey, "device-1", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyActive, second.Status)
	assert.Equal(t, first.Device.ID, second.Device.ID)

	count, err := store.CountActivatedDevices(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestActivate_InvalidKey(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	result, err := m.Activate(context.Background(), "TBR-ZZZZ-ZZZZ-ZZZZ-ZZZZ", "device-1", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Equal(t, ReasonInvalidKey, result.Reason)
}

func TestActivate_Inactive(t *testing.T) {
	store := newFakeStore()
	lic := activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 3)
	lic.IsActive = false
	store.addLicense(lic)
	m := NewManager(store)

	result, err := m.Activate(context.Background(), lic.LicenseKey, "device-1", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Equal(t, ReasonInactive, result.Reason)
}

func TestActivate_Expired(t *testing.T) {
	store := newFakeStore()
	lic := activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 3)
	expired := time.Now().Add(-time.Hour)
	lic.ExpiresAt = &expired
	store.addLicense(lic)
	m := NewManager(store)

	// Activation uses the hard expiry; the grace period only covers
	// syncing for already-activated devices.
	result, err := m.Activate(context.Background(), lic.LicenseKey, "device-1", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Equal(t, ReasonExpired, result.Reason)
}

func TestActivate_ApplicationScope(t *testing.T) {
	store := newFakeStore()
	lic := activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 3)
	lic.AppID = "timber-cruiser"
	store.addLicense(lic)
	m := NewManager(store)

	result, err := m.Activate(context.Background(), lic.LicenseKey, "device-1", "", "", "other-app")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Equal(t, ReasonWrongApplication, result.Reason)
	assert.Equal(t, "timber-cruiser", result.ValidFor)

	// An empty requested app is a mismatch against a scoped license,
	// not an implicit wildcard
	result, err = m.Activate(context.Background(), lic.LicenseKey, "device-1", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)

	result, err = m.Activate(context.Background(), lic.LicenseKey, "device-1", "", "", "timber-cruiser")
	require.NoError(t, err)
	assert.Equal(t, StatusActivated, result.Status)
}

func TestActivate_DeviceLimit(t *testing.T) {
	store := newFakeStore()
	lic := store.addLicense(activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 1))
	m := NewManager(store)

	result, err := m.Activate(context.Background(), lic.LicenseKey, "device-1", "", "", "")
	require.NoError(t, err)
	require.Equal(t, StatusActivated, result.Status)

	result, err = m.Activate(context.Background(), lic.LicenseKey, "device-2", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, result.Status)
	assert.Equal(t, ReasonDeviceLimit, result.Reason)
	assert.Equal(t, 1, result.MaxDevices)
}

func TestActivate_ConcurrentSeatBoundary(t *testing.T) {
	const seats = 2
	const attempts = 8

	store := newFakeStore()
	lic := store.addLicense(activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", seats))
	m := NewManager(store)

	var wg sync.WaitGroup
	results := make([]*ActivationResult, attempts)
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			deviceID := "device-" + uuid.NewString()
			results[n], errs[n] = m.Activate(context.Background(), lic.LicenseKey, deviceID, "", "", "")
		}(i)
	}
	wg.Wait()

	activated := 0
	for i, r := range results {
		require.NoError(t, errs[i])
		switch r.Status {
		case StatusActivated:
			activated++
		case StatusDenied:
			assert.Equal(t, ReasonDeviceLimit, r.Reason)
		default:
			t.Fatalf("unexpected status %s", r.Status)
		}
	}
	assert.Equal(t, seats, activated)

	count, err := store.CountActivatedDevices(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, seats, count)
}

func TestVerify(t *testing.T) {
	store := newFakeStore()
	lic := store.addLicense(activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 3))
	store.addDevice(lic.ID, "device-1", time.Now().Add(-time.Hour))
	m := NewManager(store)

	result := m.Verify(context.Background(), lic.LicenseKey, "device-1")
	assert.True(t, result.Valid)
	assert.False(t, result.Retryable)
	require.NotNil(t, result.License)
}

func TestVerify_Denials(t *testing.T) {
	store := newFakeStore()
	m := NewManager(store)

	result := m.Verify(context.Background(), "TBR-ZZZZ-ZZZZ-ZZZZ-ZZZZ", "device-1")
	assert.False(t, result.Valid)
	assert.False(t, result.Retryable)
	assert.Equal(t, ReasonInvalidKey, result.Reason)

	lic := store.addLicense(activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 3))
	result = m.Verify(context.Background(), lic.LicenseKey, "device-1")
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonDeviceNotActivated, result.Reason)

	inactive := activeLicense("TBR-BBBB-BBBB-BBBB-BBBB", 3)
	inactive.IsActive = false
	store.addLicense(inactive)
	result = m.Verify(context.Background(), inactive.LicenseKey, "device-1")
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonInactive, result.Reason)
}

func TestVerify_NoGrace(t *testing.T) {
	store := newFakeStore()
	lic := activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 3)
	expiry := time.Now().Add(-time.Hour)
	lic.ExpiresAt = &expiry
	store.addLicense(lic)
	store.addDevice(lic.ID, "device-1", expiry.Add(-24*time.Hour))
	m := NewManager(store)

	// One hour past expiry is well inside the grace window, but Verify
	// applies the hard deadline
	result := m.Verify(context.Background(), lic.LicenseKey, "device-1")
	assert.False(t, result.Valid)
	assert.False(t, result.Retryable)
	assert.Equal(t, ReasonExpired, result.Reason)
	require.NotNil(t, result.ExpiredAt)
	assert.Equal(t, expiry, *result.ExpiredAt)
}

func TestDeactivate(t *testing.T) {
	store := newFakeStore()
	lic := store.addLicense(activeLicense("TBR-AAAA-AAAA-AAAA-AAAA", 3))
	store.addDevice(lic.ID, "device-1", time.Now())
	m := NewManager(store)

	require.NoError(t, m.Deactivate(context.Background(), lic.LicenseKey, "device-1"))

	count, err := store.CountActivatedDevices(context.Background(), lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Deactivating an already-released device is not an error
	require.NoError(t, m.Deactivate(context.Background(), lic.LicenseKey, "device-1"))
}

package license

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timber-server/timber-server-pro/internal/config"
	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/pkg/licensekey"
)

func TestRegistryCreate(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(store, config.LicenseConfig{})

	companyID := uuid.New()
	expires := time.Now().Add(365 * 24 * time.Hour)

	lic, err := r.Create(context.Background(), CreateSpec{
		CompanyID:       &companyID,
		AppID:           "timber-cruiser",
		MaxDevices:      5,
		GracePeriodDays: 14,
		ExpiresAt:       &expires,
		Notes:           "annual contract",
	})
	require.NoError(t, err)

	assert.True(t, licensekey.Valid(lic.LicenseKey))
	assert.True(t, lic.IsActive)
	assert.Equal(t, 5, lic.MaxDevices)
	assert.Equal(t, 14, lic.GracePeriodDays)
	assert.Equal(t, "timber-cruiser", lic.AppID)
	assert.NotEqual(t, uuid.Nil, lic.ID)
}

func TestRegistryCreate_Defaults(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(store, config.LicenseConfig{})

	lic, err := r.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)

	assert.Equal(t, models.AppWildcard, lic.AppID)
	assert.Equal(t, DefaultMaxDevices, lic.MaxDevices)
	assert.Equal(t, DefaultGracePeriodDays, lic.GracePeriodDays)
	assert.Nil(t, lic.ExpiresAt)
}

func TestRegistryCreate_ConfiguredDefaults(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(store, config.LicenseConfig{
		DefaultMaxDevices:      10,
		DefaultGracePeriodDays: 21,
	})

	lic, err := r.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)

	assert.Equal(t, 10, lic.MaxDevices)
	assert.Equal(t, 21, lic.GracePeriodDays)

	lic.GracePeriodDays = 0
	require.NoError(t, r.Update(context.Background(), lic))
	assert.Equal(t, 21, lic.GracePeriodDays)
}

func TestRegistryCreate_KeyCollisionRetry(t *testing.T) {
	store := newFakeStore()
	store.duplicatesLeft = 2
	r := NewRegistry(store, config.LicenseConfig{})

	lic, err := r.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)
	assert.True(t, licensekey.Valid(lic.LicenseKey))
}

func TestRegistryCreate_KeyCollisionExhausted(t *testing.T) {
	store := newFakeStore()
	store.duplicatesLeft = keyGenerationAttempts
	r := NewRegistry(store, config.LicenseConfig{})

	_, err := r.Create(context.Background(), CreateSpec{})
	assert.Error(t, err)
}

func TestRegistryFindByKey(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(store, config.LicenseConfig{})

	lic, err := r.Create(context.Background(), CreateSpec{})
	require.NoError(t, err)

	found, err := r.FindByKey(context.Background(), "  "+lic.LicenseKey+" ")
	require.NoError(t, err)
	assert.Equal(t, lic.ID, found.ID)
}

func TestRegistryUpdate_GraceFloor(t *testing.T) {
	store := newFakeStore()
	r := NewRegistry(store, config.LicenseConfig{})

	lic, err := r.Create(context.Background(), CreateSpec{GracePeriodDays: 30})
	require.NoError(t, err)

	lic.GracePeriodDays = 0
	require.NoError(t, r.Update(context.Background(), lic))
	assert.Equal(t, DefaultGracePeriodDays, lic.GracePeriodDays)
}

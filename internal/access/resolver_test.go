package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/storage"
)

type fakeStore struct {
	overrides map[string]*models.UserApplicationOverride
	grants    map[string]*models.CompanyApplicationGrant
	perms     map[string]*models.CategoryPermission

	err error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		overrides: make(map[string]*models.UserApplicationOverride),
		grants:    make(map[string]*models.CompanyApplicationGrant),
		perms:     make(map[string]*models.CategoryPermission),
	}
}

func (f *fakeStore) GetUserOverride(_ context.Context, userID uuid.UUID, appID string) (*models.UserApplicationOverride, error) {
	if f.err != nil {
		return nil, f.err
	}
	if o, ok := f.overrides[userID.String()+"/"+appID]; ok {
		return o, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetCompanyGrant(_ context.Context, companyID uuid.UUID, appID string) (*models.CompanyApplicationGrant, error) {
	if f.err != nil {
		return nil, f.err
	}
	if g, ok := f.grants[companyID.String()+"/"+appID]; ok {
		return g, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetCategoryPermission(_ context.Context, userID uuid.UUID, category string) (*models.CategoryPermission, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.perms[userID.String()+"/"+category]; ok {
		return p, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) setOverride(userID uuid.UUID, appID string, access models.AccessType, enabled bool) {
	f.overrides[userID.String()+"/"+appID] = &models.UserApplicationOverride{
		UserID:     userID,
		AppID:      appID,
		AccessType: access,
		IsEnabled:  enabled,
	}
}

func (f *fakeStore) setGrant(companyID uuid.UUID, appID string, enabled bool, expires *time.Time) {
	f.grants[companyID.String()+"/"+appID] = &models.CompanyApplicationGrant{
		CompanyID:        companyID,
		AppID:            appID,
		IsEnabled:        enabled,
		LicenseExpiresAt: expires,
	}
}

func testUser(companyID *uuid.UUID) *models.User {
	return &models.User{
		ID:        uuid.New(),
		Username:  "forester",
		Role:      models.RoleUser,
		IsActive:  true,
		CompanyID: companyID,
	}
}

func TestResolve_AdminBypass(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	// Admins skip both lookup tiers entirely, even without a company
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin}

	d, err := r.Resolve(context.Background(), admin, "timber-app")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, LevelAdmin, d.Level)
}

func TestResolve_NoCompany(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	d, err := r.Resolve(context.Background(), testUser(nil), "timber-app")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyNoCompany, d.Reason)
}

func TestResolve_UserOverrideAllow(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	companyID := uuid.New()
	user := testUser(&companyID)

	// Allow override grants access even with no company grant at all
	store.setOverride(user.ID, "timber-app", models.AccessAllow, true)

	d, err := r.Resolve(context.Background(), user, "timber-app")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, LevelUserOverride, d.Level)
}

func TestResolve_UserOverrideDenyBeatsValidGrant(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	companyID := uuid.New()
	user := testUser(&companyID)

	store.setGrant(companyID, "timber-app", true, nil)
	store.setOverride(user.ID, "timber-app", models.AccessDeny, true)

	d, err := r.Resolve(context.Background(), user, "timber-app")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyUserOverride, d.Reason)
}

func TestResolve_DisabledDenyStillDenies(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	companyID := uuid.New()
	user := testUser(&companyID)

	store.setGrant(companyID, "timber-app", true, nil)
	store.setOverride(user.ID, "timber-app", models.AccessDeny, false)

	d, err := r.Resolve(context.Background(), user, "timber-app")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyUserOverride, d.Reason)
}

func TestResolve_DisabledAllowFallsThrough(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	companyID := uuid.New()
	user := testUser(&companyID)

	store.setGrant(companyID, "timber-app", true, nil)
	store.setOverride(user.ID, "timber-app", models.AccessAllow, false)

	d, err := r.Resolve(context.Background(), user, "timber-app")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, LevelCompany, d.Level)
}

func TestResolve_InheritFallsThrough(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	companyID := uuid.New()
	user := testUser(&companyID)

	store.setOverride(user.ID, "timber-app", models.AccessInherit, true)
	store.setGrant(companyID, "timber-app", true, nil)

	d, err := r.Resolve(context.Background(), user, "timber-app")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, LevelCompany, d.Level)
}

func TestResolve_NoGrant(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	companyID := uuid.New()
	d, err := r.Resolve(context.Background(), testUser(&companyID), "timber-app")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyNotAvailable, d.Reason)
}

func TestResolve_DisabledGrant(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	companyID := uuid.New()
	user := testUser(&companyID)
	store.setGrant(companyID, "timber-app", false, nil)

	d, err := r.Resolve(context.Background(), user, "timber-app")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyDisabled, d.Reason)
}

func TestResolve_ExpiredGrant(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	companyID := uuid.New()
	user := testUser(&companyID)
	expired := time.Now().Add(-24 * time.Hour)
	store.setGrant(companyID, "timber-app", true, &expired)

	d, err := r.Resolve(context.Background(), user, "timber-app")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyLicenseExpired, d.Reason)
	require.NotNil(t, d.ExpiresAt)
	assert.Equal(t, expired, *d.ExpiresAt)
}

func TestResolve_CompanyGrant(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	companyID := uuid.New()
	user := testUser(&companyID)
	future := time.Now().Add(30 * 24 * time.Hour)
	store.setGrant(companyID, "timber-app", true, &future)

	d, err := r.Resolve(context.Background(), user, "timber-app")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, LevelCompany, d.Level)
	require.NotNil(t, d.CompanyID)
	assert.Equal(t, companyID, *d.CompanyID)
}

func TestResolve_InfraError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	r := NewResolver(store)

	companyID := uuid.New()
	_, err := r.Resolve(context.Background(), testUser(&companyID), "timber-app")
	assert.Error(t, err)
}

func TestCheckCategoryAccess(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	user := testUser(nil)
	store.perms[user.ID.String()+"/pine"] = &models.CategoryPermission{
		UserID:   user.ID,
		Category: "pine",
		CanRead:  true,
		CanWrite: false,
	}

	d, err := r.CheckCategoryAccess(context.Background(), user, "pine", PermRead)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = r.CheckCategoryAccess(context.Background(), user, "pine", PermWrite)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyNoPermission, d.Reason)

	d, err = r.CheckCategoryAccess(context.Background(), user, "spruce", PermRead)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyNoPermission, d.Reason)

	d, err = r.CheckCategoryAccess(context.Background(), user, "", PermRead)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DenyMissingCategory, d.Reason)
}

func TestCheckCategoryAccess_AdminBypass(t *testing.T) {
	store := newFakeStore()
	r := NewResolver(store)

	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin}

	d, err := r.CheckCategoryAccess(context.Background(), admin, "pine", PermDelete)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

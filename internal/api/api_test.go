package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timber-server/timber-server-pro/internal/config"
	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/server"
	"github.com/timber-server/timber-server-pro/internal/storage"
)

// fakeStore backs handler tests. Calls to Store methods it does not
// implement panic through the embedded nil interface.
type fakeStore struct {
	storage.Store

	mu sync.Mutex

	users     map[uuid.UUID]*models.User
	apps      []*models.Application
	overrides map[string]*models.UserApplicationOverride
	grants    map[string]*models.CompanyApplicationGrant
	perms     map[string]*models.CategoryPermission

	licenses map[uuid.UUID]*models.License
	devices  map[string]*models.ActivatedDevice

	datasets map[string]*models.Dataset
	dataRows map[uuid.UUID][]models.Variables

	sessions     map[string]*models.InventorySession
	measurements map[uuid.UUID][]*models.TreeMeasurement
	syncLogs     []*models.SyncLog
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[uuid.UUID]*models.User),
		overrides:    make(map[string]*models.UserApplicationOverride),
		grants:       make(map[string]*models.CompanyApplicationGrant),
		perms:        make(map[string]*models.CategoryPermission),
		licenses:     make(map[uuid.UUID]*models.License),
		devices:      make(map[string]*models.ActivatedDevice),
		datasets:     make(map[string]*models.Dataset),
		dataRows:     make(map[uuid.UUID][]models.Variables),
		sessions:     make(map[string]*models.InventorySession),
		measurements: make(map[uuid.UUID][]*models.TreeMeasurement),
	}
}

type fakeTx struct {
	*fakeStore
}

func (s *fakeStore) BeginTx(ctx context.Context) (storage.Store, error) {
	return &fakeTx{s}, nil
}

func (t *fakeTx) Commit() error   { return nil }
func (t *fakeTx) Rollback() error { return nil }

func (s *fakeStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return user, nil
}

func (s *fakeStore) ListApplications(ctx context.Context, limit, offset int) ([]*models.Application, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apps, int64(len(s.apps)), nil
}

func (s *fakeStore) GetUserOverride(ctx context.Context, userID uuid.UUID, appID string) (*models.UserApplicationOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	override, ok := s.overrides[userID.String()+"/"+appID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return override, nil
}

func (s *fakeStore) GetCompanyGrant(ctx context.Context, companyID uuid.UUID, appID string) (*models.CompanyApplicationGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.grants[companyID.String()+"/"+appID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return grant, nil
}

func (s *fakeStore) GetCategoryPermission(ctx context.Context, userID uuid.UUID, category string) (*models.CategoryPermission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	perm, ok := s.perms[userID.String()+"/"+category]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return perm, nil
}

func (s *fakeStore) GetLicenseByDeviceID(ctx context.Context, deviceID string) (*models.License, *models.ActivatedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[deviceID]
	if !ok {
		return nil, nil, storage.ErrNotFound
	}
	return s.licenses[device.LicenseID], device, nil
}

func (s *fakeStore) TouchActivatedDevice(ctx context.Context, id uuid.UUID) error {
	return nil
}

func sessionKey(deviceID, externalKey string, date time.Time) string {
	return fmt.Sprintf("%s/%s/%s", deviceID, externalKey, date.Format("2006-01-02"))
}

func (s *fakeStore) FindInventorySession(ctx context.Context, deviceID, externalKey string, date time.Time) (*models.InventorySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionKey(deviceID, externalKey, date)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return session, nil
}

func (s *fakeStore) CreateInventorySession(ctx context.Context, session *models.InventorySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	s.sessions[sessionKey(session.DeviceID, session.ExternalKey, session.InventoryDate)] = session
	return nil
}

func (s *fakeStore) UpdateInventorySession(ctx context.Context, session *models.InventorySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionKey(session.DeviceID, session.ExternalKey, session.InventoryDate)] = session
	return nil
}

func (s *fakeStore) DeleteTreeMeasurements(ctx context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.measurements, sessionID)
	return nil
}

func (s *fakeStore) InsertTreeMeasurements(ctx context.Context, measurements []*models.TreeMeasurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range measurements {
		s.measurements[m.SessionID] = append(s.measurements[m.SessionID], m)
	}
	return nil
}

func (s *fakeStore) CreateSyncLog(ctx context.Context, entry *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLogs = append(s.syncLogs, entry)
	return nil
}

func (s *fakeStore) FindDataset(ctx context.Context, filename, category string) (*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dataset, ok := s.datasets[filename+"/"+category]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return dataset, nil
}

func (s *fakeStore) CreateDataset(ctx context.Context, dataset *models.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dataset.ID == uuid.Nil {
		dataset.ID = uuid.New()
	}
	key := dataset.Filename + "/" + dataset.Category
	if _, exists := s.datasets[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.datasets[key] = dataset
	return nil
}

func (s *fakeStore) InsertDataRows(ctx context.Context, datasetID uuid.UUID, rows []models.Variables) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRows[datasetID] = rows
	return nil
}

func (s *fakeStore) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, dataset := range s.datasets {
		if dataset.ID == id {
			delete(s.datasets, key)
			return nil
		}
	}
	return storage.ErrNotFound
}

func newTestServer(t *testing.T) (*RESTServer, *fakeStore) {
	t.Helper()

	cfg := &config.Config{}
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.AccessTokenTTL = time.Hour
	cfg.JWT.RefreshTokenTTL = time.Hour
	cfg.Sync.MaxSessionsPerBatch = 100
	cfg.Upload.MaxFileSizeMB = 4

	store := newFakeStore()
	return NewRESTServer(cfg, store, server.NewEventPublisher(nil)), store
}

func addUser(store *fakeStore, role models.Role, companyID *uuid.UUID) *models.User {
	user := &models.User{
		ID:        uuid.New(),
		Username:  "field-" + uuid.NewString()[:8],
		Role:      role,
		IsActive:  true,
		CompanyID: companyID,
	}
	store.users[user.ID] = user
	return user
}

func bearerFor(t *testing.T, s *RESTServer, user *models.User) string {
	t.Helper()
	access, _, err := s.auth.GenerateTokenPair(user)
	require.NoError(t, err)
	return "Bearer " + access
}

func doJSON(s *RESTServer, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// The device's prior activation is its sync credential; no user
// bearer token is involved.
func TestSyncSessionsWithoutBearerToken(t *testing.T) {
	s, store := newTestServer(t)

	companyID := uuid.New()
	lic := &models.License{
		LicenseKey: "TBR-AAAA-BBBB-CCCC-DDDD",
		CompanyID:  &companyID,
		AppID:      "timber-cruiser",
		MaxDevices: 3,
		IsActive:   true,
	}
	lic.ID = uuid.New()
	store.licenses[lic.ID] = lic
	store.devices["tablet-001"] = &models.ActivatedDevice{
		ID:        uuid.New(),
		LicenseID: lic.ID,
		DeviceID:  "tablet-001",
	}

	body := map[string]interface{}{
		"device_id": "tablet-001",
		"sessions": []map[string]interface{}{
			{
				"external_key":   "stand-42",
				"inventory_date": "2026-08-20T00:00:00Z",
				"measurements": []map[string]interface{}{
					{"species": "pine", "diameter_cm": 32.5},
				},
			},
		},
	}

	rec := doJSON(s, http.MethodPost, "/api/v1/sync/sessions", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	require.Len(t, store.sessions, 1)
	for _, session := range store.sessions {
		assert.Equal(t, companyID, session.CompanyID)
	}
}

func TestSyncSessionsUnknownDevice(t *testing.T) {
	s, store := newTestServer(t)

	body := map[string]interface{}{
		"device_id": "ghost-device",
		"sessions": []map[string]interface{}{
			{"external_key": "stand-1", "inventory_date": "2026-08-20T00:00:00Z"},
		},
	}

	rec := doJSON(s, http.MethodPost, "/api/v1/sync/sessions", "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.Len(t, store.syncLogs, 1)
	assert.Equal(t, models.SyncOutcomeDenied, store.syncLogs[0].Outcome)
}

func TestListAvailableApplications(t *testing.T) {
	s, store := newTestServer(t)

	companyID := uuid.New()
	user := addUser(store, models.RoleUser, &companyID)

	cruiser := &models.Application{AppID: "timber-cruiser", Name: "Timber Cruiser", IsActive: true}
	millGate := &models.Application{AppID: "mill-gate", Name: "Mill Gate", IsActive: true}
	legacy := &models.Application{AppID: "legacy-tally", Name: "Legacy Tally", IsActive: false}
	store.apps = []*models.Application{cruiser, millGate, legacy}

	store.grants[companyID.String()+"/timber-cruiser"] = &models.CompanyApplicationGrant{
		CompanyID: companyID,
		AppID:     "timber-cruiser",
		IsEnabled: true,
	}
	store.grants[companyID.String()+"/mill-gate"] = &models.CompanyApplicationGrant{
		CompanyID: companyID,
		AppID:     "mill-gate",
		IsEnabled: true,
	}
	store.overrides[user.ID.String()+"/mill-gate"] = &models.UserApplicationOverride{
		UserID:     user.ID,
		AppID:      "mill-gate",
		AccessType: models.AccessDeny,
	}

	rec := doJSON(s, http.MethodGet, "/api/v1/applications", bearerFor(t, s, user), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Applications []struct {
			Application *models.Application `json:"application"`
			AccessLevel string              `json:"accessLevel"`
		} `json:"applications"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "timber-cruiser", resp.Applications[0].Application.AppID)
	assert.Equal(t, "company", resp.Applications[0].AccessLevel)

	// Admins see every active application through the bypass.
	admin := addUser(store, models.RoleAdmin, nil)
	rec = doJSON(s, http.MethodGet, "/api/v1/applications", bearerFor(t, s, admin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
}

func TestCheckApplicationAccess(t *testing.T) {
	s, store := newTestServer(t)

	companyID := uuid.New()
	user := addUser(store, models.RoleUser, &companyID)

	store.grants[companyID.String()+"/timber-cruiser"] = &models.CompanyApplicationGrant{
		CompanyID: companyID,
		AppID:     "timber-cruiser",
		IsEnabled: true,
	}

	bearer := bearerFor(t, s, user)

	rec := doJSON(s, http.MethodGet, "/api/v1/applications/timber-cruiser/access", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var decision struct {
		Allowed     bool   `json:"allowed"`
		AccessLevel string `json:"accessLevel"`
		Reason      string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)
	assert.Equal(t, "company", decision.AccessLevel)

	rec = doJSON(s, http.MethodGet, "/api/v1/applications/mill-gate/access", bearer, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.False(t, decision.Allowed)
	assert.Equal(t, "not available for company", decision.Reason)

	rec = doJSON(s, http.MethodGet, "/api/v1/applications/timber-cruiser/access", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func csvUpload(t *testing.T, category string) (*bytes.Buffer, string) {
	t.Helper()

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	require.NoError(t, w.WriteField("category", category))
	fw, err := w.CreateFormFile("file", "stand42.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("species,diameter_cm\npine,32.5\nspruce,28.1\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestUploadDatasetRequiresWritePermission(t *testing.T) {
	s, store := newTestServer(t)

	companyID := uuid.New()
	user := addUser(store, models.RoleUser, &companyID)
	store.perms[user.ID.String()+"/pine-stands"] = &models.CategoryPermission{
		UserID:   user.ID,
		Category: "pine-stands",
		CanRead:  true,
		CanWrite: true,
	}
	bearer := bearerFor(t, s, user)

	body, contentType := csvUpload(t, "pine-stands")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", bearer)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, store.datasets, 1)

	// No write grant for this category.
	body, contentType = csvUpload(t, "oak-stands")
	req = httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", bearer)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, store.datasets, 1)
}

func TestDeleteDatasetRequiresDeletePermission(t *testing.T) {
	s, store := newTestServer(t)

	companyID := uuid.New()
	user := addUser(store, models.RoleUser, &companyID)
	store.perms[user.ID.String()+"/pine-stands"] = &models.CategoryPermission{
		UserID:   user.ID,
		Category: "pine-stands",
		CanRead:  true,
		CanWrite: true,
	}
	store.datasets["stand42.csv/pine-stands"] = &models.Dataset{
		ID:       uuid.New(),
		Filename: "stand42.csv",
		Category: "pine-stands",
	}

	rec := doJSON(s, http.MethodDelete, "/api/v1/datasets/stand42.csv?category=pine-stands", bearerFor(t, s, user), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, store.datasets, 1)

	store.perms[user.ID.String()+"/pine-stands"].CanDelete = true
	rec = doJSON(s, http.MethodDelete, "/api/v1/datasets/stand42.csv?category=pine-stands", bearerFor(t, s, user), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, store.datasets, 0)
}

package license

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/storage"
)

// fakeStore is an in-memory storage.Store for license tests. Methods
// outside the license surface fall through to the embedded nil
// interface and panic, which is the desired failure mode for an
// unexpected call.
type fakeStore struct {
	storage.Store

	mu       sync.Mutex
	licenses map[uuid.UUID]*models.License
	byKey    map[string]uuid.UUID
	devices  map[uuid.UUID]*models.ActivatedDevice

	// duplicatesLeft forces CreateLicense to report key collisions
	duplicatesLeft int

	// txMu serializes transactions the way the row lock does in
	// Postgres
	txMu sync.Mutex
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		licenses: make(map[uuid.UUID]*models.License),
		byKey:    make(map[string]uuid.UUID),
		devices:  make(map[uuid.UUID]*models.ActivatedDevice),
	}
}

func (f *fakeStore) addLicense(l *models.License) *models.License {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	f.licenses[l.ID] = l
	f.byKey[l.LicenseKey] = l.ID
	return l
}

func (f *fakeStore) addDevice(licenseID uuid.UUID, deviceID string, activatedAt time.Time) *models.ActivatedDevice {
	d := &models.ActivatedDevice{
		ID:          uuid.New(),
		LicenseID:   licenseID,
		DeviceID:    deviceID,
		ActivatedAt: activatedAt,
		LastSeen:    activatedAt,
	}
	f.devices[d.ID] = d
	return d
}

// fakeTx wraps the store as a transaction. Commit and Rollback are
// idempotent together, matching defer tx.Rollback() after a commit.
type fakeTx struct {
	*fakeStore
	done bool
}

func (f *fakeStore) BeginTx(_ context.Context) (storage.Store, error) {
	f.txMu.Lock()
	return &fakeTx{fakeStore: f}, nil
}

func (t *fakeTx) Commit() error {
	if !t.done {
		t.done = true
		t.txMu.Unlock()
	}
	return nil
}

func (t *fakeTx) Rollback() error {
	if !t.done {
		t.done = true
		t.txMu.Unlock()
	}
	return nil
}

func (f *fakeStore) CreateLicense(_ context.Context, license *models.License) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.duplicatesLeft > 0 {
		f.duplicatesLeft--
		return storage.ErrDuplicateKey
	}
	if _, exists := f.byKey[license.LicenseKey]; exists {
		return storage.ErrDuplicateKey
	}

	license.ID = uuid.New()
	license.CreatedAt = time.Now()
	license.UpdatedAt = license.CreatedAt
	f.licenses[license.ID] = license
	f.byKey[license.LicenseKey] = license.ID
	return nil
}

func (f *fakeStore) GetLicense(_ context.Context, id uuid.UUID) (*models.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if l, ok := f.licenses[id]; ok {
		return l, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetLicenseByKey(_ context.Context, key string) (*models.License, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.byKey[key]; ok {
		return f.licenses[id], nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) GetLicenseForUpdate(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return f.GetLicense(ctx, id)
}

func (f *fakeStore) UpdateLicense(_ context.Context, license *models.License) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.licenses[license.ID]; !ok {
		return storage.ErrNotFound
	}
	license.UpdatedAt = time.Now()
	f.licenses[license.ID] = license
	f.byKey[license.LicenseKey] = license.ID
	return nil
}

func (f *fakeStore) CreateActivatedDevice(_ context.Context, device *models.ActivatedDevice) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	device.ID = uuid.New()
	device.ActivatedAt = time.Now()
	device.LastSeen = device.ActivatedAt
	f.devices[device.ID] = device
	return nil
}

func (f *fakeStore) GetActivatedDevice(_ context.Context, licenseID uuid.UUID, deviceID string) (*models.ActivatedDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, d := range f.devices {
		if d.LicenseID == licenseID && d.DeviceID == deviceID {
			return d, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) TouchActivatedDevice(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.devices[id]
	if !ok {
		return storage.ErrNotFound
	}
	d.LastSeen = time.Now()
	return nil
}

func (f *fakeStore) CountActivatedDevices(_ context.Context, licenseID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for _, d := range f.devices {
		if d.LicenseID == licenseID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) DeleteActivatedDevice(_ context.Context, licenseID uuid.UUID, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, d := range f.devices {
		if d.LicenseID == licenseID && d.DeviceID == deviceID {
			delete(f.devices, id)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) GetLicenseByDeviceID(_ context.Context, deviceID string) (*models.License, *models.ActivatedDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest *models.ActivatedDevice
	for _, d := range f.devices {
		if d.DeviceID != deviceID {
			continue
		}
		if latest == nil || d.ActivatedAt.After(latest.ActivatedAt) {
			latest = d
		}
	}
	if latest == nil {
		return nil, nil, storage.ErrNotFound
	}
	return f.licenses[latest.LicenseID], latest, nil
}

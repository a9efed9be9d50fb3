package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/timber-server/timber-server-pro/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListUsers(ctx context.Context, companyID *uuid.UUID, limit, offset int) ([]*models.User, int64, error)

	// Category permission methods
	ReplaceCategoryPermissions(ctx context.Context, userID uuid.UUID, perms []*models.CategoryPermission) error
	GetCategoryPermission(ctx context.Context, userID uuid.UUID, category string) (*models.CategoryPermission, error)
	ListCategoryPermissions(ctx context.Context, userID uuid.UUID) ([]*models.CategoryPermission, error)

	// Company methods
	CreateCompany(ctx context.Context, company *models.Company) error
	GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error)
	UpdateCompany(ctx context.Context, company *models.Company) error
	DeleteCompany(ctx context.Context, id uuid.UUID) error
	ListCompanies(ctx context.Context, limit, offset int) ([]*models.Company, int64, error)

	// Company application grant methods
	CreateCompanyGrant(ctx context.Context, grant *models.CompanyApplicationGrant) error
	GetCompanyGrant(ctx context.Context, companyID uuid.UUID, appID string) (*models.CompanyApplicationGrant, error)
	UpdateCompanyGrant(ctx context.Context, grant *models.CompanyApplicationGrant) error
	DeleteCompanyGrant(ctx context.Context, companyID uuid.UUID, appID string) error
	ListCompanyGrants(ctx context.Context, companyID uuid.UUID) ([]*models.CompanyApplicationGrant, error)

	// Application methods
	CreateApplication(ctx context.Context, app *models.Application) error
	GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error)
	GetApplicationByAppID(ctx context.Context, appID string) (*models.Application, error)
	UpdateApplication(ctx context.Context, app *models.Application) error
	DeleteApplication(ctx context.Context, id uuid.UUID) error
	ListApplications(ctx context.Context, limit, offset int) ([]*models.Application, int64, error)

	// User application override methods
	SetUserOverride(ctx context.Context, override *models.UserApplicationOverride) error
	GetUserOverride(ctx context.Context, userID uuid.UUID, appID string) (*models.UserApplicationOverride, error)
	DeleteUserOverride(ctx context.Context, userID uuid.UUID, appID string) error
	ListUserOverrides(ctx context.Context, userID uuid.UUID) ([]*models.UserApplicationOverride, error)

	// License methods
	CreateLicense(ctx context.Context, license *models.License) error
	GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error)
	GetLicenseByKey(ctx context.Context, key string) (*models.License, error)
	// GetLicenseForUpdate locks the license row for the duration of
	// the surrounding transaction. Must be called on a Store returned
	// by BeginTx.
	GetLicenseForUpdate(ctx context.Context, id uuid.UUID) (*models.License, error)
	UpdateLicense(ctx context.Context, license *models.License) error
	DeleteLicense(ctx context.Context, id uuid.UUID) error
	ListLicenses(ctx context.Context, limit, offset int) ([]*models.License, int64, error)

	// Activated device methods
	CreateActivatedDevice(ctx context.Context, device *models.ActivatedDevice) error
	GetActivatedDevice(ctx context.Context, licenseID uuid.UUID, deviceID string) (*models.ActivatedDevice, error)
	TouchActivatedDevice(ctx context.Context, id uuid.UUID) error
	CountActivatedDevices(ctx context.Context, licenseID uuid.UUID) (int, error)
	ListActivatedDevices(ctx context.Context, licenseID uuid.UUID) ([]*models.ActivatedDevice, error)
	DeleteActivatedDevice(ctx context.Context, licenseID uuid.UUID, deviceID string) error
	DeleteActivatedDeviceByID(ctx context.Context, licenseID, recordID uuid.UUID) error
	// GetLicenseByDeviceID resolves a device identifier to its owning
	// license via the activated-device record. If the device was
	// activated on more than one license the most recent activation
	// wins.
	GetLicenseByDeviceID(ctx context.Context, deviceID string) (*models.License, *models.ActivatedDevice, error)

	// Dataset methods
	CreateDataset(ctx context.Context, dataset *models.Dataset) error
	FindDataset(ctx context.Context, filename, category string) (*models.Dataset, error)
	GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error)
	InsertDataRows(ctx context.Context, datasetID uuid.UUID, rows []models.Variables) error
	GetDatasetRows(ctx context.Context, filename string) ([]models.Variables, string, error)
	ListDatasets(ctx context.Context, filters DatasetFilters) ([]*models.Dataset, int64, error)
	ListCategories(ctx context.Context, userID *uuid.UUID) ([]string, error)
	SearchDatasets(ctx context.Context, term string, userID *uuid.UUID) ([]*models.Dataset, error)
	DeleteDataset(ctx context.Context, id uuid.UUID) error

	// Inventory session methods
	FindInventorySession(ctx context.Context, deviceID, externalKey string, date time.Time) (*models.InventorySession, error)
	CreateInventorySession(ctx context.Context, session *models.InventorySession) error
	UpdateInventorySession(ctx context.Context, session *models.InventorySession) error
	ListInventorySessions(ctx context.Context, companyID *uuid.UUID, limit, offset int) ([]*models.InventorySession, int64, error)

	// Tree measurement methods
	InsertTreeMeasurements(ctx context.Context, measurements []*models.TreeMeasurement) error
	DeleteTreeMeasurements(ctx context.Context, sessionID uuid.UUID) error
	ListTreeMeasurements(ctx context.Context, sessionID uuid.UUID) ([]*models.TreeMeasurement, error)

	// Sync audit log methods
	CreateSyncLog(ctx context.Context, entry *models.SyncLog) error
	ListSyncLogs(ctx context.Context, filters SyncLogFilters, limit, offset int) ([]*models.SyncLog, int64, error)

	// Close the store
	Close() error
}

// DatasetFilters restricts dataset listings. A nil UserID means no
// permission filter (admin view).
type DatasetFilters struct {
	UserID   *uuid.UUID
	Category *string
}

// SyncLogFilters represents filters for sync audit log listings
type SyncLogFilters struct {
	DeviceID  *string
	CompanyID *uuid.UUID
	LicenseID *uuid.UUID
	Outcome   *models.SyncOutcome
	StartTime *time.Time
	EndTime   *time.Time
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Dataset represents an uploaded CSV file. Unique per
// (filename, category).
type Dataset struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UploadedAt time.Time `json:"uploadedAt" db:"uploaded_at"`

	Filename string `json:"filename" db:"filename"`
	Category string `json:"category" db:"category"`

	UploadedBy *uuid.UUID `json:"uploadedBy,omitempty" db:"uploaded_by"`

	// RowCount is populated by list queries, not stored.
	RowCount int64 `json:"rowCount,omitempty"`
}

// DataRow is one parsed CSV row of a dataset
type DataRow struct {
	ID        uuid.UUID `json:"id" db:"id"`
	DatasetID uuid.UUID `json:"datasetId" db:"dataset_id"`
	RowData   Variables `json:"rowData" db:"row_data"`
}

// InventorySession is one field-collected measurement session, synced
// from a device and partitioned by the resolved company. Keyed by
// (device_id, external_key, inventory_date) for idempotent re-sync.
type InventorySession struct {
	BaseModel

	CompanyID uuid.UUID `json:"companyId" db:"company_id"`
	DeviceID  string    `json:"deviceId" db:"device_id"`

	ExternalKey   string    `json:"externalKey" db:"external_key"`
	InventoryDate time.Time `json:"inventoryDate" db:"inventory_date"`

	Location string `json:"location,omitempty" db:"location"`
	Notes    string `json:"notes,omitempty" db:"notes"`

	TreeCount   int     `json:"treeCount" db:"tree_count"`
	TotalVolume float64 `json:"totalVolume" db:"total_volume"`
}

// TreeMeasurement is one measured tree within a session
type TreeMeasurement struct {
	ID        uuid.UUID `json:"id" db:"id"`
	SessionID uuid.UUID `json:"sessionId" db:"session_id"`

	CompanyID uuid.UUID `json:"companyId" db:"company_id"`
	DeviceID  string    `json:"deviceId" db:"device_id"`

	Species    string  `json:"species" db:"species"`
	DiameterCM float64 `json:"diameterCm" db:"diameter_cm"`
	HeightM    float64 `json:"heightM" db:"height_m"`
	Volume     float64 `json:"volume" db:"volume"`

	RecordedAt *time.Time `json:"recordedAt,omitempty" db:"recorded_at"`
	Attributes Variables  `json:"attributes,omitempty" db:"attributes"`
}

// SyncOutcome classifies a sync attempt in the audit log
type SyncOutcome string

const (
	SyncOutcomeSuccess SyncOutcome = "success"
	SyncOutcomeDenied  SyncOutcome = "denied"
	SyncOutcomeFailed  SyncOutcome = "failed"
)

// SyncLog is one append-only audit entry per sync attempt
type SyncLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	DeviceID  string     `json:"deviceId" db:"device_id"`
	CompanyID *uuid.UUID `json:"companyId,omitempty" db:"company_id"`
	LicenseID *uuid.UUID `json:"licenseId,omitempty" db:"license_id"`

	SessionCount     int `json:"sessionCount" db:"session_count"`
	MeasurementCount int `json:"measurementCount" db:"measurement_count"`

	Outcome SyncOutcome `json:"outcome" db:"outcome"`
	Detail  string      `json:"detail,omitempty" db:"detail"`
}

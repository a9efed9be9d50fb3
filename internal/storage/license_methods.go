package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timber-server/timber-server-pro/internal/models"
)

const licenseColumns = `id, created_at, updated_at, license_key, owner_user_id,
               company_id, app_id, max_devices, grace_period_days, expires_at,
               is_active, notes`

func scanLicense(row interface{ Scan(...interface{}) error }) (*models.License, error) {
	license := &models.License{}
	err := row.Scan(
		&license.ID, &license.CreatedAt, &license.UpdatedAt, &license.LicenseKey,
		&license.OwnerUserID, &license.CompanyID, &license.AppID,
		&license.MaxDevices, &license.GracePeriodDays, &license.ExpiresAt,
		&license.IsActive, &license.Notes,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return license, err
}

// ========== License Methods ==========

// CreateLicense creates a new license
func (s *PostgresStore) CreateLicense(ctx context.Context, license *models.License) error {
	if license.ID == uuid.Nil {
		license.ID = uuid.New()
	}

	now := time.Now()
	license.CreatedAt = now
	license.UpdatedAt = now

	if license.AppID == "" {
		license.AppID = models.AppWildcard
	}

	query := `
        INSERT INTO licenses (
            id, created_at, updated_at, license_key, owner_user_id, company_id,
            app_id, max_devices, grace_period_days, expires_at, is_active, notes
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.getDB().ExecContext(ctx, query,
		license.ID, license.CreatedAt, license.UpdatedAt, license.LicenseKey,
		license.OwnerUserID, license.CompanyID, license.AppID,
		license.MaxDevices, license.GracePeriodDays, license.ExpiresAt,
		license.IsActive, license.Notes,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetLicense gets a license by ID
func (s *PostgresStore) GetLicense(ctx context.Context, id uuid.UUID) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1`
	return scanLicense(s.getDB().QueryRowContext(ctx, query, id))
}

// GetLicenseByKey gets a license by its license key
func (s *PostgresStore) GetLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = $1`
	return scanLicense(s.getDB().QueryRowContext(ctx, query, key))
}

// GetLicenseForUpdate locks the license row until the surrounding
// transaction ends. Device-seat admission recounts behind this lock so
// concurrent activations cannot overshoot max_devices.
func (s *PostgresStore) GetLicenseForUpdate(ctx context.Context, id uuid.UUID) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1 FOR UPDATE`
	return scanLicense(s.getDB().QueryRowContext(ctx, query, id))
}

// UpdateLicense updates a license
func (s *PostgresStore) UpdateLicense(ctx context.Context, license *models.License) error {
	license.UpdatedAt = time.Now()

	query := `
        UPDATE licenses SET
            updated_at = $2, owner_user_id = $3, company_id = $4, app_id = $5,
            max_devices = $6, grace_period_days = $7, expires_at = $8,
            is_active = $9, notes = $10
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		license.ID, license.UpdatedAt, license.OwnerUserID, license.CompanyID,
		license.AppID, license.MaxDevices, license.GracePeriodDays,
		license.ExpiresAt, license.IsActive, license.Notes,
	)

	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteLicense deletes a license
func (s *PostgresStore) DeleteLicense(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM licenses WHERE id = $1", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListLicenses lists licenses with their activated-device counts
func (s *PostgresStore) ListLicenses(ctx context.Context, limit, offset int) ([]*models.License, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM licenses").Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
        SELECT l.id, l.created_at, l.updated_at, l.license_key, l.owner_user_id,
               l.company_id, l.app_id, l.max_devices, l.grace_period_days,
               l.expires_at, l.is_active, l.notes,
               COUNT(ld.id) AS active_devices
        FROM licenses l
        LEFT JOIN license_devices ld ON ld.license_id = l.id
        GROUP BY l.id
        ORDER BY l.created_at DESC
        LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		license := &models.License{}
		err := rows.Scan(
			&license.ID, &license.CreatedAt, &license.UpdatedAt,
			&license.LicenseKey, &license.OwnerUserID, &license.CompanyID,
			&license.AppID, &license.MaxDevices, &license.GracePeriodDays,
			&license.ExpiresAt, &license.IsActive, &license.Notes,
			&license.ActiveDevices,
		)
		if err != nil {
			return nil, 0, err
		}
		licenses = append(licenses, license)
	}

	return licenses, count, rows.Err()
}

// ========== Activated Device Methods ==========

// CreateActivatedDevice consumes one device seat of a license
func (s *PostgresStore) CreateActivatedDevice(ctx context.Context, device *models.ActivatedDevice) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}

	now := time.Now()
	if device.ActivatedAt.IsZero() {
		device.ActivatedAt = now
	}
	device.LastSeen = now

	query := `
        INSERT INTO license_devices (
            id, license_id, device_id, device_name, device_model,
            activated_at, last_seen
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.getDB().ExecContext(ctx, query,
		device.ID, device.LicenseID, device.DeviceID, device.DeviceName,
		device.DeviceModel, device.ActivatedAt, device.LastSeen,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetActivatedDevice gets an activated device by (license, device)
func (s *PostgresStore) GetActivatedDevice(ctx context.Context, licenseID uuid.UUID, deviceID string) (*models.ActivatedDevice, error) {
	query := `
        SELECT id, license_id, device_id, device_name, device_model,
               activated_at, last_seen
        FROM license_devices
        WHERE license_id = $1 AND device_id = $2`

	device := &models.ActivatedDevice{}
	err := s.getDB().QueryRowContext(ctx, query, licenseID, deviceID).Scan(
		&device.ID, &device.LicenseID, &device.DeviceID, &device.DeviceName,
		&device.DeviceModel, &device.ActivatedAt, &device.LastSeen,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return device, err
}

// TouchActivatedDevice updates a device's last_seen timestamp
func (s *PostgresStore) TouchActivatedDevice(ctx context.Context, id uuid.UUID) error {
	_, err := s.getDB().ExecContext(ctx,
		"UPDATE license_devices SET last_seen = $2 WHERE id = $1",
		id, time.Now())
	return err
}

// CountActivatedDevices counts a license's consumed device seats
func (s *PostgresStore) CountActivatedDevices(ctx context.Context, licenseID uuid.UUID) (int, error) {
	var count int
	err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM license_devices WHERE license_id = $1",
		licenseID).Scan(&count)
	return count, err
}

// ListActivatedDevices lists a license's activated devices
func (s *PostgresStore) ListActivatedDevices(ctx context.Context, licenseID uuid.UUID) ([]*models.ActivatedDevice, error) {
	query := `
        SELECT id, license_id, device_id, device_name, device_model,
               activated_at, last_seen
        FROM license_devices
        WHERE license_id = $1
        ORDER BY activated_at DESC`

	rows, err := s.getDB().QueryContext(ctx, query, licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.ActivatedDevice
	for rows.Next() {
		device := &models.ActivatedDevice{}
		err := rows.Scan(
			&device.ID, &device.LicenseID, &device.DeviceID,
			&device.DeviceName, &device.DeviceModel, &device.ActivatedAt,
			&device.LastSeen,
		)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}

	return devices, rows.Err()
}

// DeleteActivatedDevice deletes the device row for (license, device).
// Deleting an absent row is not an error; deactivation is idempotent.
func (s *PostgresStore) DeleteActivatedDevice(ctx context.Context, licenseID uuid.UUID, deviceID string) error {
	_, err := s.getDB().ExecContext(ctx,
		"DELETE FROM license_devices WHERE license_id = $1 AND device_id = $2",
		licenseID, deviceID)
	return err
}

// DeleteActivatedDeviceByID deletes an activated device by record ID
func (s *PostgresStore) DeleteActivatedDeviceByID(ctx context.Context, licenseID, recordID uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx,
		"DELETE FROM license_devices WHERE license_id = $1 AND id = $2",
		licenseID, recordID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// GetLicenseByDeviceID resolves a device identifier to its owning
// license. The device's prior activation is its credential; no license
// key is required.
func (s *PostgresStore) GetLicenseByDeviceID(ctx context.Context, deviceID string) (*models.License, *models.ActivatedDevice, error) {
	query := `
        SELECT l.id, l.created_at, l.updated_at, l.license_key, l.owner_user_id,
               l.company_id, l.app_id, l.max_devices, l.grace_period_days,
               l.expires_at, l.is_active, l.notes,
               ld.id, ld.license_id, ld.device_id, ld.device_name,
               ld.device_model, ld.activated_at, ld.last_seen
        FROM license_devices ld
        JOIN licenses l ON l.id = ld.license_id
        WHERE ld.device_id = $1
        ORDER BY ld.activated_at DESC
        LIMIT 1`

	license := &models.License{}
	device := &models.ActivatedDevice{}
	err := s.getDB().QueryRowContext(ctx, query, deviceID).Scan(
		&license.ID, &license.CreatedAt, &license.UpdatedAt,
		&license.LicenseKey, &license.OwnerUserID, &license.CompanyID,
		&license.AppID, &license.MaxDevices, &license.GracePeriodDays,
		&license.ExpiresAt, &license.IsActive, &license.Notes,
		&device.ID, &device.LicenseID, &device.DeviceID, &device.DeviceName,
		&device.DeviceModel, &device.ActivatedAt, &device.LastSeen,
	)

	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	return license, device, nil
}

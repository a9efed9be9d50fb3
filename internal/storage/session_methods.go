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

// ========== Inventory Session Methods ==========

// FindInventorySession finds a session by its sync identity
// (device_id, external_key, inventory_date)
func (s *PostgresStore) FindInventorySession(ctx context.Context, deviceID, externalKey string, date time.Time) (*models.InventorySession, error) {
	query := `
        SELECT id, created_at, updated_at, company_id, device_id, external_key,
               inventory_date, location, notes, tree_count, total_volume
        FROM inventory_sessions
        WHERE device_id = $1 AND external_key = $2 AND inventory_date = $3`

	session := &models.InventorySession{}
	err := s.getDB().QueryRowContext(ctx, query, deviceID, externalKey, date).Scan(
		&session.ID, &session.CreatedAt, &session.UpdatedAt, &session.CompanyID,
		&session.DeviceID, &session.ExternalKey, &session.InventoryDate,
		&session.Location, &session.Notes, &session.TreeCount,
		&session.TotalVolume,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return session, err
}

// CreateInventorySession creates a new field inventory session
func (s *PostgresStore) CreateInventorySession(ctx context.Context, session *models.InventorySession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now

	query := `
        INSERT INTO inventory_sessions (
            id, created_at, updated_at, company_id, device_id, external_key,
            inventory_date, location, notes, tree_count, total_volume
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.getDB().ExecContext(ctx, query,
		session.ID, session.CreatedAt, session.UpdatedAt, session.CompanyID,
		session.DeviceID, session.ExternalKey, session.InventoryDate,
		session.Location, session.Notes, session.TreeCount,
		session.TotalVolume,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// UpdateInventorySession overwrites a session's summary fields
func (s *PostgresStore) UpdateInventorySession(ctx context.Context, session *models.InventorySession) error {
	session.UpdatedAt = time.Now()

	query := `
        UPDATE inventory_sessions SET
            updated_at = $2, location = $3, notes = $4, tree_count = $5,
            total_volume = $6
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		session.ID, session.UpdatedAt, session.Location, session.Notes,
		session.TreeCount, session.TotalVolume,
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

// ListInventorySessions lists sessions, optionally for one company
func (s *PostgresStore) ListInventorySessions(ctx context.Context, companyID *uuid.UUID, limit, offset int) ([]*models.InventorySession, int64, error) {
	var args []interface{}
	query := `
        SELECT id, created_at, updated_at, company_id, device_id, external_key,
               inventory_date, location, notes, tree_count, total_volume
        FROM inventory_sessions`
	countQuery := `SELECT COUNT(*) FROM inventory_sessions`

	if companyID != nil {
		query += ` WHERE company_id = $1`
		countQuery += ` WHERE company_id = $1`
		args = append(args, *companyID)
	}

	var count int64
	err := s.getDB().QueryRowContext(ctx, countQuery, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY inventory_date DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*models.InventorySession
	for rows.Next() {
		session := &models.InventorySession{}
		err := rows.Scan(
			&session.ID, &session.CreatedAt, &session.UpdatedAt,
			&session.CompanyID, &session.DeviceID, &session.ExternalKey,
			&session.InventoryDate, &session.Location, &session.Notes,
			&session.TreeCount, &session.TotalVolume,
		)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}

	return sessions, count, rows.Err()
}

// ========== Tree Measurement Methods ==========

// InsertTreeMeasurements inserts a session's measurement rows
func (s *PostgresStore) InsertTreeMeasurements(ctx context.Context, measurements []*models.TreeMeasurement) error {
	query := `
        INSERT INTO tree_measurements (
            id, session_id, company_id, device_id, species, diameter_cm,
            height_m, volume, recorded_at, attributes
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, m := range measurements {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}

		_, err := s.getDB().ExecContext(ctx, query,
			m.ID, m.SessionID, m.CompanyID, m.DeviceID, m.Species,
			m.DiameterCM, m.HeightM, m.Volume, m.RecordedAt, m.Attributes,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// DeleteTreeMeasurements removes all measurement rows of a session
func (s *PostgresStore) DeleteTreeMeasurements(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.getDB().ExecContext(ctx,
		"DELETE FROM tree_measurements WHERE session_id = $1", sessionID)
	return err
}

// ListTreeMeasurements lists a session's measurement rows
func (s *PostgresStore) ListTreeMeasurements(ctx context.Context, sessionID uuid.UUID) ([]*models.TreeMeasurement, error) {
	query := `
        SELECT id, session_id, company_id, device_id, species, diameter_cm,
               height_m, volume, recorded_at, attributes
        FROM tree_measurements
        WHERE session_id = $1
        ORDER BY id`

	rows, err := s.getDB().QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var measurements []*models.TreeMeasurement
	for rows.Next() {
		m := &models.TreeMeasurement{}
		err := rows.Scan(
			&m.ID, &m.SessionID, &m.CompanyID, &m.DeviceID, &m.Species,
			&m.DiameterCM, &m.HeightM, &m.Volume, &m.RecordedAt, &m.Attributes,
		)
		if err != nil {
			return nil, err
		}
		measurements = append(measurements, m)
	}

	return measurements, rows.Err()
}

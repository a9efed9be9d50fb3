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

// ========== Application Methods ==========

// CreateApplication creates a new application
func (s *PostgresStore) CreateApplication(ctx context.Context, app *models.Application) error {
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}

	now := time.Now()
	app.CreatedAt = now
	app.UpdatedAt = now

	query := `
        INSERT INTO applications (
            id, created_at, updated_at, app_id, name, description,
            is_active, http_integration
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		app.ID, app.CreatedAt, app.UpdatedAt, app.AppID, app.Name,
		app.Description, app.IsActive, app.HTTPIntegration,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetApplication gets an application by ID
func (s *PostgresStore) GetApplication(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	query := `
        SELECT id, created_at, updated_at, app_id, name, description,
               is_active, http_integration
        FROM applications
        WHERE id = $1`

	app := &models.Application{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&app.ID, &app.CreatedAt, &app.UpdatedAt, &app.AppID, &app.Name,
		&app.Description, &app.IsActive, &app.HTTPIntegration,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return app, err
}

// GetApplicationByAppID gets an application by its string app_id
func (s *PostgresStore) GetApplicationByAppID(ctx context.Context, appID string) (*models.Application, error) {
	query := `
        SELECT id, created_at, updated_at, app_id, name, description,
               is_active, http_integration
        FROM applications
        WHERE app_id = $1`

	app := &models.Application{}
	err := s.getDB().QueryRowContext(ctx, query, appID).Scan(
		&app.ID, &app.CreatedAt, &app.UpdatedAt, &app.AppID, &app.Name,
		&app.Description, &app.IsActive, &app.HTTPIntegration,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return app, err
}

// UpdateApplication updates an application
func (s *PostgresStore) UpdateApplication(ctx context.Context, app *models.Application) error {
	app.UpdatedAt = time.Now()

	query := `
        UPDATE applications SET
            updated_at = $2, app_id = $3, name = $4, description = $5,
            is_active = $6, http_integration = $7
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		app.ID, app.UpdatedAt, app.AppID, app.Name, app.Description,
		app.IsActive, app.HTTPIntegration,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
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

// DeleteApplication deletes an application
func (s *PostgresStore) DeleteApplication(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM applications WHERE id = $1", id)
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

// ListApplications lists applications
func (s *PostgresStore) ListApplications(ctx context.Context, limit, offset int) ([]*models.Application, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM applications").Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
        SELECT id, created_at, updated_at, app_id, name, description,
               is_active, http_integration
        FROM applications
        ORDER BY name
        LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app := &models.Application{}
		err := rows.Scan(
			&app.ID, &app.CreatedAt, &app.UpdatedAt, &app.AppID, &app.Name,
			&app.Description, &app.IsActive, &app.HTTPIntegration,
		)
		if err != nil {
			return nil, 0, err
		}
		apps = append(apps, app)
	}

	return apps, count, rows.Err()
}

// ========== User Application Override Methods ==========

// SetUserOverride inserts or replaces a user-level application override
func (s *PostgresStore) SetUserOverride(ctx context.Context, override *models.UserApplicationOverride) error {
	if override.ID == uuid.Nil {
		override.ID = uuid.New()
	}

	now := time.Now()
	if override.CreatedAt.IsZero() {
		override.CreatedAt = now
	}
	override.UpdatedAt = now

	query := `
        INSERT INTO user_applications (
            id, created_at, updated_at, user_id, app_id, access_type, is_enabled
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (user_id, app_id) DO UPDATE SET
            updated_at = EXCLUDED.updated_at,
            access_type = EXCLUDED.access_type,
            is_enabled = EXCLUDED.is_enabled`

	_, err := s.getDB().ExecContext(ctx, query,
		override.ID, override.CreatedAt, override.UpdatedAt, override.UserID,
		override.AppID, override.AccessType, override.IsEnabled,
	)

	return err
}

// GetUserOverride gets the override for a (user, application) pair
func (s *PostgresStore) GetUserOverride(ctx context.Context, userID uuid.UUID, appID string) (*models.UserApplicationOverride, error) {
	query := `
        SELECT id, created_at, updated_at, user_id, app_id, access_type, is_enabled
        FROM user_applications
        WHERE user_id = $1 AND app_id = $2`

	override := &models.UserApplicationOverride{}
	err := s.getDB().QueryRowContext(ctx, query, userID, appID).Scan(
		&override.ID, &override.CreatedAt, &override.UpdatedAt,
		&override.UserID, &override.AppID, &override.AccessType,
		&override.IsEnabled,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return override, err
}

// DeleteUserOverride removes a user-level application override
func (s *PostgresStore) DeleteUserOverride(ctx context.Context, userID uuid.UUID, appID string) error {
	result, err := s.getDB().ExecContext(ctx,
		"DELETE FROM user_applications WHERE user_id = $1 AND app_id = $2",
		userID, appID)
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

// ListUserOverrides lists a user's application overrides
func (s *PostgresStore) ListUserOverrides(ctx context.Context, userID uuid.UUID) ([]*models.UserApplicationOverride, error) {
	query := `
        SELECT id, created_at, updated_at, user_id, app_id, access_type, is_enabled
        FROM user_applications
        WHERE user_id = $1
        ORDER BY app_id`

	rows, err := s.getDB().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []*models.UserApplicationOverride
	for rows.Next() {
		override := &models.UserApplicationOverride{}
		err := rows.Scan(
			&override.ID, &override.CreatedAt, &override.UpdatedAt,
			&override.UserID, &override.AppID, &override.AccessType,
			&override.IsEnabled,
		)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, override)
	}

	return overrides, rows.Err()
}

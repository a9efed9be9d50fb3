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

// ========== Company Methods ==========

// CreateCompany creates a new company
func (s *PostgresStore) CreateCompany(ctx context.Context, company *models.Company) error {
	if company.ID == uuid.Nil {
		company.ID = uuid.New()
	}

	now := time.Now()
	company.CreatedAt = now
	company.UpdatedAt = now

	query := `
        INSERT INTO companies (
            id, created_at, updated_at, name, description, contact_email,
            is_active, suspended_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		company.ID, company.CreatedAt, company.UpdatedAt, company.Name,
		company.Description, company.ContactEmail, company.IsActive,
		company.SuspendedAt,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetCompany gets a company by ID
func (s *PostgresStore) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	query := `
        SELECT id, created_at, updated_at, name, description, contact_email,
               is_active, suspended_at
        FROM companies
        WHERE id = $1`

	company := &models.Company{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&company.ID, &company.CreatedAt, &company.UpdatedAt, &company.Name,
		&company.Description, &company.ContactEmail, &company.IsActive,
		&company.SuspendedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return company, err
}

// UpdateCompany updates a company
func (s *PostgresStore) UpdateCompany(ctx context.Context, company *models.Company) error {
	company.UpdatedAt = time.Now()

	query := `
        UPDATE companies SET
            updated_at = $2, name = $3, description = $4, contact_email = $5,
            is_active = $6, suspended_at = $7
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		company.ID, company.UpdatedAt, company.Name, company.Description,
		company.ContactEmail, company.IsActive, company.SuspendedAt,
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

// DeleteCompany deletes a company
func (s *PostgresStore) DeleteCompany(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM companies WHERE id = $1", id)
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

// ListCompanies lists companies
func (s *PostgresStore) ListCompanies(ctx context.Context, limit, offset int) ([]*models.Company, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM companies").Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
        SELECT id, created_at, updated_at, name, description, contact_email,
               is_active, suspended_at
        FROM companies
        ORDER BY name
        LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var companies []*models.Company
	for rows.Next() {
		company := &models.Company{}
		err := rows.Scan(
			&company.ID, &company.CreatedAt, &company.UpdatedAt, &company.Name,
			&company.Description, &company.ContactEmail, &company.IsActive,
			&company.SuspendedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		companies = append(companies, company)
	}

	return companies, count, rows.Err()
}

// ========== Company Application Grant Methods ==========

// CreateCompanyGrant creates a company-level application entitlement
func (s *PostgresStore) CreateCompanyGrant(ctx context.Context, grant *models.CompanyApplicationGrant) error {
	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}

	now := time.Now()
	grant.CreatedAt = now
	grant.UpdatedAt = now

	query := `
        INSERT INTO company_applications (
            id, created_at, updated_at, company_id, app_id, is_enabled,
            license_expires_at, max_devices, notes
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		grant.ID, grant.CreatedAt, grant.UpdatedAt, grant.CompanyID,
		grant.AppID, grant.IsEnabled, grant.LicenseExpiresAt,
		grant.MaxDevices, grant.Notes,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetCompanyGrant gets the grant for a (company, application) pair
func (s *PostgresStore) GetCompanyGrant(ctx context.Context, companyID uuid.UUID, appID string) (*models.CompanyApplicationGrant, error) {
	query := `
        SELECT id, created_at, updated_at, company_id, app_id, is_enabled,
               license_expires_at, max_devices, notes
        FROM company_applications
        WHERE company_id = $1 AND app_id = $2`

	grant := &models.CompanyApplicationGrant{}
	err := s.getDB().QueryRowContext(ctx, query, companyID, appID).Scan(
		&grant.ID, &grant.CreatedAt, &grant.UpdatedAt, &grant.CompanyID,
		&grant.AppID, &grant.IsEnabled, &grant.LicenseExpiresAt,
		&grant.MaxDevices, &grant.Notes,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return grant, err
}

// UpdateCompanyGrant updates a company application grant
func (s *PostgresStore) UpdateCompanyGrant(ctx context.Context, grant *models.CompanyApplicationGrant) error {
	grant.UpdatedAt = time.Now()

	query := `
        UPDATE company_applications SET
            updated_at = $1, is_enabled = $2, license_expires_at = $3,
            max_devices = $4, notes = $5
        WHERE company_id = $6 AND app_id = $7`

	result, err := s.getDB().ExecContext(ctx, query,
		grant.UpdatedAt, grant.IsEnabled, grant.LicenseExpiresAt,
		grant.MaxDevices, grant.Notes, grant.CompanyID, grant.AppID,
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

// DeleteCompanyGrant removes a company application grant
func (s *PostgresStore) DeleteCompanyGrant(ctx context.Context, companyID uuid.UUID, appID string) error {
	result, err := s.getDB().ExecContext(ctx,
		"DELETE FROM company_applications WHERE company_id = $1 AND app_id = $2",
		companyID, appID)
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

// ListCompanyGrants lists a company's application grants
func (s *PostgresStore) ListCompanyGrants(ctx context.Context, companyID uuid.UUID) ([]*models.CompanyApplicationGrant, error) {
	query := `
        SELECT id, created_at, updated_at, company_id, app_id, is_enabled,
               license_expires_at, max_devices, notes
        FROM company_applications
        WHERE company_id = $1
        ORDER BY app_id`

	rows, err := s.getDB().QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []*models.CompanyApplicationGrant
	for rows.Next() {
		grant := &models.CompanyApplicationGrant{}
		err := rows.Scan(
			&grant.ID, &grant.CreatedAt, &grant.UpdatedAt, &grant.CompanyID,
			&grant.AppID, &grant.IsEnabled, &grant.LicenseExpiresAt,
			&grant.MaxDevices, &grant.Notes,
		)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}

	return grants, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/pkg/crypto"
)

// ========== User Methods ==========

// CreateUser creates a new user
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = models.RoleUser
	}

	// Hash password if provided in settings
	if pwd, ok := user.Settings["password"].(string); ok && pwd != "" {
		hash, err := crypto.HashPassword(pwd)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hash
		delete(user.Settings, "password")
	}

	query := `
        INSERT INTO users (
            id, created_at, updated_at, username, email, full_name,
            password_hash, role, is_active, company_id, settings
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
        )`

	_, err := s.getDB().ExecContext(ctx, query,
		user.ID, user.CreatedAt, user.UpdatedAt, user.Username, user.Email,
		user.FullName, user.PasswordHash, user.Role, user.IsActive,
		user.CompanyID, user.Settings,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetUser gets a user by ID
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
        SELECT id, created_at, updated_at, username, email, full_name,
               password_hash, role, is_active, last_login_at, company_id, settings
        FROM users
        WHERE id = $1`

	user := &models.User{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.Username, &user.Email,
		&user.FullName, &user.PasswordHash, &user.Role, &user.IsActive,
		&user.LastLoginAt, &user.CompanyID, &user.Settings,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return user, err
}

// GetUserByUsername gets a user by username
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
        SELECT id, created_at, updated_at, username, email, full_name,
               password_hash, role, is_active, last_login_at, company_id, settings
        FROM users
        WHERE username = $1`

	user := &models.User{}
	err := s.getDB().QueryRowContext(ctx, query, username).Scan(
		&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.Username, &user.Email,
		&user.FullName, &user.PasswordHash, &user.Role, &user.IsActive,
		&user.LastLoginAt, &user.CompanyID, &user.Settings,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return user, err
}

// UpdateUser updates a user
func (s *PostgresStore) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
        UPDATE users SET
            updated_at = $2, username = $3, email = $4, full_name = $5,
            password_hash = $6, role = $7, is_active = $8, last_login_at = $9,
            company_id = $10, settings = $11
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		user.ID, user.UpdatedAt, user.Username, user.Email, user.FullName,
		user.PasswordHash, user.Role, user.IsActive, user.LastLoginAt,
		user.CompanyID, user.Settings,
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

// DeleteUser deletes a user
func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
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

// ListUsers lists users
func (s *PostgresStore) ListUsers(ctx context.Context, companyID *uuid.UUID, limit, offset int) ([]*models.User, int64, error) {
	var args []interface{}
	query := `SELECT id, created_at, updated_at, username, email, full_name,
                     role, is_active, last_login_at, company_id
              FROM users`
	countQuery := `SELECT COUNT(*) FROM users`

	if companyID != nil {
		query += ` WHERE company_id = $1`
		countQuery += ` WHERE company_id = $1`
		args = append(args, *companyID)
	}

	// Get count
	var count int64
	err := s.getDB().QueryRowContext(ctx, countQuery, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	// Get rows
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		err := rows.Scan(
			&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.Username,
			&user.Email, &user.FullName, &user.Role, &user.IsActive,
			&user.LastLoginAt, &user.CompanyID,
		)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}

	return users, count, rows.Err()
}

// ========== Category Permission Methods ==========

// ReplaceCategoryPermissions replaces all category permissions for a
// user. Callers pairing this with a user write should run both on a
// transaction Store so the user is never visible with stale grants.
func (s *PostgresStore) ReplaceCategoryPermissions(ctx context.Context, userID uuid.UUID, perms []*models.CategoryPermission) error {
	if _, err := s.getDB().ExecContext(ctx,
		"DELETE FROM user_categories WHERE user_id = $1", userID); err != nil {
		return err
	}

	query := `
        INSERT INTO user_categories (
            id, created_at, user_id, category, can_read, can_write, can_delete
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	now := time.Now()
	for _, perm := range perms {
		if perm.ID == uuid.Nil {
			perm.ID = uuid.New()
		}
		perm.CreatedAt = now
		perm.UserID = userID

		_, err := s.getDB().ExecContext(ctx, query,
			perm.ID, perm.CreatedAt, perm.UserID, perm.Category,
			perm.CanRead, perm.CanWrite, perm.CanDelete,
		)
		if err != nil {
			if strings.Contains(err.Error(), "duplicate key") {
				return ErrDuplicateKey
			}
			return err
		}
	}

	return nil
}

// GetCategoryPermission gets a user's permission row for one category
func (s *PostgresStore) GetCategoryPermission(ctx context.Context, userID uuid.UUID, category string) (*models.CategoryPermission, error) {
	query := `
        SELECT id, created_at, user_id, category, can_read, can_write, can_delete
        FROM user_categories
        WHERE user_id = $1 AND category = $2`

	perm := &models.CategoryPermission{}
	err := s.getDB().QueryRowContext(ctx, query, userID, category).Scan(
		&perm.ID, &perm.CreatedAt, &perm.UserID, &perm.Category,
		&perm.CanRead, &perm.CanWrite, &perm.CanDelete,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return perm, err
}

// ListCategoryPermissions lists a user's category permissions
func (s *PostgresStore) ListCategoryPermissions(ctx context.Context, userID uuid.UUID) ([]*models.CategoryPermission, error) {
	query := `
        SELECT id, created_at, user_id, category, can_read, can_write, can_delete
        FROM user_categories
        WHERE user_id = $1
        ORDER BY category`

	rows, err := s.getDB().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []*models.CategoryPermission
	for rows.Next() {
		perm := &models.CategoryPermission{}
		err := rows.Scan(
			&perm.ID, &perm.CreatedAt, &perm.UserID, &perm.Category,
			&perm.CanRead, &perm.CanWrite, &perm.CanDelete,
		)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}

	return perms, rows.Err()
}

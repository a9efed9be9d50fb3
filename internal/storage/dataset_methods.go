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

// ========== Dataset Methods ==========

// CreateDataset creates a dataset record. Rows are inserted separately
// with InsertDataRows on the same transaction Store.
func (s *PostgresStore) CreateDataset(ctx context.Context, dataset *models.Dataset) error {
	if dataset.ID == uuid.Nil {
		dataset.ID = uuid.New()
	}

	if dataset.UploadedAt.IsZero() {
		dataset.UploadedAt = time.Now()
	}

	query := `
        INSERT INTO csv_files (
            id, uploaded_at, filename, category, uploaded_by
        ) VALUES ($1, $2, $3, $4, $5)`

	_, err := s.getDB().ExecContext(ctx, query,
		dataset.ID, dataset.UploadedAt, dataset.Filename, dataset.Category,
		dataset.UploadedBy,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// FindDataset finds a dataset by (filename, category)
func (s *PostgresStore) FindDataset(ctx context.Context, filename, category string) (*models.Dataset, error) {
	query := `
        SELECT id, uploaded_at, filename, category, uploaded_by
        FROM csv_files
        WHERE filename = $1 AND category = $2`

	dataset := &models.Dataset{}
	err := s.getDB().QueryRowContext(ctx, query, filename, category).Scan(
		&dataset.ID, &dataset.UploadedAt, &dataset.Filename,
		&dataset.Category, &dataset.UploadedBy,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return dataset, err
}

// GetDataset gets a dataset by ID
func (s *PostgresStore) GetDataset(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	query := `
        SELECT id, uploaded_at, filename, category, uploaded_by
        FROM csv_files
        WHERE id = $1`

	dataset := &models.Dataset{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&dataset.ID, &dataset.UploadedAt, &dataset.Filename,
		&dataset.Category, &dataset.UploadedBy,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}

	return dataset, err
}

// InsertDataRows inserts parsed CSV rows for a dataset
func (s *PostgresStore) InsertDataRows(ctx context.Context, datasetID uuid.UUID, rows []models.Variables) error {
	query := `INSERT INTO csv_data (id, file_id, row_data) VALUES ($1, $2, $3)`

	for _, row := range rows {
		if _, err := s.getDB().ExecContext(ctx, query, uuid.New(), datasetID, row); err != nil {
			return err
		}
	}

	return nil
}

// GetDatasetRows returns all rows of a dataset plus its category so
// callers can run the per-category read check
func (s *PostgresStore) GetDatasetRows(ctx context.Context, filename string) ([]models.Variables, string, error) {
	query := `
        SELECT d.row_data, f.category
        FROM csv_data d
        JOIN csv_files f ON f.id = d.file_id
        WHERE f.filename = $1
        ORDER BY d.id`

	rows, err := s.getDB().QueryContext(ctx, query, filename)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var data []models.Variables
	var category string
	for rows.Next() {
		var row models.Variables
		if err := rows.Scan(&row, &category); err != nil {
			return nil, "", err
		}
		data = append(data, row)
	}

	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if len(data) == 0 {
		return nil, "", ErrNotFound
	}

	return data, category, nil
}

// ListDatasets lists datasets with row counts. A UserID filter limits
// results to categories that user holds a permission row for.
func (s *PostgresStore) ListDatasets(ctx context.Context, filters DatasetFilters) ([]*models.Dataset, int64, error) {
	query := `
        SELECT f.id, f.uploaded_at, f.filename, f.category, f.uploaded_by,
               COUNT(d.id) AS record_count
        FROM csv_files f
        LEFT JOIN csv_data d ON d.file_id = f.id`

	var args []interface{}
	var where []string

	if filters.UserID != nil {
		args = append(args, *filters.UserID)
		where = append(where, fmt.Sprintf(
			`f.category IN (SELECT category FROM user_categories WHERE user_id = $%d)`,
			len(args)))
	}

	if filters.Category != nil {
		args = append(args, *filters.Category)
		where = append(where, fmt.Sprintf(`f.category = $%d`, len(args)))
	}

	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " GROUP BY f.id ORDER BY f.uploaded_at DESC"

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var datasets []*models.Dataset
	for rows.Next() {
		dataset := &models.Dataset{}
		err := rows.Scan(
			&dataset.ID, &dataset.UploadedAt, &dataset.Filename,
			&dataset.Category, &dataset.UploadedBy, &dataset.RowCount,
		)
		if err != nil {
			return nil, 0, err
		}
		datasets = append(datasets, dataset)
	}

	return datasets, int64(len(datasets)), rows.Err()
}

// ListCategories lists distinct dataset categories. A nil userID
// returns all categories (admin view); otherwise only the categories
// the user holds a permission row for.
func (s *PostgresStore) ListCategories(ctx context.Context, userID *uuid.UUID) ([]string, error) {
	var rows *sql.Rows
	var err error

	if userID == nil {
		rows, err = s.getDB().QueryContext(ctx,
			"SELECT DISTINCT category FROM csv_files ORDER BY category")
	} else {
		rows, err = s.getDB().QueryContext(ctx,
			"SELECT DISTINCT category FROM user_categories WHERE user_id = $1 ORDER BY category",
			*userID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}

	return categories, rows.Err()
}

// SearchDatasets searches datasets by filename or category
func (s *PostgresStore) SearchDatasets(ctx context.Context, term string, userID *uuid.UUID) ([]*models.Dataset, error) {
	query := `
        SELECT f.id, f.uploaded_at, f.filename, f.category, f.uploaded_by,
               COUNT(d.id) AS record_count
        FROM csv_files f
        LEFT JOIN csv_data d ON d.file_id = f.id
        WHERE (f.filename ILIKE $1 OR f.category ILIKE $1)`

	args := []interface{}{"%" + term + "%"}

	if userID != nil {
		args = append(args, *userID)
		query += ` AND f.category IN (SELECT category FROM user_categories WHERE user_id = $2)`
	}

	query += " GROUP BY f.id ORDER BY f.uploaded_at DESC"

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var datasets []*models.Dataset
	for rows.Next() {
		dataset := &models.Dataset{}
		err := rows.Scan(
			&dataset.ID, &dataset.UploadedAt, &dataset.Filename,
			&dataset.Category, &dataset.UploadedBy, &dataset.RowCount,
		)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, dataset)
	}

	return datasets, rows.Err()
}

// DeleteDataset deletes a dataset and its rows (cascade)
func (s *PostgresStore) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM csv_files WHERE id = $1", id)
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

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timber-server/timber-server-pro/internal/models"
)

// CreateSyncLog appends a sync audit log entry. The log is append-only;
// there are no update or delete methods.
func (s *PostgresStore) CreateSyncLog(ctx context.Context, entry *models.SyncLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO sync_logs (
            id, created_at, device_id, company_id, license_id,
            session_count, measurement_count, outcome, detail
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		entry.ID, entry.CreatedAt, entry.DeviceID, entry.CompanyID,
		entry.LicenseID, entry.SessionCount, entry.MeasurementCount,
		entry.Outcome, entry.Detail,
	)

	return err
}

// ListSyncLogs lists sync audit entries with filters
func (s *PostgresStore) ListSyncLogs(ctx context.Context, filters SyncLogFilters, limit, offset int) ([]*models.SyncLog, int64, error) {
	query := "SELECT COUNT(*) FROM sync_logs WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.DeviceID != nil {
		argCount++
		query += fmt.Sprintf(" AND device_id = $%d", argCount)
		args = append(args, *filters.DeviceID)
	}

	if filters.CompanyID != nil {
		argCount++
		query += fmt.Sprintf(" AND company_id = $%d", argCount)
		args = append(args, *filters.CompanyID)
	}

	if filters.LicenseID != nil {
		argCount++
		query += fmt.Sprintf(" AND license_id = $%d", argCount)
		args = append(args, *filters.LicenseID)
	}

	if filters.Outcome != nil {
		argCount++
		query += fmt.Sprintf(" AND outcome = $%d", argCount)
		args = append(args, *filters.Outcome)
	}

	if filters.StartTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filters.StartTime)
	}

	if filters.EndTime != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filters.EndTime)
	}

	// Get count
	var count int64
	err := s.getDB().QueryRowContext(ctx, query, args...).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	// Get rows
	selectQuery := strings.Replace(query, "SELECT COUNT(*)",
		"SELECT id, created_at, device_id, company_id, license_id, session_count, measurement_count, outcome, detail", 1)

	argCount++
	selectQuery += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	argCount++
	selectQuery += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.getDB().QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*models.SyncLog
	for rows.Next() {
		entry := &models.SyncLog{}
		err := rows.Scan(
			&entry.ID, &entry.CreatedAt, &entry.DeviceID, &entry.CompanyID,
			&entry.LicenseID, &entry.SessionCount, &entry.MeasurementCount,
			&entry.Outcome, &entry.Detail,
		)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}

	return entries, count, rows.Err()
}

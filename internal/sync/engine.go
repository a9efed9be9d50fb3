// Package sync ingests field-collected inventory batches from
// activated devices.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/storage"
)

// MeasurementPayload is one inbound tree measurement
type MeasurementPayload struct {
	Species    string            `json:"species" validate:"required"`
	DiameterCM float64           `json:"diameter_cm"`
	HeightM    float64           `json:"height_m"`
	Volume     float64           `json:"volume"`
	RecordedAt *time.Time        `json:"recorded_at,omitempty"`
	Attributes models.Variables  `json:"attributes,omitempty"`
}

// SessionPayload is one inbound inventory session. Sessions are keyed
// by (device_id, external_key, inventory_date); re-syncing the same
// key overwrites the summary and fully replaces the measurements.
type SessionPayload struct {
	ExternalKey   string               `json:"external_key" validate:"required"`
	InventoryDate time.Time            `json:"inventory_date" validate:"required"`
	Location      string               `json:"location"`
	Notes         string               `json:"notes"`
	TotalVolume   float64              `json:"total_volume"`
	Measurements  []MeasurementPayload `json:"measurements"`
}

// SessionResult reports the outcome for one session of a batch
type SessionResult struct {
	ExternalKey string    `json:"external_key"`
	SessionID   uuid.UUID `json:"session_id"`
	Replaced    bool      `json:"replaced"`
	TreeCount   int       `json:"tree_count"`
}

// BatchResult summarizes a processed sync batch
type BatchResult struct {
	SessionCount     int             `json:"session_count"`
	MeasurementCount int             `json:"measurement_count"`
	Sessions         []SessionResult `json:"sessions"`
}

// Engine applies sync batches. Each session is written in its own
// transaction so a session's summary and its full measurement set are
// never observed partially written; sessions within a batch are
// otherwise independent.
type Engine struct {
	store storage.Store
}

// NewEngine creates a sync engine
func NewEngine(store storage.Store) *Engine {
	return &Engine{store: store}
}

// ProcessBatch ingests sessions for an authorized device. Every row is
// stamped with the resolved companyID; client payloads never carry
// tenant identity. The attempt is always recorded in the sync audit
// log, whether it succeeds or fails.
func (e *Engine) ProcessBatch(ctx context.Context, companyID, licenseID uuid.UUID, deviceID string, sessions []SessionPayload) (*BatchResult, error) {
	result := &BatchResult{}

	for _, payload := range sessions {
		sessionResult, err := e.applySession(ctx, companyID, deviceID, payload)
		if err != nil {
			e.appendLog(ctx, deviceID, &companyID, &licenseID,
				result.SessionCount, result.MeasurementCount,
				models.SyncOutcomeFailed,
				fmt.Sprintf("session %q: %v", payload.ExternalKey, err))
			return nil, fmt.Errorf("apply session %q: %w", payload.ExternalKey, err)
		}

		result.SessionCount++
		result.MeasurementCount += sessionResult.TreeCount
		result.Sessions = append(result.Sessions, *sessionResult)
	}

	e.appendLog(ctx, deviceID, &companyID, &licenseID,
		result.SessionCount, result.MeasurementCount,
		models.SyncOutcomeSuccess, "")

	log.Info().
		Str("device_id", deviceID).
		Str("company_id", companyID.String()).
		Int("sessions", result.SessionCount).
		Int("measurements", result.MeasurementCount).
		Msg("Sync batch processed")

	return result, nil
}

// RecordDenial appends an audit entry for a refused sync attempt
func (e *Engine) RecordDenial(ctx context.Context, deviceID, reason string) {
	e.appendLog(ctx, deviceID, nil, nil, 0, 0, models.SyncOutcomeDenied, reason)
}

// applySession upserts one session atomically: the summary write and
// the delete-then-reinsert of its measurements share a transaction.
func (e *Engine) applySession(ctx context.Context, companyID uuid.UUID, deviceID string, payload SessionPayload) (*SessionResult, error) {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	replaced := false
	session, err := tx.FindInventorySession(ctx, deviceID, payload.ExternalKey, payload.InventoryDate)
	switch {
	case err == nil:
		// Existing session: the device's corrected local dataset
		// supersedes what was synced before. Overwrite the summary and
		// replace the children wholesale, never merge.
		replaced = true
		session.Location = payload.Location
		session.Notes = payload.Notes
		session.TreeCount = len(payload.Measurements)
		session.TotalVolume = payload.TotalVolume

		if err := tx.UpdateInventorySession(ctx, session); err != nil {
			return nil, err
		}
		if err := tx.DeleteTreeMeasurements(ctx, session.ID); err != nil {
			return nil, err
		}

	case errors.Is(err, storage.ErrNotFound):
		session = &models.InventorySession{
			CompanyID:     companyID,
			DeviceID:      deviceID,
			ExternalKey:   payload.ExternalKey,
			InventoryDate: payload.InventoryDate,
			Location:      payload.Location,
			Notes:         payload.Notes,
			TreeCount:     len(payload.Measurements),
			TotalVolume:   payload.TotalVolume,
		}
		if err := tx.CreateInventorySession(ctx, session); err != nil {
			return nil, err
		}

	default:
		return nil, err
	}

	measurements := make([]*models.TreeMeasurement, 0, len(payload.Measurements))
	for _, m := range payload.Measurements {
		measurements = append(measurements, &models.TreeMeasurement{
			SessionID:  session.ID,
			CompanyID:  companyID,
			DeviceID:   deviceID,
			Species:    m.Species,
			DiameterCM: m.DiameterCM,
			HeightM:    m.HeightM,
			Volume:     m.Volume,
			RecordedAt: m.RecordedAt,
			Attributes: m.Attributes,
		})
	}

	if err := tx.InsertTreeMeasurements(ctx, measurements); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &SessionResult{
		ExternalKey: payload.ExternalKey,
		SessionID:   session.ID,
		Replaced:    replaced,
		TreeCount:   len(measurements),
	}, nil
}

// appendLog writes the audit entry. Audit failures are logged, not
// propagated: the batch outcome stands on its own.
func (e *Engine) appendLog(ctx context.Context, deviceID string, companyID, licenseID *uuid.UUID, sessionCount, measurementCount int, outcome models.SyncOutcome, detail string) {
	entry := &models.SyncLog{
		DeviceID:         deviceID,
		CompanyID:        companyID,
		LicenseID:        licenseID,
		SessionCount:     sessionCount,
		MeasurementCount: measurementCount,
		Outcome:          outcome,
		Detail:           detail,
	}

	if err := e.store.CreateSyncLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("device_id", deviceID).Msg("Failed to append sync log")
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/server"
	"github.com/timber-server/timber-server-pro/internal/storage"
	syncengine "github.com/timber-server/timber-server-pro/internal/sync"
)

// ========== Sync handlers ==========

// handleSyncSessions ingests a batch of inventory sessions from a
// field device. Authorization runs against the device's license, not
// the calling user; the company stamped on every row comes from the
// license, never from the payload.
func (s *RESTServer) handleSyncSessions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string                      `json:"device_id" validate:"required"`
		Sessions []syncengine.SessionPayload `json:"sessions" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(req.Sessions) == 0 {
		s.respondError(w, http.StatusBadRequest, "sessions must not be empty")
		return
	}

	if max := s.config.Sync.MaxSessionsPerBatch; len(req.Sessions) > max {
		s.respondError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch exceeds %d sessions", max))
		return
	}

	auth, err := s.gatekeeper.AuthorizeSync(r.Context(), req.DeviceID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "sync authorization failed")
		return
	}

	if !auth.Allowed {
		s.engine.RecordDenial(r.Context(), req.DeviceID, auth.Reason)

		log.Warn().
			Str("device_id", req.DeviceID).
			Str("reason", auth.Reason).
			Msg("Sync refused")

		s.respondJSON(w, http.StatusForbidden, map[string]interface{}{
			"success":    false,
			"error":      auth.Reason,
			"expired_at": auth.ExpiredAt,
		})
		return
	}

	result, err := s.engine.ProcessBatch(r.Context(), auth.CompanyID, auth.LicenseID, req.DeviceID, req.Sessions)
	if err != nil {
		log.Error().Err(err).Str("device_id", req.DeviceID).Msg("Sync batch failed")
		s.respondError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	s.events.PublishSyncCompleted(server.SyncEvent{
		CompanyID:        auth.CompanyID,
		LicenseID:        auth.LicenseID,
		AppID:            auth.AppID,
		DeviceID:         req.DeviceID,
		SessionCount:     result.SessionCount,
		MeasurementCount: result.MeasurementCount,
		Time:             time.Now(),
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// handleListSyncLogs lists sync audit entries with optional filters
func (s *RESTServer) handleListSyncLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	filters := storage.SyncLogFilters{}
	q := r.URL.Query()

	if deviceID := q.Get("device_id"); deviceID != "" {
		filters.DeviceID = &deviceID
	}
	if raw := q.Get("company_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid company ID")
			return
		}
		filters.CompanyID = &id
	}
	if raw := q.Get("license_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid license ID")
			return
		}
		filters.LicenseID = &id
	}
	if raw := q.Get("outcome"); raw != "" {
		outcome := models.SyncOutcome(raw)
		filters.Outcome = &outcome
	}
	if raw := q.Get("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start_time")
			return
		}
		filters.StartTime = &t
	}
	if raw := q.Get("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
		filters.EndTime = &t
	}

	logs, total, err := s.store.ListSyncLogs(r.Context(), filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"total": total,
	})
}

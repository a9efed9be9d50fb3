package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/timber-server/timber-server-pro/internal/license"
	"github.com/timber-server/timber-server-pro/internal/server"
	"github.com/timber-server/timber-server-pro/internal/storage"
	"github.com/timber-server/timber-server-pro/pkg/licensekey"
)

// ========== Admin license handlers ==========

// handleListLicenses lists licenses with device counts
func (s *RESTServer) handleListLicenses(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	licenses, total, err := s.registry.List(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"licenses": licenses,
		"total":    total,
	})
}

// handleCreateLicense creates a license with a generated key
func (s *RESTServer) handleCreateLicense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerUserID     *uuid.UUID `json:"owner_user_id"`
		CompanyID       *uuid.UUID `json:"company_id"`
		AppID           string     `json:"app_id"`
		MaxDevices      int        `json:"max_devices" validate:"min=0,max=1000"`
		GracePeriodDays int        `json:"grace_period_days" validate:"min=0,max=365"`
		ExpiresAt       *time.Time `json:"expires_at"`
		Notes           string     `json:"notes"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	lic, err := s.registry.Create(r.Context(), license.CreateSpec{
		OwnerUserID:     req.OwnerUserID,
		CompanyID:       req.CompanyID,
		AppID:           req.AppID,
		MaxDevices:      req.MaxDevices,
		GracePeriodDays: req.GracePeriodDays,
		ExpiresAt:       req.ExpiresAt,
		Notes:           req.Notes,
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("license_key", lic.LicenseKey).
		Str("app_id", lic.AppID).
		Int("max_devices", lic.MaxDevices).
		Msg("License created")

	s.respondJSON(w, http.StatusCreated, lic)
}

// handleGetLicense gets a license with its activated devices
func (s *RESTServer) handleGetLicense(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid license ID")
		return
	}

	lic, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "license not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	devices, err := s.store.ListActivatedDevices(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"license": lic,
		"devices": devices,
	})
}

// handleUpdateLicense updates a license
func (s *RESTServer) handleUpdateLicense(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid license ID")
		return
	}

	var req struct {
		OwnerUserID     *uuid.UUID `json:"owner_user_id"`
		CompanyID       *uuid.UUID `json:"company_id"`
		AppID           *string    `json:"app_id"`
		MaxDevices      *int       `json:"max_devices"`
		GracePeriodDays *int       `json:"grace_period_days"`
		ExpiresAt       *time.Time `json:"expires_at"`
		IsActive        *bool      `json:"is_active"`
		Notes           *string    `json:"notes"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lic, err := s.registry.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "license not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.OwnerUserID != nil {
		lic.OwnerUserID = req.OwnerUserID
	}
	if req.CompanyID != nil {
		lic.CompanyID = req.CompanyID
	}
	if req.AppID != nil {
		lic.AppID = *req.AppID
	}
	if req.MaxDevices != nil {
		lic.MaxDevices = *req.MaxDevices
	}
	if req.GracePeriodDays != nil {
		lic.GracePeriodDays = *req.GracePeriodDays
	}
	if req.ExpiresAt != nil {
		lic.ExpiresAt = req.ExpiresAt
	}
	if req.IsActive != nil {
		lic.IsActive = *req.IsActive
	}
	if req.Notes != nil {
		lic.Notes = *req.Notes
	}

	if err := s.registry.Update(r.Context(), lic); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, lic)
}

// handleDeleteLicense deletes a license
func (s *RESTServer) handleDeleteLicense(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid license ID")
		return
	}

	if err := s.registry.Delete(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "license not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("license_id", id.String()).Msg("License deleted")

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleListLicenseDevices lists a license's activated devices
func (s *RESTServer) handleListLicenseDevices(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid license ID")
		return
	}

	devices, err := s.store.ListActivatedDevices(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   len(devices),
	})
}

// handleRemoveLicenseDevice force-releases one device seat
func (s *RESTServer) handleRemoveLicenseDevice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid license ID")
		return
	}

	recordID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid device ID")
		return
	}

	if err := s.store.DeleteActivatedDeviceByID(r.Context(), id, recordID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("license_id", id.String()).
		Str("device_record_id", recordID.String()).
		Msg("Device seat released")

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ========== Device-facing license handlers ==========

// handleActivateDevice activates a device on a license
func (s *RESTServer) handleActivateDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LicenseKey  string `json:"license_key" validate:"required"`
		DeviceID    string `json:"device_id" validate:"required"`
		DeviceName  string `json:"device_name"`
		DeviceModel string `json:"device_model"`
		AppID       string `json:"app_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !licensekey.Valid(licensekey.Normalize(req.LicenseKey)) {
		s.respondJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   license.ReasonInvalidKey,
		})
		return
	}

	result, err := s.activations.Activate(r.Context(), req.LicenseKey, req.DeviceID, req.DeviceName, req.DeviceModel, req.AppID)
	if err != nil {
		log.Error().Err(err).Str("device_id", req.DeviceID).Msg("Activation failed")
		s.respondError(w, http.StatusInternalServerError, "activation failed")
		return
	}

	if result.Status == license.StatusDenied {
		status := http.StatusForbidden
		if result.Reason == license.ReasonInvalidKey {
			status = http.StatusNotFound
		}
		s.respondJSON(w, status, map[string]interface{}{
			"success":     false,
			"error":       result.Reason,
			"max_devices": result.MaxDevices,
			"valid_for":   result.ValidFor,
		})
		return
	}

	s.events.PublishDeviceActivated(server.DeviceEvent{
		LicenseKey:  result.License.LicenseKey,
		DeviceID:    req.DeviceID,
		DeviceName:  result.Device.DeviceName,
		DeviceModel: result.Device.DeviceModel,
		Time:        time.Now(),
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"status":         result.Status,
		"license":        result.License,
		"device":         result.Device,
		"grace_deadline": result.License.GraceDeadline(),
	})
}

// handleVerifyDevice verifies a (license, device) pair. Infrastructure
// failures are reported with should_retry so offline clients keep
// their cached license state.
func (s *RESTServer) handleVerifyDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LicenseKey string `json:"license_key" validate:"required"`
		DeviceID   string `json:"device_id" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result := s.activations.Verify(r.Context(), req.LicenseKey, req.DeviceID)

	if result.Retryable {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"valid":        false,
			"error":        result.Reason,
			"should_retry": true,
		})
		return
	}

	if !result.Valid {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"valid":        false,
			"error":        result.Reason,
			"expired_at":   result.ExpiredAt,
			"should_retry": false,
		})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":   true,
		"license": result.License,
	})
}

// handleDeactivateDevice releases a device seat
func (s *RESTServer) handleDeactivateDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LicenseKey string `json:"license_key" validate:"required"`
		DeviceID   string `json:"device_id" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.activations.Deactivate(r.Context(), req.LicenseKey, req.DeviceID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, license.ReasonInvalidKey)
			return
		}
		s.respondError(w, http.StatusInternalServerError, "deactivation failed")
		return
	}

	s.events.PublishDeviceDeactivated(server.DeviceEvent{
		LicenseKey: licensekey.Normalize(req.LicenseKey),
		DeviceID:   req.DeviceID,
		Time:       time.Now(),
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  "deactivated",
	})
}

// handleLicenseInfo returns license status and seat usage by key. No
// device identity is required, so the response excludes the device
// list.
func (s *RESTServer) handleLicenseInfo(w http.ResponseWriter, r *http.Request) {
	key := licensekey.Normalize(chi.URLParam(r, "key"))

	lic, err := s.registry.FindByKey(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, license.ReasonInvalidKey)
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	count, err := s.store.CountActivatedDevices(r.Context(), lic.ID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"license_key":       lic.LicenseKey,
		"app_id":            lic.AppID,
		"is_active":         lic.IsActive,
		"expires_at":        lic.ExpiresAt,
		"grace_period_days": lic.GracePeriodDays,
		"max_devices":       lic.MaxDevices,
		"devices_used":      count,
		"devices_free":      lic.MaxDevices - count,
	})
}

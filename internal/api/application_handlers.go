package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/timber-server/timber-server-pro/internal/access"
	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/storage"
)

// ========== Application handlers ==========

// handleListAvailableApplications lists the active applications the
// calling user may access, each resolved through the override and
// company-grant chain.
func (s *RESTServer) handleListAvailableApplications(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	apps, _, err := s.store.ListApplications(r.Context(), 500, 0)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type availableApp struct {
		Application *models.Application `json:"application"`
		AccessLevel access.Level        `json:"accessLevel"`
	}

	available := []availableApp{}
	for _, app := range apps {
		if !app.IsActive {
			continue
		}

		decision, err := s.resolver.Resolve(r.Context(), user, app.AppID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if decision.Allowed {
			available = append(available, availableApp{
				Application: app,
				AccessLevel: decision.Level,
			})
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"applications": available,
		"total":        len(available),
	})
}

// handleCheckApplicationAccess runs the entitlement check for one
// application. Allowed decisions map to 200, denials to 403; either
// way the decision itself is the body.
func (s *RESTServer) handleCheckApplicationAccess(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")

	decision, err := s.resolver.Resolve(r.Context(), currentUser(r), appID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "entitlement check failed")
		return
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusForbidden
	}

	s.respondJSON(w, status, decision)
}

// handleListApplications lists applications
func (s *RESTServer) handleListApplications(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	apps, total, err := s.store.ListApplications(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"applications": apps,
		"total":        total,
	})
}

// handleCreateApplication creates an application
func (s *RESTServer) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppID           string            `json:"app_id" validate:"required,min=2,max=100"`
		Name            string            `json:"name" validate:"required"`
		Description     string            `json:"description"`
		HTTPIntegration *models.Variables `json:"http_integration"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.AppID == models.AppWildcard {
		s.respondError(w, http.StatusBadRequest, "app_id is reserved")
		return
	}

	app := &models.Application{
		AppID:           req.AppID,
		Name:            req.Name,
		Description:     req.Description,
		IsActive:        true,
		HTTPIntegration: req.HTTPIntegration,
	}

	if err := s.store.CreateApplication(r.Context(), app); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "application already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("app_id", app.AppID).Msg("Application created")

	s.respondJSON(w, http.StatusCreated, app)
}

// handleGetApplication gets an application
func (s *RESTServer) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid application ID")
		return
	}

	app, err := s.store.GetApplication(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, app)
}

// handleUpdateApplication updates an application
func (s *RESTServer) handleUpdateApplication(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid application ID")
		return
	}

	var req struct {
		Name            *string           `json:"name"`
		Description     *string           `json:"description"`
		IsActive        *bool             `json:"is_active"`
		HTTPIntegration *models.Variables `json:"http_integration"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	app, err := s.store.GetApplication(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "application not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Name != nil {
		app.Name = *req.Name
	}
	if req.Description != nil {
		app.Description = *req.Description
	}
	if req.IsActive != nil {
		app.IsActive = *req.IsActive
	}
	if req.HTTPIntegration != nil {
		app.HTTPIntegration = req.HTTPIntegration
	}

	if err := s.store.UpdateApplication(r.Context(), app); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, app)
}

// handleDeleteApplication deletes an application
func (s *RESTServer) handleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid application ID")
		return
	}

	if err := s.store.DeleteApplication(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "application not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("application_id", id.String()).Msg("Application deleted")

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ========== User application override handlers ==========

// handleListUserOverrides lists a user's application overrides
func (s *RESTServer) handleListUserOverrides(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	overrides, err := s.store.ListUserOverrides(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"applications": overrides,
		"total":        len(overrides),
	})
}

// handleSetUserOverride creates or updates a user's override for one
// application
func (s *RESTServer) handleSetUserOverride(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	appID := chi.URLParam(r, "appID")

	var req struct {
		AccessType models.AccessType `json:"access_type" validate:"required"`
		IsEnabled  *bool             `json:"is_enabled"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.AccessType {
	case models.AccessAllow, models.AccessDeny, models.AccessInherit:
	default:
		s.respondError(w, http.StatusBadRequest, "access_type must be allow, deny or inherit")
		return
	}

	if _, err := s.store.GetUser(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "user not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	override := &models.UserApplicationOverride{
		UserID:     id,
		AppID:      appID,
		AccessType: req.AccessType,
		IsEnabled:  true,
	}
	if req.IsEnabled != nil {
		override.IsEnabled = *req.IsEnabled
	}

	if err := s.store.SetUserOverride(r.Context(), override); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("user_id", id.String()).
		Str("app_id", appID).
		Str("access_type", string(req.AccessType)).
		Msg("User override updated")

	s.respondJSON(w, http.StatusOK, override)
}

// handleDeleteUserOverride removes a user's override, restoring
// inherit-from-company behavior
func (s *RESTServer) handleDeleteUserOverride(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}
	appID := chi.URLParam(r, "appID")

	if err := s.store.DeleteUserOverride(r.Context(), id, appID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "override not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

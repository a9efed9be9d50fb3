package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/storage"
)

// ========== Company handlers ==========

// handleListCompanies lists companies
func (s *RESTServer) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	companies, total, err := s.store.ListCompanies(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"companies": companies,
		"total":     total,
	})
}

// handleCreateCompany creates a company
func (s *RESTServer) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name" validate:"required,min=2,max=200"`
		Description  string `json:"description"`
		ContactEmail string `json:"contact_email"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	company := &models.Company{
		Name:         req.Name,
		Description:  req.Description,
		ContactEmail: req.ContactEmail,
		IsActive:     true,
	}

	if err := s.store.CreateCompany(r.Context(), company); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "company already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("name", company.Name).Str("company_id", company.ID.String()).Msg("Company created")

	s.respondJSON(w, http.StatusCreated, company)
}

// handleGetCompany gets a company
func (s *RESTServer) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid company ID")
		return
	}

	company, err := s.store.GetCompany(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "company not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, company)
}

// handleUpdateCompany updates a company
func (s *RESTServer) handleUpdateCompany(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid company ID")
		return
	}

	var req struct {
		Name         *string `json:"name"`
		Description  *string `json:"description"`
		ContactEmail *string `json:"contact_email"`
		IsActive     *bool   `json:"is_active"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	company, err := s.store.GetCompany(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "company not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Name != nil {
		company.Name = *req.Name
	}
	if req.Description != nil {
		company.Description = *req.Description
	}
	if req.ContactEmail != nil {
		company.ContactEmail = *req.ContactEmail
	}
	if req.IsActive != nil {
		company.IsActive = *req.IsActive
		if !company.IsActive && company.SuspendedAt == nil {
			now := time.Now()
			company.SuspendedAt = &now
		}
		if company.IsActive {
			company.SuspendedAt = nil
		}
	}

	if err := s.store.UpdateCompany(r.Context(), company); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, company)
}

// handleDeleteCompany deletes a company
func (s *RESTServer) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid company ID")
		return
	}

	if err := s.store.DeleteCompany(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "company not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("company_id", id.String()).Msg("Company deleted")

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ========== Company application grant handlers ==========

// handleListCompanyGrants lists a company's application grants
func (s *RESTServer) handleListCompanyGrants(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid company ID")
		return
	}

	grants, err := s.store.ListCompanyGrants(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"applications": grants,
		"total":        len(grants),
	})
}

// handleSetCompanyGrant creates or updates a company's grant for one
// application
func (s *RESTServer) handleSetCompanyGrant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid company ID")
		return
	}
	appID := chi.URLParam(r, "appID")

	var req struct {
		IsEnabled        *bool      `json:"is_enabled"`
		LicenseExpiresAt *time.Time `json:"license_expires_at"`
		MaxDevices       *int       `json:"max_devices"`
		Notes            *string    `json:"notes"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := s.store.GetCompany(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "company not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	grant, err := s.store.GetCompanyGrant(r.Context(), id, appID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		grant = &models.CompanyApplicationGrant{
			CompanyID: id,
			AppID:     appID,
			IsEnabled: true,
		}
		applyGrantBody(grant, req.IsEnabled, req.LicenseExpiresAt, req.MaxDevices, req.Notes)

		if err := s.store.CreateCompanyGrant(r.Context(), grant); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	case err != nil:
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	default:
		applyGrantBody(grant, req.IsEnabled, req.LicenseExpiresAt, req.MaxDevices, req.Notes)

		if err := s.store.UpdateCompanyGrant(r.Context(), grant); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	log.Info().
		Str("company_id", id.String()).
		Str("app_id", appID).
		Bool("enabled", grant.IsEnabled).
		Msg("Company grant updated")

	s.respondJSON(w, http.StatusOK, grant)
}

// handleDeleteCompanyGrant removes a company's grant for an application
func (s *RESTServer) handleDeleteCompanyGrant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid company ID")
		return
	}
	appID := chi.URLParam(r, "appID")

	if err := s.store.DeleteCompanyGrant(r.Context(), id, appID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "grant not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func applyGrantBody(grant *models.CompanyApplicationGrant, enabled *bool, expires *time.Time, maxDevices *int, notes *string) {
	if enabled != nil {
		grant.IsEnabled = *enabled
	}
	if expires != nil {
		grant.LicenseExpiresAt = expires
	}
	if maxDevices != nil {
		grant.MaxDevices = *maxDevices
	}
	if notes != nil {
		grant.Notes = *notes
	}
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes configures API endpoints
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.handleHealth)

	// Auth endpoints (no auth required)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefreshToken)

	// License device endpoints (no auth required, keyed by license)
	r.Route("/licenses", func(r chi.Router) {
		r.Post("/activate", s.handleActivateDevice)
		r.Post("/verify", s.handleVerifyDevice)
		r.Post("/deactivate", s.handleDeactivateDevice)
		r.Get("/info/{key}", s.handleLicenseInfo)
	})

	// Field synchronization. The device's prior activation is its
	// credential; the gatekeeper is the only authorization.
	r.Post("/sync/sessions", s.handleSyncSessions)

	// Protected endpoints
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/auth/me", s.handleGetCurrentUser)

		// Application entitlements for the calling user
		r.Get("/applications", s.handleListAvailableApplications)
		r.Get("/applications/{appID}/access", s.handleCheckApplicationAccess)

		// Dataset distribution
		r.Route("/datasets", func(r chi.Router) {
			r.Get("/", s.handleListDatasets)
			r.Get("/categories", s.handleListCategories)
			r.Get("/search", s.handleSearchDatasets)
			r.Get("/data/{filename}", s.handleGetDatasetData)
			r.Post("/upload", s.handleUploadDataset)
			r.Delete("/{filename}", s.handleDeleteDataset)
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Get("/{id}", s.handleGetUser)
				r.Put("/{id}", s.handleUpdateUser)
				r.Delete("/{id}", s.handleDeleteUser)
				r.Get("/{id}/applications", s.handleListUserOverrides)
				r.Put("/{id}/applications/{appID}", s.handleSetUserOverride)
				r.Delete("/{id}/applications/{appID}", s.handleDeleteUserOverride)
			})

			r.Route("/companies", func(r chi.Router) {
				r.Get("/", s.handleListCompanies)
				r.Post("/", s.handleCreateCompany)
				r.Get("/{id}", s.handleGetCompany)
				r.Put("/{id}", s.handleUpdateCompany)
				r.Delete("/{id}", s.handleDeleteCompany)
				r.Get("/{id}/applications", s.handleListCompanyGrants)
				r.Put("/{id}/applications/{appID}", s.handleSetCompanyGrant)
				r.Delete("/{id}/applications/{appID}", s.handleDeleteCompanyGrant)
			})

			r.Route("/admin/applications", func(r chi.Router) {
				r.Get("/", s.handleListApplications)
				r.Post("/", s.handleCreateApplication)
				r.Get("/{id}", s.handleGetApplication)
				r.Put("/{id}", s.handleUpdateApplication)
				r.Delete("/{id}", s.handleDeleteApplication)
			})

			r.Route("/admin/licenses", func(r chi.Router) {
				r.Get("/", s.handleListLicenses)
				r.Post("/", s.handleCreateLicense)
				r.Get("/{id}", s.handleGetLicense)
				r.Put("/{id}", s.handleUpdateLicense)
				r.Delete("/{id}", s.handleDeleteLicense)
				r.Get("/{id}/devices", s.handleListLicenseDevices)
				r.Delete("/{id}/devices/{deviceID}", s.handleRemoveLicenseDevice)
			})

			r.Get("/sync/logs", s.handleListSyncLogs)
		})
	})
}

// handleHealth returns server health status
func (s *RESTServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "timber-server",
	})
}

package api

import (
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/timber-server/timber-server-pro/internal/access"
	"github.com/timber-server/timber-server-pro/internal/models"
	"github.com/timber-server/timber-server-pro/internal/storage"
)

// ========== Dataset handlers ==========

// handleUploadDataset ingests a CSV file into a category. The file is
// parsed row by row with the header as keys; the dataset record and
// all rows commit in one transaction.
func (s *RESTServer) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(s.config.Upload.MaxFileSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart form or file too large")
		return
	}

	category := strings.TrimSpace(r.FormValue("category"))
	if category == "" {
		s.respondError(w, http.StatusBadRequest, "category is required")
		return
	}

	user := currentUser(r)
	decision, err := s.resolver.CheckCategoryAccess(r.Context(), user, category, access.PermWrite)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !decision.Allowed {
		s.respondError(w, http.StatusForbidden, string(decision.Reason))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	filename := header.Filename
	if !strings.HasSuffix(strings.ToLower(filename), ".csv") {
		s.respondError(w, http.StatusBadRequest, "only CSV files are accepted")
		return
	}

	if _, err := s.store.FindDataset(r.Context(), filename, category); err == nil {
		s.respondError(w, http.StatusConflict, "dataset already exists in this category")
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rows, err := parseCSV(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	dataset := &models.Dataset{
		Filename:   filename,
		Category:   category,
		UploadedBy: &user.ID,
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer tx.Rollback()

	if err := tx.CreateDataset(r.Context(), dataset); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "dataset already exists in this category")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := tx.InsertDataRows(r.Context(), dataset.ID, rows); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := tx.Commit(); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().
		Str("filename", filename).
		Str("category", category).
		Int("rows", len(rows)).
		Msg("Dataset uploaded")

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"dataset": dataset,
		"rows":    len(rows),
	})
}

// handleListDatasets lists datasets visible to the caller. Non-admins
// only see categories they hold a read permission for.
func (s *RESTServer) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	filters := storage.DatasetFilters{}
	if !user.IsAdmin() {
		filters.UserID = &user.ID
	}
	if category := r.URL.Query().Get("category"); category != "" {
		filters.Category = &category
	}

	datasets, total, err := s.store.ListDatasets(r.Context(), filters)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": datasets,
		"total":    total,
	})
}

// handleListCategories lists dataset categories visible to the caller
func (s *RESTServer) handleListCategories(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var userID *uuid.UUID
	if !user.IsAdmin() {
		userID = &user.ID
	}

	categories, err := s.store.ListCategories(r.Context(), userID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
	})
}

// handleSearchDatasets searches dataset filenames within the caller's
// readable categories
func (s *RESTServer) handleSearchDatasets(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		s.respondError(w, http.StatusBadRequest, "search term is required")
		return
	}

	user := currentUser(r)

	var userID *uuid.UUID
	if !user.IsAdmin() {
		userID = &user.ID
	}

	datasets, err := s.store.SearchDatasets(r.Context(), term, userID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"datasets": datasets,
		"total":    len(datasets),
	})
}

// handleGetDatasetData returns the parsed rows of one dataset. Access
// requires a read permission on the dataset's category.
func (s *RESTServer) handleGetDatasetData(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	rows, category, err := s.store.GetDatasetRows(r.Context(), filename)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "dataset not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	decision, err := s.resolver.CheckCategoryAccess(r.Context(), currentUser(r), category, access.PermRead)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !decision.Allowed {
		s.respondError(w, http.StatusForbidden, string(decision.Reason))
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"filename": filename,
		"category": category,
		"rows":     rows,
		"total":    len(rows),
	})
}

// handleDeleteDataset removes a dataset and its rows
func (s *RESTServer) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	category := r.URL.Query().Get("category")
	if category == "" {
		s.respondError(w, http.StatusBadRequest, "category is required")
		return
	}

	decision, err := s.resolver.CheckCategoryAccess(r.Context(), currentUser(r), category, access.PermDelete)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !decision.Allowed {
		s.respondError(w, http.StatusForbidden, string(decision.Reason))
		return
	}

	dataset, err := s.store.FindDataset(r.Context(), filename, category)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "dataset not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.store.DeleteDataset(r.Context(), dataset.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("filename", filename).Str("category", category).Msg("Dataset deleted")

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// parseCSV reads a CSV stream into keyed rows using the header line as
// field names. Short rows are padded with empty strings; extra cells
// beyond the header are dropped.
func parseCSV(f io.Reader) ([]models.Variables, error) {
	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("empty CSV file")
	}
	if err != nil {
		return nil, errors.New("invalid CSV header")
	}

	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []models.Variables
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.New("invalid CSV data")
		}

		row := models.Variables{}
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, errors.New("CSV file has no data rows")
	}

	return rows, nil
}

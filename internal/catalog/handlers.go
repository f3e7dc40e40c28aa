package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/testkart/backend-testkart/internal/common"
)

// Handler exposes the test catalog over HTTP.
type Handler struct {
	Svc *Service
}

// List returns all active tests.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tests, err := h.Svc.List(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to load tests", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": tests})
}

// Get returns one test by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "testId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "test id must be a valid uuid", nil)
		return
	}
	test, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "test not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to load test", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": test})
}

// Owned returns the authenticated student's purchased tests.
func (h *Handler) Owned(w http.ResponseWriter, r *http.Request) {
	raw, ok := common.StudentID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	studentID, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	tests, err := h.Svc.Owned(r.Context(), studentID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to load purchased tests", nil)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": tests})
}

package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/testkart/backend-testkart/internal/common"
)

// Handler wires the cart service to HTTP. All routes require an
// authenticated student; the student identifier comes from the request
// context, never from the payload.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type addRequest struct {
	TestID string `json:"test_id" validate:"required,uuid4"`
}

// Get returns the student's cart with pricing preview.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentFromRequest(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Get(r.Context(), studentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Add places a test into the cart.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentFromRequest(w, r)
	if !ok {
		return
	}
	var payload addRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "test_id must be a valid uuid", nil)
			return
		}
	}
	testID, err := uuid.Parse(payload.TestID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "test_id must be a valid uuid", nil)
		return
	}
	view, err := h.Svc.Add(r.Context(), studentID, testID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

// Remove deletes one test from the cart. The test id comes from the path.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentFromRequest(w, r)
	if !ok {
		return
	}
	testID, err := uuid.Parse(chi.URLParam(r, "testId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "test id must be a valid uuid", nil)
		return
	}
	view, err := h.Svc.Remove(r.Context(), studentID, testID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Clear empties the cart. Clearing an already empty cart is a no-op.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentFromRequest(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Clear(r.Context(), studentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTestNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "test not found", nil)
	case errors.Is(err, ErrItemNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "test is not in the cart", nil)
	case errors.Is(err, ErrAlreadyInCart):
		common.JSONError(w, http.StatusConflict, "ALREADY_IN_CART", "test is already in the cart", nil)
	case errors.Is(err, ErrAlreadyPurchased):
		common.JSONError(w, http.StatusConflict, "ALREADY_PURCHASED", "test already purchased", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process cart request", nil)
	}
}

func studentFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw, ok := common.StudentID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return uuid.Nil, false
	}
	return id, true
}

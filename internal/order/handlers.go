package order

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/testkart/backend-testkart/internal/common"
)

// Handler wires the order orchestrator to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// verifyRequest matches the field names the gateway's browser SDK posts back
// after a successful payment.
type verifyRequest struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// Purchase initiates payment for a single test.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentFromRequest(w, r)
	if !ok {
		return
	}
	testID, err := uuid.Parse(chi.URLParam(r, "testId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "test id must be a valid uuid", nil)
		return
	}
	intent, err := h.Svc.Purchase(r.Context(), studentID, testID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": intent})
}

// VerifyPurchase settles a single-test purchase after payment.
func (h *Handler) VerifyPurchase(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentFromRequest(w, r)
	if !ok {
		return
	}
	payload, ok := h.decodeVerify(w, r)
	if !ok {
		return
	}
	settlement, err := h.Svc.VerifyPurchase(r.Context(), studentID, payload.OrderID, payload.PaymentID, payload.Signature)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": settlement})
}

// Checkout initiates payment for the whole cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentFromRequest(w, r)
	if !ok {
		return
	}
	intent, err := h.Svc.Checkout(r.Context(), studentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": intent})
}

// VerifyCheckout settles a bundle order after payment.
func (h *Handler) VerifyCheckout(w http.ResponseWriter, r *http.Request) {
	studentID, ok := studentFromRequest(w, r)
	if !ok {
		return
	}
	payload, ok := h.decodeVerify(w, r)
	if !ok {
		return
	}
	settlement, err := h.Svc.VerifyCheckout(r.Context(), studentID, payload.OrderID, payload.PaymentID, payload.Signature)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": settlement})
}

func (h *Handler) decodeVerify(w http.ResponseWriter, r *http.Request) (verifyRequest, bool) {
	var payload verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json body", nil)
		return verifyRequest{}, false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(payload); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "order id, payment id and signature are required", nil)
			return verifyRequest{}, false
		}
	}
	return payload, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTestNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "test not found", nil)
	case errors.Is(err, ErrAlreadyPurchased):
		common.JSONError(w, http.StatusConflict, "ALREADY_PURCHASED", "test already purchased", nil)
	case errors.Is(err, ErrEmptyCart):
		common.JSONError(w, http.StatusBadRequest, "EMPTY_CART", "cart is empty", nil)
	case errors.Is(err, ErrOrderNotFound):
		common.JSONError(w, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found", nil)
	case errors.Is(err, ErrSignatureInvalid):
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
	case errors.Is(err, ErrGatewayUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "payment gateway unavailable", nil)
	case errors.Is(err, ErrGatewayError):
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_ERROR", "payment gateway error", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unable to process order request", nil)
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

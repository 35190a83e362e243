package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/common"
	"github.com/noah-isme/backend-kursus/internal/voucher"
)

// Handler exposes the authenticated cart endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type addItemPayload struct {
	CourseID string `json:"courseId" validate:"required,uuid"`
}

type selectPayload struct {
	Selected *bool `json:"selected" validate:"required"`
}

type applyVoucherPayload struct {
	Code string `json:"code" validate:"required"`
}

// Get handles GET /cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.Get(r.Context(), userID)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// AddItem handles POST /cart/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload addItemPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	courseID, err := uuid.Parse(payload.CourseID)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid course id", nil)
		return
	}
	view, err := h.Svc.AddItem(r.Context(), userID, courseID)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// RemoveItem handles DELETE /cart/items/{courseID}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	courseID, err := uuid.Parse(chi.URLParam(r, "courseID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid course id", nil)
		return
	}
	view, err := h.Svc.RemoveItem(r.Context(), userID, courseID)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// SelectItem handles PATCH /cart/items/{courseID}.
func (h *Handler) SelectItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	courseID, err := uuid.Parse(chi.URLParam(r, "courseID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid course id", nil)
		return
	}
	var payload selectPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	view, err := h.Svc.SetSelected(r.Context(), userID, courseID, *payload.Selected)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// Clear handles DELETE /cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Clear(r.Context(), userID); err != nil {
		writeCartError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApplyVoucher handles POST /cart/voucher.
func (h *Handler) ApplyVoucher(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var payload applyVoucherPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	view, err := h.Svc.ApplyVoucher(r.Context(), userID, payload.Code)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// RemoveVoucher handles DELETE /cart/voucher.
func (h *Handler) RemoveVoucher(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	view, err := h.Svc.RemoveVoucher(r.Context(), userID)
	if err != nil {
		writeCartError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return uuid.UUID{}, false
	}
	return id, true
}

func writeCartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCourseNotFound):
		common.WriteError(w, common.NotFound("course not found", err))
	case errors.Is(err, ErrItemNotFound):
		common.WriteError(w, common.NotFound("cart item not found", err))
	case errors.Is(err, ErrNothingSelected):
		common.WriteError(w, common.BadRequest("select at least one item first", err))
	case errors.Is(err, voucher.ErrNotFound):
		common.WriteError(w, common.NotFound("voucher not found", err))
	case errors.Is(err, voucher.ErrInactive),
		errors.Is(err, voucher.ErrNotStarted),
		errors.Is(err, voucher.ErrExpired),
		errors.Is(err, voucher.ErrUsageLimitReached),
		errors.Is(err, voucher.ErrNoApplicableCourses),
		errors.Is(err, voucher.ErrEmptyCourseSet):
		common.WriteError(w, common.BadRequest(err.Error(), err))
	default:
		common.WriteError(w, err)
	}
}

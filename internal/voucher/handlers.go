package voucher

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/common"
)

// Handler exposes voucher management endpoints for admins and instructors.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// voucherPayload is the create body. discountValue is basis points for
// PERCENTAGE vouchers and minor currency units for FIXED ones.
type voucherPayload struct {
	Code          string    `json:"code" validate:"required"`
	Description   string    `json:"description"`
	Scope         string    `json:"scope" validate:"required,oneof=ALL_COURSES SPECIFIC_COURSES CATEGORY"`
	DiscountType  string    `json:"discountType" validate:"required,oneof=PERCENTAGE FIXED"`
	DiscountValue int64     `json:"discountValue" validate:"required,gt=0"`
	MaxDiscount   *int64    `json:"maxDiscount"`
	StartDate     time.Time `json:"startDate" validate:"required"`
	EndDate       time.Time `json:"endDate" validate:"required"`
	MaxUsage      *int32    `json:"maxUsage"`
	CategoryID    *string   `json:"categoryId"`
	CourseIDs     []string  `json:"courseIds"`
}

type voucherPatchPayload struct {
	Description   *string    `json:"description"`
	DiscountType  *string    `json:"discountType" validate:"omitempty,oneof=PERCENTAGE FIXED"`
	DiscountValue *int64     `json:"discountValue" validate:"omitempty,gt=0"`
	MaxDiscount   *int64     `json:"maxDiscount"`
	StartDate     *time.Time `json:"startDate"`
	EndDate       *time.Time `json:"endDate"`
	MaxUsage      *int32     `json:"maxUsage"`
	IsActive      *bool      `json:"isActive"`
	CategoryID    *string    `json:"categoryId"`
	CourseIDs     []string   `json:"courseIds"`
}

// Create handles POST /vouchers.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actorID, actorRole, ok := actor(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var payload voucherPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	in, err := payloadToInput(payload)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	v, err := h.Svc.Create(r.Context(), in, actorID, actorRole)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": v})
}

// Update handles PATCH /vouchers/{voucherID}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	actorID, actorRole, ok := actor(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	voucherID, err := pathUUID(r, "voucherID")
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid voucher id", nil)
		return
	}
	var payload voucherPatchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	patch, err := payloadToPatch(payload)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	v, err := h.Svc.Update(r.Context(), voucherID, patch, actorID, actorRole)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": v})
}

// Delete handles DELETE /vouchers/{voucherID}. A voucher with recorded usage
// is deactivated instead of removed.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actorID, actorRole, ok := actor(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	voucherID, err := pathUUID(r, "voucherID")
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid voucher id", nil)
		return
	}
	outcome, err := h.Svc.Delete(r.Context(), voucherID, actorID, actorRole)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"outcome": outcome}})
}

// Toggle handles POST /vouchers/{voucherID}/toggle.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	actorID, actorRole, ok := actor(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	voucherID, err := pathUUID(r, "voucherID")
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid voucher id", nil)
		return
	}
	v, err := h.Svc.ToggleActive(r.Context(), voucherID, actorID, actorRole)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": v})
}

// Get handles GET /vouchers/{voucherID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	voucherID, err := pathUUID(r, "voucherID")
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid voucher id", nil)
		return
	}
	v, linked, err := h.Svc.GetByID(r.Context(), voucherID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"voucher": v, "courseIds": linked}})
}

// ListMine handles GET /vouchers/mine for the authenticated creator.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	actorID, _, ok := actor(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	vouchers, err := h.Svc.ListByCreator(r.Context(), actorID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": vouchers})
}

// ListAll handles GET /vouchers. Routing restricts it to admins.
func (h *Handler) ListAll(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Svc.ListAll(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": vouchers})
}

type previewPayload struct {
	Code      string   `json:"code" validate:"required"`
	CourseIDs []string `json:"courseIds" validate:"required,min=1"`
}

// Preview handles POST /vouchers/preview. It prices a code against a course
// set without touching the usage ledger.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var payload previewPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	courseIDs, err := parseUUIDs(payload.CourseIDs)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid course ids", nil)
		return
	}
	result, err := h.Svc.Apply(r.Context(), payload.Code, courseIDs)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// CourseVouchers handles GET /courses/{courseID}/vouchers.
func (h *Handler) CourseVouchers(w http.ResponseWriter, r *http.Request) {
	courseID, err := pathUUID(r, "courseID")
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid course id", nil)
		return
	}
	listing, err := h.Svc.VouchersForCourse(r.Context(), courseID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": listing})
}

func payloadToInput(p voucherPayload) (Input, error) {
	in := Input{
		Code:          p.Code,
		Description:   p.Description,
		Scope:         p.Scope,
		DiscountType:  p.DiscountType,
		DiscountValue: p.DiscountValue,
		MaxDiscount:   p.MaxDiscount,
		StartDate:     p.StartDate,
		EndDate:       p.EndDate,
		MaxUsage:      p.MaxUsage,
	}
	if p.CategoryID != nil {
		id, err := uuid.Parse(*p.CategoryID)
		if err != nil {
			return Input{}, errors.New("invalid category id")
		}
		in.CategoryID = &id
	}
	courseIDs, err := parseUUIDs(p.CourseIDs)
	if err != nil {
		return Input{}, err
	}
	in.CourseIDs = courseIDs
	return in, nil
}

func payloadToPatch(p voucherPatchPayload) (Patch, error) {
	patch := Patch{
		Description:   p.Description,
		DiscountType:  p.DiscountType,
		DiscountValue: p.DiscountValue,
		MaxDiscount:   p.MaxDiscount,
		StartDate:     p.StartDate,
		EndDate:       p.EndDate,
		MaxUsage:      p.MaxUsage,
		IsActive:      p.IsActive,
	}
	if p.CategoryID != nil {
		id, err := uuid.Parse(*p.CategoryID)
		if err != nil {
			return Patch{}, errors.New("invalid category id")
		}
		patch.CategoryID = &id
	}
	courseIDs, err := parseUUIDs(p.CourseIDs)
	if err != nil {
		return Patch{}, err
	}
	patch.CourseIDs = courseIDs
	return patch, nil
}

func parseUUIDs(values []string) ([]uuid.UUID, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(values))
	for _, raw := range values {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errors.New("invalid course id: " + raw)
		}
		out = append(out, id)
	}
	return out, nil
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, key))
}

func actor(r *http.Request) (uuid.UUID, string, bool) {
	idStr, ok := common.UserID(r.Context())
	if !ok {
		return uuid.UUID{}, "", false
	}
	role, ok := common.Role(r.Context())
	if !ok {
		return uuid.UUID{}, "", false
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.UUID{}, "", false
	}
	return id, role, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.WriteError(w, common.NotFound("voucher not found", err))
	case errors.Is(err, ErrCourseNotFound):
		common.WriteError(w, common.NotFound("course not found", err))
	case errors.Is(err, ErrForbidden):
		common.WriteError(w, common.Forbidden("you may only manage your own vouchers and courses", err))
	case errors.Is(err, ErrCodeExists):
		common.WriteError(w, common.Conflict("voucher code already exists", err))
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInactive),
		errors.Is(err, ErrNotStarted),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrUsageLimitReached),
		errors.Is(err, ErrNoApplicableCourses),
		errors.Is(err, ErrEmptyCourseSet):
		common.WriteError(w, common.BadRequest(err.Error(), err))
	default:
		common.WriteError(w, err)
	}
}

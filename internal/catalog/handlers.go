package catalog

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/common"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	Svc *Service
}

// Categories handles GET /categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Svc.Categories(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

// Courses handles GET /courses with pagination.
func (h *Handler) Courses(w http.ResponseWriter, r *http.Request) {
	page, limit := common.ParsePagination(r, h.Svc.DefaultLimit)
	result, err := h.Svc.ListCourses(r.Context(), page, limit)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"pagination": common.Pagination{Page: result.Page, PerPage: result.Limit, TotalItems: int(result.Total)},
	})
}

// CourseDetail handles GET /courses/{courseID}.
func (h *Handler) CourseDetail(w http.ResponseWriter, r *http.Request) {
	courseID, err := uuid.Parse(chi.URLParam(r, "courseID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid course id", nil)
		return
	}
	detail, err := h.Svc.CourseDetail(r.Context(), courseID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			common.WriteError(w, common.NotFound("course not found", err))
			return
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": detail})
}

// Banner handles GET /vouchers/banner.
func (h *Handler) Banner(w http.ResponseWriter, r *http.Request) {
	banner, err := h.Svc.SiteBanner(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": banner})
}

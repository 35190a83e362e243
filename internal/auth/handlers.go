package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-kursus/internal/common"
	"github.com/noah-isme/backend-kursus/internal/jobs"
)

// Handler exposes the auth endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
	// Tasks enqueues the welcome email after registration when set.
	Tasks jobs.Enqueuer
}

type registerPayload struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=STUDENT INSTRUCTOR"`
}

type loginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Register handles POST /auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var payload registerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	user, err := h.Svc.Register(r.Context(), payload.Name, payload.Email, payload.Password, payload.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Tasks != nil {
		if task, err := jobs.NewWelcomeEmailTask(user.Email, user.Name); err == nil {
			_, _ = h.Tasks.Enqueue(task)
		}
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": user})
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var payload loginPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, err.Error(), nil)
		return
	}
	result, err := h.Svc.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	idStr, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	userID, err := uuid.Parse(idStr)
	if err != nil {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	user, err := h.Svc.Me(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": user})
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		common.JSONError(w, appErr.HTTPStatus, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	common.WriteError(w, err)
}

package progress

import (
	"context"
	"net/http"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/apperr"
	"ebslms/internal/auth"

	"github.com/google/uuid"
)

type progressService interface {
	CompleteLesson(ctx context.Context, lessonID, userID uuid.UUID, privileged bool) (*LessonProgress, error)
	CourseProgress(ctx context.Context, courseID, userID uuid.UUID) (*CourseProgress, error)
	CourseMetrics(ctx context.Context, courseID, userID uuid.UUID) (*CourseMetrics, error)
	GeneralMetrics(ctx context.Context, userID uuid.UUID) (*GeneralMetrics, error)
}

type Handler struct {
	svc progressService
}

func NewHandler(svc progressService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, "lessonID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CompleteLesson(r.Context(), id, u.ID, u.IsPrivileged())
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Course(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, "courseID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CourseProgress(r.Context(), id, u.ID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) CourseMetrics(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, "courseID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CourseMetrics(r.Context(), id, u.ID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) GeneralMetrics(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	out, err := h.svc.GeneralMetrics(r.Context(), u.ID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

package forum

import (
	"context"
	"net/http"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/apperr"
	"ebslms/internal/auth"

	"github.com/google/uuid"
)

type forumService interface {
	List(ctx context.Context, t Thread, userID uuid.UUID, privileged bool) ([]Comment, error)
	Create(ctx context.Context, t Thread, userID uuid.UUID, privileged bool, in CommentInput) (*Comment, error)
	Update(ctx context.Context, id, userID uuid.UUID, in CommentInput) (*Comment, error)
	Delete(ctx context.Context, id, userID uuid.UUID, admin bool) error
}

type Handler struct {
	svc forumService
}

func NewHandler(svc forumService) *Handler {
	return &Handler{svc: svc}
}

func threadParams(r *http.Request) (Thread, error) {
	courseID, err := apiresp.UUIDParam(r, "courseID")
	if err != nil {
		return Thread{}, err
	}
	lessonID, err := apiresp.UUIDParam(r, "lessonID")
	if err != nil {
		return Thread{}, err
	}
	return Thread{CourseID: courseID, LessonID: lessonID}, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	t, err := threadParams(r)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.List(r.Context(), t, u.ID, u.IsPrivileged())
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	t, err := threadParams(r)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in CommentInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Create(r.Context(), t, u.ID, u.IsPrivileged(), in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, "commentID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in CommentInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Update(r.Context(), id, u.ID, in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, "commentID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id, u.ID, u.IsAdmin()); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"id": id, "eliminado": true})
}

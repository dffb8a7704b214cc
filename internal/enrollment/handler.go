package enrollment

import (
	"context"
	"net/http"
	"strings"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/apperr"
	"ebslms/internal/auth"

	"github.com/google/uuid"
)

type enrollmentService interface {
	Enroll(ctx context.Context, userID, courseID uuid.UUID) (*Enrollment, error)
	Get(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	ListMine(ctx context.Context, userID uuid.UUID, status Status) ([]Enrollment, error)
	List(ctx context.Context, f ListFilter) ([]Enrollment, error)
	Pause(ctx context.Context, userID, id uuid.UUID) (*Enrollment, error)
	Resume(ctx context.Context, userID, id uuid.UUID) (*Enrollment, error)
	ChangeStatus(ctx context.Context, id uuid.UUID, to Status) (*Enrollment, error)
}

type Handler struct {
	svc enrollmentService
}

func NewHandler(svc enrollmentService) *Handler {
	return &Handler{svc: svc}
}

type changeStatusRequest struct {
	Status string `json:"estado" validate:"required"`
}

func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	courseID, err := apiresp.UUIDParam(r, "courseID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Enroll(r.Context(), user.ID, courseID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	status := Status(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("estado"))))
	out, err := h.svc.ListMine(r.Context(), user.ID, status)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, "enrollmentID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Get(r.Context(), id)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if out.UserID != user.ID && !user.IsPrivileged() {
		apiresp.WriteErr(w, r, ErrNotOwner)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.svc.Pause)
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.ownerAction(w, r, h.svc.Resume)
}

func (h *Handler) ownerAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID, id uuid.UUID) (*Enrollment, error)) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, "enrollmentID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := fn(r.Context(), user.ID, id)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{Status: Status(strings.ToUpper(strings.TrimSpace(q.Get("estado"))))}
	f.Skip, f.Limit = apiresp.Page(r, 50, 200)
	for key, dst := range map[string]**uuid.UUID{"usuario_id": &f.UserID, "curso_id": &f.CourseID} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			apiresp.WriteErr(w, r, apperr.Validation("INVALID_ID", "invalid "+key))
			return
		}
		*dst = &id
	}
	out, err := h.svc.List(r.Context(), f)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "enrollmentID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var req changeStatusRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.ChangeStatus(r.Context(), id, Status(strings.ToUpper(strings.TrimSpace(req.Status))))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

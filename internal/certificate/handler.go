package certificate

import (
	"context"
	"net/http"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/apperr"
	"ebslms/internal/auth"

	"github.com/google/uuid"
)

type certificateService interface {
	ListMine(ctx context.Context, userID uuid.UUID) ([]Certificate, error)
	ListByEnrollment(ctx context.Context, enrollmentID, viewerID uuid.UUID, privileged bool) ([]Certificate, error)
	Get(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*Certificate, error)
	Status(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*StatusView, error)
	Verify(ctx context.Context, id uuid.UUID, hash string) (*Verification, error)
	Request(ctx context.Context, enrollmentID, userID uuid.UUID, privileged bool) (*Certificate, error)
	Issue(ctx context.Context, enrollmentID uuid.UUID) (*Certificate, error)
}

type Handler struct {
	svc certificateService
}

func NewHandler(svc certificateService) *Handler {
	return &Handler{svc: svc}
}

type requestBody struct {
	EnrollmentID uuid.UUID `json:"inscripcion_curso_id" validate:"required"`
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	out, err := h.svc.ListMine(r.Context(), user.ID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) ListByEnrollment(w http.ResponseWriter, r *http.Request) {
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
	out, err := h.svc.ListByEnrollment(r.Context(), id, user.ID, user.IsPrivileged())
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
	id, err := apiresp.UUIDParam(r, "certificateID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Get(r.Context(), id, user.ID, user.IsPrivileged())
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, "certificateID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Status(r.Context(), id, user.ID, user.IsPrivileged())
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

// Verify is public.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "certificateID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Verify(r.Context(), id, r.URL.Query().Get("hash"))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	var req requestBody
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Request(r.Context(), req.EnrollmentID, user.ID, user.IsPrivileged())
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, statusCode(out), out)
}

// Issue serves /api/internal; the internal key middleware authenticates it.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "enrollmentID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Issue(r.Context(), id)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, statusCode(out), out)
}

func statusCode(c *Certificate) int {
	if c.Status == StatusCompleted {
		return http.StatusOK
	}
	return http.StatusAccepted
}

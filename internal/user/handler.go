package user

import (
	"context"
	"net/http"
	"strings"
	"time"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/apperr"
	"ebslms/internal/auth"

	"github.com/google/uuid"
)

type userService interface {
	Get(ctx context.Context, id uuid.UUID) (*User, error)
	GetFor(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*User, error)
	List(ctx context.Context, f ListFilter) ([]User, error)
	SetRoles(ctx context.Context, id uuid.UUID, names []string) (*User, error)
	ExportExcel(ctx context.Context, f ListFilter) ([]byte, error)
}

// RoleCache is told when a user's roles change so the next request resyncs.
type RoleCache interface {
	Forget(id uuid.UUID)
}

type Handler struct {
	svc   userService
	roles RoleCache
}

func NewHandler(svc userService, roles RoleCache) *Handler {
	return &Handler{svc: svc, roles: roles}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	out, err := h.svc.Get(r.Context(), u.ID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	var in ProfileInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.UpdateProfile(r.Context(), u.ID, in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, "userID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.GetFor(r.Context(), id, u.ID, u.IsPrivileged())
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func filterFromQuery(r *http.Request) ListFilter {
	q := r.URL.Query()
	skip, limit := apiresp.Page(r, 50, 200)
	return ListFilter{
		Role:  strings.ToLower(strings.TrimSpace(q.Get("rol"))),
		Query: strings.TrimSpace(q.Get("q")),
		Skip:  skip,
		Limit: limit,
	}
}

// List serves both the coordinator listing and the admin listing; the router gates roles.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.List(r.Context(), filterFromQuery(r))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) SetRoles(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "userID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in RolesInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.SetRoles(r.Context(), id, in.Roles)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if h.roles != nil {
		h.roles.Forget(id)
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportExcel(r.Context(), filterFromQuery(r))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteFile(w, apiresp.XLSXContentType, "usuarios_"+time.Now().Format("20060102_150405")+".xlsx", data)
}

package preference

import (
	"context"
	"net/http"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/apperr"
	"ebslms/internal/auth"

	"github.com/google/uuid"
)

type preferenceService interface {
	Get(ctx context.Context, userID uuid.UUID) (*Preferences, error)
	Update(ctx context.Context, userID uuid.UUID, in Input) (*Preferences, error)
}

type Handler struct {
	svc preferenceService
}

func NewHandler(svc preferenceService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
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

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	var in Input
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Update(r.Context(), u.ID, in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

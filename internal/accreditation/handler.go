package accreditation

import (
	"context"
	"net/http"
	"strings"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/apperr"

	"github.com/google/uuid"
)

type ruleService interface {
	List(ctx context.Context, courseID *uuid.UUID) ([]Rule, error)
	Get(ctx context.Context, id uuid.UUID) (*Rule, error)
	Create(ctx context.Context, in RuleInput) (*Rule, error)
	Update(ctx context.Context, id uuid.UUID, in RuleInput) (*Rule, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type Handler struct {
	svc ruleService
}

func NewHandler(svc ruleService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var courseID *uuid.UUID
	if raw := strings.TrimSpace(r.URL.Query().Get("curso_id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			apiresp.WriteErr(w, r, apperr.Validation("INVALID_ID", "invalid curso_id"))
			return
		}
		courseID = &id
	}
	out, err := h.svc.List(r.Context(), courseID)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "ruleID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Get(r.Context(), id)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in RuleInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if in.QuizID != nil && in.ExamID != nil {
		apiresp.WriteErr(w, r, ErrBothTargets)
		return
	}
	out, err := h.svc.Create(r.Context(), in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "ruleID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in RuleInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if in.QuizID != nil && in.ExamID != nil {
		apiresp.WriteErr(w, r, ErrBothTargets)
		return
	}
	out, err := h.svc.Update(r.Context(), id, in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "ruleID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"message": "rule deleted"})
}

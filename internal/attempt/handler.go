package attempt

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

type attemptService interface {
	Start(ctx context.Context, in StartInput) (*Attempt, error)
	Submit(ctx context.Context, in SubmitInput) (*Result, error)
	Get(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*Attempt, error)
	ListMine(ctx context.Context, userID uuid.UUID, t Target, skip, limit int) ([]Attempt, error)
	List(ctx context.Context, f ListFilter) ([]Attempt, error)
	AllowNew(ctx context.Context, id uuid.UUID) (*Attempt, error)
	ExportExcel(ctx context.Context, f ListFilter) ([]byte, error)
}

type Handler struct {
	svc attemptService
}

func NewHandler(svc attemptService) *Handler {
	return &Handler{svc: svc}
}

type startRequest struct {
	EnrollmentID *uuid.UUID `json:"inscripcion_curso_id"`
}

type submitRequest struct {
	Answers []AnswerInput `json:"respuestas" validate:"dive"`
}

func (h *Handler) StartQuiz(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, "quizID", QuizTarget)
}

func (h *Handler) StartExam(w http.ResponseWriter, r *http.Request) {
	h.start(w, r, "examID", ExamTarget)
}

func (h *Handler) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "quizID", QuizTarget)
}

func (h *Handler) SubmitExam(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "examID", ExamTarget)
}

func (h *Handler) ListQuiz(w http.ResponseWriter, r *http.Request) {
	h.listMine(w, r, "quizID", QuizTarget)
}

func (h *Handler) ListExam(w http.ResponseWriter, r *http.Request) {
	h.listMine(w, r, "examID", ExamTarget)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request, param string, target func(uuid.UUID) Target) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, param)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var req startRequest
	if r.ContentLength != 0 {
		if err := apiresp.Decode(r, &req); err != nil && apperr.From(err).Code != "EMPTY_BODY" {
			apiresp.WriteErr(w, r, err)
			return
		}
	}
	out, err := h.svc.Start(r.Context(), StartInput{
		UserID:       user.ID,
		Privileged:   user.IsPrivileged(),
		Target:       target(id),
		EnrollmentID: req.EnrollmentID,
	})
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, param string, target func(uuid.UUID) Target) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	targetID, err := apiresp.UUIDParam(r, param)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	attemptID, err := apiresp.UUIDParam(r, "attemptID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var req submitRequest
	if err := apiresp.Decode(r, &req); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.Submit(r.Context(), SubmitInput{
		UserID:    user.ID,
		AttemptID: attemptID,
		Target:    target(targetID),
		Answers:   req.Answers,
	})
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request, param string, target func(uuid.UUID) Target) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteErr(w, r, apperr.Unauthenticated("authentication required"))
		return
	}
	id, err := apiresp.UUIDParam(r, param)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	skip, limit := apiresp.Page(r, 50, 200)
	out, err := h.svc.ListMine(r.Context(), user.ID, target(id), skip, limit)
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
	id, err := apiresp.UUIDParam(r, "attemptID")
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

func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	f.Skip, f.Limit = apiresp.Page(r, 50, 200)
	out, err := h.svc.List(r.Context(), f)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) AllowNew(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "attemptID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.AllowNew(r.Context(), id)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	data, err := h.svc.ExportExcel(r.Context(), f)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	name := "intentos_" + time.Now().Format("20060102_150405") + ".xlsx"
	apiresp.WriteFile(w, apiresp.XLSXContentType, name, data)
}

func filterFromQuery(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	f := ListFilter{Result: strings.TrimSpace(q.Get("resultado"))}
	for key, dst := range map[string]**uuid.UUID{
		"usuario_id":      &f.UserID,
		"curso_id":        &f.CourseID,
		"quiz_id":         &f.QuizID,
		"examen_final_id": &f.ExamID,
	} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, apperr.Validation("INVALID_ID", "invalid "+key)
		}
		*dst = &id
	}
	return f, nil
}

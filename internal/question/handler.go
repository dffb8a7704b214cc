package question

import (
	"context"
	"net/http"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/auth"

	"github.com/google/uuid"
)

type Handler struct {
	svc questionService
}

type questionService interface {
	GetQuiz(ctx context.Context, id uuid.UUID, opts ViewOptions) (*Quiz, error)
	GetExam(ctx context.Context, id uuid.UUID, opts ViewOptions) (*Exam, error)
	GetCourseExam(ctx context.Context, courseID uuid.UUID, opts ViewOptions) (*Exam, error)
	CreateQuiz(ctx context.Context, in QuizInput) (*Quiz, error)
	UpdateQuiz(ctx context.Context, id uuid.UUID, in QuizInput) (*Quiz, error)
	CreateExam(ctx context.Context, in ExamInput) (*Exam, error)
	UpdateExam(ctx context.Context, id uuid.UUID, in ExamInput) (*Exam, error)
	CreateQuestion(ctx context.Context, in QuestionInput) (*Question, error)
	UpdateQuestion(ctx context.Context, id uuid.UUID, in QuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, id uuid.UUID) error
}

func NewHandler(svc questionService) *Handler {
	return &Handler{svc: svc}
}

func viewFor(r *http.Request) ViewOptions {
	user, _ := auth.CurrentUser(r.Context())
	if user.IsPrivileged() {
		return ViewOptions{RevealAnswers: true, IncludeDrafts: true}
	}
	return ViewOptions{ShuffleQuestions: true}
}

func (h *Handler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "quizID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.GetQuiz(r.Context(), id, viewFor(r))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) GetExam(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "examID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.GetExam(r.Context(), id, viewFor(r))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) GetCourseExam(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "courseID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.GetCourseExam(r.Context(), id, viewFor(r))
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	var in QuizInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CreateQuiz(r.Context(), in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) UpdateQuiz(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "quizID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in QuizInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.UpdateQuiz(r.Context(), id, in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) CreateExam(w http.ResponseWriter, r *http.Request) {
	var in ExamInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CreateExam(r.Context(), in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) UpdateExam(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "examID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in ExamInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.UpdateExam(r.Context(), id, in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var in QuestionInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.CreateQuestion(r.Context(), in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) UpdateQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "questionID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	var in QuestionInput
	if err := apiresp.Decode(r, &in); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	out, err := h.svc.UpdateQuestion(r.Context(), id, in)
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := apiresp.UUIDParam(r, "questionID")
	if err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), id); err != nil {
		apiresp.WriteErr(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]string{"message": "question deleted"})
}

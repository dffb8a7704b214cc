package question

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ebslms/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type mockQuestionService struct {
	getQuizFn        func(ctx context.Context, id uuid.UUID, opts ViewOptions) (*Quiz, error)
	getExamFn        func(ctx context.Context, id uuid.UUID, opts ViewOptions) (*Exam, error)
	getCourseExamFn  func(ctx context.Context, courseID uuid.UUID, opts ViewOptions) (*Exam, error)
	createQuizFn     func(ctx context.Context, in QuizInput) (*Quiz, error)
	updateQuizFn     func(ctx context.Context, id uuid.UUID, in QuizInput) (*Quiz, error)
	createExamFn     func(ctx context.Context, in ExamInput) (*Exam, error)
	updateExamFn     func(ctx context.Context, id uuid.UUID, in ExamInput) (*Exam, error)
	createQuestionFn func(ctx context.Context, in QuestionInput) (*Question, error)
	updateQuestionFn func(ctx context.Context, id uuid.UUID, in QuestionInput) (*Question, error)
	deleteQuestionFn func(ctx context.Context, id uuid.UUID) error
}

func (m *mockQuestionService) GetQuiz(ctx context.Context, id uuid.UUID, opts ViewOptions) (*Quiz, error) {
	if m.getQuizFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getQuizFn(ctx, id, opts)
}

func (m *mockQuestionService) GetExam(ctx context.Context, id uuid.UUID, opts ViewOptions) (*Exam, error) {
	if m.getExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getExamFn(ctx, id, opts)
}

func (m *mockQuestionService) GetCourseExam(ctx context.Context, courseID uuid.UUID, opts ViewOptions) (*Exam, error) {
	if m.getCourseExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getCourseExamFn(ctx, courseID, opts)
}

func (m *mockQuestionService) CreateQuiz(ctx context.Context, in QuizInput) (*Quiz, error) {
	if m.createQuizFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createQuizFn(ctx, in)
}

func (m *mockQuestionService) UpdateQuiz(ctx context.Context, id uuid.UUID, in QuizInput) (*Quiz, error) {
	if m.updateQuizFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateQuizFn(ctx, id, in)
}

func (m *mockQuestionService) CreateExam(ctx context.Context, in ExamInput) (*Exam, error) {
	if m.createExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createExamFn(ctx, in)
}

func (m *mockQuestionService) UpdateExam(ctx context.Context, id uuid.UUID, in ExamInput) (*Exam, error) {
	if m.updateExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateExamFn(ctx, id, in)
}

func (m *mockQuestionService) CreateQuestion(ctx context.Context, in QuestionInput) (*Question, error) {
	if m.createQuestionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createQuestionFn(ctx, in)
}

func (m *mockQuestionService) UpdateQuestion(ctx context.Context, id uuid.UUID, in QuestionInput) (*Question, error) {
	if m.updateQuestionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateQuestionFn(ctx, id, in)
}

func (m *mockQuestionService) DeleteQuestion(ctx context.Context, id uuid.UUID) error {
	if m.deleteQuestionFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteQuestionFn(ctx, id)
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withRole(r *http.Request, role auth.Role) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: uuid.New(), Role: role}))
}

func TestGetQuizViewDependsOnRole(t *testing.T) {
	quizID := uuid.New()
	tests := []struct {
		role   auth.Role
		expect ViewOptions
	}{
		{role: auth.RoleStudent, expect: ViewOptions{ShuffleQuestions: true}},
		{role: auth.RoleCoordinator, expect: ViewOptions{RevealAnswers: true, IncludeDrafts: true}},
		{role: auth.RoleAdmin, expect: ViewOptions{RevealAnswers: true, IncludeDrafts: true}},
	}
	for _, tc := range tests {
		t.Run(string(tc.role), func(t *testing.T) {
			var got ViewOptions
			h := NewHandler(&mockQuestionService{
				getQuizFn: func(_ context.Context, id uuid.UUID, opts ViewOptions) (*Quiz, error) {
					got = opts
					return &Quiz{ID: id}, nil
				},
			})
			req := withParam(httptest.NewRequest(http.MethodGet, "/api/quizzes/"+quizID.String(), nil), "quizID", quizID.String())
			rr := httptest.NewRecorder()
			h.GetQuiz(rr, withRole(req, tc.role))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			if got != tc.expect {
				t.Fatalf("expected %+v, got %+v", tc.expect, got)
			}
		})
	}
}

func TestGetExamNotFound(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		getExamFn: func(context.Context, uuid.UUID, ViewOptions) (*Exam, error) { return nil, ErrExamNotFound },
	})
	id := uuid.New()
	req := withParam(httptest.NewRequest(http.MethodGet, "/x", nil), "examID", id.String())
	rr := httptest.NewRecorder()
	h.GetExam(rr, withRole(req, auth.RoleStudent))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCreateQuestionPassesBody(t *testing.T) {
	quizID := uuid.New()
	var got QuestionInput
	h := NewHandler(&mockQuestionService{
		createQuestionFn: func(_ context.Context, in QuestionInput) (*Question, error) {
			got = in
			return &Question{ID: uuid.New(), QuizID: in.QuizID, Statement: in.Statement, Points: in.Points}, nil
		},
	})
	body, _ := json.Marshal(map[string]any{
		"quiz_id":   quizID,
		"enunciado": "¿El agua hierve a 100°C?",
		"puntos":    10,
		"config":    map[string]any{"tipo": "VERDADERO_FALSO", "vf_respuesta_correcta": true},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/preguntas", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.CreateQuestion(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got.QuizID == nil || *got.QuizID != quizID || got.Points != 10 || got.Config.Type != TypeTrueFalse {
		t.Fatalf("unexpected input %+v", got)
	}
	if got.Config.TrueFalseAnswer == nil || !*got.Config.TrueFalseAnswer {
		t.Fatalf("expected vf answer true")
	}
}

func TestCreateQuestionRejectsNegativePoints(t *testing.T) {
	h := NewHandler(&mockQuestionService{})
	req := httptest.NewRequest(http.MethodPost, "/api/preguntas", bytes.NewBufferString(`{"enunciado":"x","puntos":-1}`))
	rr := httptest.NewRecorder()
	h.CreateQuestion(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestCreateQuizRequiresTitle(t *testing.T) {
	h := NewHandler(&mockQuestionService{})
	body := `{"leccion_id":"` + uuid.NewString() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/quizzes", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.CreateQuiz(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var payload struct {
		Error struct {
			Fields map[string]string `json:"fields"`
		} `json:"error"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &payload)
	if _, ok := payload.Error.Fields["titulo"]; !ok {
		t.Fatalf("expected titulo field error, got %v", payload.Error.Fields)
	}
}

func TestDeleteQuestionInvalidID(t *testing.T) {
	h := NewHandler(&mockQuestionService{})
	req := withParam(httptest.NewRequest(http.MethodDelete, "/x", nil), "questionID", "abc")
	rr := httptest.NewRecorder()
	h.DeleteQuestion(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

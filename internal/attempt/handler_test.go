package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ebslms/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type mockAttemptService struct {
	startFn    func(ctx context.Context, in StartInput) (*Attempt, error)
	submitFn   func(ctx context.Context, in SubmitInput) (*Result, error)
	getFn      func(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*Attempt, error)
	listMineFn func(ctx context.Context, userID uuid.UUID, t Target, skip, limit int) ([]Attempt, error)
	listFn     func(ctx context.Context, f ListFilter) ([]Attempt, error)
	allowNewFn func(ctx context.Context, id uuid.UUID) (*Attempt, error)
	exportFn   func(ctx context.Context, f ListFilter) ([]byte, error)
}

func (m *mockAttemptService) Start(ctx context.Context, in StartInput) (*Attempt, error) {
	if m.startFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.startFn(ctx, in)
}

func (m *mockAttemptService) Submit(ctx context.Context, in SubmitInput) (*Result, error) {
	if m.submitFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.submitFn(ctx, in)
}

func (m *mockAttemptService) Get(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*Attempt, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, id, viewerID, privileged)
}

func (m *mockAttemptService) ListMine(ctx context.Context, userID uuid.UUID, t Target, skip, limit int) ([]Attempt, error) {
	if m.listMineFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listMineFn(ctx, userID, t, skip, limit)
}

func (m *mockAttemptService) List(ctx context.Context, f ListFilter) ([]Attempt, error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx, f)
}

func (m *mockAttemptService) AllowNew(ctx context.Context, id uuid.UUID) (*Attempt, error) {
	if m.allowNewFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.allowNewFn(ctx, id)
}

func (m *mockAttemptService) ExportExcel(ctx context.Context, f ListFilter) ([]byte, error) {
	if m.exportFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportFn(ctx, f)
}

func withUser(req *http.Request, u *auth.User) *http.Request {
	return req.WithContext(auth.ContextWithUser(req.Context(), u))
}

func withParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body.Error.Code
}

func TestStartQuizWithoutBody(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	quizID := uuid.New()
	var got StartInput
	h := NewHandler(&mockAttemptService{
		startFn: func(_ context.Context, in StartInput) (*Attempt, error) {
			got = in
			return &Attempt{ID: uuid.New(), UserID: in.UserID, QuizID: in.Target.QuizID, Number: 1}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/quizzes/"+quizID.String()+"/intentos", nil)
	req = withUser(withParams(req, "quizID", quizID.String()), user)
	w := httptest.NewRecorder()
	h.StartQuiz(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if got.UserID != user.ID || got.Target.QuizID == nil || *got.Target.QuizID != quizID || got.Target.ExamID != nil {
		t.Fatalf("unexpected start input: %+v", got)
	}
	if got.EnrollmentID != nil || got.Privileged {
		t.Fatalf("expected no enrollment and non-privileged caller: %+v", got)
	}
}

func TestStartExamWithEnrollment(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	examID, enrollmentID := uuid.New(), uuid.New()
	var got StartInput
	h := NewHandler(&mockAttemptService{
		startFn: func(_ context.Context, in StartInput) (*Attempt, error) {
			got = in
			return &Attempt{ID: uuid.New()}, nil
		},
	})

	body := `{"inscripcion_curso_id":"` + enrollmentID.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/examenes-finales/"+examID.String()+"/intentos", strings.NewReader(body))
	req = withUser(withParams(req, "examID", examID.String()), user)
	w := httptest.NewRecorder()
	h.StartExam(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if !got.Target.IsExam() || *got.Target.ExamID != examID {
		t.Fatalf("expected exam target, got %+v", got.Target)
	}
	if got.EnrollmentID == nil || *got.EnrollmentID != enrollmentID {
		t.Fatalf("expected enrollment %s, got %v", enrollmentID, got.EnrollmentID)
	}
}

func TestStartErrors(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"already open", ErrAttemptAlreadyOpen, http.StatusUnprocessableEntity, "ATTEMPT_ALREADY_OPEN"},
		{"exhausted", ErrAttemptsExhausted, http.StatusBadRequest, "MAX_ATTEMPTS_REACHED"},
		{"number race", ErrAttemptNumberConflict, http.StatusBadRequest, "ATTEMPT_NUMBER_CONFLICT"},
		{"quizzes pending", ErrQuizzesPending, http.StatusBadRequest, "QUIZZES_PENDING"},
		{"not enrolled", ErrNotEnrolled, http.StatusBadRequest, "NOT_ENROLLED"},
		{"missing", ErrTargetNotFound, http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockAttemptService{
				startFn: func(context.Context, StartInput) (*Attempt, error) { return nil, tc.err },
			})
			quizID := uuid.NewString()
			req := httptest.NewRequest(http.MethodPost, "/api/quizzes/"+quizID+"/intentos", nil)
			req = withUser(withParams(req, "quizID", quizID), user)
			w := httptest.NewRecorder()
			h.StartQuiz(w, req)

			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
			if code := errorCode(t, w); code != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, code)
			}
		})
	}
}

func TestStartRequiresUser(t *testing.T) {
	h := NewHandler(&mockAttemptService{})
	quizID := uuid.NewString()
	req := withParams(httptest.NewRequest(http.MethodPost, "/", nil), "quizID", quizID)
	w := httptest.NewRecorder()
	h.StartQuiz(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSubmitQuizPassesAnswers(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	quizID, attemptID, questionID, optionID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	var got SubmitInput
	h := NewHandler(&mockAttemptService{
		submitFn: func(_ context.Context, in SubmitInput) (*Result, error) {
			got = in
			return &Result{AttemptID: in.AttemptID, Percentage: 100, Result: ResultPassed, Passed: true}, nil
		},
	})

	body := `{"respuestas":[{"pregunta_id":"` + questionID.String() + `","opcion_id":"` + optionID.String() + `"}]}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req = withUser(withParams(req, "quizID", quizID.String(), "attemptID", attemptID.String()), user)
	w := httptest.NewRecorder()
	h.SubmitQuiz(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got.AttemptID != attemptID || got.UserID != user.ID || *got.Target.QuizID != quizID {
		t.Fatalf("unexpected submit input: %+v", got)
	}
	if len(got.Answers) != 1 || got.Answers[0].QuestionID != questionID || *got.Answers[0].OptionID != optionID {
		t.Fatalf("unexpected answers: %+v", got.Answers)
	}

	var env struct {
		Data Result `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Data.Passed || env.Data.Result != ResultPassed {
		t.Fatalf("unexpected result: %+v", env.Data)
	}
}

func TestSubmitRejectsMissingQuestionID(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	h := NewHandler(&mockAttemptService{
		submitFn: func(context.Context, SubmitInput) (*Result, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	})
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"respuestas":[{"respuesta_bool":true}]}`))
	req = withUser(withParams(req, "examID", uuid.NewString(), "attemptID", uuid.NewString()), user)
	w := httptest.NewRecorder()
	h.SubmitExam(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSubmitFinalizedAttempt(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	h := NewHandler(&mockAttemptService{
		submitFn: func(context.Context, SubmitInput) (*Result, error) { return nil, ErrAttemptFinalized },
	})
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"respuestas":[]}`))
	req = withUser(withParams(req, "quizID", uuid.NewString(), "attemptID", uuid.NewString()), user)
	w := httptest.NewRecorder()
	h.SubmitQuiz(w, req)

	if w.Code != http.StatusBadRequest || errorCode(t, w) != "ATTEMPT_FINALIZED" {
		t.Fatalf("expected 400 ATTEMPT_FINALIZED, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetPassesPrivilege(t *testing.T) {
	coordinator := &auth.User{ID: uuid.New(), Role: auth.RoleCoordinator}
	var gotPrivileged bool
	h := NewHandler(&mockAttemptService{
		getFn: func(_ context.Context, id, viewerID uuid.UUID, privileged bool) (*Attempt, error) {
			gotPrivileged = privileged
			return &Attempt{ID: id}, nil
		},
	})
	req := withUser(withParams(httptest.NewRequest(http.MethodGet, "/", nil), "attemptID", uuid.NewString()), coordinator)
	w := httptest.NewRecorder()
	h.Get(w, req)

	if w.Code != http.StatusOK || !gotPrivileged {
		t.Fatalf("expected privileged 200, got %d privileged=%v", w.Code, gotPrivileged)
	}
}

func TestAdminListParsesFilters(t *testing.T) {
	courseID := uuid.New()
	var got ListFilter
	h := NewHandler(&mockAttemptService{
		listFn: func(_ context.Context, f ListFilter) ([]Attempt, error) {
			got = f
			return []Attempt{}, nil
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/admin/intentos?curso_id="+courseID.String()+"&resultado=aprobado&limit=5", nil)
	w := httptest.NewRecorder()
	h.AdminList(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got.CourseID == nil || *got.CourseID != courseID || got.Result != "aprobado" || got.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/intentos?quiz_id=nope", nil)
	w = httptest.NewRecorder()
	h.AdminList(w, req)
	if w.Code != http.StatusUnprocessableEntity || errorCode(t, w) != "INVALID_ID" {
		t.Fatalf("expected 422 INVALID_ID, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAllowNewOpenAttempt(t *testing.T) {
	h := NewHandler(&mockAttemptService{
		allowNewFn: func(context.Context, uuid.UUID) (*Attempt, error) { return nil, ErrAttemptStillOpen },
	})
	req := withParams(httptest.NewRequest(http.MethodPut, "/", nil), "attemptID", uuid.NewString())
	w := httptest.NewRecorder()
	h.AllowNew(w, req)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "ATTEMPT_OPEN" {
		t.Fatalf("expected 400 ATTEMPT_OPEN, got %d: %s", w.Code, w.Body.String())
	}
}

func TestExportWritesWorkbook(t *testing.T) {
	h := NewHandler(&mockAttemptService{
		exportFn: func(context.Context, ListFilter) ([]byte, error) { return []byte("xlsx"), nil },
	})
	req := httptest.NewRequest(http.MethodGet, "/api/admin/intentos/export", nil)
	w := httptest.NewRecorder()
	h.Export(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("missing attachment header: %q", w.Header().Get("Content-Disposition"))
	}
	if w.Body.String() != "xlsx" {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}

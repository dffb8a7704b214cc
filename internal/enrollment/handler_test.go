package enrollment

import (
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

type mockEnrollmentService struct {
	enrollFn       func(ctx context.Context, userID, courseID uuid.UUID) (*Enrollment, error)
	getFn          func(ctx context.Context, id uuid.UUID) (*Enrollment, error)
	listMineFn     func(ctx context.Context, userID uuid.UUID, status Status) ([]Enrollment, error)
	listFn         func(ctx context.Context, f ListFilter) ([]Enrollment, error)
	pauseFn        func(ctx context.Context, userID, id uuid.UUID) (*Enrollment, error)
	resumeFn       func(ctx context.Context, userID, id uuid.UUID) (*Enrollment, error)
	changeStatusFn func(ctx context.Context, id uuid.UUID, to Status) (*Enrollment, error)
}

func (m *mockEnrollmentService) Enroll(ctx context.Context, userID, courseID uuid.UUID) (*Enrollment, error) {
	if m.enrollFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.enrollFn(ctx, userID, courseID)
}

func (m *mockEnrollmentService) Get(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, id)
}

func (m *mockEnrollmentService) ListMine(ctx context.Context, userID uuid.UUID, status Status) ([]Enrollment, error) {
	if m.listMineFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listMineFn(ctx, userID, status)
}

func (m *mockEnrollmentService) List(ctx context.Context, f ListFilter) ([]Enrollment, error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx, f)
}

func (m *mockEnrollmentService) Pause(ctx context.Context, userID, id uuid.UUID) (*Enrollment, error) {
	if m.pauseFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.pauseFn(ctx, userID, id)
}

func (m *mockEnrollmentService) Resume(ctx context.Context, userID, id uuid.UUID) (*Enrollment, error) {
	if m.resumeFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.resumeFn(ctx, userID, id)
}

func (m *mockEnrollmentService) ChangeStatus(ctx context.Context, id uuid.UUID, to Status) (*Enrollment, error) {
	if m.changeStatusFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.changeStatusFn(ctx, id, to)
}

func withUser(req *http.Request, u *auth.User) *http.Request {
	return req.WithContext(auth.ContextWithUser(req.Context(), u))
}

func withParam(req *http.Request, key, val string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, val)
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

func TestEnrollCreated(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	courseID := uuid.New()
	var gotUser, gotCourse uuid.UUID
	h := NewHandler(&mockEnrollmentService{
		enrollFn: func(_ context.Context, userID, cID uuid.UUID) (*Enrollment, error) {
			gotUser, gotCourse = userID, cID
			return &Enrollment{ID: uuid.New(), UserID: userID, CourseID: cID, Status: StatusActive}, nil
		},
	})

	req := withParam(httptest.NewRequest(http.MethodPost, "/api/cursos/"+courseID.String()+"/inscribir", nil), "courseID", courseID.String())
	req = withUser(req, user)
	w := httptest.NewRecorder()
	h.Enroll(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", w.Code, w.Body.String())
	}
	if gotUser != user.ID || gotCourse != courseID {
		t.Fatalf("unexpected args user=%s course=%s", gotUser, gotCourse)
	}
}

func TestEnrollErrors(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	tests := []struct {
		name     string
		courseID string
		svcErr   error
		wantCode int
		wantErr  string
	}{
		{name: "bad uuid", courseID: "nope", wantCode: http.StatusUnprocessableEntity, wantErr: "INVALID_ID"},
		{name: "duplicate", courseID: uuid.NewString(), svcErr: ErrAlreadyEnrolled, wantCode: http.StatusBadRequest, wantErr: "ALREADY_ENROLLED"},
		{name: "unpublished", courseID: uuid.NewString(), svcErr: ErrCourseUnpublished, wantCode: http.StatusBadRequest, wantErr: "COURSE_NOT_PUBLISHED"},
		{name: "missing course", courseID: uuid.NewString(), svcErr: ErrCourseNotFound, wantCode: http.StatusNotFound, wantErr: "NOT_FOUND"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockEnrollmentService{
				enrollFn: func(context.Context, uuid.UUID, uuid.UUID) (*Enrollment, error) {
					return nil, tc.svcErr
				},
			})
			req := withParam(httptest.NewRequest(http.MethodPost, "/x", nil), "courseID", tc.courseID)
			req = withUser(req, user)
			w := httptest.NewRecorder()
			h.Enroll(w, req)
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d body=%s", tc.wantCode, w.Code, w.Body.String())
			}
			if got := errorCode(t, w); got != tc.wantErr {
				t.Fatalf("expected code %s, got %s", tc.wantErr, got)
			}
		})
	}
}

func TestGetForbiddenForOtherStudent(t *testing.T) {
	owner := uuid.New()
	id := uuid.New()
	svc := &mockEnrollmentService{
		getFn: func(context.Context, uuid.UUID) (*Enrollment, error) {
			return &Enrollment{ID: id, UserID: owner, Status: StatusActive}, nil
		},
	}
	h := NewHandler(svc)

	stranger := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	req := withParam(httptest.NewRequest(http.MethodGet, "/api/inscripciones/"+id.String(), nil), "enrollmentID", id.String())
	w := httptest.NewRecorder()
	h.Get(w, withUser(req, stranger))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	admin := &auth.User{ID: uuid.New(), Role: auth.RoleAdmin}
	req = withParam(httptest.NewRequest(http.MethodGet, "/api/inscripciones/"+id.String(), nil), "enrollmentID", id.String())
	w = httptest.NewRecorder()
	h.Get(w, withUser(req, admin))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}
}

func TestPauseInvalidTransition(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	id := uuid.New()
	h := NewHandler(&mockEnrollmentService{
		pauseFn: func(_ context.Context, userID, eID uuid.UUID) (*Enrollment, error) {
			return nil, CheckTransition(StatusCompleted, StatusPaused)
		},
	})
	req := withParam(httptest.NewRequest(http.MethodPost, "/x", nil), "enrollmentID", id.String())
	w := httptest.NewRecorder()
	h.Pause(w, withUser(req, user))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := errorCode(t, w); got != "INVALID_STATE_TRANSITION" {
		t.Fatalf("unexpected code %s", got)
	}
}

func TestPauseInvalidID(t *testing.T) {
	h := NewHandler(&mockEnrollmentService{})
	req := withParam(httptest.NewRequest(http.MethodPost, "/x", nil), "enrollmentID", "123")
	w := httptest.NewRecorder()
	h.Pause(w, withUser(req, &auth.User{ID: uuid.New()}))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

func TestListMinePassesStatusFilter(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Role: auth.RoleStudent}
	var got Status
	h := NewHandler(&mockEnrollmentService{
		listMineFn: func(_ context.Context, _ uuid.UUID, status Status) ([]Enrollment, error) {
			got = status
			return []Enrollment{}, nil
		},
	})
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/mis-cursos?estado=pausada", nil), user)
	w := httptest.NewRecorder()
	h.ListMine(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got != StatusPaused {
		t.Fatalf("expected PAUSADA filter, got %q", got)
	}
}

func TestAdminListParsesFilters(t *testing.T) {
	courseID := uuid.New()
	var got ListFilter
	h := NewHandler(&mockEnrollmentService{
		listFn: func(_ context.Context, f ListFilter) ([]Enrollment, error) {
			got = f
			return nil, nil
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/x?curso_id="+courseID.String()+"&skip=10&limit=5", nil)
	w := httptest.NewRecorder()
	h.AdminList(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.CourseID == nil || *got.CourseID != courseID || got.UserID != nil || got.Skip != 10 || got.Limit != 5 {
		t.Fatalf("unexpected filter %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/x?usuario_id=bad", nil)
	w = httptest.NewRecorder()
	h.AdminList(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
}

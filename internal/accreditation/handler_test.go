package accreditation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type mockRuleService struct {
	listFn   func(ctx context.Context, courseID *uuid.UUID) ([]Rule, error)
	getFn    func(ctx context.Context, id uuid.UUID) (*Rule, error)
	createFn func(ctx context.Context, in RuleInput) (*Rule, error)
	updateFn func(ctx context.Context, id uuid.UUID, in RuleInput) (*Rule, error)
	deleteFn func(ctx context.Context, id uuid.UUID) error
}

func (m *mockRuleService) List(ctx context.Context, courseID *uuid.UUID) ([]Rule, error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx, courseID)
}

func (m *mockRuleService) Get(ctx context.Context, id uuid.UUID) (*Rule, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, id)
}

func (m *mockRuleService) Create(ctx context.Context, in RuleInput) (*Rule, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, in)
}

func (m *mockRuleService) Update(ctx context.Context, id uuid.UUID, in RuleInput) (*Rule, error) {
	if m.updateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateFn(ctx, id, in)
}

func (m *mockRuleService) Delete(ctx context.Context, id uuid.UUID) error {
	if m.deleteFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteFn(ctx, id)
}

func responseCode(t *testing.T, w *httptest.ResponseRecorder) string {
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

func TestCreateRule(t *testing.T) {
	courseID := uuid.New()
	quizID := uuid.New()

	tests := []struct {
		name     string
		body     string
		svcErr   error
		wantCode int
		wantErr  string
	}{
		{name: "created", body: `{"curso_id":"` + courseID.String() + `","quiz_id":"` + quizID.String() + `","min_score_aprobatorio":90}`, wantCode: http.StatusCreated},
		{name: "missing course", body: `{"min_score_aprobatorio":90}`, wantCode: http.StatusUnprocessableEntity, wantErr: "VALIDATION_ERROR"},
		{name: "score above 100", body: `{"curso_id":"` + courseID.String() + `","min_score_aprobatorio":101}`, wantCode: http.StatusUnprocessableEntity, wantErr: "VALIDATION_ERROR"},
		{name: "zero attempts", body: `{"curso_id":"` + courseID.String() + `","max_intentos_quiz":0}`, wantCode: http.StatusUnprocessableEntity, wantErr: "VALIDATION_ERROR"},
		{name: "both targets", body: `{"curso_id":"` + courseID.String() + `","quiz_id":"` + quizID.String() + `","examen_final_id":"` + uuid.NewString() + `"}`, wantCode: http.StatusUnprocessableEntity, wantErr: "INVALID_TARGET"},
		{name: "duplicate", body: `{"curso_id":"` + courseID.String() + `"}`, svcErr: ErrDuplicateRule, wantCode: http.StatusBadRequest, wantErr: "DUPLICATE_RULE"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got RuleInput
			h := NewHandler(&mockRuleService{
				createFn: func(_ context.Context, in RuleInput) (*Rule, error) {
					got = in
					if tc.svcErr != nil {
						return nil, tc.svcErr
					}
					return &Rule{ID: uuid.New(), CourseID: in.CourseID, QuizID: in.QuizID, MinScore: *in.MinScore, MaxAttempts: 3, Active: true}, nil
				},
			})
			req := httptest.NewRequest(http.MethodPost, "/api/admin/reglas-acreditacion", bytes.NewBufferString(tc.body))
			w := httptest.NewRecorder()
			h.Create(w, req)
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d body=%s", tc.wantCode, w.Code, w.Body.String())
			}
			if tc.wantErr != "" {
				if code := responseCode(t, w); code != tc.wantErr {
					t.Fatalf("expected %s, got %s", tc.wantErr, code)
				}
				return
			}
			if got.CourseID != courseID || got.QuizID == nil || *got.QuizID != quizID {
				t.Fatalf("unexpected input %+v", got)
			}
		})
	}
}

func TestDeleteRuleNotFound(t *testing.T) {
	h := NewHandler(&mockRuleService{
		deleteFn: func(context.Context, uuid.UUID) error { return ErrRuleNotFound },
	})
	id := uuid.New()
	req := httptest.NewRequest(http.MethodDelete, "/api/admin/reglas-acreditacion/"+id.String(), nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("ruleID", id.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	w := httptest.NewRecorder()
	h.Delete(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListRulesFilter(t *testing.T) {
	courseID := uuid.New()
	var got *uuid.UUID
	h := NewHandler(&mockRuleService{
		listFn: func(_ context.Context, c *uuid.UUID) ([]Rule, error) {
			got = c
			return []Rule{}, nil
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/x?curso_id="+courseID.String(), nil)
	w := httptest.NewRecorder()
	h.List(w, req)
	if w.Code != http.StatusOK || got == nil || *got != courseID {
		t.Fatalf("unexpected code=%d filter=%v", w.Code, got)
	}
}

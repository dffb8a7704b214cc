package apiresp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ebslms/internal/apperr"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestWriteErrMapsTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{name: "business rule", err: apperr.BusinessRule("ATTEMPT_FINALIZED", "attempt already finalized"), status: 400, code: "ATTEMPT_FINALIZED", msg: "attempt already finalized"},
		{name: "not found default code", err: apperr.NotFound("quiz not found"), status: 404, code: "NOT_FOUND", msg: "quiz not found"},
		{name: "validation", err: apperr.Validation("QUESTION_NOT_IN_ATTEMPT", "question not in attempt"), status: 422, code: "QUESTION_NOT_IN_ATTEMPT", msg: "question not in attempt"},
		{name: "auth", err: apperr.Unauthenticated("token expired"), status: 401, code: "AUTH_ERROR", msg: "token expired"},
		{name: "forbidden", err: apperr.Forbidden("not owner"), status: 403, code: "AUTHORIZATION_ERROR", msg: "not owner"},
		{name: "unknown hides detail", err: errors.New("pq: connection refused"), status: 500, code: "INTERNAL_SERVER_ERROR", msg: "internal server error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			w := httptest.NewRecorder()
			WriteErr(w, req, tc.err)

			if w.Code != tc.status {
				t.Fatalf("status: got %d want %d", w.Code, tc.status)
			}
			env := decodeEnvelope(t, w)
			if env.OK || env.Error == nil {
				t.Fatalf("expected error envelope, got %+v", env)
			}
			if env.Error.Code != tc.code || env.Error.Message != tc.msg {
				t.Fatalf("got code=%q msg=%q", env.Error.Code, env.Error.Message)
			}
		})
	}
}

func TestWriteOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	WriteOK(w, req, http.StatusCreated, map[string]string{"id": "1"})

	if w.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	if !env.OK || env.Error != nil {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

type createThing struct {
	Title string `json:"titulo" validate:"required,max=10"`
	Score int    `json:"score" validate:"min=0,max=100"`
}

func TestDecodeValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"titulo":"","score":120}`))
	var dst createThing
	err := Decode(req, &dst)

	ae := apperr.From(err)
	if ae.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ae.Fields["titulo"] == "" || ae.Fields["score"] == "" {
		t.Fatalf("expected field errors keyed by json name, got %#v", ae.Fields)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(""))
	var dst createThing
	if err := Decode(req, &dst); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUUIDParam(t *testing.T) {
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	got, err := UUIDParam(req, "id")
	if err != nil || got != id {
		t.Fatalf("got %v %v", got, err)
	}

	rctx.URLParams = chi.RouteParams{}
	rctx.URLParams.Add("id", "12")
	if _, err := UUIDParam(req, "id"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?skip=-3&limit=1000", nil)
	skip, limit := Page(req, 20, 100)
	if skip != 0 || limit != 100 {
		t.Fatalf("got skip=%d limit=%d", skip, limit)
	}
}

func TestPageOffsetAlias(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?offset=40&limit=10", nil)
	skip, limit := Page(req, 20, 100)
	if skip != 40 || limit != 10 {
		t.Fatalf("got skip=%d limit=%d", skip, limit)
	}
}

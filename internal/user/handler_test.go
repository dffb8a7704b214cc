package user

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ebslms/internal/app/apiresp"
	"ebslms/internal/apperr"
	"ebslms/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type mockUserService struct {
	getFn      func(ctx context.Context, id uuid.UUID) (*User, error)
	getForFn   func(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*User, error)
	updateFn   func(ctx context.Context, id uuid.UUID, in ProfileInput) (*User, error)
	listFn     func(ctx context.Context, f ListFilter) ([]User, error)
	setRolesFn func(ctx context.Context, id uuid.UUID, names []string) (*User, error)
	exportFn   func(ctx context.Context, f ListFilter) ([]byte, error)
}

func (m *mockUserService) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, id)
}

func (m *mockUserService) GetFor(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*User, error) {
	if m.getForFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getForFn(ctx, id, viewerID, privileged)
}

func (m *mockUserService) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*User, error) {
	if m.updateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateFn(ctx, id, in)
}

func (m *mockUserService) List(ctx context.Context, f ListFilter) ([]User, error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx, f)
}

func (m *mockUserService) SetRoles(ctx context.Context, id uuid.UUID, names []string) (*User, error) {
	if m.setRolesFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.setRolesFn(ctx, id, names)
}

func (m *mockUserService) ExportExcel(ctx context.Context, f ListFilter) ([]byte, error) {
	if m.exportFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportFn(ctx, f)
}

type forgetSpy struct{ ids []uuid.UUID }

func (f *forgetSpy) Forget(id uuid.UUID) { f.ids = append(f.ids, id) }

func withUser(req *http.Request, id uuid.UUID, role auth.Role) *http.Request {
	return req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: id, Role: role}))
}

func withParam(req *http.Request, key, val string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, val)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestMeReturnsCaller(t *testing.T) {
	id := uuid.New()
	h := NewHandler(&mockUserService{
		getFn: func(_ context.Context, got uuid.UUID) (*User, error) {
			if got != id {
				t.Fatalf("id = %s", got)
			}
			return &User{ID: got, Email: "a@b.c"}, nil
		},
	}, nil)
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/usuarios/me", nil), id, auth.RoleStudent)
	rr := httptest.NewRecorder()
	h.Me(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "a@b.c") {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestUpdateMeRejectsBadAvatar(t *testing.T) {
	h := NewHandler(&mockUserService{}, nil)
	req := httptest.NewRequest(http.MethodPut, "/api/usuarios/me", strings.NewReader(`{"avatar_url":"not a url"}`))
	req = withUser(req, uuid.New(), auth.RoleStudent)
	rr := httptest.NewRecorder()
	h.UpdateMe(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestGetOtherUserForbiddenForStudent(t *testing.T) {
	h := NewHandler(&mockUserService{
		getForFn: func(_ context.Context, id, viewer uuid.UUID, privileged bool) (*User, error) {
			if id != viewer && !privileged {
				return nil, ErrForbidden
			}
			return &User{ID: id}, nil
		},
	}, nil)

	tests := []struct {
		role auth.Role
		want int
	}{
		{auth.RoleStudent, http.StatusForbidden},
		{auth.RoleCoordinator, http.StatusOK},
	}
	for _, tc := range tests {
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/usuarios/x", nil), uuid.New(), tc.role)
		req = withParam(req, "userID", uuid.NewString())
		rr := httptest.NewRecorder()
		h.Get(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.role, rr.Code, tc.want)
		}
	}
}

func TestListParsesFilter(t *testing.T) {
	var got ListFilter
	h := NewHandler(&mockUserService{
		listFn: func(_ context.Context, f ListFilter) ([]User, error) {
			got = f
			return []User{}, nil
		},
	}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/usuarios?rol=Coordinador&q=ana&offset=20&limit=10", nil)
	rr := httptest.NewRecorder()
	h.List(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got.Role != "coordinador" || got.Query != "ana" || got.Skip != 20 || got.Limit != 10 {
		t.Fatalf("filter = %+v", got)
	}
}

func TestSetRolesForgetsCachedRole(t *testing.T) {
	id := uuid.New()
	spy := &forgetSpy{}
	h := NewHandler(&mockUserService{
		setRolesFn: func(_ context.Context, got uuid.UUID, names []string) (*User, error) {
			return &User{ID: got, Roles: names}, nil
		},
	}, spy)
	req := httptest.NewRequest(http.MethodPut, "/api/admin/usuarios/x/roles", strings.NewReader(`{"roles":["coordinador"]}`))
	req = withParam(req, "userID", id.String())
	rr := httptest.NewRecorder()
	h.SetRoles(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if len(spy.ids) != 1 || spy.ids[0] != id {
		t.Fatalf("forgotten = %v", spy.ids)
	}
}

func TestSetRolesUnknownRoleKeepsCache(t *testing.T) {
	spy := &forgetSpy{}
	h := NewHandler(&mockUserService{
		setRolesFn: func(context.Context, uuid.UUID, []string) (*User, error) {
			return nil, apperr.Validation("UNKNOWN_ROLE", "one or more roles do not exist")
		},
	}, spy)
	req := httptest.NewRequest(http.MethodPut, "/api/admin/usuarios/x/roles", strings.NewReader(`{"roles":["invitado"]}`))
	req = withParam(req, "userID", uuid.NewString())
	rr := httptest.NewRecorder()
	h.SetRoles(rr, req)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
	if len(spy.ids) != 0 {
		t.Fatal("cache must not be touched on failure")
	}
}

func TestExportWritesWorkbook(t *testing.T) {
	h := NewHandler(&mockUserService{
		exportFn: func(context.Context, ListFilter) ([]byte, error) { return []byte("xlsx"), nil },
	}, nil)
	rr := httptest.NewRecorder()
	h.Export(rr, httptest.NewRequest(http.MethodGet, "/api/admin/usuarios/export", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != apiresp.XLSXContentType {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "usuarios_") {
		t.Fatalf("disposition = %q", cd)
	}
}

package user

import (
	"bytes"
	"testing"
	"time"

	"ebslms/internal/auth"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

func TestEffectiveRole(t *testing.T) {
	tests := []struct {
		name   string
		token  auth.Role
		stored []string
		want   auth.Role
	}{
		{"token only", auth.RoleStudent, nil, auth.RoleStudent},
		{"stored coordinator", auth.RoleStudent, []string{"coordinador", "estudiante"}, auth.RoleCoordinator},
		{"token outranks", auth.RoleAdmin, []string{"estudiante"}, auth.RoleAdmin},
		{"unknown ignored", auth.RoleStudent, []string{"invitado"}, auth.RoleStudent},
		{"admin stored", auth.RoleCoordinator, []string{"administrador"}, auth.RoleAdmin},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := effectiveRole(tc.token, tc.stored); got != tc.want {
				t.Fatalf("effectiveRole = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestSplitRoles(t *testing.T) {
	if got := splitRoles(""); len(got) != 0 || got == nil {
		t.Fatalf("empty = %#v", got)
	}
	got := splitRoles("administrador,estudiante")
	if len(got) != 2 || got[0] != "administrador" || got[1] != "estudiante" {
		t.Fatalf("got %v", got)
	}
}

func TestPlaceholderEmailIsUnique(t *testing.T) {
	a, b := placeholderEmail(uuid.New()), placeholderEmail(uuid.New())
	if a == b {
		t.Fatal("placeholder emails collide")
	}
}

func TestUsersWorkbook(t *testing.T) {
	data, err := usersWorkbook([]User{{
		ID:        uuid.New(),
		Email:     "ana@example.com",
		FirstName: "Ana",
		LastName:  "Lopez",
		Roles:     []string{"coordinador", "estudiante"},
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	if err != nil {
		t.Fatalf("workbook: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[1][1] != "ana@example.com" || rows[1][4] != "coordinador, estudiante" || rows[1][5] != "2025-01-02 03:04:05" {
		t.Fatalf("row = %v", rows[1])
	}
}

package auth

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RoleStudent     Role = "student"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
)

// Cognito group names and the role each one grants.
var groupRoles = map[string]Role{
	"estudiantes":     RoleStudent,
	"coordinadores":   RoleCoordinator,
	"administradores": RoleAdmin,
}

// Role names stored in the rol table.
var dbRoleNames = map[Role]string{
	RoleStudent:     "estudiante",
	RoleCoordinator: "coordinador",
	RoleAdmin:       "administrador",
}

func rolePriority(r Role) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleCoordinator:
		return 2
	case RoleStudent:
		return 1
	default:
		return 0
	}
}

// Outranks reports whether r grants more than o.
func (r Role) Outranks(o Role) bool {
	return rolePriority(r) > rolePriority(o)
}

// RoleFromGroups picks the highest-precedence role among the token groups.
// Tokens without a known group are treated as students.
func RoleFromGroups(groups []string) Role {
	best := RoleStudent
	for _, g := range groups {
		if r, ok := groupRoles[g]; ok && rolePriority(r) > rolePriority(best) {
			best = r
		}
	}
	return best
}

// DBRoleName maps a role to its rol.nombre value.
func DBRoleName(r Role) string {
	return dbRoleNames[r]
}

// RoleFromDBName is the inverse of DBRoleName.
func RoleFromDBName(name string) (Role, bool) {
	for r, n := range dbRoleNames {
		if n == name {
			return r, true
		}
	}
	return "", false
}

// User is the authenticated caller. ID is the Cognito sub, which is also usuario.id.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email,omitempty"`
	FirstName string    `json:"nombre,omitempty"`
	LastName  string    `json:"apellido,omitempty"`
	Username  string    `json:"username,omitempty"`
	Groups    []string  `json:"groups"`
	Role      Role      `json:"role"`
	TokenUse  string    `json:"token_use,omitempty"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// IsPrivileged reports coordinator or admin access.
func (u *User) IsPrivileged() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleCoordinator)
}

type contextKey string

const (
	userContextKey contextKey = "auth_user"
	slotContextKey contextKey = "auth_user_slot"
)

type userSlot struct {
	user *User
}

func CurrentUser(ctx context.Context) (*User, bool) {
	v := ctx.Value(userContextKey)
	if v == nil {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok && u != nil
}

// ContextWithUser injects an authenticated user into context.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	if slot, ok := ctx.Value(slotContextKey).(*userSlot); ok {
		slot.user = user
	}
	return context.WithValue(ctx, userContextKey, user)
}

// WithUserSlot lets middleware that runs before RequireAuth read the
// authenticated user once the inner handler returns.
func WithUserSlot(ctx context.Context) (context.Context, func() (*User, bool)) {
	slot := &userSlot{}
	return context.WithValue(ctx, slotContextKey, slot), func() (*User, bool) {
		return slot.user, slot.user != nil
	}
}

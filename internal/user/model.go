package user

import (
	"strings"
	"time"

	"ebslms/internal/apperr"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound = apperr.NotFound("user not found")
	ErrForbidden    = apperr.Forbidden("cannot view another user's profile")
	ErrEmailInUse   = apperr.BusinessRule("EMAIL_IN_USE", "email is registered to another account")
)

type User struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"nombre"`
	LastName  string    `json:"apellido"`
	Email     string    `json:"email"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"creado_en"`
	UpdatedAt time.Time `json:"actualizado_en"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type ProfileInput struct {
	FirstName *string `json:"nombre" validate:"omitempty,max=100"`
	LastName  *string `json:"apellido" validate:"omitempty,max=100"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url"`
}

type RolesInput struct {
	Roles []string `json:"roles" validate:"required,min=1,dive,required"`
}

type ListFilter struct {
	Role  string
	Query string
	Skip  int
	Limit int
}

// splitRoles turns the string_agg column into a slice.
func splitRoles(raw string) []string {
	if raw == "" {
		return []string{}
	}
	return strings.Split(raw, ",")
}

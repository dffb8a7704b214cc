package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ebslms/internal/apperr"
	"ebslms/internal/auth"
	"ebslms/internal/db"
	"ebslms/internal/platform/logger"

	"github.com/google/uuid"
)

// Welcomer greets users on their first sign-in.
type Welcomer interface {
	Welcome(email, name string)
}

type Service struct {
	db      *sql.DB
	log     *logger.Logger
	welcome Welcomer
}

func NewService(conn *sql.DB, welcome Welcomer, log *logger.Logger) *Service {
	return &Service{db: conn, log: log.With("service", "UserService"), welcome: welcome}
}

const selectUser = `
	SELECT u.id, u.nombre, u.apellido, u.email, u.avatar_url, u.creado_en, u.actualizado_en,
	       COALESCE((SELECT string_agg(r.nombre, ',' ORDER BY r.nombre)
	                 FROM usuario_rol ur JOIN rol r ON r.id = ur.rol_id
	                 WHERE ur.usuario_id = u.id), '')
	FROM usuario u
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u      User
		avatar sql.NullString
		roles  string
	)
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &avatar, &u.CreatedAt, &u.UpdatedAt, &roles); err != nil {
		return nil, err
	}
	if avatar.Valid {
		u.AvatarURL = &avatar.String
	}
	u.Roles = splitRoles(roles)
	return &u, nil
}

// placeholderEmail keeps usuario.email unique for tokens that carry no email claim.
func placeholderEmail(id uuid.UUID) string {
	return id.String() + "@cognito.invalid"
}

// EnsureUser upserts the caller's usuario row from token claims and makes sure
// the token role is recorded. u.Role is raised to the highest stored role.
func (s *Service) EnsureUser(ctx context.Context, u *auth.User) error {
	var (
		inserted bool
		stored   []string
	)
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		insertEmail := email
		if insertEmail == "" {
			insertEmail = placeholderEmail(u.ID)
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO usuario (id, email, nombre, apellido, cognito_user_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				email = COALESCE(NULLIF($6, ''), usuario.email),
				nombre = COALESCE(NULLIF($3, ''), usuario.nombre),
				apellido = COALESCE(NULLIF($4, ''), usuario.apellido),
				actualizado_en = now()
			RETURNING (xmax = 0)`,
			u.ID, insertEmail, strings.TrimSpace(u.FirstName), strings.TrimSpace(u.LastName), u.ID.String(), email,
		).Scan(&inserted)
		if db.IsUniqueViolation(err, "uq_usuario_email") {
			return ErrEmailInUse
		}
		if err != nil {
			return fmt.Errorf("upsert usuario: %w", err)
		}

		if name := auth.DBRoleName(u.Role); name != "" {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO usuario_rol (usuario_id, rol_id)
				SELECT $1, r.id FROM rol r WHERE r.nombre = $2
				ON CONFLICT (usuario_id, rol_id) DO NOTHING`, u.ID, name); err != nil {
				return fmt.Errorf("record role: %w", err)
			}
		}

		stored, err = roleNames(ctx, tx, u.ID)
		return err
	})
	if err != nil {
		return err
	}

	u.Role = effectiveRole(u.Role, stored)
	if inserted {
		s.log.Info("user registered", "user_id", u.ID, "role", u.Role)
		if s.welcome != nil && u.Email != "" {
			s.welcome.Welcome(u.Email, strings.TrimSpace(u.FirstName+" "+u.LastName))
		}
	}
	return nil
}

func roleNames(ctx context.Context, q db.Querier, userID uuid.UUID) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT r.nombre FROM usuario_rol ur JOIN rol r ON r.id = ur.rol_id
		WHERE ur.usuario_id = $1 ORDER BY r.nombre`, userID)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func effectiveRole(token auth.Role, stored []string) auth.Role {
	best := token
	for _, name := range stored {
		if r, ok := auth.RoleFromDBName(name); ok && r.Outranks(best) {
			best = r
		}
	}
	return best
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE u.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetFor lets users read their own profile; coordinators and admins read anyone's.
func (s *Service) GetFor(ctx context.Context, id, viewerID uuid.UUID, privileged bool) (*User, error) {
	if id != viewerID && !privileged {
		return nil, ErrForbidden
	}
	return s.Get(ctx, id)
}

func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput) (*User, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE usuario SET
			nombre = COALESCE($2, nombre),
			apellido = COALESCE($3, apellido),
			avatar_url = COALESCE($4, avatar_url),
			actualizado_en = now()
		WHERE id = $1`,
		id, trimmed(in.FirstName), trimmed(in.LastName), trimmed(in.AvatarURL))
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrUserNotFound
	}
	return s.Get(ctx, id)
}

func trimmed(v *string) any {
	if v == nil {
		return nil
	}
	return strings.TrimSpace(*v)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]User, error) {
	var (
		where []string
		args  []any
	)
	if f.Role != "" {
		args = append(args, f.Role)
		where = append(where, fmt.Sprintf(`EXISTS (SELECT 1 FROM usuario_rol ur JOIN rol r ON r.id = ur.rol_id
			WHERE ur.usuario_id = u.id AND r.nombre = $%d)`, len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(`(LOWER(u.email) LIKE $%d OR LOWER(u.nombre || ' ' || u.apellido) LIKE $%d)`, n, n))
	}
	query := selectUser
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Skip)
	query += fmt.Sprintf(" ORDER BY u.creado_en DESC, u.id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// SetRoles replaces the user's role set. Every name must exist in rol.
func (s *Service) SetRoles(ctx context.Context, id uuid.UUID, names []string) (*User, error) {
	wanted := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && !seen[n] {
			seen[n] = true
			wanted = append(wanted, n)
		}
	}

	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM usuario WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check user: %w", err)
		}
		if !exists {
			return ErrUserNotFound
		}

		rows, err := tx.QueryContext(ctx, `SELECT id, nombre FROM rol WHERE nombre = ANY($1::text[])`, wanted)
		if err != nil {
			return fmt.Errorf("query rol: %w", err)
		}
		roleIDs := map[string]uuid.UUID{}
		for rows.Next() {
			var (
				rid  uuid.UUID
				name string
			)
			if err := rows.Scan(&rid, &name); err != nil {
				rows.Close()
				return err
			}
			roleIDs[name] = rid
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		unknown := map[string]string{}
		for _, n := range wanted {
			if _, ok := roleIDs[n]; !ok {
				unknown[n] = "unknown role"
			}
		}
		if len(unknown) > 0 {
			return apperr.Validation("UNKNOWN_ROLE", "one or more roles do not exist").WithFields(unknown)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM usuario_rol WHERE usuario_id = $1`, id); err != nil {
			return fmt.Errorf("clear roles: %w", err)
		}
		for _, n := range wanted {
			if _, err := tx.ExecContext(ctx, `INSERT INTO usuario_rol (usuario_id, rol_id) VALUES ($1, $2)`, id, roleIDs[n]); err != nil {
				return fmt.Errorf("assign role: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("roles updated", "user_id", id, "roles", strings.Join(wanted, ","))
	return s.Get(ctx, id)
}

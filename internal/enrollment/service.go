package enrollment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ebslms/internal/apperr"
	"ebslms/internal/db"
	"ebslms/internal/platform/logger"

	"github.com/google/uuid"
)

var (
	ErrEnrollmentNotFound = apperr.NotFound("enrollment not found")
	ErrCourseNotFound     = apperr.NotFound("course not found")
	ErrAlreadyEnrolled    = apperr.BusinessRule("ALREADY_ENROLLED", "user already enrolled in this course")
	ErrCourseUnpublished  = apperr.BusinessRule("COURSE_NOT_PUBLISHED", "course is not open for enrollment")
	ErrNotOwner           = apperr.Forbidden("enrollment belongs to another user")
)

type Enrollment struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"usuario_id"`
	CourseID     uuid.UUID  `json:"curso_id"`
	Status       Status     `json:"estado"`
	Accredited   bool       `json:"acreditado"`
	AccreditedAt *time.Time `json:"acreditado_en,omitempty"`
	EnrolledOn   time.Time  `json:"fecha_inscripcion"`
	CompletedOn  *time.Time `json:"fecha_conclusion,omitempty"`
	CreatedAt    time.Time  `json:"creado_en"`
	UpdatedAt    time.Time  `json:"actualizado_en"`
	CourseTitle  string     `json:"curso_titulo,omitempty"`
}

type ListFilter struct {
	UserID   *uuid.UUID
	CourseID *uuid.UUID
	Status   Status
	Skip     int
	Limit    int
}

type Service struct {
	db  *sql.DB
	log *logger.Logger
	now func() time.Time
}

func NewService(conn *sql.DB, log *logger.Logger) *Service {
	return &Service{db: conn, log: log.With("service", "EnrollmentService"), now: time.Now}
}

const selectEnrollment = `
	SELECT i.id, i.usuario_id, i.curso_id, i.estado, i.acreditado, i.acreditado_en,
	       i.fecha_inscripcion, i.fecha_conclusion, i.creado_en, i.actualizado_en, c.titulo
	FROM inscripcion_curso i
	JOIN curso c ON c.id = i.curso_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(row rowScanner) (*Enrollment, error) {
	var (
		e            Enrollment
		accreditedAt sql.NullTime
		completedOn  sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.CourseID, &e.Status, &e.Accredited, &accreditedAt,
		&e.EnrolledOn, &completedOn, &e.CreatedAt, &e.UpdatedAt, &e.CourseTitle); err != nil {
		return nil, err
	}
	if accreditedAt.Valid {
		e.AccreditedAt = &accreditedAt.Time
	}
	if completedOn.Valid {
		e.CompletedOn = &completedOn.Time
	}
	return &e, nil
}

func (s *Service) Enroll(ctx context.Context, userID, courseID uuid.UUID) (*Enrollment, error) {
	var published bool
	err := s.db.QueryRowContext(ctx, `SELECT publicado FROM curso WHERE id = $1`, courseID).Scan(&published)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load course: %w", err)
	}
	if !published {
		return nil, ErrCourseUnpublished
	}

	var id uuid.UUID
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO inscripcion_curso (usuario_id, curso_id, estado)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, courseID, StatusActive).Scan(&id)
	if db.IsUniqueViolation(err, "uq_inscripcion_usuario_curso") {
		return nil, ErrAlreadyEnrolled
	}
	if err != nil {
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}
	s.log.Info("user enrolled", "user_id", userID, "course_id", courseID, "enrollment_id", id)
	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	e, err := scanEnrollment(s.db.QueryRowContext(ctx, selectEnrollment+` WHERE i.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	return e, nil
}

// ListMine returns the caller's enrollments, optionally narrowed to one state.
func (s *Service) ListMine(ctx context.Context, userID uuid.UUID, status Status) ([]Enrollment, error) {
	return s.List(ctx, ListFilter{UserID: &userID, Status: status, Limit: 500})
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Enrollment, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("i.usuario_id = $%d", len(args)))
	}
	if f.CourseID != nil {
		args = append(args, *f.CourseID)
		where = append(where, fmt.Sprintf("i.curso_id = $%d", len(args)))
	}
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, apperr.Validation("INVALID_STATE", fmt.Sprintf("unknown enrollment state %q", f.Status))
		}
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("i.estado = $%d", len(args)))
	}
	q := selectEnrollment
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	args = append(args, f.Limit, f.Skip)
	q += fmt.Sprintf(" ORDER BY i.creado_en DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	out := make([]Enrollment, 0)
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Service) Pause(ctx context.Context, userID, id uuid.UUID) (*Enrollment, error) {
	return s.ownerTransition(ctx, userID, id, StatusPaused)
}

func (s *Service) Resume(ctx context.Context, userID, id uuid.UUID) (*Enrollment, error) {
	return s.ownerTransition(ctx, userID, id, StatusActive)
}

func (s *Service) ownerTransition(ctx context.Context, userID, id uuid.UUID, to Status) (*Enrollment, error) {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		cur, err := LockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.UserID != userID {
			return ErrNotOwner
		}
		return s.transition(ctx, tx, cur, to)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// ChangeStatus is the administrative state change; it still goes through the state machine.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, to Status) (*Enrollment, error) {
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		cur, err := LockForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if to == StatusCompleted {
			return accredit(ctx, tx, cur, s.now())
		}
		return s.transition(ctx, tx, cur, to)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) transition(ctx context.Context, q db.Querier, cur *Enrollment, to Status) error {
	if err := CheckTransition(cur.Status, to); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE inscripcion_curso SET estado = $2, actualizado_en = now() WHERE id = $1
	`, cur.ID, to); err != nil {
		return fmt.Errorf("update enrollment state: %w", err)
	}
	s.log.Info("enrollment state changed", "enrollment_id", cur.ID, "from", cur.Status, "to", to)
	return nil
}

// LockForUpdate loads an enrollment row under FOR UPDATE inside the caller's transaction.
func LockForUpdate(ctx context.Context, q db.Querier, id uuid.UUID) (*Enrollment, error) {
	var e Enrollment
	var accreditedAt, completedOn sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, usuario_id, curso_id, estado, acreditado, acreditado_en,
		       fecha_inscripcion, fecha_conclusion, creado_en, actualizado_en
		FROM inscripcion_curso
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&e.ID, &e.UserID, &e.CourseID, &e.Status, &e.Accredited, &accreditedAt,
		&e.EnrolledOn, &completedOn, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	if accreditedAt.Valid {
		e.AccreditedAt = &accreditedAt.Time
	}
	if completedOn.Valid {
		e.CompletedOn = &completedOn.Time
	}
	return &e, nil
}

// FindForCourse returns the user's enrollment in a course, or ErrEnrollmentNotFound.
func FindForCourse(ctx context.Context, q db.Querier, userID, courseID uuid.UUID) (*Enrollment, error) {
	var id uuid.UUID
	err := q.QueryRowContext(ctx, `
		SELECT id FROM inscripcion_curso WHERE usuario_id = $1 AND curso_id = $2
	`, userID, courseID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return LockForUpdate(ctx, q, id)
}

// Accredit marks the enrollment accredited and completed. Calling it on an
// already accredited enrollment is a no-op.
func Accredit(ctx context.Context, q db.Querier, id uuid.UUID, now time.Time) error {
	cur, err := LockForUpdate(ctx, q, id)
	if err != nil {
		return err
	}
	return accredit(ctx, q, cur, now)
}

func accredit(ctx context.Context, q db.Querier, cur *Enrollment, now time.Time) error {
	if cur.Accredited && cur.Status == StatusCompleted {
		return nil
	}
	if err := CheckTransition(cur.Status, StatusCompleted); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE inscripcion_curso
		SET acreditado = TRUE, acreditado_en = $2, estado = $3, fecha_conclusion = $2::date, actualizado_en = now()
		WHERE id = $1
	`, cur.ID, now, StatusCompleted); err != nil {
		return fmt.Errorf("accredit enrollment: %w", err)
	}
	return nil
}

// MarkFailed moves the enrollment to REPROBADA. Already failed is a no-op.
func MarkFailed(ctx context.Context, q db.Querier, id uuid.UUID) error {
	cur, err := LockForUpdate(ctx, q, id)
	if err != nil {
		return err
	}
	if cur.Status == StatusFailed {
		return nil
	}
	if err := CheckTransition(cur.Status, StatusFailed); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE inscripcion_curso SET estado = $2, actualizado_en = now() WHERE id = $1
	`, cur.ID, StatusFailed); err != nil {
		return fmt.Errorf("fail enrollment: %w", err)
	}
	return nil
}
